// Package metrics tracks pipeline throughput counters and serves them in the
// Prometheus text exposition format.
package metrics

import (
	"log/slog"
	"net/http"
	"sync/atomic"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"
)

// Pipeline holds monotonically increasing counters for every stage of the
// task pipeline. All methods are safe for concurrent use.
type Pipeline struct {
	tasksSubmitted  atomic.Uint64
	reductionSteps  atomic.Uint64
	resultsArchived atomic.Uint64
	resultsFailed   atomic.Uint64
	publishFailures atomic.Uint64
}

// New returns a zeroed counter set.
func New() *Pipeline {
	return &Pipeline{}
}

// TaskSubmitted records one accepted gateway submission.
func (p *Pipeline) TaskSubmitted() { p.tasksSubmitted.Add(1) }

// ReductionStep records one completed worker step.
func (p *Pipeline) ReductionStep() { p.reductionSteps.Add(1) }

// ResultArchived records one archived result; failed results are counted
// separately as well.
func (p *Pipeline) ResultArchived(failed bool) {
	p.resultsArchived.Add(1)
	if failed {
		p.resultsFailed.Add(1)
	}
}

// PublishFailure records one failed confirm-publish.
func (p *Pipeline) PublishFailure() { p.publishFailures.Add(1) }

// ServeHTTP renders all counters as Prometheus text exposition.
func (p *Pipeline) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	format := expfmt.NewFormat(expfmt.TypeTextPlain)
	w.Header().Set("Content-Type", string(format))

	enc := expfmt.NewEncoder(w, format)
	for _, mf := range p.families() {
		if err := enc.Encode(mf); err != nil {
			slog.Error("metrics: encode failed", "family", mf.GetName(), "err", err)
			return
		}
	}
}

// families builds the metric family snapshot for one scrape.
func (p *Pipeline) families() []*dto.MetricFamily {
	return []*dto.MetricFamily{
		counter("pipeline_tasks_submitted_total",
			"Computation requests accepted by the gateway.",
			p.tasksSubmitted.Load()),
		counter("pipeline_reduction_steps_total",
			"Reduction steps completed by the worker.",
			p.reductionSteps.Load()),
		counter("pipeline_results_archived_total",
			"Results written to the durable store.",
			p.resultsArchived.Load()),
		counter("pipeline_results_failed_total",
			"Archived results carrying an error instead of a sum.",
			p.resultsFailed.Load()),
		counter("pipeline_publish_failures_total",
			"Confirm-publishes that the broker rejected or that errored.",
			p.publishFailures.Load()),
	}
}

// counter builds a single-sample counter family.
func counter(name, help string, value uint64) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name: proto.String(name),
		Help: proto.String(help),
		Type: dto.MetricType_COUNTER.Enum(),
		Metric: []*dto.Metric{
			{Counter: &dto.Counter{Value: proto.Float64(float64(value))}},
		},
	}
}
