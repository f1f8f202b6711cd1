package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chairmank/introduction-to-langohr/internal/api"
	"github.com/chairmank/introduction-to-langohr/internal/archive"
	"github.com/chairmank/introduction-to-langohr/internal/broker"
	"github.com/chairmank/introduction-to-langohr/internal/config"
	"github.com/chairmank/introduction-to-langohr/internal/message"
	"github.com/chairmank/introduction-to-langohr/internal/metrics"
	"github.com/chairmank/introduction-to-langohr/internal/worker"
	"github.com/chairmank/introduction-to-langohr/internal/ws"
)

func main() {
	configPath := flag.String("config", "", "path to config file (empty for defaults)")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	slog.Info("pipeline starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	slog.Info("config loaded",
		"exchange", cfg.Broker.Exchange,
		"task_key", cfg.Broker.TaskKey,
		"result_key", cfg.Broker.ResultKey,
		"http_port", cfg.HTTP.Port,
		"store_dir", cfg.Store.Dir,
		"step_delay", cfg.Worker.StepDelay,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	os.Exit(run(ctx, cfg))
}

// run wires the pipeline together and blocks until shutdown. It returns the
// process exit code: non-zero when a broker or channel failure killed a
// component, zero on a clean signal-driven shutdown.
func run(ctx context.Context, cfg *config.Config) int {
	conn, err := broker.Dial(cfg.Broker.URL)
	if err != nil {
		slog.Error("failed to connect to broker", "url", cfg.Broker.URL, "err", err)
		return 1
	}
	defer conn.Close() //nolint:errcheck

	topo, err := conn.DeclareTopology(cfg.Broker.Exchange, cfg.Broker.TaskKey, cfg.Broker.ResultKey)
	if err != nil {
		slog.Error("failed to declare topology", "err", err)
		return 1
	}
	slog.Info("topology declared",
		"exchange", topo.Exchange,
		"task_queue", topo.TaskQueue,
		"result_queue", topo.ResultQueue,
	)

	store, err := archive.NewStore(cfg.Store.Dir)
	if err != nil {
		slog.Error("failed to open result store", "err", err)
		return 1
	}

	counters := metrics.New()
	hub := ws.New()
	go hub.Run(ctx)

	// Each publishing path and each subscription gets its own private channel.
	gatewayPub, err := conn.NewPublisher()
	if err != nil {
		slog.Error("failed to open gateway publisher", "err", err)
		return 1
	}
	workerPub, err := conn.NewPublisher()
	if err != nil {
		slog.Error("failed to open worker publisher", "err", err)
		return 1
	}

	taskConsumer, err := conn.NewConsumer(topo.TaskQueue)
	if err != nil {
		slog.Error("failed to subscribe to task queue", "err", err)
		return 1
	}
	resultConsumer, err := conn.NewConsumer(topo.ResultQueue)
	if err != nil {
		slog.Error("failed to subscribe to result queue", "err", err)
		return 1
	}

	red := worker.New(
		countPublishFailures(workerPub, counters),
		*topo,
		cfg.Worker.StepDelay,
		counters.ReductionStep,
	)
	arch := archive.NewArchiver(store, func(id string, res message.Result) {
		counters.ResultArchived(res.Failed())
		hub.Notify(id, res)
	})

	fatal := make(chan error, 2)
	go func() { fatal <- red.Run(ctx, taskConsumer.Deliveries()) }()
	go func() { fatal <- arch.Run(resultConsumer.Deliveries()) }()

	gateway := api.New(store, countPublishFailures(gatewayPub, counters), *topo,
		api.WithSubmitHook(counters.TaskSubmitted))

	mux := http.NewServeMux()
	mux.Handle("/compute", gateway)
	mux.Handle("/result/", gateway)
	mux.Handle("/ws/results", hub)
	mux.Handle("/metrics", counters)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler: mux,
	}
	go func() {
		slog.Info("HTTP gateway listening", "port", cfg.HTTP.Port)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server stopped", "err", err)
		}
	}()

	code := 0
	select {
	case <-ctx.Done():
		slog.Info("pipeline shutting down")
	case err := <-fatal:
		// A consumer died with the process still running — broker or channel
		// failure. Not retried; fatal at the process level.
		slog.Error("pipeline component failed", "err", err)
		code = 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	httpSrv.Shutdown(shutdownCtx) //nolint:errcheck

	// Cleanup is advisory; failures are swallowed.
	taskConsumer.Close()   //nolint:errcheck
	resultConsumer.Close() //nolint:errcheck
	gatewayPub.Close()     //nolint:errcheck
	workerPub.Close()      //nolint:errcheck
	conn.TeardownTopology(topo)

	return code
}

// countingPublisher wraps a publisher and counts failed confirm-publishes.
type countingPublisher struct {
	pub      worker.Publisher
	counters *metrics.Pipeline
}

func countPublishFailures(pub worker.Publisher, counters *metrics.Pipeline) worker.Publisher {
	return &countingPublisher{pub: pub, counters: counters}
}

func (c *countingPublisher) Publish(ctx context.Context, exchange, key, correlationID string, body []byte) error {
	err := c.pub.Publish(ctx, exchange, key, correlationID, body)
	if err != nil {
		c.counters.PublishFailure()
	}
	return err
}
