// Package api exposes the pipeline over HTTP: the submission gateway that
// turns a request body into the first task message of a chain, and the
// query endpoint that reads archived results back out of the store.
package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/chairmank/introduction-to-langohr/internal/archive"
	"github.com/chairmank/introduction-to-langohr/internal/broker"
	"github.com/chairmank/introduction-to-langohr/internal/message"
)

// maxBodyBytes caps the accepted request body size.
const maxBodyBytes = 1 << 20

// Publisher publishes one message and blocks until the broker confirms it.
type Publisher interface {
	Publish(ctx context.Context, exchange, key, correlationID string, body []byte) error
}

// Handler serves POST /compute and GET /result/{id}.
type Handler struct {
	store *archive.Store
	pub   Publisher
	topo  broker.Topology
	mux   *http.ServeMux

	// newID mints correlation ids; injectable for deterministic tests.
	newID func() string

	// onSubmit, when set, is invoked after each accepted submission.
	onSubmit func()
}

// Option tweaks a Handler at construction time.
type Option func(*Handler)

// WithIDSource overrides correlation-id generation.
func WithIDSource(newID func() string) Option {
	return func(h *Handler) { h.newID = newID }
}

// WithSubmitHook registers a callback fired on every accepted submission.
func WithSubmitHook(fn func()) Option {
	return func(h *Handler) { h.onSubmit = fn }
}

// New creates the handler and registers its routes.
func New(st *archive.Store, pub Publisher, topo broker.Topology, opts ...Option) http.Handler {
	h := &Handler{
		store: st,
		pub:   pub,
		topo:  topo,
		mux:   http.NewServeMux(),
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(h)
	}

	h.mux.HandleFunc("/compute", h.compute)
	h.mux.HandleFunc("/result/", h.result) // subtree — extracts {id}

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// compute handles POST /compute: parse the numbers, mint a correlation id,
// publish the initial task (blocking on the broker's confirm), and point the
// client at where the result will appear. The response deliberately precedes
// completion of the computation — the gateway never waits on the chain.
func (h *Handler) compute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		jsonErr(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}

	var numbers []float64
	if err := json.Unmarshal(body, &numbers); err != nil {
		jsonErr(w, http.StatusBadRequest, "body must be a JSON array of numbers")
		return
	}

	id := h.newID()
	payload, err := message.EncodeTask(message.Task{Numbers: numbers})
	if err != nil {
		jsonErr(w, http.StatusInternalServerError, "encode task: "+err.Error())
		return
	}

	if err := h.pub.Publish(r.Context(), h.topo.Exchange, h.topo.TaskKey, id, payload); err != nil {
		slog.Error("gateway: initial publish failed", "correlation_id", id, "err", err)
		jsonErr(w, http.StatusBadGateway, "broker unavailable")
		return
	}

	slog.Info("gateway: task accepted", "correlation_id", id, "count", len(numbers))
	if h.onSubmit != nil {
		h.onSubmit()
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusAccepted)
	io.WriteString(w, "/result/"+id) //nolint:errcheck
}

// result handles GET /result/{id}. Absence is not an error: it is the
// expected state for an in-flight or unknown id, reported as 404. An
// archived error result is surfaced with a distinct status instead of being
// passed off as a computed value.
func (h *Handler) result(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/result/")
	if id == "" || strings.Contains(id, "/") {
		notFound(w)
		return
	}

	data, err := h.store.Read(id)
	if err != nil {
		if os.IsNotExist(err) {
			notFound(w)
			return
		}
		slog.Error("query: store read failed", "correlation_id", id, "err", err)
		jsonErr(w, http.StatusInternalServerError, "store read failed")
		return
	}

	res, err := message.DecodeResult(data)
	if err == nil && res.Failed() {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write(data) //nolint:errcheck
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(data) //nolint:errcheck
}

// --- helpers ----------------------------------------------------------------

func notFound(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	io.WriteString(w, "Result not found") //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(errorResponse{Error: msg}) //nolint:errcheck
}
