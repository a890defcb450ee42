// Package runtime hosts the gateway worker: the single facade the HTTP layer
// talks to. It owns interception, lifecycle control messages, push handling,
// the client event stream and the rating counter endpoints.
package runtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/healthpages/shellgate/internal/metrics"
	"github.com/healthpages/shellgate/internal/popularity"
	"github.com/healthpages/shellgate/internal/runtime/cache"
	"github.com/healthpages/shellgate/internal/runtime/clients"
	"github.com/healthpages/shellgate/internal/runtime/fetcher"
	"github.com/healthpages/shellgate/internal/runtime/lifecycle"
	"github.com/healthpages/shellgate/internal/runtime/notify"
	"golang.org/x/text/language"
)

// Worker bundles the gateway's agents behind the handler surface the server
// router dispatches to.
type Worker struct {
	fetch       *fetcher.Agent
	coordinator *lifecycle.Coordinator
	registry    *clients.Registry
	dispatcher  *notify.Dispatcher
	counter     *popularity.Counter
	store       cache.Store
	defaults    notify.Defaults
	metrics     *metrics.Recorder
	logger      *slog.Logger
}

// WorkerConfig wires the worker's agents.
type WorkerConfig struct {
	Fetch       *fetcher.Agent
	Coordinator *lifecycle.Coordinator
	Registry    *clients.Registry
	Dispatcher  *notify.Dispatcher
	Counter     *popularity.Counter
	Store       cache.Store
	Defaults    notify.Defaults
	Metrics     *metrics.Recorder
	Logger      *slog.Logger
}

// NewWorker validates the wiring and builds the facade.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	if cfg.Fetch == nil {
		return nil, errors.New("runtime: fetch agent required")
	}
	if cfg.Coordinator == nil {
		return nil, errors.New("runtime: lifecycle coordinator required")
	}
	if cfg.Registry == nil {
		return nil, errors.New("runtime: client registry required")
	}
	if cfg.Dispatcher == nil {
		return nil, errors.New("runtime: notification dispatcher required")
	}
	counter := cfg.Counter
	if counter == nil {
		counter = popularity.New(popularity.DefaultProfile(), language.English)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		fetch:       cfg.Fetch,
		coordinator: cfg.Coordinator,
		registry:    cfg.Registry,
		dispatcher:  cfg.Dispatcher,
		counter:     counter,
		store:       cfg.Store,
		defaults:    cfg.Defaults,
		metrics:     cfg.Metrics,
		logger:      logger.With(slog.String("agent", "worker")),
	}, nil
}

// ServeFetch hands page traffic to the interception agent.
func (w *Worker) ServeFetch(rw http.ResponseWriter, r *http.Request) {
	w.fetch.ServeHTTP(rw, r)
}

// controlMessage is the page-to-worker message envelope. Only SKIP_WAITING is
// understood; unknown types are acknowledged and ignored.
type controlMessage struct {
	Type string `json:"type"`
}

// ServeMessage handles worker control messages posted by the page layer.
func (w *Worker) ServeMessage(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteError(rw, http.StatusMethodNotAllowed, "message requires POST")
		return
	}
	var msg controlMessage
	if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&msg); err != nil {
		w.WriteError(rw, http.StatusBadRequest, "malformed message")
		return
	}

	switch msg.Type {
	case "SKIP_WAITING":
		if err := w.coordinator.SkipWaiting(r.Context()); err != nil {
			if errors.Is(err, lifecycle.ErrNoWaiting) {
				w.writeJSON(rw, http.StatusConflict, map[string]string{"status": "no waiting generation"})
				return
			}
			w.logger.Error("skip waiting failed", slog.Any("error", err))
			w.WriteError(rw, http.StatusInternalServerError, "activation failed")
			return
		}
		w.writeJSON(rw, http.StatusOK, map[string]string{"status": "activated"})
	default:
		w.writeJSON(rw, http.StatusAccepted, map[string]string{"status": "ignored"})
	}
}

// ServePush accepts a push payload and dispatches the notification. The body
// is tolerated in any shape; defaults fill whatever is missing.
func (w *Worker) ServePush(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteError(rw, http.StatusMethodNotAllowed, "push requires POST")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 64<<10))
	if err != nil {
		w.WriteError(rw, http.StatusBadRequest, "unreadable payload")
		return
	}
	note := w.dispatcher.Show(notify.ParsePayload(body, w.defaults))
	w.writeJSON(rw, http.StatusAccepted, map[string]string{"id": note.ID})
}

// ServeNotificationClick resolves a notification click to a focus or an
// open-window action.
func (w *Worker) ServeNotificationClick(rw http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		w.WriteError(rw, http.StatusMethodNotAllowed, "click requires POST")
		return
	}
	w.writeJSON(rw, http.StatusOK, w.dispatcher.Click(id))
}

// ServeEvents registers the caller as a connected client and streams its
// events over SSE until the connection drops.
func (w *Worker) ServeEvents(rw http.ResponseWriter, r *http.Request) {
	flusher, ok := rw.(http.Flusher)
	if !ok {
		w.WriteError(rw, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	pageURL := r.URL.Query().Get("url")
	if pageURL == "" {
		pageURL = "/"
	}
	permitted := r.URL.Query().Get("notifications") == "granted"
	controlledBy := ""
	if current, ok := w.coordinator.Current(); ok {
		controlledBy = current.Version
	}

	id, events := w.registry.Register(pageURL, permitted, controlledBy)
	defer w.registry.Deregister(id)

	rw.Header().Set("Content-Type", "text/event-stream")
	rw.Header().Set("Cache-Control", "no-store")
	rw.Header().Set("X-Accel-Buffering", "no")
	rw.WriteHeader(http.StatusOK)
	fmt.Fprintf(rw, "event: registered\ndata: {\"clientId\":%q}\n\n", id)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, open := <-events:
			if !open {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(rw, "event: %s\ndata: %s\n\n", event.Kind, data)
			flusher.Flush()
		}
	}
}

// ratingResponse is the counter endpoint's document.
type ratingResponse struct {
	ID        string `json:"id"`
	Count     int    `json:"count"`
	Formatted string `json:"formatted"`
}

// ServeRatings returns the deterministic popularity count for a listing id.
func (w *Worker) ServeRatings(rw http.ResponseWriter, r *http.Request, id string) {
	if id == "" {
		w.WriteError(rw, http.StatusBadRequest, "listing id required")
		return
	}
	count := w.counter.RatingCount(id)
	w.writeJSON(rw, http.StatusOK, ratingResponse{
		ID:        id,
		Count:     count,
		Formatted: w.counter.FormatCount(count),
	})
}

// healthResponse summarizes gateway state for readiness checks.
type healthResponse struct {
	Status  string    `json:"status"`
	Current string    `json:"currentGeneration,omitempty"`
	Waiting string    `json:"waitingGeneration,omitempty"`
	Clients int       `json:"clients"`
	Cached  int64     `json:"cachedEntries"`
	Checked time.Time `json:"checkedAt"`
}

// ServeHealth reports lifecycle and store state.
func (w *Worker) ServeHealth(rw http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Clients: w.registry.Count(), Checked: time.Now().UTC()}
	if current, ok := w.coordinator.Current(); ok {
		resp.Current = current.Version
	}
	if waiting, ok := w.coordinator.Waiting(); ok {
		resp.Waiting = waiting.Version
	}
	if w.store != nil {
		if size, err := w.store.Size(r.Context()); err == nil {
			resp.Cached = size
		}
	}
	w.writeJSON(rw, http.StatusOK, resp)
}

// WriteError emits the shared error document.
func (w *Worker) WriteError(rw http.ResponseWriter, status int, message string) {
	w.writeJSON(rw, status, map[string]string{"error": message})
}

func (w *Worker) writeJSON(rw http.ResponseWriter, status int, body any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	if err := json.NewEncoder(rw).Encode(body); err != nil {
		w.logger.Debug("response encode failed", slog.Any("error", err))
	}
}
