package runtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/healthpages/shellgate/internal/metrics"
	"github.com/healthpages/shellgate/internal/runtime/cache"
	"github.com/healthpages/shellgate/internal/runtime/clients"
	"github.com/healthpages/shellgate/internal/runtime/fetcher"
	"github.com/healthpages/shellgate/internal/runtime/lifecycle"
	"github.com/healthpages/shellgate/internal/runtime/notify"
	"github.com/stretchr/testify/require"
)

type workerFixture struct {
	worker      *Worker
	registry    *clients.Registry
	coordinator *lifecycle.Coordinator
	origin      *httptest.Server
}

func newWorkerFixture(t *testing.T) *workerFixture {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("shell"))
	})
	origin := httptest.NewServer(mux)
	t.Cleanup(origin.Close)

	store := cache.NewMemory()
	registry := clients.NewRegistry(nil)
	coordinator, err := lifecycle.NewCoordinator(lifecycle.Config{
		OriginURL: origin.URL,
		Store:     store,
		Registry:  registry,
		Metrics:   metrics.NewRecorder(nil),
		Prefix:    "healthpages",
		Precache:  []string{"/"},
	})
	require.NoError(t, err)

	agent, err := fetcher.NewAgent(fetcher.Config{
		OriginURL: origin.URL,
		Store:     store,
		Lifecycle: coordinator,
		Metrics:   metrics.NewRecorder(nil),
		SiteName:  "HealthPages",
	})
	require.NoError(t, err)

	defaults := notify.Defaults{Title: "New update", URL: "/", Tag: "new-listing"}
	dispatcher := notify.NewDispatcher(notify.Config{
		Registry: registry,
		Defaults: defaults,
		Metrics:  metrics.NewRecorder(nil),
	})

	worker, err := NewWorker(WorkerConfig{
		Fetch:       agent,
		Coordinator: coordinator,
		Registry:    registry,
		Dispatcher:  dispatcher,
		Store:       store,
		Defaults:    defaults,
		Metrics:     metrics.NewRecorder(nil),
	})
	require.NoError(t, err)
	return &workerFixture{worker: worker, registry: registry, coordinator: coordinator, origin: origin}
}

func TestServeMessageSkipWaiting(t *testing.T) {
	f := newWorkerFixture(t)
	ctx := context.Background()
	require.NoError(t, f.coordinator.Install(ctx, "v2"))
	id, _ := f.registry.Register("/", false, "v2")
	defer f.registry.Deregister(id)
	require.NoError(t, f.coordinator.Install(ctx, "v3"))

	rec := httptest.NewRecorder()
	f.worker.ServeMessage(rec, httptest.NewRequest(http.MethodPost, "/-/message", strings.NewReader(`{"type":"SKIP_WAITING"}`)))
	require.Equal(t, http.StatusOK, rec.Code)

	current, ok := f.coordinator.Current()
	require.True(t, ok)
	require.Equal(t, "v3", current.Version)

	// Nothing left waiting.
	rec = httptest.NewRecorder()
	f.worker.ServeMessage(rec, httptest.NewRequest(http.MethodPost, "/-/message", strings.NewReader(`{"type":"SKIP_WAITING"}`)))
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestServeMessageRejectsBadInput(t *testing.T) {
	f := newWorkerFixture(t)

	rec := httptest.NewRecorder()
	f.worker.ServeMessage(rec, httptest.NewRequest(http.MethodGet, "/-/message", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	f.worker.ServeMessage(rec, httptest.NewRequest(http.MethodPost, "/-/message", strings.NewReader("{bad")))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	// Unknown message types are acknowledged, not errors.
	rec = httptest.NewRecorder()
	f.worker.ServeMessage(rec, httptest.NewRequest(http.MethodPost, "/-/message", strings.NewReader(`{"type":"PING"}`)))
	require.Equal(t, http.StatusAccepted, rec.Code)
}

func TestServePushDispatchesNotification(t *testing.T) {
	f := newWorkerFixture(t)
	_, events := f.registry.Register("/", true, "")

	rec := httptest.NewRecorder()
	f.worker.ServePush(rec, httptest.NewRequest(http.MethodPost, "/-/push", strings.NewReader(`{"title":"Hi","url":"/jobs"}`)))
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp["id"])

	event := <-events
	require.Equal(t, clients.EventNotification, event.Kind)
	require.Equal(t, "Hi", event.Notice.Title)
}

func TestServeRatings(t *testing.T) {
	f := newWorkerFixture(t)

	rec := httptest.NewRecorder()
	f.worker.ServeRatings(rec, httptest.NewRequest(http.MethodGet, "/-/ratings/x", nil), "listing-7")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ratingResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "listing-7", resp.ID)
	require.GreaterOrEqual(t, resp.Count, 2056)
	require.NotEmpty(t, resp.Formatted)

	rec = httptest.NewRecorder()
	f.worker.ServeRatings(rec, httptest.NewRequest(http.MethodGet, "/-/ratings/", nil), "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServeHealthReportsState(t *testing.T) {
	f := newWorkerFixture(t)
	require.NoError(t, f.coordinator.Install(context.Background(), "v2"))

	rec := httptest.NewRecorder()
	f.worker.ServeHealth(rec, httptest.NewRequest(http.MethodGet, "/-/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "ok", resp.Status)
	require.Equal(t, "v2", resp.Current)
	require.Equal(t, int64(1), resp.Cached)
}

func TestServeEventsStreamsUntilDisconnect(t *testing.T) {
	f := newWorkerFixture(t)
	require.NoError(t, f.coordinator.Install(context.Background(), "v2"))

	srv := httptest.NewServer(http.HandlerFunc(f.worker.ServeEvents))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/-/events?url=/jobs&notifications=granted", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// The registration event arrives first.
	buf := make([]byte, 256)
	n, err := resp.Body.Read(buf)
	require.NoError(t, err)
	require.Contains(t, string(buf[:n]), "event: registered")

	require.Eventually(t, func() bool { return f.registry.Count() == 1 }, time.Second, 10*time.Millisecond)
	info := f.registry.Snapshot()[0]
	require.Equal(t, "/jobs", info.URL)
	require.True(t, info.NotificationsPermitted)
	require.Equal(t, "v2", info.ControlledBy)

	cancel()
	require.Eventually(t, func() bool { return f.registry.Count() == 0 }, time.Second, 10*time.Millisecond)
}
