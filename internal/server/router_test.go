package server

import (
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
)

type stubWorker struct {
	fetchCalls   int
	fetchPaths   []string
	message      int
	push         int
	events       int
	health       int
	clickIDs     []string
	ratingIDs    []string
	errorStatus  int
	errorMessage string
}

func (s *stubWorker) ServeFetch(w http.ResponseWriter, r *http.Request) {
	s.fetchCalls++
	s.fetchPaths = append(s.fetchPaths, r.URL.Path)
	w.WriteHeader(http.StatusOK)
}

func (s *stubWorker) ServeMessage(w http.ResponseWriter, r *http.Request) {
	s.message++
	w.WriteHeader(http.StatusOK)
}

func (s *stubWorker) ServePush(w http.ResponseWriter, r *http.Request) {
	s.push++
	w.WriteHeader(http.StatusAccepted)
}

func (s *stubWorker) ServeNotificationClick(w http.ResponseWriter, r *http.Request, id string) {
	s.clickIDs = append(s.clickIDs, id)
	w.WriteHeader(http.StatusOK)
}

func (s *stubWorker) ServeEvents(w http.ResponseWriter, r *http.Request) {
	s.events++
	w.WriteHeader(http.StatusOK)
}

func (s *stubWorker) ServeRatings(w http.ResponseWriter, r *http.Request, id string) {
	s.ratingIDs = append(s.ratingIDs, id)
	w.WriteHeader(http.StatusOK)
}

func (s *stubWorker) ServeHealth(w http.ResponseWriter, r *http.Request) {
	s.health++
	w.WriteHeader(http.StatusOK)
}

func (s *stubWorker) WriteError(w http.ResponseWriter, status int, message string) {
	s.errorStatus = status
	s.errorMessage = message
	w.WriteHeader(status)
}

func TestWorkerHandlerRoutesControlPlane(t *testing.T) {
	stub := &stubWorker{}
	handler := NewWorkerHandler(stub, nil)

	for _, path := range []string{"/-/healthz", "/-/message", "/-/push", "/-/events"} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}
	if stub.health != 1 || stub.message != 1 || stub.push != 1 || stub.events != 1 {
		t.Fatalf("control routes misdispatched: %+v", stub)
	}
	if stub.fetchCalls != 0 {
		t.Fatalf("control paths must not reach fetch interception")
	}
}

func TestWorkerHandlerRoutesNotificationClicks(t *testing.T) {
	stub := &stubWorker{}
	handler := NewWorkerHandler(stub, nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/-/notifications/abc123/click", nil))
	if !reflect.DeepEqual(stub.clickIDs, []string{"abc123"}) {
		t.Fatalf("expected click id abc123, got %v", stub.clickIDs)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/-/notifications/abc123/dismiss", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown notification action should 404, got %d", rec.Code)
	}
}

func TestWorkerHandlerRoutesRatings(t *testing.T) {
	stub := &stubWorker{}
	handler := NewWorkerHandler(stub, nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/-/ratings/listing-42", nil))
	if !reflect.DeepEqual(stub.ratingIDs, []string{"listing-42"}) {
		t.Fatalf("expected rating id listing-42, got %v", stub.ratingIDs)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/-/ratings/", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("empty rating id should 404, got %d", rec.Code)
	}
}

func TestWorkerHandlerFallsThroughToFetch(t *testing.T) {
	stub := &stubWorker{}
	handler := NewWorkerHandler(stub, nil)

	for _, path := range []string{"/", "/school-jobs", "/offline.html", "/-", "/-/"} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}
	if stub.fetchCalls != 5 {
		t.Fatalf("expected 5 fetch dispatches, got %d (%v)", stub.fetchCalls, stub.fetchPaths)
	}
}

func TestWorkerHandlerServesMetrics(t *testing.T) {
	stub := &stubWorker{}
	metricsHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("# HELP"))
	})
	handler := NewWorkerHandler(stub, metricsHandler)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || stub.fetchCalls != 0 {
		t.Fatalf("metrics route misdispatched: code=%d fetch=%d", rec.Code, stub.fetchCalls)
	}
}

func TestWorkerHandlerNilWorker(t *testing.T) {
	handler := NewWorkerHandler(nil, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 from nil worker, got %d", rec.Code)
	}
}
