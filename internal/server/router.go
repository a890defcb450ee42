package server

import (
	"net/http"
	"strings"
)

// WorkerHTTP defines the minimal surface the router needs from the runtime
// worker to serve HTTP requests.
type WorkerHTTP interface {
	ServeFetch(http.ResponseWriter, *http.Request)
	ServeMessage(http.ResponseWriter, *http.Request)
	ServePush(http.ResponseWriter, *http.Request)
	ServeNotificationClick(http.ResponseWriter, *http.Request, string)
	ServeEvents(http.ResponseWriter, *http.Request)
	ServeRatings(http.ResponseWriter, *http.Request, string)
	ServeHealth(http.ResponseWriter, *http.Request)
	WriteError(http.ResponseWriter, int, string)
}

// NewWorkerHandler wires URL dispatch to the runtime worker. The control
// plane lives under /-/ so it can never shadow an origin path; everything
// else is intercepted page traffic.
func NewWorkerHandler(w WorkerHTTP, metricsHandler http.Handler) http.Handler {
	if w == nil {
		return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
			http.Error(rw, "worker unavailable", http.StatusServiceUnavailable)
		})
	}
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" && metricsHandler != nil {
			metricsHandler.ServeHTTP(rw, r)
			return
		}
		route, rest, ok := parseControlRoute(r.URL.Path)
		if !ok {
			w.ServeFetch(rw, r)
			return
		}

		switch route {
		case "healthz":
			w.ServeHealth(rw, r)
		case "message":
			w.ServeMessage(rw, r)
		case "push":
			w.ServePush(rw, r)
		case "events":
			w.ServeEvents(rw, r)
		case "notifications":
			id, action, ok := strings.Cut(rest, "/")
			if !ok || action != "click" || id == "" {
				w.WriteError(rw, http.StatusNotFound, "unknown notification action")
				return
			}
			w.ServeNotificationClick(rw, r, id)
		case "ratings":
			if rest == "" || strings.Contains(rest, "/") {
				w.WriteError(rw, http.StatusNotFound, "unknown rating path")
				return
			}
			w.ServeRatings(rw, r, rest)
		default:
			w.WriteError(rw, http.StatusNotFound, "unknown control route")
		}
	})
}

// parseControlRoute splits a /-/ control path into its first segment and the
// remainder. Non-control paths report ok=false and fall through to fetch
// interception.
func parseControlRoute(path string) (string, string, bool) {
	const prefix = "/-/"
	if !strings.HasPrefix(path, prefix) {
		return "", "", false
	}
	trimmed := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if trimmed == "" {
		return "", "", false
	}
	route, rest, _ := strings.Cut(trimmed, "/")
	return strings.ToLower(route), rest, true
}
