// Package clients tracks the open application tabs connected to the gateway
// over its event stream. The registry is the single owner of client state:
// who is controlled by which generation, where each tab currently is, and
// whether it may show system notifications.
package clients

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
)

// EventKind enumerates the worker-to-page events the gateway emits.
type EventKind string

const (
	// EventControllerChange announces that a new generation claimed the client.
	EventControllerChange EventKind = "controller-change"
	// EventUpdateAvailable signals an installed-but-waiting generation.
	EventUpdateAvailable EventKind = "update-available"
	// EventNotification delivers a system notification to a permitted client.
	EventNotification EventKind = "notification"
	// EventToast is the in-page fallback when no client may show notifications.
	EventToast EventKind = "toast"
	// EventFocus instructs one client to navigate to a URL and take focus.
	EventFocus EventKind = "focus"
	// EventOpenWindow asks the page layer to open a new tab at a URL.
	EventOpenWindow EventKind = "open-window"
)

// Notice is the notification payload carried inside events. URL rides along
// as opaque data for click routing; it is never reparsed from the original
// push payload.
type Notice struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url"`
	Icon  string `json:"icon,omitempty"`
	Badge string `json:"badge,omitempty"`
	Tag   string `json:"tag,omitempty"`
}

// Event is one message on a client's stream.
type Event struct {
	Kind    EventKind `json:"kind"`
	Version string    `json:"version,omitempty"`
	URL     string    `json:"url,omitempty"`
	Notice  *Notice   `json:"notice,omitempty"`
}

// Info is a read-only snapshot of one connected client.
type Info struct {
	ID                     string
	URL                    string
	ControlledBy           string
	NotificationsPermitted bool
}

type client struct {
	info   Info
	events chan Event
}

// Registry owns every connected client. All mutation goes through it so no
// other component holds client references.
type Registry struct {
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[string]*client
}

// NewRegistry builds an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger:  logger.With(slog.String("agent", "clients")),
		clients: make(map[string]*client),
	}
}

const eventBuffer = 16

// Register adds a connected client and returns its id plus the channel its
// transport drains. controlledBy names the generation controlling the tab at
// connect time; empty means uncontrolled until the next claim.
func (r *Registry) Register(url string, notificationsPermitted bool, controlledBy string) (string, <-chan Event) {
	id := newClientID()
	c := &client{
		info: Info{
			ID:                     id,
			URL:                    url,
			ControlledBy:           controlledBy,
			NotificationsPermitted: notificationsPermitted,
		},
		events: make(chan Event, eventBuffer),
	}
	r.mu.Lock()
	r.clients[id] = c
	r.mu.Unlock()
	r.logger.Debug("client registered", slog.String("client_id", id), slog.String("url", url))
	return id, c.events
}

// Deregister removes a client and closes its stream.
func (r *Registry) Deregister(id string) {
	r.mu.Lock()
	c, ok := r.clients[id]
	if ok {
		delete(r.clients, id)
	}
	r.mu.Unlock()
	if ok {
		close(c.events)
		r.logger.Debug("client deregistered", slog.String("client_id", id))
	}
}

// Snapshot lists every connected client.
func (r *Registry) Snapshot() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	infos := make([]Info, 0, len(r.clients))
	for _, c := range r.clients {
		infos = append(infos, c.info)
	}
	return infos
}

// Count reports the number of connected clients.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Focus directs one client to navigate to url and take focus. It fails when
// the client is gone or its stream is saturated, so callers can move on to
// the next candidate.
func (r *Registry) Focus(id, url string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[id]
	if !ok {
		return fmt.Errorf("clients: client %s not connected", id)
	}
	select {
	case c.events <- Event{Kind: EventFocus, URL: url}:
		c.info.URL = url
		return nil
	default:
		return fmt.Errorf("clients: client %s stream saturated", id)
	}
}

// Send delivers an event to a single client, dropping it when the stream is
// saturated. A slow tab must never stall the worker.
func (r *Registry) Send(id string, event Event) error {
	r.mu.RLock()
	c, ok := r.clients[id]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("clients: client %s not connected", id)
	}
	select {
	case c.events <- event:
		return nil
	default:
		return fmt.Errorf("clients: client %s stream saturated", id)
	}
}

// Broadcast delivers an event to every connected client, skipping saturated
// streams.
func (r *Registry) Broadcast(event Event) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, c := range r.clients {
		select {
		case c.events <- event:
		default:
			r.logger.Warn("event dropped for slow client", slog.String("client_id", id), slog.String("kind", string(event.Kind)))
		}
	}
}

// ClaimAll marks every client as controlled by the given generation version
// and announces the controller change. This is the claim step of activation:
// previously uncontrolled tabs come under the new generation without a
// reload.
func (r *Registry) ClaimAll(version string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, c := range r.clients {
		c.info.ControlledBy = version
		select {
		case c.events <- Event{Kind: EventControllerChange, Version: version}:
		default:
			r.logger.Warn("claim event dropped for slow client", slog.String("client_id", id))
		}
	}
}

// Controlled reports whether any connected client is controlled by some
// generation. Update-available signaling only fires while an old generation
// still controls open tabs.
func (r *Registry) Controlled() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.clients {
		if c.info.ControlledBy != "" {
			return true
		}
	}
	return false
}

func newClientID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "client-unknown"
	}
	return hex.EncodeToString(buf)
}
