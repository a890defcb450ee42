// Package notify turns push messages and listing events into client-visible
// notifications and routes notification clicks back to open tabs.
package notify

import (
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"sync"
	"time"

	"github.com/healthpages/shellgate/internal/metrics"
	"github.com/healthpages/shellgate/internal/runtime/clients"
)

// Notification is a live, clickable notification. URL is the click target,
// carried as attached data from the moment the push was parsed.
type Notification struct {
	ID        string
	Title     string
	Body      string
	URL       string
	Icon      string
	Badge     string
	Tag       string
	CreatedAt time.Time
}

// ClickResult reports how a notification click was resolved.
type ClickResult struct {
	Action   string `json:"action"`
	ClientID string `json:"clientId,omitempty"`
	URL      string `json:"url"`
}

const (
	// ActionFocused means an open tab was navigated and focused.
	ActionFocused = "focused"
	// ActionOpened means no matching tab existed and a new one was requested.
	ActionOpened = "opened"
)

// Dispatcher owns live notifications and their delivery. Native delivery to
// notification-permitted clients wins; the in-page toast broadcast is the
// fallback when no connected client may show notifications, never both.
type Dispatcher struct {
	registry *clients.Registry
	defaults Defaults
	logger   *slog.Logger
	metrics  *metrics.Recorder

	mu   sync.Mutex
	live map[string]Notification
}

// Config wires the dispatcher's collaborators.
type Config struct {
	Registry *clients.Registry
	Defaults Defaults
	Logger   *slog.Logger
	Metrics  *metrics.Recorder
}

// NewDispatcher constructs a dispatcher with the supplied configuration.
func NewDispatcher(cfg Config) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		registry: cfg.Registry,
		defaults: cfg.Defaults,
		logger:   logger.With(slog.String("agent", "notify")),
		metrics:  cfg.Metrics,
		live:     make(map[string]Notification),
	}
}

// Show builds a notification from the payload and delivers it. Errors and
// panics inside delivery are suppressed so a hostile payload can never take
// the worker down.
func (d *Dispatcher) Show(payload Payload) (note Notification) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("notification delivery panicked", slog.Any("panic", r))
		}
	}()

	note = Notification{
		ID:        newNotificationID(),
		Title:     payload.Title,
		Body:      payload.Body,
		URL:       payload.URL,
		Icon:      d.defaults.Icon,
		Badge:     d.defaults.Badge,
		Tag:       d.defaults.Tag,
		CreatedAt: time.Now().UTC(),
	}

	d.mu.Lock()
	d.live[note.ID] = note
	d.mu.Unlock()

	notice := &clients.Notice{
		ID:    note.ID,
		Title: note.Title,
		Body:  note.Body,
		URL:   note.URL,
		Icon:  note.Icon,
		Badge: note.Badge,
		Tag:   note.Tag,
	}

	delivered := 0
	for _, info := range d.registry.Snapshot() {
		if !info.NotificationsPermitted {
			continue
		}
		if err := d.registry.Send(info.ID, clients.Event{Kind: clients.EventNotification, Notice: notice}); err != nil {
			d.logger.Warn("notification delivery failed", slog.String("client_id", info.ID), slog.Any("error", err))
			continue
		}
		delivered++
	}
	if delivered > 0 {
		d.metrics.ObserveNotification(metrics.ChannelNative)
		d.logger.Info("notification shown", slog.String("notification_id", note.ID), slog.Int("clients", delivered))
		return note
	}

	// No client may show notifications; fall back to the in-page toast.
	d.registry.Broadcast(clients.Event{Kind: clients.EventToast, Notice: notice})
	d.metrics.ObserveNotification(metrics.ChannelToast)
	d.logger.Info("notification dispatched as toast", slog.String("notification_id", note.ID))
	return note
}

// Click closes the notification and routes to its target URL: the first
// connected client already at that URL is focused; failing candidates are
// skipped; with no match a new window is requested. Exactly one client is
// focused or one window opened per click.
func (d *Dispatcher) Click(id string) ClickResult {
	url := d.defaults.URL

	d.mu.Lock()
	if note, ok := d.live[id]; ok {
		url = note.URL
		delete(d.live, id)
	}
	d.mu.Unlock()

	for _, info := range d.registry.Snapshot() {
		if info.URL != url {
			continue
		}
		if err := d.registry.Focus(info.ID, url); err != nil {
			d.logger.Warn("focus candidate failed", slog.String("client_id", info.ID), slog.Any("error", err))
			continue
		}
		return ClickResult{Action: ActionFocused, ClientID: info.ID, URL: url}
	}

	d.registry.Broadcast(clients.Event{Kind: clients.EventOpenWindow, URL: url})
	return ClickResult{Action: ActionOpened, URL: url}
}

// Live returns the number of notifications not yet clicked away.
func (d *Dispatcher) Live() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.live)
}

func newNotificationID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "note-unknown"
	}
	return hex.EncodeToString(buf)
}
