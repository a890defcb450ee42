package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Listing is one new directory posting delivered by the realtime feed. The
// feed itself (the hosted backend's change stream) is an external
// collaborator; the bridge only cares about the row fields it renders.
type Listing struct {
	Table        string
	Title        string
	Location     string
	Subjects     string
	StudentClass string
	SalaryRange  string
	HourlyRate   string
}

// Listing tables with dedicated notification routing.
const (
	TableSchoolJobs  = "school_jobs"
	TableHomeTuition = "home_tuition_jobs"
)

// ListingSource is the abstract realtime feed of new postings.
type ListingSource interface {
	Subscribe(ctx context.Context, handler func(Listing)) error
}

// ListingsBridge converts new-posting events into notifications.
type ListingsBridge struct {
	dispatcher *Dispatcher
	logger     *slog.Logger
}

// NewListingsBridge builds the bridge.
func NewListingsBridge(dispatcher *Dispatcher, logger *slog.Logger) *ListingsBridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &ListingsBridge{
		dispatcher: dispatcher,
		logger:     logger.With(slog.String("agent", "listings")),
	}
}

// Run subscribes to the feed and dispatches a notification per posting.
// Subscription errors are logged, never fatal: a broken feed must not take
// the gateway down.
func (b *ListingsBridge) Run(ctx context.Context, source ListingSource) {
	if source == nil {
		return
	}
	if err := source.Subscribe(ctx, b.Handle); err != nil {
		b.logger.Warn("listing subscription failed", slog.Any("error", err))
	}
}

// Handle converts one posting into a notification. Handler errors are
// suppressed by the dispatcher, so a malformed row still surfaces something.
func (b *ListingsBridge) Handle(listing Listing) {
	title := listing.Title
	if strings.TrimSpace(title) == "" {
		title = "New Posting"
	}

	var payload Payload
	switch listing.Table {
	case TableHomeTuition:
		payload.Title = "New Home Tuition: " + title
		payload.URL = "/home-tuition"
	default:
		payload.Title = "New School Job: " + title
		payload.URL = "/school-jobs"
	}

	var parts []string
	for _, part := range []string{
		listing.Location,
		listing.Subjects,
		listing.StudentClass,
		listing.SalaryRange,
		hourlyRate(listing.HourlyRate),
	} {
		if strings.TrimSpace(part) != "" {
			parts = append(parts, part)
		}
	}
	payload.Body = strings.Join(parts, " • ")
	if payload.Body == "" {
		payload.Body = "Tap to view"
	}

	b.dispatcher.Show(payload)
}

func hourlyRate(rate string) string {
	if strings.TrimSpace(rate) == "" {
		return ""
	}
	return fmt.Sprintf("₹%s/hr", rate)
}
