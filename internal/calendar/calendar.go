// Package calendar defines the calendar collaborator contract consumed by
// the assistant's tools, plus a Google Calendar REST implementation.
package calendar

import (
	"context"
)

// Event is the provider-neutral view of a calendar event. Start and End are
// RFC 3339 timestamps.
type Event struct {
	ID          string `json:"id"`
	Summary     string `json:"summary"`
	Description string `json:"description,omitempty"`
	Start       string `json:"start"`
	End         string `json:"end"`
	TimeZone    string `json:"time_zone,omitempty"`
}

// EventPatch carries the fields of a partial update; nil means "leave as is".
type EventPatch struct {
	Summary      *string
	Description  *string
	StartTime    *string
	DurationMins *int
}

// Client is the external calendar collaborator. Implementations may fail
// with auth or transport errors; the conversation machine folds those into
// tool-result messages rather than aborting the turn.
type Client interface {
	// ListEvents returns events in [timeMin, timeMax]. Empty bounds default
	// to a now..now+7d window; maxResults <= 0 defaults to 10.
	ListEvents(ctx context.Context, timeMin string, timeMax string, maxResults int) ([]Event, error)

	// CreateEvent schedules a new event; the end time is startTime plus
	// durationMins (default 60).
	CreateEvent(ctx context.Context, summary string, startTime string, durationMins int, description string, timeZone string) (*Event, error)

	// SearchEvents runs a free-text query over upcoming events.
	SearchEvents(ctx context.Context, query string) ([]Event, error)

	// UpdateEvent applies a partial update to an existing event.
	UpdateEvent(ctx context.Context, eventID string, patch EventPatch) (*Event, error)

	// DeleteEvent removes an event by id.
	DeleteEvent(ctx context.Context, eventID string) error
}
