package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/orbitworks/orbit-agent/internal/calendar"
	"github.com/orbitworks/orbit-agent/internal/llm"
	"github.com/orbitworks/orbit-agent/internal/profile"
)

type getEventsInput struct {
	TimeMin    string `json:"time_min,omitempty" jsonschema_description:"Start of the window, RFC3339 or 'YYYY-MM-DD HH:MM:SS'. Defaults to now."`
	TimeMax    string `json:"time_max,omitempty" jsonschema_description:"End of the window. Defaults to seven days after time_min."`
	MaxResults int    `json:"max_results,omitempty" jsonschema_description:"Maximum number of events to return. Defaults to 10."`
}

type createEventInput struct {
	Summary      string `json:"summary" jsonschema_description:"Event title."`
	StartTime    string `json:"start_time" jsonschema_description:"Event start, RFC3339 or 'YYYY-MM-DD HH:MM:SS'."`
	DurationMins int    `json:"duration_mins,omitempty" jsonschema_description:"Event length in minutes. Defaults to 60."`
	Description  string `json:"description,omitempty" jsonschema_description:"Optional longer description."`
	TimeZone     string `json:"time_zone,omitempty" jsonschema_description:"IANA time zone for the start time, e.g. Europe/Berlin."`
}

type searchEventsInput struct {
	Query string `json:"query" jsonschema_description:"Free-text search over event titles and descriptions."`
}

type updateEventInput struct {
	EventID      string  `json:"event_id" jsonschema_description:"ID of the event to change."`
	Summary      *string `json:"summary,omitempty" jsonschema_description:"New title, if it should change."`
	StartTime    *string `json:"start_time,omitempty" jsonschema_description:"New start time, if it should change."`
	DurationMins *int    `json:"duration_mins,omitempty" jsonschema_description:"New length in minutes, if it should change."`
	Description  *string `json:"description,omitempty" jsonschema_description:"New description, if it should change."`
}

type deleteEventInput struct {
	EventID string `json:"event_id" jsonschema_description:"ID of the event to delete."`
}

type updateProfileInput struct {
	Fact string `json:"fact" jsonschema_description:"One new fact or preference about the user, stated plainly."`
}

// registerCalendarTools binds the five calendar tools against a lazily
// resolved client. Resolution is deferred to first use so users without a
// linked calendar still get a working assistant; the model sees the failure
// as a tool error it can relay.
func registerCalendarTools(reg *Registry, resolve func(context.Context) (calendar.Client, error)) error {
	withClient := func(fn func(ctx context.Context, cal calendar.Client, args json.RawMessage) (string, error)) ToolFunc {
		return func(ctx context.Context, args json.RawMessage) (string, error) {
			cal, err := resolve(ctx)
			if err != nil {
				return "", fmt.Errorf("calendar unavailable: %w", err)
			}
			return fn(ctx, cal, args)
		}
	}

	tools := []struct {
		def llm.ToolDef
		fn  ToolFunc
	}{
		{
			def: llm.ToolDef{
				Name:        "get_events",
				Description: "List upcoming calendar events in a time window.",
				InputSchema: GenerateSchema[getEventsInput](),
			},
			fn: withClient(func(ctx context.Context, cal calendar.Client, args json.RawMessage) (string, error) {
				var in getEventsInput
				if err := unmarshalArgs(args, &in); err != nil {
					return "", err
				}
				events, err := cal.ListEvents(ctx, in.TimeMin, in.TimeMax, in.MaxResults)
				if err != nil {
					return "", err
				}
				return renderEvents(events)
			}),
		},
		{
			def: llm.ToolDef{
				Name:        "create_event",
				Description: "Create a new calendar event.",
				InputSchema: GenerateSchema[createEventInput](),
			},
			fn: withClient(func(ctx context.Context, cal calendar.Client, args json.RawMessage) (string, error) {
				var in createEventInput
				if err := unmarshalArgs(args, &in); err != nil {
					return "", err
				}
				if strings.TrimSpace(in.Summary) == "" {
					return "", fmt.Errorf("summary is required")
				}
				if strings.TrimSpace(in.StartTime) == "" {
					return "", fmt.Errorf("start_time is required")
				}
				event, err := cal.CreateEvent(ctx, in.Summary, in.StartTime, in.DurationMins, in.Description, in.TimeZone)
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("Created event %q (id %s) starting %s.", event.Summary, event.ID, event.Start), nil
			}),
		},
		{
			def: llm.ToolDef{
				Name:        "search_events",
				Description: "Search calendar events by free text.",
				InputSchema: GenerateSchema[searchEventsInput](),
			},
			fn: withClient(func(ctx context.Context, cal calendar.Client, args json.RawMessage) (string, error) {
				var in searchEventsInput
				if err := unmarshalArgs(args, &in); err != nil {
					return "", err
				}
				if strings.TrimSpace(in.Query) == "" {
					return "", fmt.Errorf("query is required")
				}
				events, err := cal.SearchEvents(ctx, in.Query)
				if err != nil {
					return "", err
				}
				return renderEvents(events)
			}),
		},
		{
			def: llm.ToolDef{
				Name:        "update_event",
				Description: "Change the title, time, length, or description of an existing event.",
				InputSchema: GenerateSchema[updateEventInput](),
			},
			fn: withClient(func(ctx context.Context, cal calendar.Client, args json.RawMessage) (string, error) {
				var in updateEventInput
				if err := unmarshalArgs(args, &in); err != nil {
					return "", err
				}
				if strings.TrimSpace(in.EventID) == "" {
					return "", fmt.Errorf("event_id is required")
				}
				event, err := cal.UpdateEvent(ctx, in.EventID, calendar.EventPatch{
					Summary:      in.Summary,
					Description:  in.Description,
					StartTime:    in.StartTime,
					DurationMins: in.DurationMins,
				})
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("Updated event %q (id %s), now starting %s.", event.Summary, event.ID, event.Start), nil
			}),
		},
		{
			def: llm.ToolDef{
				Name:        "delete_event",
				Description: "Delete a calendar event by ID.",
				InputSchema: GenerateSchema[deleteEventInput](),
			},
			fn: withClient(func(ctx context.Context, cal calendar.Client, args json.RawMessage) (string, error) {
				var in deleteEventInput
				if err := unmarshalArgs(args, &in); err != nil {
					return "", err
				}
				if strings.TrimSpace(in.EventID) == "" {
					return "", fmt.Errorf("event_id is required")
				}
				if err := cal.DeleteEvent(ctx, in.EventID); err != nil {
					return "", err
				}
				return fmt.Sprintf("Deleted event %s.", in.EventID), nil
			}),
		},
	}

	for _, tool := range tools {
		if err := reg.Register(tool.def, tool.fn); err != nil {
			return err
		}
	}
	return nil
}

// registerProfileTool lets the model append durable facts about the user.
// Write contention is reported back to the model as a retryable message, not
// an error: the fact is in the transcript and the model can try again later.
func registerProfileTool(reg *Registry, profiles *profile.Manager, userKey string) error {
	return reg.Register(llm.ToolDef{
		Name:        "update_profile",
		Description: "Remember a stable fact or preference about the user.",
		InputSchema: GenerateSchema[updateProfileInput](),
	}, func(ctx context.Context, args json.RawMessage) (string, error) {
		var in updateProfileInput
		if err := unmarshalArgs(args, &in); err != nil {
			return "", err
		}
		if strings.TrimSpace(in.Fact) == "" {
			return "", fmt.Errorf("fact is required")
		}
		if err := profiles.AppendFact(ctx, userKey, in.Fact); err != nil {
			if errors.Is(err, profile.ErrContention) {
				return "Failed to update profile after multiple attempts due to high traffic. Please try again later.", nil
			}
			return "", err
		}
		return "Successfully updated user profile.", nil
	})
}

func unmarshalArgs(args json.RawMessage, into any) error {
	if len(args) == 0 {
		return nil
	}
	if err := json.Unmarshal(args, into); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

func renderEvents(events []calendar.Event) (string, error) {
	if len(events) == 0 {
		return "No events found.", nil
	}
	raw, err := json.MarshalIndent(events, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode events: %w", err)
	}
	return string(raw), nil
}
