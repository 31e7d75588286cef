package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const (
	googleCalendarBaseURL = "https://www.googleapis.com/calendar/v3"
	googleTokenURL        = "https://oauth2.googleapis.com/token"
	googleMaxBodyBytes    = 2 << 20 // response body read limit

	defaultListWindow  = 7 * 24 * time.Hour
	defaultMaxResults  = 10
	defaultDurationMin = 60
)

// GoogleClient talks to the Google Calendar v3 REST surface for one user's
// primary calendar, refreshing access tokens from a stored refresh token.
type GoogleClient struct {
	baseURL    string
	httpClient *http.Client
	now        func() time.Time
}

type GoogleOptions struct {
	ClientID     string
	ClientSecret string
	RefreshToken string

	// BaseURL and HTTPClient override the real API endpoint; used by tests.
	BaseURL    string
	HTTPClient *http.Client
}

func NewGoogleClient(ctx context.Context, opts GoogleOptions) (*GoogleClient, error) {
	base := strings.TrimSpace(opts.BaseURL)
	if base == "" {
		base = googleCalendarBaseURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		if strings.TrimSpace(opts.RefreshToken) == "" {
			return nil, errors.New("missing calendar refresh token")
		}
		conf := &oauth2.Config{
			ClientID:     strings.TrimSpace(opts.ClientID),
			ClientSecret: strings.TrimSpace(opts.ClientSecret),
			Endpoint:     oauth2.Endpoint{TokenURL: googleTokenURL},
			Scopes:       []string{"https://www.googleapis.com/auth/calendar"},
		}
		if ctx == nil {
			ctx = context.Background()
		}
		httpClient = conf.Client(ctx, &oauth2.Token{RefreshToken: strings.TrimSpace(opts.RefreshToken)})
		httpClient.Timeout = 30 * time.Second
	}
	return &GoogleClient{
		baseURL:    strings.TrimRight(base, "/"),
		httpClient: httpClient,
		now:        time.Now,
	}, nil
}

type googleEventTime struct {
	DateTime string `json:"dateTime,omitempty"`
	Date     string `json:"date,omitempty"`
	TimeZone string `json:"timeZone,omitempty"`
}

type googleEvent struct {
	ID          string          `json:"id,omitempty"`
	Summary     string          `json:"summary,omitempty"`
	Description string          `json:"description,omitempty"`
	Start       googleEventTime `json:"start,omitempty"`
	End         googleEventTime `json:"end,omitempty"`
}

type googleEventList struct {
	Items []googleEvent `json:"items"`
}

func (c *GoogleClient) ListEvents(ctx context.Context, timeMin string, timeMax string, maxResults int) ([]Event, error) {
	if c == nil {
		return nil, errors.New("nil calendar client")
	}
	now := c.now().UTC()

	tMin, err := normalizeTime(timeMin, now)
	if err != nil {
		return nil, fmt.Errorf("invalid time_min: %w", err)
	}
	tMax, err := normalizeTime(timeMax, now.Add(defaultListWindow))
	if err != nil {
		return nil, fmt.Errorf("invalid time_max: %w", err)
	}
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}

	q := url.Values{}
	q.Set("timeMin", tMin)
	q.Set("timeMax", tMax)
	q.Set("maxResults", strconv.Itoa(maxResults))
	q.Set("singleEvents", "true")
	q.Set("orderBy", "startTime")
	return c.listEvents(ctx, q)
}

func (c *GoogleClient) SearchEvents(ctx context.Context, query string) ([]Event, error) {
	if c == nil {
		return nil, errors.New("nil calendar client")
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("missing query")
	}
	q := url.Values{}
	q.Set("q", query)
	q.Set("maxResults", strconv.Itoa(defaultMaxResults))
	q.Set("singleEvents", "true")
	q.Set("orderBy", "startTime")
	return c.listEvents(ctx, q)
}

func (c *GoogleClient) listEvents(ctx context.Context, query url.Values) ([]Event, error) {
	var list googleEventList
	if err := c.doJSON(ctx, http.MethodGet, "/calendars/primary/events?"+query.Encode(), nil, &list); err != nil {
		return nil, err
	}
	out := make([]Event, 0, len(list.Items))
	for _, item := range list.Items {
		out = append(out, fromGoogleEvent(item))
	}
	return out, nil
}

func (c *GoogleClient) CreateEvent(ctx context.Context, summary string, startTime string, durationMins int, description string, timeZone string) (*Event, error) {
	if c == nil {
		return nil, errors.New("nil calendar client")
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return nil, errors.New("missing summary")
	}
	start, err := parseFlexibleTime(strings.TrimSpace(startTime))
	if err != nil {
		return nil, fmt.Errorf("invalid start_time: %w", err)
	}
	if durationMins <= 0 {
		durationMins = defaultDurationMin
	}
	timeZone = strings.TrimSpace(timeZone)
	if timeZone == "" {
		timeZone = "UTC"
	}
	end := start.Add(time.Duration(durationMins) * time.Minute)

	body := googleEvent{
		Summary:     summary,
		Description: description,
		Start:       googleEventTime{DateTime: start.Format(time.RFC3339), TimeZone: timeZone},
		End:         googleEventTime{DateTime: end.Format(time.RFC3339), TimeZone: timeZone},
	}
	var created googleEvent
	if err := c.doJSON(ctx, http.MethodPost, "/calendars/primary/events", body, &created); err != nil {
		return nil, err
	}
	ev := fromGoogleEvent(created)
	return &ev, nil
}

func (c *GoogleClient) UpdateEvent(ctx context.Context, eventID string, patch EventPatch) (*Event, error) {
	if c == nil {
		return nil, errors.New("nil calendar client")
	}
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return nil, errors.New("missing event id")
	}

	// Fetch the existing event and patch it, the same read-modify-update the
	// API documents for partial changes.
	var existing googleEvent
	if err := c.doJSON(ctx, http.MethodGet, "/calendars/primary/events/"+url.PathEscape(eventID), nil, &existing); err != nil {
		return nil, err
	}
	if patch.Summary != nil {
		existing.Summary = strings.TrimSpace(*patch.Summary)
	}
	if patch.Description != nil {
		existing.Description = *patch.Description
	}
	var start time.Time
	haveStart := false
	if patch.StartTime != nil {
		parsed, err := parseFlexibleTime(strings.TrimSpace(*patch.StartTime))
		if err != nil {
			return nil, fmt.Errorf("invalid start_time: %w", err)
		}
		start = parsed
		haveStart = true
		existing.Start.DateTime = start.Format(time.RFC3339)
		existing.Start.Date = ""
	}
	if patch.DurationMins != nil {
		if !haveStart {
			raw := existing.Start.DateTime
			if raw == "" {
				raw = existing.Start.Date
			}
			parsed, err := parseFlexibleTime(raw)
			if err != nil {
				return nil, fmt.Errorf("event has unparseable start: %w", err)
			}
			start = parsed
		}
		end := start.Add(time.Duration(*patch.DurationMins) * time.Minute)
		existing.End.DateTime = end.Format(time.RFC3339)
		existing.End.Date = ""
	}

	var updated googleEvent
	if err := c.doJSON(ctx, http.MethodPut, "/calendars/primary/events/"+url.PathEscape(eventID), existing, &updated); err != nil {
		return nil, err
	}
	ev := fromGoogleEvent(updated)
	return &ev, nil
}

func (c *GoogleClient) DeleteEvent(ctx context.Context, eventID string) error {
	if c == nil {
		return errors.New("nil calendar client")
	}
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return errors.New("missing event id")
	}
	return c.doJSON(ctx, http.MethodDelete, "/calendars/primary/events/"+url.PathEscape(eventID), nil, nil)
}

func (c *GoogleClient) doJSON(ctx context.Context, method string, path string, body any, out any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, googleMaxBodyBytes))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("calendar api %s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("calendar api response decode: %w", err)
	}
	return nil
}

func fromGoogleEvent(ev googleEvent) Event {
	start := ev.Start.DateTime
	if start == "" {
		start = ev.Start.Date
	}
	end := ev.End.DateTime
	if end == "" {
		end = ev.End.Date
	}
	return Event{
		ID:          ev.ID,
		Summary:     ev.Summary,
		Description: ev.Description,
		Start:       start,
		End:         end,
		TimeZone:    ev.Start.TimeZone,
	}
}

// normalizeTime parses a caller-supplied bound or falls back to the default.
func normalizeTime(raw string, fallback time.Time) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback.Format(time.RFC3339), nil
	}
	t, err := parseFlexibleTime(raw)
	if err != nil {
		return "", err
	}
	return t.Format(time.RFC3339), nil
}

func parseFlexibleTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, errors.New("empty time")
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", raw)
}
