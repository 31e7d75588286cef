package config

import (
	"errors"
	"strings"
)

// CalendarConfig configures the Google Calendar integration.
//
// Only the OAuth client identity lives here. The client secret and per-user
// refresh tokens are secrets and belong in secrets.json.
type CalendarConfig struct {
	ClientID string `json:"client_id"`
}

func (c *CalendarConfig) Validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	if strings.TrimSpace(c.ClientID) == "" {
		return errors.New("missing client_id")
	}
	return nil
}
