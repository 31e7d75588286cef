package assistant

import (
	"fmt"
	"strings"
	"time"

	"github.com/orbitworks/orbit-agent/internal/llm"
)

const systemPromptFormat = `You are Orbit, a personal assistant. You help the user manage their calendar, remember facts about them, and answer questions. Be concise and practical. Use the available tools when the user asks about events or wants something scheduled, changed, or removed. When you learn a stable fact or preference about the user, record it with the update_profile tool.

What you know about the user:
%s

Current local time for the user: %s`

// effectiveMessages builds the message sequence actually sent to the model.
// Stored system messages are dropped and a freshly rendered system prompt is
// prepended, so the profile text and clock are always current rather than
// whatever was true when the thread started.
func effectiveMessages(profileText, localTime string, history []llm.Message) []llm.Message {
	out := make([]llm.Message, 0, len(history)+1)
	out = append(out, llm.Message{
		Role: llm.RoleSystem,
		Text: fmt.Sprintf(systemPromptFormat, strings.TrimSpace(profileText), localTime),
	})
	for _, msg := range history {
		if msg.Role == llm.RoleSystem {
			continue
		}
		out = append(out, msg)
	}
	return out
}

// localTimeString renders now in the named IANA zone. An unknown or empty
// zone falls back to UTC rather than failing the turn.
func localTimeString(tz string, now time.Time) string {
	loc := time.UTC
	if tz = strings.TrimSpace(tz); tz != "" {
		if parsed, err := time.LoadLocation(tz); err == nil {
			loc = parsed
		}
	}
	return now.In(loc).Format("2006-01-02 15:04:05 MST")
}
