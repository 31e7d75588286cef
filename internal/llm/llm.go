// Package llm defines the provider-neutral completion contract used by the
// conversation machine and the memory consolidator, plus adapters for the
// OpenAI and Anthropic APIs.
package llm

import (
	"context"
	"encoding/json"
	"strings"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is one tool invocation requested by the model. Args is the raw
// JSON argument object as the provider produced it.
type ToolCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

// Message is one entry in a conversation transcript. The ID is stable for
// the life of the thread and is what targeted deletion during memory
// pruning keys on.
type Message struct {
	ID   string `json:"id,omitempty"`
	Role Role   `json:"role"`
	Text string `json:"text,omitempty"`

	// ToolCalls is set on assistant messages that request tool execution.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID and ToolName correlate a tool message back to the
	// assistant request it answers.
	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`
}

// ToolDef describes one tool exposed to the model. InputSchema is a JSON
// Schema object.
type ToolDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

type CompleteRequest struct {
	Model    string
	Messages []Message
	// Tools may be empty; consolidation calls run without tool binding.
	Tools           []ToolDef
	MaxOutputTokens int64
}

type Completion struct {
	Text         string
	ToolCalls    []ToolCall
	FinishReason string
}

// Client is the language-model collaborator. One call is one model turn;
// the response either carries tool calls or plain text.
type Client interface {
	Complete(ctx context.Context, req CompleteRequest) (Completion, error)
}

const defaultMaxOutputTokens = 4096

func systemText(messages []Message) string {
	parts := make([]string, 0, 2)
	for _, msg := range messages {
		if msg.Role != RoleSystem {
			continue
		}
		if txt := strings.TrimSpace(msg.Text); txt != "" {
			parts = append(parts, txt)
		}
	}
	return strings.Join(parts, "\n\n")
}
