package main

import (
	"context"
	"fmt"

	"github.com/orbitworks/orbit-agent/internal/llm"
)

// scriptedClient plays back a scenario's scripted responses in order, one
// per Complete call. Exhausting the script is a scenario authoring error.
type scriptedClient struct {
	responses []scriptedResponse
	next      int
	calls     int
}

func newScriptedClient(responses []scriptedResponse) *scriptedClient {
	return &scriptedClient{responses: responses}
}

func (c *scriptedClient) Complete(ctx context.Context, req llm.CompleteRequest) (llm.Completion, error) {
	if err := ctx.Err(); err != nil {
		return llm.Completion{}, err
	}
	c.calls++
	if c.next >= len(c.responses) {
		return llm.Completion{}, fmt.Errorf("script exhausted after %d responses", len(c.responses))
	}
	r := c.responses[c.next]
	c.next++

	out := llm.Completion{Text: r.Text, FinishReason: "stop"}
	for i, call := range r.ToolCalls {
		args, err := call.argsJSON()
		if err != nil {
			return llm.Completion{}, fmt.Errorf("script tool call %d: %w", i, err)
		}
		out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
			ID:   fmt.Sprintf("call_%d_%d", c.calls, i),
			Name: call.Name,
			Args: args,
		})
	}
	if len(out.ToolCalls) > 0 {
		out.FinishReason = "tool_calls"
	}
	return out, nil
}
