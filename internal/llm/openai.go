package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
	"github.com/openai/openai-go/shared"
)

type openAIClient struct {
	client openai.Client
}

// NewOpenAIClient returns a Client backed by the OpenAI Responses API.
// baseURL may be empty for the official endpoint; it also covers
// OpenAI-compatible gateways.
func NewOpenAIClient(apiKey string, baseURL string) (Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("missing provider api key")
	}
	opts := []option.RequestOption{option.WithAPIKey(strings.TrimSpace(apiKey))}
	if strings.TrimSpace(baseURL) != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSpace(baseURL)))
	}
	return &openAIClient{client: openai.NewClient(opts...)}, nil
}

func (c *openAIClient) Complete(ctx context.Context, req CompleteRequest) (Completion, error) {
	if c == nil {
		return Completion{}, errors.New("nil client")
	}
	if strings.TrimSpace(req.Model) == "" {
		return Completion{}, errors.New("missing model")
	}

	maxTokens := req.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxOutputTokens
	}
	params := responses.ResponseNewParams{
		Model:             shared.ResponsesModel(strings.TrimSpace(req.Model)),
		MaxOutputTokens:   openai.Int(maxTokens),
		ParallelToolCalls: openai.Bool(false),
	}

	items := buildOpenAIInput(req.Messages)
	if len(items) == 0 {
		items = append(items, responses.ResponseInputItemParamOfMessage("Continue.", responses.EasyInputMessageRoleUser))
	}
	params.Input = responses.ResponseNewParamsInputUnion{OfInputItemList: items}
	if instructions := systemText(req.Messages); instructions != "" {
		params.Instructions = openai.String(instructions)
	}
	if tools := buildOpenAITools(req.Tools); len(tools) > 0 {
		params.Tools = tools
	}

	resp, err := c.client.Responses.New(ctx, params)
	if err != nil {
		return Completion{}, err
	}

	out := Completion{FinishReason: mapOpenAIStatus(resp.Status)}
	var textBuf strings.Builder
	for _, item := range resp.Output {
		switch strings.TrimSpace(item.Type) {
		case "message":
			msg := item.AsMessage()
			for _, part := range msg.Content {
				if strings.TrimSpace(part.Type) != "output_text" {
					continue
				}
				if textBuf.Len() > 0 {
					textBuf.WriteString("\n")
				}
				textBuf.WriteString(strings.TrimSpace(part.Text))
			}
		case "function_call":
			callID := strings.TrimSpace(item.CallID)
			if callID == "" {
				callID = strings.TrimSpace(item.ID)
			}
			if callID == "" {
				callID = fmt.Sprintf("call_%d", len(out.ToolCalls)+1)
			}
			args := strings.TrimSpace(item.Arguments)
			if args == "" || !json.Valid([]byte(args)) {
				args = "{}"
			}
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				ID:   callID,
				Name: strings.TrimSpace(item.Name),
				Args: json.RawMessage(args),
			})
		}
	}
	out.Text = strings.TrimSpace(textBuf.String())
	if len(out.ToolCalls) > 0 {
		out.FinishReason = "tool_calls"
	}
	return out, nil
}

func buildOpenAITools(defs []ToolDef) []responses.ToolUnionParam {
	out := make([]responses.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		name := strings.TrimSpace(def.Name)
		if name == "" {
			continue
		}
		schema := map[string]any{}
		if len(def.InputSchema) > 0 {
			_ = json.Unmarshal(def.InputSchema, &schema)
		}
		out = append(out, responses.ToolParamOfFunction(name, schema, false))
	}
	return out
}

func buildOpenAIInput(messages []Message) responses.ResponseInputParam {
	items := make(responses.ResponseInputParam, 0, len(messages)+1)
	assistantMsgSeq := 0
	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			// Folded into the instructions field by the caller.
		case RoleTool:
			callID := strings.TrimSpace(msg.ToolCallID)
			if callID == "" {
				continue
			}
			items = append(items, responses.ResponseInputItemParamOfFunctionCallOutput(callID, msg.Text))
		case RoleAssistant:
			if txt := strings.TrimSpace(msg.Text); txt != "" {
				assistantMsgSeq++
				// Output message IDs must start with "msg_".
				msgID := fmt.Sprintf("msg_hist%d", assistantMsgSeq)
				content := []responses.ResponseOutputMessageContentUnionParam{{
					OfOutputText: &responses.ResponseOutputTextParam{
						Text:        txt,
						Annotations: []responses.ResponseOutputTextAnnotationUnionParam{},
					},
				}}
				items = append(items, responses.ResponseInputItemParamOfOutputMessage(content, msgID, responses.ResponseOutputMessageStatusCompleted))
			}
			for _, call := range msg.ToolCalls {
				callID := strings.TrimSpace(call.ID)
				name := strings.TrimSpace(call.Name)
				if callID == "" || name == "" {
					continue
				}
				args := strings.TrimSpace(string(call.Args))
				if args == "" || !json.Valid([]byte(args)) {
					args = "{}"
				}
				items = append(items, responses.ResponseInputItemParamOfFunctionCall(args, callID, name))
			}
		default:
			if txt := strings.TrimSpace(msg.Text); txt != "" {
				items = append(items, responses.ResponseInputItemParamOfMessage(txt, responses.EasyInputMessageRoleUser))
			}
		}
	}
	return items
}

func mapOpenAIStatus(status responses.ResponseStatus) string {
	switch strings.TrimSpace(strings.ToLower(string(status))) {
	case "completed":
		return "stop"
	case "incomplete":
		return "length"
	case "failed", "cancelled":
		return "error"
	default:
		return "stop"
	}
}
