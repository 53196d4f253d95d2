package inference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
)

// MessagesClient is the subset of the Anthropic SDK used by the adapter. It
// is satisfied by *sdk.MessageService so tests can substitute a mock.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
	NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
}

// AnthropicClient implements Client on top of the Anthropic Messages API.
type AnthropicClient struct {
	msg          MessagesClient
	defaultModel string
	maxTokens    int
}

var _ Client = (*AnthropicClient)(nil)

// NewAnthropicClient wraps an existing Messages client.
func NewAnthropicClient(msg MessagesClient, defaultModel string, maxTokens int) (*AnthropicClient, error) {
	if msg == nil {
		return nil, errors.New("anthropic messages client is required")
	}
	if defaultModel == "" {
		return nil, errors.New("default model identifier is required")
	}
	if maxTokens <= 0 {
		maxTokens = 8192
	}
	return &AnthropicClient{msg: msg, defaultModel: defaultModel, maxTokens: maxTokens}, nil
}

// NewAnthropicClientFromAPIKey constructs a client over the default HTTP
// transport.
func NewAnthropicClientFromAPIKey(apiKey, defaultModel string, maxTokens int) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return NewAnthropicClient(&ac.Messages, defaultModel, maxTokens)
}

// Complete issues one request. Streaming is used when req.OnChunk is set;
// cancellation mid-stream returns a PartialError carrying the text produced
// so far.
func (c *AnthropicClient) Complete(ctx context.Context, req Request) (*Response, error) {
	params, err := c.encodeRequest(req)
	if err != nil {
		return nil, err
	}
	if req.OnChunk != nil {
		return c.stream(ctx, *params, req.OnChunk)
	}
	msg, err := c.msg.New(ctx, *params)
	if err != nil {
		return nil, fmt.Errorf("anthropic messages.new: %w", err)
	}
	return translateMessage(msg), nil
}

func (c *AnthropicClient) encodeRequest(req Request) (*sdk.MessageNewParams, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("anthropic: messages are required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}

	msgs := make([]sdk.MessageParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		blocks := make([]sdk.ContentBlockParamUnion, 0, 1+len(m.ToolCalls)+len(m.ToolResults))
		if m.Content != "" {
			blocks = append(blocks, sdk.NewTextBlock(m.Content))
		}
		for _, tc := range m.ToolCalls {
			if tc.Name == "" {
				return nil, errors.New("anthropic: tool call missing name")
			}
			blocks = append(blocks, sdk.NewToolUseBlock(tc.ID, tc.Input, tc.Name))
		}
		for _, tr := range m.ToolResults {
			blocks = append(blocks, sdk.NewToolResultBlock(tr.ToolCallID, tr.Content, tr.IsError))
		}
		if len(blocks) == 0 {
			continue
		}
		switch m.Role {
		case RoleUser:
			msgs = append(msgs, sdk.NewUserMessage(blocks...))
		case RoleAssistant:
			msgs = append(msgs, sdk.NewAssistantMessage(blocks...))
		default:
			return nil, fmt.Errorf("anthropic: unsupported message role %q", m.Role)
		}
	}
	if len(msgs) == 0 {
		return nil, errors.New("anthropic: at least one non-empty message is required")
	}

	params := sdk.MessageNewParams{
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
		Model:     sdk.Model(modelID),
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}
	if len(req.Tools) > 0 {
		toolList := make([]sdk.ToolUnionParam, 0, len(req.Tools))
		for _, def := range req.Tools {
			if def.Name == "" {
				continue
			}
			schema, err := toolInputSchema(def.Schema)
			if err != nil {
				return nil, fmt.Errorf("anthropic: tool %q schema: %w", def.Name, err)
			}
			u := sdk.ToolUnionParamOfTool(schema, def.Name)
			if u.OfTool != nil && def.Description != "" {
				u.OfTool.Description = sdk.String(def.Description)
			}
			toolList = append(toolList, u)
		}
		params.Tools = toolList
	}
	return &params, nil
}

func toolInputSchema(raw json.RawMessage) (sdk.ToolInputSchemaParam, error) {
	if len(raw) == 0 {
		return sdk.ToolInputSchemaParam{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return sdk.ToolInputSchemaParam{}, err
	}
	return sdk.ToolInputSchemaParam{ExtraFields: m}, nil
}

func (c *AnthropicClient) stream(ctx context.Context, params sdk.MessageNewParams, onChunk func(string)) (*Response, error) {
	stream := c.msg.NewStreaming(ctx, params)
	defer stream.Close()
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("anthropic messages.new stream: %w", err)
	}

	var text strings.Builder
	resp := &Response{}
	toolBlocks := make(map[int]*toolBuffer)

	for stream.Next() {
		event := stream.Current()
		switch ev := event.AsAny().(type) {
		case sdk.ContentBlockStartEvent:
			if tu, ok := ev.ContentBlock.AsAny().(sdk.ToolUseBlock); ok {
				toolBlocks[int(ev.Index)] = &toolBuffer{id: tu.ID, name: tu.Name}
			}
		case sdk.ContentBlockDeltaEvent:
			switch delta := ev.Delta.AsAny().(type) {
			case sdk.TextDelta:
				if delta.Text != "" {
					text.WriteString(delta.Text)
					onChunk(delta.Text)
				}
			case sdk.InputJSONDelta:
				if tb := toolBlocks[int(ev.Index)]; tb != nil {
					tb.fragments = append(tb.fragments, delta.PartialJSON)
				}
			}
		case sdk.ContentBlockStopEvent:
			if tb := toolBlocks[int(ev.Index)]; tb != nil {
				delete(toolBlocks, int(ev.Index))
				resp.ToolCalls = append(resp.ToolCalls, ToolCall{
					ID:    tb.id,
					Name:  tb.name,
					Input: json.RawMessage(tb.finalInput()),
				})
			}
		case sdk.MessageDeltaEvent:
			resp.StopReason = string(ev.Delta.StopReason)
			resp.InputTokens += int(ev.Usage.InputTokens)
			resp.OutputTokens += int(ev.Usage.OutputTokens)
		}
	}
	if err := stream.Err(); err != nil {
		if text.Len() > 0 {
			return nil, &PartialError{Text: text.String(), Err: err}
		}
		return nil, fmt.Errorf("anthropic stream: %w", err)
	}
	if err := ctx.Err(); err != nil {
		if text.Len() > 0 {
			return nil, &PartialError{Text: text.String(), Err: err}
		}
		return nil, err
	}
	resp.Text = text.String()
	return resp, nil
}

func translateMessage(msg *sdk.Message) *Response {
	resp := &Response{StopReason: string(msg.StopReason)}
	var text strings.Builder
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			resp.ToolCalls = append(resp.ToolCalls, ToolCall{
				ID:    block.ID,
				Name:  block.Name,
				Input: block.Input,
			})
		}
	}
	resp.Text = text.String()
	resp.InputTokens = int(msg.Usage.InputTokens)
	resp.OutputTokens = int(msg.Usage.OutputTokens)
	return resp
}

type toolBuffer struct {
	id        string
	name      string
	fragments []string
}

func (tb *toolBuffer) finalInput() string {
	joined := strings.TrimSpace(strings.Join(tb.fragments, ""))
	if joined == "" {
		return "{}"
	}
	return joined
}
