// Package inference defines the LLM provider contract used by the session
// controllers and its Anthropic-backed implementation. Controllers speak the
// domain types here; provider wire formats stay inside the adapter.
package inference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Role of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ToolCall is one tool invocation requested by the model.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult carries the outcome of an executed tool call back to the model.
type ToolResult struct {
	ToolCallID string `json:"toolCallId"`
	Content    string `json:"content"`
	IsError    bool   `json:"isError"`
}

// Message is one turn of provider conversation. Assistant turns may carry
// tool calls; user turns may carry tool results.
type Message struct {
	Role        Role         `json:"role"`
	Content     string       `json:"content,omitempty"`
	ToolCalls   []ToolCall   `json:"toolCalls,omitempty"`
	ToolResults []ToolResult `json:"toolResults,omitempty"`
}

// ToolDefinition advertises one callable tool to the model.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Schema      json.RawMessage `json:"schema"`
}

// Request is one completion request. When OnChunk is set the adapter streams
// and invokes it with each text delta as it arrives.
type Request struct {
	Model     string
	System    string
	MaxTokens int
	Messages  []Message
	Tools     []ToolDefinition
	OnChunk   func(text string)
}

// Response is the model's reply.
type Response struct {
	Text         string
	ToolCalls    []ToolCall
	StopReason   string
	InputTokens  int
	OutputTokens int
}

// Client issues completion requests.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// PartialError reports a request interrupted after the model produced some
// output. Callers that retry include Text so the model can resume rather than
// restart.
type PartialError struct {
	Text string
	Err  error
}

func (e *PartialError) Error() string {
	return fmt.Sprintf("inference interrupted after partial output: %v", e.Err)
}

func (e *PartialError) Unwrap() error { return e.Err }

// AsPartial extracts a PartialError from err's chain.
func AsPartial(err error) (*PartialError, bool) {
	var pe *PartialError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
