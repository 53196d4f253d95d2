package models

import "encoding/json"

// Role identifies a conversation message author.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolEvent records a tool invocation attached to a conversation message,
// for client rendering of the tool activity feed.
type ToolEvent struct {
	Name   string `json:"name"`
	Status string `json:"status"` // "start" | "success" | "error"
	Detail string `json:"detail,omitempty"`
}

// ConversationMessage is one entry in a conversation log.
// ConversationID is unique within a log; adding a duplicate updates in place.
type ConversationMessage struct {
	ConversationID string          `json:"conversationId"`
	Role           Role            `json:"role"`
	Content        string          `json:"content"`
	UI             json.RawMessage `json:"ui,omitempty"`
	ToolEvents     []ToolEvent     `json:"toolEvents,omitempty"`
}

// Clone returns a deep copy.
func (m ConversationMessage) Clone() ConversationMessage {
	out := m
	if m.UI != nil {
		out.UI = append(json.RawMessage(nil), m.UI...)
	}
	if m.ToolEvents != nil {
		out.ToolEvents = append([]ToolEvent(nil), m.ToolEvents...)
	}
	return out
}

// ConversationState bundles both logs for a session.
type ConversationState struct {
	Running []ConversationMessage `json:"running"`
	Full    []ConversationMessage `json:"full"`
}
