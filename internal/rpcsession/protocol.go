// Package rpcsession implements component C5: a pool of long-lived child
// agent processes, one per (profile, sessionKey), spoken to over
// half-duplex line-delimited JSON (§4.5, §6.2).
package rpcsession

import "encoding/json"

// envelope is the generic shape of every line on the wire: requests carry an
// id, responses echo it back, and everything else is an event broadcast to
// listeners.
type envelope struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Command string          `json:"command,omitempty"`
	Success bool            `json:"success,omitempty"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Method  string          `json:"method,omitempty"`

	// prompt-stream event fields, present only on broadcast events.
	AssistantMessageEvent *assistantMessageEvent `json:"assistantMessageEvent,omitempty"`
	ToolName              string                 `json:"toolName,omitempty"`
}

type assistantMessageEvent struct {
	Type  string `json:"type"`
	Delta string `json:"delta"`
}

const (
	typeResponse           = "response"
	typeExtensionUIRequest = "extension_ui_request"
	typeExtensionUIResp    = "extension_ui_response"
	typePrompt             = "prompt"
	typeAbort              = "abort"
	typeGetLastText        = "get_last_assistant_text"

	eventMessageUpdate      = "message_update"
	eventToolExecutionStart = "tool_execution_start"
	eventToolExecutionEnd   = "tool_execution_end"
	eventAgentEnd           = "agent_end"

	assistantTextDelta = "text_delta"
)

var uiMethods = map[string]bool{
	"select": true, "confirm": true, "input": true, "editor": true,
}
