// Package watch implements the two file-tail watchers the observation
// server polls: LogWatcher (plain text log tail) and SDKOutputWatcher
// (structured sdk-output.json tail). Grounded on
// _examples/original_source/src/jeeves/viewer/server.py's LogWatcher
// and SDKOutputWatcher classes, and the SDKOutput/Message/ToolCall
// schema in _examples/original_source/src/jeeves/runner/output.py.
package watch

// MessageType enumerates the message kinds spec.md §3.5 defines.
type MessageType string

const (
	MessageSystem     MessageType = "system"
	MessageUser       MessageType = "user"
	MessageAssistant  MessageType = "assistant"
	MessageToolResult MessageType = "tool_result"
	MessageResult     MessageType = "result"
)

// Message mirrors spec.md §3.5's message shape, grounded on
// runner/output.py's Message dataclass.
type Message struct {
	Type      MessageType `json:"type"`
	Subtype   string      `json:"subtype,omitempty"`
	Content   interface{} `json:"content,omitempty"`
	ToolUse   interface{} `json:"tool_use,omitempty"`
	ToolUseID string      `json:"tool_use_id,omitempty"`
	SessionID string      `json:"session_id,omitempty"`
	Timestamp string      `json:"timestamp,omitempty"`
}

// ToolCall mirrors spec.md §3.5's tool-call shape, grounded on
// runner/output.py's ToolCall dataclass.
type ToolCall struct {
	Name       string                 `json:"name"`
	Input      map[string]interface{} `json:"input,omitempty"`
	ToolUseID  string                 `json:"tool_use_id"`
	DurationMs *int64                 `json:"duration_ms,omitempty"`
	IsError    bool                   `json:"is_error,omitempty"`
}

// Tokens carries the per-iteration token accounting spec.md §3.5
// names on Stats.
type Tokens struct {
	Input         int `json:"input,omitempty"`
	Output        int `json:"output,omitempty"`
	CacheCreation int `json:"cache_creation,omitempty"`
	CacheRead     int `json:"cache_read,omitempty"`
}

// Stats mirrors spec.md §3.5's stats shape, plus the cost/context
// figures SPEC_FULL.md §C.2 supplements from runner/output.py.
type Stats struct {
	MessageCount      int     `json:"message_count,omitempty"`
	ToolCallCount     int     `json:"tool_call_count,omitempty"`
	DurationSeconds   float64 `json:"duration_seconds,omitempty"`
	Tokens            *Tokens `json:"tokens,omitempty"`
	TotalCostUSD      float64 `json:"total_cost_usd,omitempty"`
	ContextPercentage float64 `json:"context_percentage,omitempty"`
	ContextWindowSize int     `json:"context_window_size,omitempty"`
}

// SDKOutput mirrors spec.md §3.5's sdk-output.json document, including
// the "iteration" field the Ralph Wiggum fresh-context pattern needs
// (SPEC_FULL.md §C.1) to tell the observation server which attempt
// produced this document.
type SDKOutput struct {
	Schema    string     `json:"schema"`
	SessionID string     `json:"session_id,omitempty"`
	Iteration int        `json:"iteration,omitempty"`
	StartedAt string     `json:"started_at,omitempty"`
	EndedAt   string     `json:"ended_at,omitempty"`
	Messages  []Message  `json:"messages,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Stats     Stats      `json:"stats,omitempty"`
	Success   bool       `json:"success,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// SchemaVersion is the schema tag new SDKOutput documents declare.
const SchemaVersion = "jeeves.sdk.v1"
