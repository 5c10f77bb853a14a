// Package events interprets decoded stream frames as typed domain events
// and applies them to session state, one state transition per frame.
package events

import "encoding/json"

// Type identifies a domain event on the wire
type Type string

const (
	TypeAgentStart    Type = "agent_start"
	TypeAgentOutput   Type = "agent_output"
	TypeAgentComplete Type = "agent_complete"
	TypeToolCall      Type = "tool_call"
	TypeToolResult    Type = "tool_result"
	TypeMessage       Type = "message"
	TypeSynthesis     Type = "synthesis"
	TypeComplete      Type = "complete"
	TypeError         Type = "error"
)

// OrchestratorAgent is the default agent id used for messages the stream
// attributes to the coordinating side, and the agent the fallback path
// reports against.
const OrchestratorAgent = "orchestrator"

const (
	defaultStartMessage = "Starting task"
	completionNotice    = "Task complete"
)

// AgentStartPayload announces an agent beginning work
type AgentStartPayload struct {
	Agent   string `json:"agent"`
	Message string `json:"message,omitempty"`
}

// AgentOutputPayload carries an incremental chunk of an agent's output
type AgentOutputPayload struct {
	Agent   string `json:"agent"`
	Content string `json:"content"`
}

// AgentCompletePayload announces an agent finishing work. Duration and
// tokens are pointers so an absent field never clears a previous value.
type AgentCompletePayload struct {
	Agent    string   `json:"agent"`
	Duration *float64 `json:"duration,omitempty"`
	Tokens   *int     `json:"tokens,omitempty"`
}

// ToolCallPayload announces a tool invocation
type ToolCallPayload struct {
	Agent string          `json:"agent"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input,omitempty"`
}

// ToolResultPayload resolves the most recent pending call with its name
type ToolResultPayload struct {
	Agent  string          `json:"agent,omitempty"`
	Name   string          `json:"name"`
	Output json.RawMessage `json:"output,omitempty"`
}

// MessagePayload carries one inter-agent message
type MessagePayload struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Content string `json:"content"`
}

// CompletePayload is the terminal event of a successful stream. The
// orchestrator emits it as "complete"; older builds used "synthesis" with
// "content" in place of "answer".
type CompletePayload struct {
	Answer     string   `json:"answer,omitempty"`
	Content    string   `json:"content,omitempty"`
	Sources    []string `json:"sources,omitempty"`
	AgentsUsed []string `json:"agents_used,omitempty"`
	Duration   float64  `json:"duration,omitempty"`
}

// Text returns the answer text regardless of which field carried it
func (p CompletePayload) Text() string {
	if p.Answer != "" {
		return p.Answer
	}
	return p.Content
}

// ErrorPayload marks an agent as failed
type ErrorPayload struct {
	Agent   string `json:"agent"`
	Message string `json:"message,omitempty"`
}
