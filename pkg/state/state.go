package state

import "time"

// AgentStatus represents the lifecycle state of an agent within a session
type AgentStatus string

const (
	StatusIdle     AgentStatus = "idle"
	StatusActive   AgentStatus = "active"
	StatusComplete AgentStatus = "complete"
	StatusError    AgentStatus = "error"
)

// IsTerminal returns true if the status is terminal
func (s AgentStatus) IsTerminal() bool {
	return s == StatusComplete || s == StatusError
}

// ToolCallStatus represents the resolution state of a tool call
type ToolCallStatus string

const (
	ToolCallPending  ToolCallStatus = "pending"
	ToolCallComplete ToolCallStatus = "complete"
)

// Agent represents one agent observed during a session.
// Agents are created on first reference and never removed within a session.
type Agent struct {
	ID       string      `json:"id"`
	Name     string      `json:"name,omitempty"`
	Status   AgentStatus `json:"status"`
	Output   string      `json:"output"`
	Tokens   int         `json:"tokens,omitempty"`
	Duration float64     `json:"duration,omitempty"`
}

// AgentPatch carries fields to merge into an agent record. Nil fields
// leave the existing value untouched.
type AgentPatch struct {
	Name     *string
	Status   *AgentStatus
	Tokens   *int
	Duration *float64
}

// ToolCall represents one tool invocation reported by the stream.
// Calls are appended in arrival order and resolved in place; they carry
// no identifier on the wire, so resolution matches by name.
type ToolCall struct {
	Name   string         `json:"name"`
	Agent  string         `json:"agent"`
	Input  interface{}    `json:"input,omitempty"`
	Output interface{}    `json:"output,omitempty"`
	Status ToolCallStatus `json:"status"`
}

// Message represents one inter-agent message, ordered by arrival
type Message struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Response is the terminal answer of a session
type Response struct {
	Content  string   `json:"content"`
	Sources  []string `json:"sources"`
	Duration float64  `json:"duration,omitempty"`
}

// SessionState aggregates everything observed during one session
type SessionState struct {
	Agents    []Agent    `json:"agents"`
	ToolCalls []ToolCall `json:"tool_calls"`
	Messages  []Message  `json:"messages"`
	Response  *Response  `json:"response,omitempty"`
}

// NewSessionState returns an empty session state
func NewSessionState() SessionState {
	return SessionState{
		Agents:    []Agent{},
		ToolCalls: []ToolCall{},
		Messages:  []Message{},
	}
}

// AgentByID returns a copy of the agent with the given id, if present
func (s SessionState) AgentByID(id string) (Agent, bool) {
	for i := range s.Agents {
		if s.Agents[i].ID == id {
			return s.Agents[i], true
		}
	}
	return Agent{}, false
}

// clone returns a deep copy of the session state. ToolCall Input and
// Output hold decoded JSON written once when the event arrives and never
// mutated after, so the copied slice may share them with the original.
func (s *SessionState) clone() SessionState {
	out := SessionState{
		Agents:    make([]Agent, len(s.Agents)),
		ToolCalls: make([]ToolCall, len(s.ToolCalls)),
		Messages:  make([]Message, len(s.Messages)),
	}
	copy(out.Agents, s.Agents)
	copy(out.ToolCalls, s.ToolCalls)
	copy(out.Messages, s.Messages)
	if s.Response != nil {
		resp := *s.Response
		resp.Sources = append([]string{}, s.Response.Sources...)
		out.Response = &resp
	}
	return out
}
