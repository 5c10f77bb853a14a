package state

import (
	"sync"
	"time"
)

// Store holds the aggregated state of the active session. Mutations are
// serialized by the single session read loop; the lock exists so gateway
// consumers can snapshot concurrently.
type Store struct {
	state SessionState
	mu    sync.RWMutex

	now func() time.Time
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		state: NewSessionState(),
		now:   time.Now,
	}
}

// Snapshot returns a deep copy of the current session state
func (st *Store) Snapshot() SessionState {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.state.clone()
}

// Reset replaces the session state with a fresh empty instance
func (st *Store) Reset() {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.state = NewSessionState()
}

// UpsertAgent merges the patch into the agent with the given id, creating
// the agent if it is not yet present. Unspecified fields are never cleared.
func (st *Store) UpsertAgent(id string, patch AgentPatch) {
	st.mu.Lock()
	defer st.mu.Unlock()

	agent := st.findOrCreate(id)
	if patch.Name != nil {
		agent.Name = *patch.Name
	}
	if patch.Status != nil {
		agent.Status = *patch.Status
	}
	if patch.Tokens != nil {
		agent.Tokens = *patch.Tokens
	}
	if patch.Duration != nil {
		agent.Duration = *patch.Duration
	}
}

// StartAgent marks an agent active and clears its output for a new run
func (st *Store) StartAgent(id string) {
	st.mu.Lock()
	defer st.mu.Unlock()

	agent := st.findOrCreate(id)
	agent.Status = StatusActive
	agent.Output = ""
}

// AppendAgentOutput appends content to the agent's output and marks it
// active. The agent is created first if the stream never announced it.
func (st *Store) AppendAgentOutput(id, content string) {
	st.mu.Lock()
	defer st.mu.Unlock()

	agent := st.findOrCreate(id)
	agent.Output += content
	agent.Status = StatusActive
}

// AddToolCall appends a new pending tool call
func (st *Store) AddToolCall(name, agent string, input interface{}) {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.state.ToolCalls = append(st.state.ToolCalls, ToolCall{
		Name:   name,
		Agent:  agent,
		Input:  input,
		Status: ToolCallPending,
	})
}

// ResolveToolCall completes the most recently added pending call with the
// given name. The wire carries no call identifier, so last-pending-wins.
// Returns false if no pending call matched.
func (st *Store) ResolveToolCall(name string, output interface{}) bool {
	st.mu.Lock()
	defer st.mu.Unlock()

	for i := len(st.state.ToolCalls) - 1; i >= 0; i-- {
		call := &st.state.ToolCalls[i]
		if call.Name == name && call.Status == ToolCallPending {
			call.Output = output
			call.Status = ToolCallComplete
			return true
		}
	}
	return false
}

// AddMessage appends a message stamped with the arrival time
func (st *Store) AddMessage(from, to, content string) {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.state.Messages = append(st.state.Messages, Message{
		From:      from,
		To:        to,
		Content:   content,
		Timestamp: st.now().UTC(),
	})
}

// SetResponse overwrites the session response
func (st *Store) SetResponse(content string, sources []string) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if sources == nil {
		sources = []string{}
	}
	st.state.Response = &Response{
		Content: content,
		Sources: sources,
	}
}

// PatchResponseDuration sets the response duration after stream completion.
// No-op when no response was ever produced.
func (st *Store) PatchResponseDuration(seconds float64) bool {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.state.Response == nil {
		return false
	}
	st.state.Response.Duration = seconds
	return true
}

// findOrCreate returns a pointer into the agent slice, appending a new
// idle agent when the id is unseen. Caller must hold the write lock.
func (st *Store) findOrCreate(id string) *Agent {
	for i := range st.state.Agents {
		if st.state.Agents[i].ID == id {
			return &st.state.Agents[i]
		}
	}
	st.state.Agents = append(st.state.Agents, Agent{
		ID:     id,
		Status: StatusIdle,
		Output: "",
	})
	return &st.state.Agents[len(st.state.Agents)-1]
}
