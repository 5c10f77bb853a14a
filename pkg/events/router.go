package events

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"

	"github.com/okizar/swarmtap/internal/metrics"
	"github.com/okizar/swarmtap/pkg/state"
	"github.com/okizar/swarmtap/pkg/stream"
)

// Observer is notified after a frame has been applied to session state
type Observer interface {
	EventApplied(frame stream.Frame)
}

// Router applies decoded frames to the state store, exactly one state
// transition per frame. Unknown event types and payloads that fail
// validation are dropped with a diagnostic; neither stops the stream.
type Router struct {
	store     *state.Store
	schemas   map[Type]*gojsonschema.Schema
	observers []Observer
	logger    zerolog.Logger
	metrics   *metrics.Metrics
}

// NewRouter creates a router bound to a state store. Metrics may be nil.
func NewRouter(store *state.Store, logger zerolog.Logger, m *metrics.Metrics) (*Router, error) {
	schemas, err := compileSchemas()
	if err != nil {
		return nil, fmt.Errorf("failed to build event schemas: %w", err)
	}

	return &Router{
		store:   store,
		schemas: schemas,
		logger:  logger,
		metrics: m,
	}, nil
}

// AddObserver registers an observer for applied events
func (r *Router) AddObserver(obs Observer) {
	r.observers = append(r.observers, obs)
}

// Apply routes one frame to its state transition. Returns true if the
// frame mutated (or validly no-op'd against) session state.
func (r *Router) Apply(frame stream.Frame) bool {
	typ := Type(frame.Type)

	schema, known := r.schemas[typ]
	if !known {
		r.logger.Debug().Str("type", frame.Type).Msg("Ignoring unknown event type")
		if r.metrics != nil {
			r.metrics.UnknownEventsTotal.Inc()
		}
		return false
	}

	payload := []byte(frame.Payload)
	if len(payload) == 0 {
		payload = []byte("{}")
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(payload))
	if err != nil || !result.Valid() {
		r.logger.Warn().Str("type", frame.Type).Msg("Dropping event with invalid payload")
		if r.metrics != nil {
			r.metrics.InvalidEventsTotal.WithLabelValues(frame.Type).Inc()
		}
		return false
	}

	if !r.dispatch(typ, payload) {
		return false
	}

	if r.metrics != nil {
		r.metrics.EventsTotal.WithLabelValues(frame.Type).Inc()
	}
	for _, obs := range r.observers {
		obs.EventApplied(frame)
	}
	return true
}

func (r *Router) dispatch(typ Type, payload []byte) bool {
	switch typ {
	case TypeAgentStart:
		var p AgentStartPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return false
		}
		r.store.StartAgent(p.Agent)
		msg := p.Message
		if msg == "" {
			msg = defaultStartMessage
		}
		r.store.AddMessage(OrchestratorAgent, p.Agent, msg)

	case TypeAgentOutput:
		var p AgentOutputPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return false
		}
		r.store.AppendAgentOutput(p.Agent, p.Content)

	case TypeAgentComplete:
		var p AgentCompletePayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return false
		}
		status := state.StatusComplete
		r.store.UpsertAgent(p.Agent, state.AgentPatch{
			Status:   &status,
			Duration: p.Duration,
			Tokens:   p.Tokens,
		})
		r.store.AddMessage(p.Agent, OrchestratorAgent, completionNotice)

	case TypeToolCall:
		var p ToolCallPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return false
		}
		r.store.AddToolCall(p.Name, p.Agent, decodeAny(p.Input))

	case TypeToolResult:
		var p ToolResultPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return false
		}
		if !r.store.ResolveToolCall(p.Name, decodeAny(p.Output)) {
			r.logger.Debug().Str("name", p.Name).Msg("Tool result with no pending call")
		}

	case TypeMessage:
		var p MessagePayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return false
		}
		r.store.AddMessage(p.From, p.To, p.Content)

	case TypeSynthesis, TypeComplete:
		var p CompletePayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return false
		}
		r.store.SetResponse(p.Text(), p.Sources)

	case TypeError:
		var p ErrorPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return false
		}
		status := state.StatusError
		r.store.UpsertAgent(p.Agent, state.AgentPatch{Status: &status})
		if p.Message != "" {
			r.logger.Warn().Str("agent", p.Agent).Str("message", p.Message).Msg("Agent reported an error")
		}

	default:
		return false
	}
	return true
}

// decodeAny unmarshals a raw payload field into a generic value,
// preserving nil for absent fields
func decodeAny(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return v
}
