package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/okizar/swarmtap/internal/metrics"
	"github.com/okizar/swarmtap/internal/tracing"
	"github.com/okizar/swarmtap/pkg/events"
	"github.com/okizar/swarmtap/pkg/state"
)

// RPCRequest is a JSON-RPC 2.0 request envelope for the A2A protocol
type RPCRequest struct {
	JSONRPC string    `json:"jsonrpc"`
	Method  string    `json:"method"`
	Params  RPCParams `json:"params"`
	ID      string    `json:"id"`
}

// RPCParams carries the task message
type RPCParams struct {
	Message RPCMessage `json:"message"`
}

// RPCMessage is an A2A message with text parts
type RPCMessage struct {
	Role  string    `json:"role"`
	Parts []RPCPart `json:"parts"`
}

// RPCPart is one text part of an A2A message
type RPCPart struct {
	Text string `json:"text"`
}

// RPCResponse is a JSON-RPC 2.0 response envelope
type RPCResponse struct {
	JSONRPC string     `json:"jsonrpc"`
	Result  *RPCResult `json:"result,omitempty"`
	Error   *RPCError  `json:"error,omitempty"`
	ID      string     `json:"id"`
}

// RPCResult is the task result carrying the answer and optional metadata
type RPCResult struct {
	Message  *RPCMessage  `json:"message,omitempty"`
	Metadata *RPCMetadata `json:"metadata,omitempty"`
}

// RPCMetadata carries optional response metadata
type RPCMetadata struct {
	Sources []string `json:"sources,omitempty"`
}

// RPCError is a JSON-RPC 2.0 error
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// FallbackClient performs the single synchronous tasks/send exchange used
// when streaming fails for a non-cancellation reason. It never retries and
// never propagates a failure past its own boundary: outcomes surface only
// through the state store.
type FallbackClient struct {
	url        string
	httpClient *http.Client
	store      *state.Store
	logger     zerolog.Logger
	metrics    *metrics.Metrics
}

// FallbackConfig holds the dependencies of the fallback client
type FallbackConfig struct {
	URL        string
	HTTPClient *http.Client
	Store      *state.Store
	Logger     zerolog.Logger
	Metrics    *metrics.Metrics
}

// NewFallbackClient creates a fallback client
func NewFallbackClient(cfg FallbackConfig) *FallbackClient {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &FallbackClient{
		url:        cfg.URL,
		httpClient: httpClient,
		store:      cfg.Store,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
	}
}

// Execute performs the fallback exchange for the query. On success the
// orchestrator agent is marked complete and the response is set from the
// returned text; on failure the agent is marked errored.
func (f *FallbackClient) Execute(ctx context.Context, query string) {
	ctx, span := tracing.StartSpan(ctx, "session.fallback")
	var spanErr error
	defer func() { tracing.EndSpan(span, spanErr) }()

	resp, err := f.send(ctx, query)
	if err != nil {
		spanErr = err
		if errors.Is(ctx.Err(), context.Canceled) {
			// Abandoned mid-flight: the session was cancelled or
			// superseded, so the store is no longer this run's to touch.
			// A deadline expiry is a real failure and falls through.
			f.logger.Info().Msg("Fallback abandoned")
			f.observe("abandoned")
			return
		}
		f.logger.Error().Err(err).Msg("Fallback request failed")
		f.markFailed()
		return
	}

	text, sources, ok := extractAnswer(resp)
	if !ok {
		// Non-actionable response: the attempt is recorded, state is not.
		f.logger.Warn().Msg("Fallback response carried no answer text")
		f.observe("empty")
		return
	}

	status := state.StatusComplete
	f.store.UpsertAgent(events.OrchestratorAgent, state.AgentPatch{Status: &status})
	f.store.SetResponse(text, sources)
	f.observe("success")
	f.logger.Info().Int("sources", len(sources)).Msg("Fallback completed")
}

func (f *FallbackClient) send(ctx context.Context, query string) (*RPCResponse, error) {
	payload := RPCRequest{
		JSONRPC: "2.0",
		Method:  "tasks/send",
		Params: RPCParams{
			Message: RPCMessage{
				Role:  "user",
				Parts: []RPCPart{{Text: query}},
			},
		},
		ID: uuid.NewString(),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode fallback request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build fallback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fallback request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, &StatusError{StatusCode: httpResp.StatusCode}
	}

	var resp RPCResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to decode fallback response: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("fallback returned error %d: %s", resp.Error.Code, resp.Error.Message)
	}
	return &resp, nil
}

func (f *FallbackClient) markFailed() {
	status := state.StatusError
	f.store.UpsertAgent(events.OrchestratorAgent, state.AgentPatch{Status: &status})
	f.observe("failure")
}

func (f *FallbackClient) observe(status string) {
	if f.metrics != nil {
		f.metrics.FallbacksTotal.WithLabelValues(status).Inc()
	}
}

// extractAnswer pulls the answer text and optional sources out of the
// response; ok is false when result.message.parts[0].text is absent.
func extractAnswer(resp *RPCResponse) (text string, sources []string, ok bool) {
	if resp.Result == nil || resp.Result.Message == nil || len(resp.Result.Message.Parts) == 0 {
		return "", nil, false
	}
	text = resp.Result.Message.Parts[0].Text
	if text == "" {
		return "", nil, false
	}
	if resp.Result.Metadata != nil {
		sources = resp.Result.Metadata.Sources
	}
	return text, sources, true
}
