// Package mockserver is an in-process stand-in for the orchestrator: a
// scripted SSE stream and a minimal A2A endpoint, used by the mock-server
// command and by integration tests.
package mockserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Config holds the mock server configuration
type Config struct {
	Host   string
	Port   int
	Logger zerolog.Logger

	// DelayScale scales the scripted pauses; 0 disables them (tests)
	DelayScale float64
}

// Server serves the scripted mock orchestrator endpoints
type Server struct {
	logger     zerolog.Logger
	delayScale float64
	httpServer *http.Server
}

// NewServer creates the mock server
func NewServer(cfg Config) *Server {
	s := &Server{
		logger:     cfg.Logger,
		delayScale: cfg.DelayScale,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/stream", s.handleStream)
	mux.HandleFunc("/a2a", s.handleA2A)
	mux.HandleFunc("/health", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Handler returns the HTTP handler, for mounting on httptest servers
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start serves until Shutdown is called
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("Mock orchestrator listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("mock server failed: %w", err)
	}
	return nil
}

// Shutdown stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	query := "Tell me about AI agents"
	var body struct {
		Query string `json:"query"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err == nil && body.Query != "" {
		query = body.Query
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	s.logger.Info().Str("query", truncate(query, 50)).Msg("Starting mock stream")

	for _, evt := range script(query) {
		if s.delayScale > 0 && evt.delay > 0 {
			delay := time.Duration(float64(evt.delay) * s.delayScale)
			select {
			case <-r.Context().Done():
				return
			case <-time.After(delay):
			}
		} else if r.Context().Err() != nil {
			return
		}

		data, err := json.Marshal(map[string]interface{}{
			"type":    evt.typ,
			"payload": evt.payload,
		})
		if err != nil {
			s.logger.Error().Err(err).Str("type", evt.typ).Msg("Failed to marshal mock event")
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}
}

func (s *Server) handleA2A(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		JSONRPC string `json:"jsonrpc"`
		Method  string `json:"method"`
		Params  struct {
			Message struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"message"`
		} `json:"params"`
		ID string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	query := "your query"
	if len(req.Params.Message.Parts) > 0 && req.Params.Message.Parts[0].Text != "" {
		query = req.Params.Message.Parts[0].Text
	}

	resp := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      req.ID,
		"result": map[string]interface{}{
			"message": map[string]interface{}{
				"role":  "assistant",
				"parts": []map[string]string{{"text": fmt.Sprintf("Mock answer to: %s", truncate(query, 60))}},
			},
			"metadata": map[string]interface{}{
				"sources": []string{"https://docs.crewai.com"},
			},
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "healthy", "agent": "mock-server"})
}
