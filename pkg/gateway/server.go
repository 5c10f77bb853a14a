package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/okizar/swarmtap/internal/metrics"
	"github.com/okizar/swarmtap/pkg/client"
)

// Config holds the gateway server configuration
type Config struct {
	Host       string
	Port       int
	Controller *client.Controller
	Metrics    *metrics.Metrics
	Logger     zerolog.Logger
}

// Server is the bridge HTTP server: it accepts queries, relays the
// resulting event stream to websocket consumers, and exposes state
// snapshots, health, and metrics.
type Server struct {
	host        string
	port        int
	controller  *client.Controller
	metrics     *metrics.Metrics
	logger      zerolog.Logger
	clients     *ClientRegistry
	broadcaster *EventBroadcaster
	upgrader    websocket.Upgrader
	httpServer  *http.Server

	baseCtx    context.Context
	baseCancel context.CancelFunc
}

// NewServer creates the gateway server and registers its broadcaster as
// an observer on the controller.
func NewServer(cfg Config) *Server {
	clients := NewClientRegistry()
	broadcaster := NewEventBroadcaster(clients, cfg.Logger)
	cfg.Controller.AddObserver(broadcaster)

	baseCtx, baseCancel := context.WithCancel(context.Background())

	s := &Server{
		host:        cfg.Host,
		port:        cfg.Port,
		controller:  cfg.Controller,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
		clients:     clients,
		broadcaster: broadcaster,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Consumers are local UIs; origin policy is out of scope here.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/query", s.handleQuery)
	mux.HandleFunc("/cancel", s.handleCancel)
	mux.HandleFunc("/state", s.handleState)
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", s.handleHealth)
	if cfg.Metrics != nil {
		mux.Handle("/metrics", cfg.Metrics.Handler())
	}

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
	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("Gateway server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("gateway server failed: %w", err)
	}
	return nil
}

// Shutdown stops the server, cancels the active session, and closes all
// consumer connections.
func (s *Server) Shutdown(ctx context.Context) error {
	s.baseCancel()
	s.controller.Cancel()
	for _, c := range s.clients.All() {
		c.Close()
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		http.Error(w, "query cannot be empty", http.StatusBadRequest)
		return
	}

	sessionID := s.controller.Launch(s.baseCtx, req.Query)
	s.broadcaster.SetSessionID(sessionID)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(QueryResponse{SessionID: sessionID})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.controller.Cancel()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.controller.Store().Snapshot())
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}

	clientID, _ := gonanoid.New()
	c := &Client{
		ID:          clientID,
		ConnectedAt: time.Now(),
		conn:        conn,
	}
	s.clients.Add(c)
	s.logger.Info().Str("client_id", clientID).Msg("Consumer connected")

	// Consumers only listen; the read loop exists to notice disconnects.
	go func() {
		defer func() {
			s.clients.Remove(clientID)
			c.Close()
			s.logger.Info().Str("client_id", clientID).Msg("Consumer disconnected")
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
