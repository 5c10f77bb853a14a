// Package client implements the streaming session against the
// orchestrator: one cancellable SSE connection feeding the event router,
// with a single synchronous A2A fallback when streaming fails.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/okizar/swarmtap/internal/metrics"
	"github.com/okizar/swarmtap/internal/tracing"
	"github.com/okizar/swarmtap/pkg/events"
	"github.com/okizar/swarmtap/pkg/state"
	"github.com/okizar/swarmtap/pkg/stream"
)

// readBufferSize is the chunk size pulled from the response body per read
const readBufferSize = 4096

// SessionConfig holds the dependencies of one streaming session
type SessionConfig struct {
	StreamURL  string
	HTTPClient *http.Client
	Store      *state.Store
	Router     *events.Router
	Logger     zerolog.Logger
	Metrics    *metrics.Metrics

	// IdleTimeout aborts the stream when no bytes arrive for this long.
	// Zero disables the watchdog.
	IdleTimeout time.Duration
}

// Session owns one in-flight streaming connection. It records the start
// time, feeds decoded frames to the router in arrival order, and patches
// the response duration on normal completion. Cancellation is observed at
// every read boundary and unwinds without further state mutation.
type Session struct {
	id          string
	streamURL   string
	httpClient  *http.Client
	store       *state.Store
	router      *events.Router
	logger      zerolog.Logger
	metrics     *metrics.Metrics
	idleTimeout time.Duration

	cancelMu     sync.Mutex
	cancel       context.CancelCauseFunc
	preCancelled bool
	done         chan struct{}
}

// NewSession creates a session. Start may be called at most once.
func NewSession(cfg SessionConfig) *Session {
	id, _ := gonanoid.New()
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Session{
		id:          id,
		streamURL:   cfg.StreamURL,
		httpClient:  httpClient,
		store:       cfg.Store,
		router:      cfg.Router,
		logger:      cfg.Logger.With().Str("session_id", id).Logger(),
		metrics:     cfg.Metrics,
		idleTimeout: cfg.IdleTimeout,
		done:        make(chan struct{}),
	}
}

// ID returns the session identifier
func (s *Session) ID() string {
	return s.id
}

// Done is closed when the read loop has fully unwound
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Cancel signals cancellation to the in-flight request. Safe to call at
// any point, including before Start and more than once.
func (s *Session) Cancel() {
	s.cancelMu.Lock()
	defer s.cancelMu.Unlock()
	if s.cancel != nil {
		s.cancel(ErrCancelled)
		return
	}
	// Not started yet; make Start observe the cancellation immediately.
	s.preCancelled = true
}

// Start opens the streaming connection and pumps frames until the stream
// completes, errors, or is cancelled. Returns nil on normal completion,
// ErrCancelled on user abort, and a transport error otherwise.
func (s *Session) Start(ctx context.Context, query string) error {
	defer close(s.done)

	started := time.Now()

	ctx, cancel := context.WithCancelCause(ctx)
	s.cancelMu.Lock()
	s.cancel = cancel
	if s.preCancelled {
		cancel(ErrCancelled)
	}
	s.cancelMu.Unlock()
	defer cancel(nil)

	if cancelled(ctx) {
		return ErrCancelled
	}

	ctx, span := tracing.StartSpan(ctx, "session.stream",
		attribute.String("session_id", s.id),
	)
	err := s.run(ctx, query, started)
	tracing.EndSpan(span, err)
	return err
}

func (s *Session) run(ctx context.Context, query string, started time.Time) error {
	body, err := json.Marshal(map[string]string{"query": query})
	if err != nil {
		return fmt.Errorf("failed to encode query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.streamURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build stream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		if cancelled(ctx) {
			s.logger.Info().Msg("Stream cancelled before connect")
			return ErrCancelled
		}
		return fmt.Errorf("stream request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &StatusError{StatusCode: resp.StatusCode}
	}

	s.logger.Debug().Str("url", s.streamURL).Msg("Stream connected")

	decoder := stream.NewDecoder(s.logger)
	defer s.flushDecoderStats(decoder)
	defer decoder.Close()

	var idle *time.Timer
	if s.idleTimeout > 0 {
		idle = time.AfterFunc(s.idleTimeout, func() {
			s.cancelMu.Lock()
			defer s.cancelMu.Unlock()
			if s.cancel != nil {
				s.cancel(ErrStreamIdle)
			}
		})
		defer idle.Stop()
	}

	buf := make([]byte, readBufferSize)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if idle != nil {
				idle.Reset(s.idleTimeout)
			}
			for _, frame := range decoder.Feed(buf[:n]) {
				s.router.Apply(frame)
			}
		}
		if readErr == nil {
			continue
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
		if errors.Is(context.Cause(ctx), ErrStreamIdle) {
			s.logger.Warn().Dur("idle_timeout", s.idleTimeout).Msg("Stream went idle")
			return fmt.Errorf("no stream activity for %s: %w", s.idleTimeout, ErrStreamIdle)
		}
		if cancelled(ctx) {
			s.logger.Info().Msg("Stream cancelled mid-read")
			return ErrCancelled
		}
		return fmt.Errorf("stream read failed: %w", readErr)
	}

	elapsed := time.Since(started).Seconds()
	if s.metrics != nil {
		s.metrics.SessionDuration.Observe(elapsed)
	}

	// Wall-clock duration, one decimal place, only if a response exists.
	if s.store.PatchResponseDuration(round1(elapsed)) {
		s.logger.Info().Float64("duration", round1(elapsed)).Msg("Stream completed")
	} else {
		s.logger.Warn().Msg("Stream completed without a response")
	}
	return nil
}

func (s *Session) flushDecoderStats(d *stream.Decoder) {
	if s.metrics == nil {
		return
	}
	s.metrics.FramesTotal.Add(float64(d.Frames()))
	s.metrics.FrameParseErrorsTotal.Add(float64(d.ParseErrors()))
}

// cancelled reports whether the context ended with the user cancellation cause
func cancelled(ctx context.Context) bool {
	return errors.Is(context.Cause(ctx), ErrCancelled)
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
