package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/okizar/swarmtap/internal/metrics"
	"github.com/okizar/swarmtap/pkg/events"
	"github.com/okizar/swarmtap/pkg/state"
)

// Config holds the controller configuration
type Config struct {
	StreamURL         string
	FallbackURL       string
	RequestTimeout    time.Duration
	StreamIdleTimeout time.Duration
	HTTPClient        *http.Client
	Logger            zerolog.Logger
	Metrics           *metrics.Metrics
}

// Controller is the external-facing session manager. It enforces the
// single-active-session rule: starting a new session first cancels the
// previous one and waits for its whole run, fallback included, to
// unwind, so only one run ever mutates the state store. A transport
// error escalates to exactly one fallback attempt; cancellation never
// does. A run that has been superseded by a newer session skips its
// fallback entirely.
type Controller struct {
	cfg      Config
	store    *state.Store
	router   *events.Router
	fallback *FallbackClient
	logger   zerolog.Logger
	metrics  *metrics.Metrics

	mu          sync.Mutex
	current     *Session
	currentDone chan struct{}
	fbCancel    context.CancelFunc
}

// NewController creates a controller with a fresh state store
func NewController(cfg Config) (*Controller, error) {
	store := state.NewStore()

	router, err := events.NewRouter(store, cfg.Logger, cfg.Metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to create event router: %w", err)
	}

	fallback := NewFallbackClient(FallbackConfig{
		URL:        cfg.FallbackURL,
		HTTPClient: cfg.HTTPClient,
		Store:      store,
		Logger:     cfg.Logger,
		Metrics:    cfg.Metrics,
	})

	return &Controller{
		cfg:      cfg,
		store:    store,
		router:   router,
		fallback: fallback,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
	}, nil
}

// Endpoints is the re-configurable subset of the controller config
type Endpoints struct {
	StreamURL         string
	FallbackURL       string
	RequestTimeout    time.Duration
	StreamIdleTimeout time.Duration
}

// Reconfigure swaps the orchestrator endpoints used by subsequent
// sessions. A session already in flight keeps the endpoints it started
// with.
func (c *Controller) Reconfigure(ep Endpoints) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cfg.StreamURL = ep.StreamURL
	c.cfg.FallbackURL = ep.FallbackURL
	c.cfg.RequestTimeout = ep.RequestTimeout
	c.cfg.StreamIdleTimeout = ep.StreamIdleTimeout
	c.fallback = NewFallbackClient(FallbackConfig{
		URL:        ep.FallbackURL,
		HTTPClient: c.cfg.HTTPClient,
		Store:      c.store,
		Logger:     c.logger,
		Metrics:    c.metrics,
	})
}

// Store returns the state store the controller mutates
func (c *Controller) Store() *state.Store {
	return c.store
}

// AddObserver registers an observer notified after every applied event
func (c *Controller) AddObserver(obs events.Observer) {
	c.router.AddObserver(obs)
}

// ActiveSessionID returns the id of the current session, if any
func (c *Controller) ActiveSessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return ""
	}
	return c.current.ID()
}

// Run executes one query end to end: cancel any in-flight session, reset
// state, stream, and on a non-cancellation stream failure perform the one
// fallback exchange. Blocks until the session is over. Returns
// ErrCancelled when the user aborted; fallback failures are terminal and
// surface only through the state store.
func (c *Controller) Run(ctx context.Context, query string) error {
	sess, done := c.replaceSession()
	return c.runSession(ctx, sess, done, query)
}

// Launch starts a query asynchronously and returns the new session id.
// Used by the gateway, where completion surfaces through the event stream
// rather than a return value.
func (c *Controller) Launch(ctx context.Context, query string) string {
	sess, done := c.replaceSession()
	go func() {
		if err := c.runSession(ctx, sess, done, query); err != nil && !errors.Is(err, ErrCancelled) {
			c.logger.Error().Err(err).Msg("Session ended with error")
		}
	}()
	return sess.ID()
}

// runSession drives one run end to end. The done channel closes only
// after the fallback phase has finished, so teardown waits out every
// store mutation the run can make.
func (c *Controller) runSession(ctx context.Context, sess *Session, done chan struct{}, query string) error {
	defer close(done)

	if c.metrics != nil {
		c.metrics.SessionsTotal.Inc()
		c.metrics.SessionsActive.Inc()
		defer c.metrics.SessionsActive.Dec()
	}

	c.logger.Info().Str("session_id", sess.ID()).Msg("Starting session")

	err := sess.Start(ctx, query)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrCancelled) {
		c.logger.Info().Str("session_id", sess.ID()).Msg("Session cancelled")
		return ErrCancelled
	}
	if ctx.Err() != nil {
		// The caller's context ended; treat like cancellation, no fallback.
		return err
	}

	fb, fbCtx, fbCancel := c.armFallback(ctx, sess)
	if fb == nil {
		// A newer session owns the store now; the failed stream stays
		// this run's final word.
		c.logger.Info().Str("session_id", sess.ID()).Msg("Session superseded, skipping fallback")
		return err
	}
	defer fbCancel()

	c.logger.Warn().Err(err).Msg("Stream failed, trying synchronous fallback")
	fb.Execute(fbCtx, query)
	return nil
}

// armFallback authorizes the fallback phase for sess. It returns nil if
// sess is no longer the current session; otherwise it registers a cancel
// func so teardown can abort an in-flight fallback. The check and the
// registration share the controller mutex with replaceSession, so a run
// is either superseded before its fallback starts or cancellable after.
func (c *Controller) armFallback(ctx context.Context, sess *Session) (*FallbackClient, context.Context, context.CancelFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != sess {
		return nil, nil, nil
	}

	var fbCtx context.Context
	var cancel context.CancelFunc
	if c.cfg.RequestTimeout > 0 {
		fbCtx, cancel = context.WithTimeout(ctx, c.cfg.RequestTimeout)
	} else {
		fbCtx, cancel = context.WithCancel(ctx)
	}
	c.fbCancel = cancel
	return c.fallback, fbCtx, cancel
}

// Cancel aborts the in-flight session, if any, including a fallback
// exchange already in progress.
func (c *Controller) Cancel() {
	c.mu.Lock()
	sess := c.current
	fbCancel := c.fbCancel
	c.mu.Unlock()

	if sess != nil {
		sess.Cancel()
	}
	if fbCancel != nil {
		fbCancel()
	}
}

// Reset cancels any in-flight run, waits for it to unwind, and replaces
// the session state with a fresh empty instance.
func (c *Controller) Reset() {
	c.mu.Lock()
	sess := c.current
	done := c.currentDone
	fbCancel := c.fbCancel
	c.current = nil
	c.currentDone = nil
	c.fbCancel = nil
	c.mu.Unlock()

	if sess != nil {
		sess.Cancel()
		if fbCancel != nil {
			fbCancel()
		}
		<-done
	}
	c.store.Reset()
}

// replaceSession registers a new session as current, tearing down the
// previous run first. State is reset only after the old run, fallback
// included, has stopped; a stale fallback therefore either aborts here
// or is wiped by the reset before the new session starts.
func (c *Controller) replaceSession() (*Session, chan struct{}) {
	done := make(chan struct{})

	c.mu.Lock()
	sess := NewSession(SessionConfig{
		StreamURL:   c.cfg.StreamURL,
		HTTPClient:  c.cfg.HTTPClient,
		Store:       c.store,
		Router:      c.router,
		Logger:      c.logger,
		Metrics:     c.metrics,
		IdleTimeout: c.cfg.StreamIdleTimeout,
	})
	prev := c.current
	prevDone := c.currentDone
	prevFbCancel := c.fbCancel
	c.current = sess
	c.currentDone = done
	c.fbCancel = nil
	c.mu.Unlock()

	if prev != nil {
		prev.Cancel()
		if prevFbCancel != nil {
			prevFbCancel()
		}
		<-prevDone
	}
	c.store.Reset()
	return sess, done
}
