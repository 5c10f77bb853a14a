package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okizar/swarmtap/pkg/events"
	"github.com/okizar/swarmtap/pkg/state"
)

func newTestController(t *testing.T, streamURL, fallbackURL string) *Controller {
	t.Helper()
	ctrl, err := NewController(Config{
		StreamURL:      streamURL,
		FallbackURL:    fallbackURL,
		RequestTimeout: 5 * time.Second,
		Logger:         zerolog.Nop(),
	})
	require.NoError(t, err)
	return ctrl
}

func fallbackAnswering(text string, hits *atomic.Int32) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		var req RPCRequest
		json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  rpcResult(text, nil),
		})
	}
}

func TestControllerRun(t *testing.T) {
	t.Run("successful stream needs no fallback", func(t *testing.T) {
		var fallbackHits atomic.Int32
		streamSrv := httptest.NewServer(sseHandler(t, []string{
			`{"type":"complete","payload":{"answer":"Done."}}`,
		}))
		defer streamSrv.Close()
		fbSrv := httptest.NewServer(fallbackAnswering("fallback", &fallbackHits))
		defer fbSrv.Close()

		ctrl := newTestController(t, streamSrv.URL, fbSrv.URL)
		require.NoError(t, ctrl.Run(context.Background(), "q"))

		snap := ctrl.Store().Snapshot()
		require.NotNil(t, snap.Response)
		assert.Equal(t, "Done.", snap.Response.Content)
		assert.Equal(t, int32(0), fallbackHits.Load())
	})

	t.Run("stream failure escalates to exactly one fallback", func(t *testing.T) {
		var fallbackHits atomic.Int32
		streamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", http.StatusNotFound)
		}))
		defer streamSrv.Close()
		fbSrv := httptest.NewServer(fallbackAnswering("Recovered answer", &fallbackHits))
		defer fbSrv.Close()

		ctrl := newTestController(t, streamSrv.URL, fbSrv.URL)
		require.NoError(t, ctrl.Run(context.Background(), "q"))

		assert.Equal(t, int32(1), fallbackHits.Load())

		snap := ctrl.Store().Snapshot()
		require.NotNil(t, snap.Response)
		assert.Equal(t, "Recovered answer", snap.Response.Content)

		agent, ok := snap.AgentByID(events.OrchestratorAgent)
		require.True(t, ok)
		assert.Equal(t, state.StatusComplete, agent.Status)
	})

	t.Run("idle stream escalates to fallback", func(t *testing.T) {
		var fallbackHits atomic.Int32
		streamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/event-stream")
			w.WriteHeader(http.StatusOK)
			w.(http.Flusher).Flush()
			<-r.Context().Done()
		}))
		defer streamSrv.Close()
		fbSrv := httptest.NewServer(fallbackAnswering("Recovered", &fallbackHits))
		defer fbSrv.Close()

		ctrl, err := NewController(Config{
			StreamURL:         streamSrv.URL,
			FallbackURL:       fbSrv.URL,
			RequestTimeout:    5 * time.Second,
			StreamIdleTimeout: 100 * time.Millisecond,
			Logger:            zerolog.Nop(),
		})
		require.NoError(t, err)

		require.NoError(t, ctrl.Run(context.Background(), "q"))
		assert.Equal(t, int32(1), fallbackHits.Load())

		snap := ctrl.Store().Snapshot()
		require.NotNil(t, snap.Response)
		assert.Equal(t, "Recovered", snap.Response.Content)
	})

	t.Run("failed fallback is terminal", func(t *testing.T) {
		streamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", http.StatusBadGateway)
		}))
		defer streamSrv.Close()
		fbSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "also nope", http.StatusInternalServerError)
		}))
		defer fbSrv.Close()

		ctrl := newTestController(t, streamSrv.URL, fbSrv.URL)
		require.NoError(t, ctrl.Run(context.Background(), "q"))

		snap := ctrl.Store().Snapshot()
		assert.Nil(t, snap.Response)
		agent, ok := snap.AgentByID(events.OrchestratorAgent)
		require.True(t, ok)
		assert.Equal(t, state.StatusError, agent.Status)
	})
}

func TestControllerCancel(t *testing.T) {
	t.Run("cancellation never triggers fallback", func(t *testing.T) {
		var fallbackHits atomic.Int32
		streamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			flusher := w.(http.Flusher)
			w.Header().Set("Content-Type", "text/event-stream")
			w.WriteHeader(http.StatusOK)
			fmt.Fprint(w, "data: {\"type\":\"agent_start\",\"payload\":{\"agent\":\"a\"}}\n\n")
			flusher.Flush()
			<-r.Context().Done()
		}))
		defer streamSrv.Close()
		fbSrv := httptest.NewServer(fallbackAnswering("fallback", &fallbackHits))
		defer fbSrv.Close()

		ctrl := newTestController(t, streamSrv.URL, fbSrv.URL)

		errCh := make(chan error, 1)
		go func() {
			errCh <- ctrl.Run(context.Background(), "q")
		}()

		require.Eventually(t, func() bool {
			_, ok := ctrl.Store().Snapshot().AgentByID("a")
			return ok
		}, 2*time.Second, 10*time.Millisecond)

		ctrl.Cancel()

		select {
		case err := <-errCh:
			require.ErrorIs(t, err, ErrCancelled)
		case <-time.After(2 * time.Second):
			t.Fatal("run did not return after cancel")
		}
		assert.Equal(t, int32(0), fallbackHits.Load())
	})

	t.Run("cancel with no session is a no-op", func(t *testing.T) {
		ctrl := newTestController(t, "http://127.0.0.1:1", "http://127.0.0.1:1")
		ctrl.Cancel()
		assert.Empty(t, ctrl.ActiveSessionID())
	})
}

func TestControllerLaunch(t *testing.T) {
	t.Run("starting a new session tears down the previous one", func(t *testing.T) {
		release := make(chan struct{})
		var streamHits atomic.Int32
		streamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hit := streamHits.Add(1)
			flusher := w.(http.Flusher)
			w.Header().Set("Content-Type", "text/event-stream")
			w.WriteHeader(http.StatusOK)

			if hit == 1 {
				fmt.Fprint(w, "data: {\"type\":\"agent_start\",\"payload\":{\"agent\":\"first\"}}\n\n")
				flusher.Flush()
				select {
				case <-release:
				case <-r.Context().Done():
				}
				return
			}
			fmt.Fprint(w, "data: {\"type\":\"complete\",\"payload\":{\"answer\":\"second answer\"}}\n\n")
			flusher.Flush()
		}))
		defer streamSrv.Close()
		defer close(release)

		ctrl := newTestController(t, streamSrv.URL, "http://127.0.0.1:1")

		firstID := ctrl.Launch(context.Background(), "first query")
		require.NotEmpty(t, firstID)

		require.Eventually(t, func() bool {
			_, ok := ctrl.Store().Snapshot().AgentByID("first")
			return ok
		}, 2*time.Second, 10*time.Millisecond)

		// Second run replaces the first and starts from clean state
		require.NoError(t, ctrl.Run(context.Background(), "second query"))

		snap := ctrl.Store().Snapshot()
		_, leftover := snap.AgentByID("first")
		assert.False(t, leftover)
		require.NotNil(t, snap.Response)
		assert.Equal(t, "second answer", snap.Response.Content)
	})

	t.Run("launch returns the active session id", func(t *testing.T) {
		streamSrv := httptest.NewServer(sseHandler(t, []string{
			`{"type":"complete","payload":{"answer":"x"}}`,
		}))
		defer streamSrv.Close()

		ctrl := newTestController(t, streamSrv.URL, "http://127.0.0.1:1")
		id := ctrl.Launch(context.Background(), "q")
		assert.NotEmpty(t, id)
		assert.Equal(t, id, ctrl.ActiveSessionID())
	})
}

func TestControllerReconfigure(t *testing.T) {
	t.Run("new sessions use the new stream endpoint", func(t *testing.T) {
		oldSrv := httptest.NewServer(sseHandler(t, []string{
			`{"type":"complete","payload":{"answer":"from old"}}`,
		}))
		defer oldSrv.Close()
		newSrv := httptest.NewServer(sseHandler(t, []string{
			`{"type":"complete","payload":{"answer":"from new"}}`,
		}))
		defer newSrv.Close()

		ctrl := newTestController(t, oldSrv.URL, "http://127.0.0.1:1")
		require.NoError(t, ctrl.Run(context.Background(), "q"))
		assert.Equal(t, "from old", ctrl.Store().Snapshot().Response.Content)

		ctrl.Reconfigure(Endpoints{
			StreamURL:      newSrv.URL,
			FallbackURL:    "http://127.0.0.1:1",
			RequestTimeout: 5 * time.Second,
		})

		require.NoError(t, ctrl.Run(context.Background(), "q"))
		assert.Equal(t, "from new", ctrl.Store().Snapshot().Response.Content)
	})

	t.Run("fallback follows the new endpoint", func(t *testing.T) {
		streamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", http.StatusNotFound)
		}))
		defer streamSrv.Close()

		var oldHits, newHits atomic.Int32
		oldFb := httptest.NewServer(fallbackAnswering("old fallback", &oldHits))
		defer oldFb.Close()
		newFb := httptest.NewServer(fallbackAnswering("new fallback", &newHits))
		defer newFb.Close()

		ctrl := newTestController(t, streamSrv.URL, oldFb.URL)
		ctrl.Reconfigure(Endpoints{
			StreamURL:      streamSrv.URL,
			FallbackURL:    newFb.URL,
			RequestTimeout: 5 * time.Second,
		})

		require.NoError(t, ctrl.Run(context.Background(), "q"))
		assert.Equal(t, int32(0), oldHits.Load())
		assert.Equal(t, int32(1), newHits.Load())
		assert.Equal(t, "new fallback", ctrl.Store().Snapshot().Response.Content)
	})
}

func TestControllerSupersededFallback(t *testing.T) {
	var streamHits atomic.Int32
	streamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if streamHits.Add(1) == 1 {
			http.Error(w, "bad gateway", http.StatusBadGateway)
			return
		}
		flusher := w.(http.Flusher)
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "data: {\"type\":\"complete\",\"payload\":{\"answer\":\"fresh answer\"}}\n\n")
		flusher.Flush()
	}))
	defer streamSrv.Close()

	var enterOnce sync.Once
	entered := make(chan struct{})
	release := make(chan struct{})
	fbSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		enterOnce.Do(func() { close(entered) })
		select {
		case <-release:
		case <-r.Context().Done():
			return
		}
		var req RPCRequest
		json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  rpcResult("stale fallback answer", nil),
		})
	}))
	defer fbSrv.Close()

	ctrl := newTestController(t, streamSrv.URL, fbSrv.URL)

	firstDone := make(chan error, 1)
	go func() {
		firstDone <- ctrl.Run(context.Background(), "first query")
	}()

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("first run never reached its fallback")
	}

	// The second run must tear the first one down, fallback included,
	// before touching the store.
	require.NoError(t, ctrl.Run(context.Background(), "second query"))
	close(release)

	select {
	case <-firstDone:
	case <-time.After(2 * time.Second):
		t.Fatal("first run never returned")
	}

	snap := ctrl.Store().Snapshot()
	require.NotNil(t, snap.Response)
	assert.Equal(t, "fresh answer", snap.Response.Content)
	_, stale := snap.AgentByID(events.OrchestratorAgent)
	assert.False(t, stale)
}

func TestControllerReset(t *testing.T) {
	streamSrv := httptest.NewServer(sseHandler(t, []string{
		`{"type":"agent_start","payload":{"agent":"a"}}`,
		`{"type":"complete","payload":{"answer":"x"}}`,
	}))
	defer streamSrv.Close()

	ctrl := newTestController(t, streamSrv.URL, "http://127.0.0.1:1")
	require.NoError(t, ctrl.Run(context.Background(), "q"))
	require.NotNil(t, ctrl.Store().Snapshot().Response)

	ctrl.Reset()

	snap := ctrl.Store().Snapshot()
	assert.Empty(t, snap.Agents)
	assert.Nil(t, snap.Response)
	assert.Empty(t, ctrl.ActiveSessionID())
}
