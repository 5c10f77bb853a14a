package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okizar/swarmtap/internal/metrics"
	"github.com/okizar/swarmtap/pkg/client"
	"github.com/okizar/swarmtap/pkg/state"
)

// newTestGateway wires a gateway over a controller pointed at a scripted
// stream endpoint.
func newTestGateway(t *testing.T, streamLines []string) (*httptest.Server, *Server) {
	t.Helper()

	streamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		require.True(t, ok)
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		for _, line := range streamLines {
			fmt.Fprintf(w, "data: %s\n\n", line)
			flusher.Flush()
		}
	}))
	t.Cleanup(streamSrv.Close)

	ctrl, err := client.NewController(client.Config{
		StreamURL:   streamSrv.URL,
		FallbackURL: "http://127.0.0.1:1",
		Logger:      zerolog.Nop(),
	})
	require.NoError(t, err)

	gw := NewServer(Config{
		Host:       "127.0.0.1",
		Port:       0,
		Controller: ctrl,
		Metrics:    metrics.New(),
		Logger:     zerolog.Nop(),
	})

	srv := httptest.NewServer(gw.Handler())
	t.Cleanup(srv.Close)
	return srv, gw
}

func TestHandleQuery(t *testing.T) {
	t.Run("accepts query and returns session id", func(t *testing.T) {
		srv, _ := newTestGateway(t, []string{
			`{"type":"complete","payload":{"answer":"Done."}}`,
		})

		resp, err := http.Post(srv.URL+"/query", "application/json",
			strings.NewReader(`{"query":"what is Go"}`))
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusAccepted, resp.StatusCode)

		var ack QueryResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&ack))
		assert.NotEmpty(t, ack.SessionID)
	})

	t.Run("rejects empty query", func(t *testing.T) {
		srv, _ := newTestGateway(t, nil)

		resp, err := http.Post(srv.URL+"/query", "application/json",
			strings.NewReader(`{"query":"  "}`))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("rejects malformed body", func(t *testing.T) {
		srv, _ := newTestGateway(t, nil)

		resp, err := http.Post(srv.URL+"/query", "application/json",
			strings.NewReader("not json"))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("rejects GET", func(t *testing.T) {
		srv, _ := newTestGateway(t, nil)

		resp, err := http.Get(srv.URL + "/query")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	})
}

func TestHandleState(t *testing.T) {
	srv, gw := newTestGateway(t, []string{
		`{"type":"agent_start","payload":{"agent":"research"}}`,
		`{"type":"complete","payload":{"answer":"Done."}}`,
	})

	resp, err := http.Post(srv.URL+"/query", "application/json",
		strings.NewReader(`{"query":"q"}`))
	require.NoError(t, err)
	resp.Body.Close()

	require.Eventually(t, func() bool {
		return gw.controller.Store().Snapshot().Response != nil
	}, 2*time.Second, 10*time.Millisecond)

	stateResp, err := http.Get(srv.URL + "/state")
	require.NoError(t, err)
	defer stateResp.Body.Close()
	assert.Equal(t, http.StatusOK, stateResp.StatusCode)

	var snap state.SessionState
	require.NoError(t, json.NewDecoder(stateResp.Body).Decode(&snap))
	require.NotNil(t, snap.Response)
	assert.Equal(t, "Done.", snap.Response.Content)

	agent, ok := snap.AgentByID("research")
	require.True(t, ok)
	assert.Equal(t, state.StatusComplete, agent.Status)
}

func TestHandleCancel(t *testing.T) {
	srv, _ := newTestGateway(t, nil)

	resp, err := http.Post(srv.URL+"/cancel", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestHandleHealth(t *testing.T) {
	srv, _ := newTestGateway(t, nil)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestHandleMetrics(t *testing.T) {
	srv, _ := newTestGateway(t, nil)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestWebsocketRelay(t *testing.T) {
	srv, gw := newTestGateway(t, []string{
		`{"type":"agent_start","payload":{"agent":"research"}}`,
		`{"type":"agent_output","payload":{"agent":"research","content":"hi"}}`,
		`{"type":"complete","payload":{"answer":"Done."}}`,
	})

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, wsResp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if wsResp != nil {
		wsResp.Body.Close()
	}
	defer conn.Close()

	require.Eventually(t, func() bool {
		return gw.clients.Count() == 1
	}, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Post(srv.URL+"/query", "application/json",
		strings.NewReader(`{"query":"q"}`))
	require.NoError(t, err)
	resp.Body.Close()

	var got []EventMessage
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for len(got) < 3 {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var msg EventMessage
		require.NoError(t, json.Unmarshal(data, &msg))
		got = append(got, msg)
	}

	assert.Equal(t, "agent_start", got[0].Event)
	assert.Equal(t, "agent_output", got[1].Event)
	assert.Equal(t, "complete", got[2].Event)

	// Sequence numbers are strictly increasing
	assert.Less(t, got[0].Seq, got[1].Seq)
	assert.Less(t, got[1].Seq, got[2].Seq)
	assert.NotEmpty(t, got[0].SessionID)
}

func TestShutdownClosesConsumers(t *testing.T) {
	srv, gw := newTestGateway(t, nil)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, wsResp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if wsResp != nil {
		wsResp.Body.Close()
	}
	defer conn.Close()

	require.Eventually(t, func() bool {
		return gw.clients.Count() == 1
	}, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, gw.Shutdown(ctx))

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
}
