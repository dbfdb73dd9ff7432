package display_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guitar-tuner/internal/domain"
	"guitar-tuner/internal/infra/display"
)

type fakeSource struct {
	mu    sync.Mutex
	state domain.TuningState
}

func (f *fakeSource) State() domain.TuningState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func a2(cents float64) domain.TuningState {
	return domain.TuningState{
		State:       domain.StateLocked,
		Note:        domain.NoteA,
		Octave:      2,
		CentsOffset: cents,
		FrequencyHz: 110,
		Confidence:  0.98,
	}
}

func readState(t *testing.T, ctx context.Context, conn *websocket.Conn) domain.TuningState {
	t.Helper()
	typ, data, err := conn.Read(ctx)
	require.NoError(t, err)
	require.Equal(t, websocket.MessageText, typ)

	var got domain.TuningState
	require.NoError(t, json.Unmarshal(data, &got))
	return got
}

func TestServer_State(t *testing.T) {
	source := &fakeSource{state: a2(-4)}
	srv := display.NewServer("127.0.0.1:0", source, quietLogger())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/state", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "locked", got["state"])
	assert.Equal(t, "A", got["note"])
	assert.Equal(t, float64(2), got["octave"])
	assert.Equal(t, float64(-4), got["cents"])
}

func TestServer_HealthAndMetrics(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "tuner_ticks_total 1\n")
	})
	srv := display.NewServer("127.0.0.1:0", &fakeSource{}, quietLogger(), display.WithMetrics(metrics))

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"state":"idle"`)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "tuner_ticks_total")
}

func TestServer_WebSocketStreamsChanges(t *testing.T) {
	source := &fakeSource{state: domain.TuningState{State: domain.StateIdle}}
	srv := display.NewServer("127.0.0.1:0", source, quietLogger())
	require.NoError(t, srv.Start())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+srv.Addr()+"/ws", nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	first := readState(t, ctx, conn)
	assert.Equal(t, domain.StateIdle, first.State)

	require.Eventually(t, func() bool { return srv.Clients() == 1 }, time.Second, time.Millisecond)

	srv.Notify(a2(-4))
	got := readState(t, ctx, conn)
	assert.Equal(t, domain.StateLocked, got.State)
	assert.Equal(t, -4.0, got.CentsOffset)

	// same rounded reading is suppressed, so the next message is the sharp one
	srv.Notify(a2(-4.2))
	srv.Notify(a2(3))
	got = readState(t, ctx, conn)
	assert.Equal(t, 3.0, got.CentsOffset)

	// keep reading so the close handshake can complete
	readErr := make(chan error, 1)
	go func() {
		_, _, err := conn.Read(ctx)
		readErr <- err
	}()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	require.NoError(t, srv.Stop(stopCtx))

	err = <-readErr
	assert.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(err))
	assert.Equal(t, 0, srv.Clients())
}

func TestServer_RefusesStreamsAfterStop(t *testing.T) {
	srv := display.NewServer("127.0.0.1:0", &fakeSource{state: a2(0)}, quietLogger())
	require.NoError(t, srv.Start())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, srv.Stop(ctx))

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Sec-WebSocket-Version", "13")
	req.Header.Set("Sec-WebSocket-Key", "dGhlIHNhbXBsZSBub25jZQ==")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Zero(t, srv.Clients())
}
