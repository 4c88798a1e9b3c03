package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, validator OriginValidator) (*Manager, *httptest.Server) {
	t.Helper()
	m := NewManager(validator, nil, nil)
	srv := httptest.NewServer(m)
	t.Cleanup(func() {
		srv.Close()
		_ = m.Shutdown(context.Background())
	})
	return m, srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(srv), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.CloseNow() })
	return conn
}

func waitForClients(t *testing.T, m *Manager, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return m.ClientCount() == n }, 5*time.Second, 10*time.Millisecond)
}

func readText(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	typ, data, err := conn.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, websocket.MessageText, typ)
	return string(data)
}

func TestReloadReachesEveryClient(t *testing.T) {
	m, srv := newTestServer(t, nil)
	a := dial(t, srv)
	b := dial(t, srv)
	waitForClients(t, m, 2)

	m.NotifyReload(1)

	assert.JSONEq(t, `{"type":"reload"}`, readText(t, a))
	assert.JSONEq(t, `{"type":"reload"}`, readText(t, b))
}

func TestErrorMessageWireFormat(t *testing.T) {
	m, srv := newTestServer(t, nil)
	conn := dial(t, srv)
	waitForClients(t, m, 1)

	m.NotifyError(2, "scss:a.scss: stylesheet compilation failed\x00")

	assert.JSONEq(t, `{"type":"error","message":"scss:a.scss: stylesheet compilation failed"}`, readText(t, conn))
}

func TestClosedClientIsPrunedWithoutAffectingOthers(t *testing.T) {
	m, srv := newTestServer(t, nil)
	gone := dial(t, srv)
	stays := dial(t, srv)
	waitForClients(t, m, 2)

	require.NoError(t, gone.Close(websocket.StatusNormalClosure, ""))

	// The closed client is flagged once its read loop ends and removed by
	// the next broadcast.
	require.Eventually(t, func() bool {
		m.clientsMutex.RLock()
		defer m.clientsMutex.RUnlock()
		return len(m.failed) == 1
	}, 5*time.Second, 10*time.Millisecond)

	m.NotifyReload(3)
	assert.JSONEq(t, `{"type":"reload"}`, readText(t, stays))
	waitForClients(t, m, 1)
}

func TestOriginValidation(t *testing.T) {
	_, srv := newTestServer(t, HostValidator{Allowed: []string{"localhost:8080"}})

	tests := []struct {
		name    string
		origin  string
		allowed bool
	}{
		{name: "no origin", origin: "", allowed: true},
		{name: "allowed host", origin: "http://localhost:8080", allowed: true},
		{name: "external origin", origin: "http://malicious.com", allowed: false},
		{name: "file scheme", origin: "file:///etc/passwd", allowed: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			header := http.Header{}
			if tt.origin != "" {
				header.Set("Origin", tt.origin)
			}
			conn, resp, err := websocket.Dial(ctx, wsURL(srv), &websocket.DialOptions{HTTPHeader: header})
			if tt.allowed {
				require.NoError(t, err)
				_ = conn.CloseNow()
				return
			}
			require.Error(t, err)
			require.NotNil(t, resp)
			assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		})
	}
}

func TestShutdownClosesClients(t *testing.T) {
	m, srv := newTestServer(t, nil)
	conn := dial(t, srv)
	waitForClients(t, m, 1)

	require.NoError(t, m.Shutdown(context.Background()))
	assert.Zero(t, m.ClientCount())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	assert.Error(t, err)

	// Broadcasting after shutdown is a no-op.
	m.NotifyReload(9)

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestHostValidator(t *testing.T) {
	v := HostValidator{Allowed: []string{"127.0.0.1:8080", "http://localhost:3000"}}
	assert.True(t, v.IsAllowedOrigin("http://127.0.0.1:8080"))
	assert.True(t, v.IsAllowedOrigin("http://localhost:3000"))
	assert.False(t, v.IsAllowedOrigin("http://localhost:4000"))
	assert.False(t, v.IsAllowedOrigin("javascript:alert(1)"))
}
