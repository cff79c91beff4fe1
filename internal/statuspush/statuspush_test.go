package statuspush

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSurface struct {
	state map[string]any
}

func (f *fakeSurface) GetModes() []string                           { return nil }
func (f *fakeSurface) GetModeInfo(name string) (map[string]string, error) {
	return nil, nil
}
func (f *fakeSurface) SetMode(ctx context.Context, name string, params map[string]float64) error {
	return nil
}
func (f *fakeSurface) SetModeParam(key string, value float64) {}
func (f *fakeSurface) GetState() map[string]any                { return f.state }

func TestServer_SendsInitialSnapshotOnConnect(t *testing.T) {
	surface := &fakeSurface{state: map[string]any{"mode": "idle"}}
	s := New(surface, "127.0.0.1:0", "/ws", time.Hour)

	ts := httptest.NewServer(s.http.Handler)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var got map[string]any
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "idle", got["mode"])
}

func TestServer_HasClientsReflectsRegistry(t *testing.T) {
	surface := &fakeSurface{state: map[string]any{}}
	s := New(surface, "127.0.0.1:0", "/ws", time.Hour)
	assert.False(t, s.hasClients())

	ts := httptest.NewServer(s.http.Handler)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var discard map[string]any
	require.NoError(t, conn.ReadJSON(&discard))

	deadline := time.Now().Add(time.Second)
	for !s.hasClients() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	assert.True(t, s.hasClients())
}
