package iqoption

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/iqsession/internal/domain"
	"github.com/alanyoungcy/iqsession/internal/store/memory"
)

// brokerStub accepts one websocket connection, pushes the scripted frames
// once the handshake is read and records every text frame it receives.
type brokerStub struct {
	srv      *httptest.Server
	received chan map[string]any
	finished chan struct{}
}

func newBrokerStub(t *testing.T, push ...string) *brokerStub {
	t.Helper()
	b := &brokerStub{
		received: make(chan map[string]any, 16),
		finished: make(chan struct{}),
	}
	upgrader := websocket.Upgrader{}
	b.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		defer close(b.finished)

		handshake := 0
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var frame map[string]any
			if json.Unmarshal(data, &frame) == nil {
				b.received <- frame
			}
			handshake++
			if handshake == 2 {
				for _, p := range push {
					if err := conn.WriteMessage(websocket.TextMessage, []byte(p)); err != nil {
						return
					}
				}
			}
		}
	}))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *brokerStub) url() string {
	return "ws" + strings.TrimPrefix(b.srv.URL, "http")
}

func (b *brokerStub) next(t *testing.T) map[string]any {
	t.Helper()
	select {
	case f := <-b.received:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return nil
	}
}

func newTestChannel(url string) (*SessionChannel, *Router, Stores) {
	ch := NewSessionChannel(url, time.Second, discardLogger())
	ch.now = func() time.Time { return time.Unix(1512136901, 500_000_000) }
	stores := Stores{
		Positions: memory.NewPositionStore(),
		Catalog:   memory.NewInstrumentCatalog(),
		Ticks:     memory.NewMarketDataCache(),
		Clock:     &memory.ServerClock{},
	}
	return ch, NewRouter(stores, NewCommands(ch), ch, nil, discardLogger()), stores
}

func TestSessionChannel_HandshakeAndHeartbeat(t *testing.T) {
	stub := newBrokerStub(t,
		`{"name":"heartbeat","msg":1512136901477}`,
		`{"name":"timeSync","msg":1512136901999}`,
	)
	ch, router, stores := newTestChannel(stub.url())

	require.NoError(t, ch.Open(context.Background(), "ssid-123", router))

	assert.Equal(t, map[string]any{"name": "ssid", "msg": "ssid-123"}, stub.next(t))
	assert.Equal(t, map[string]any{"name": "subscribe", "msg": "tradersPulse"}, stub.next(t))

	reply := stub.next(t)
	assert.Equal(t, "heartbeat", reply["name"])
	msg, ok := reply["msg"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(1512136901477), msg["heartbeatTime"])
	assert.Equal(t, "151213690150", msg["userTime"])

	require.Eventually(t, func() bool { return stores.Clock.Millis() == 1512136901999 }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, ch.Connected())

	require.NoError(t, ch.Stop())
	select {
	case <-stub.finished:
	case <-time.After(2 * time.Second):
		t.Fatal("server did not observe close")
	}
	assert.Empty(t, stub.received, "exactly one heartbeat reply expected")
	assert.NoError(t, ch.Err())
	assert.False(t, ch.Connected())

	err := ch.Send(Frame{Name: "subscribe", Msg: "x"})
	assert.ErrorIs(t, err, domain.ErrSessionClosed)
	assert.ErrorIs(t, ch.Open(context.Background(), "again", router), domain.ErrSessionClosed)
}

func TestSessionChannel_ServerCloseReachesErrorSink(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_, _, _ = conn.ReadMessage()
		_, _, _ = conn.ReadMessage()
		conn.Close()
	}))
	defer srv.Close()

	ch, router, _ := newTestChannel("ws" + strings.TrimPrefix(srv.URL, "http"))
	errs := make(chan error, 1)
	ch.OnError(func(err error) { errs <- err })

	require.NoError(t, ch.Open(context.Background(), "ssid", router))

	select {
	case err := <-errs:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("error sink not called")
	}
	<-ch.Done()
	assert.Error(t, ch.Err())
	assert.NoError(t, ch.Stop())
}

func TestSessionChannel_DialFailure(t *testing.T) {
	ch, router, _ := newTestChannel("ws://127.0.0.1:1/echo/websocket")
	errs := make(chan error, 1)
	ch.OnError(func(err error) { errs <- err })

	assert.ErrorIs(t, ch.Send(Frame{Name: "ssid"}), domain.ErrNotConnected)
	require.NoError(t, ch.Open(context.Background(), "ssid", router))

	select {
	case err := <-errs:
		assert.ErrorContains(t, err, "connect")
	case <-time.After(5 * time.Second):
		t.Fatal("error sink not called")
	}
	select {
	case <-ch.Ready():
		t.Fatal("ready must not close on dial failure")
	default:
	}
}
