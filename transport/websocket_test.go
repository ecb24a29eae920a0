package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/handyconnect/liveupdate/events"
	"github.com/stretchr/testify/assert"
)

// websocketTestServer one-connection push server for exercising the channel
type websocketTestServer struct {
	server   *httptest.Server
	upgrader websocket.Upgrader
	conns    chan *websocket.Conn
}

func startWebsocketTestServer() *websocketTestServer {
	result := &websocketTestServer{conns: make(chan *websocket.Conn, 2)}
	result.server = httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			conn, err := result.upgrader.Upgrade(w, r, nil)
			if err != nil {
				return
			}
			result.conns <- conn
		},
	))
	return result
}

func (s *websocketTestServer) url() string {
	return "ws" + strings.TrimPrefix(s.server.URL, "http")
}

func TestWebsocketChannelReceive(t *testing.T) {
	assert := assert.New(t)

	server := startWebsocketTestServer()
	defer server.server.Close()

	wg := sync.WaitGroup{}
	defer wg.Wait()
	ctxt, cancel := context.WithCancel(context.Background())
	defer cancel()

	uut, err := GetWebsocketChannel(ctxt, server.url(), time.Second*5)
	assert.Nil(err)
	assert.Equal(ModeBidirectional, uut.Mode())
	assert.Nil(uut.Open(ctxt))
	serverConn := <-server.conns
	defer func() {
		_ = serverConn.Close()
	}()

	received := make(chan events.Envelope, 4)
	closed := make(chan error, 4)
	assert.Nil(uut.StartReading(
		func(ctxt context.Context, envelope events.Envelope) error {
			received <- envelope
			return nil
		},
		func(err error) {
			closed <- err
		},
		&wg,
	))
	// One reader per channel
	assert.NotNil(uut.StartReading(
		func(ctxt context.Context, envelope events.Envelope) error { return nil },
		func(err error) {},
		&wg,
	))

	assert.Nil(serverConn.WriteMessage(
		websocket.TextMessage, []byte(`{"type": "entity-updated", "payload": {"id": "task-1"}}`),
	))
	select {
	case envelope := <-received:
		assert.Equal(events.TypeEntityUpdated, envelope.Type)
	case <-time.After(time.Second):
		assert.FailNow("event never forwarded")
	}

	// A malformed frame is discarded without tearing the channel down
	assert.Nil(serverConn.WriteMessage(websocket.TextMessage, []byte("not json")))
	assert.Nil(serverConn.WriteMessage(
		websocket.TextMessage, []byte(`{"type": "entity-deleted"}`),
	))
	select {
	case envelope := <-received:
		assert.Equal(events.TypeEntityDeleted, envelope.Type)
	case <-time.After(time.Second):
		assert.FailNow("event never forwarded after bad frame")
	}
	assert.Empty(closed)

	// Server-side drop reports closure exactly once
	assert.Nil(serverConn.Close())
	select {
	case err := <-closed:
		assert.NotNil(err)
	case <-time.After(time.Second):
		assert.FailNow("closure never reported")
	}
	assert.Nil(uut.Close(ctxt))
	assert.Empty(closed)
}

func TestWebsocketChannelDeliberateClose(t *testing.T) {
	assert := assert.New(t)

	server := startWebsocketTestServer()
	defer server.server.Close()

	wg := sync.WaitGroup{}
	defer wg.Wait()
	ctxt, cancel := context.WithCancel(context.Background())
	defer cancel()

	uut, err := GetWebsocketChannel(ctxt, server.url(), time.Second*5)
	assert.Nil(err)
	assert.Nil(uut.Open(ctxt))
	serverConn := <-server.conns
	defer func() {
		_ = serverConn.Close()
	}()

	closed := make(chan error, 1)
	assert.Nil(uut.StartReading(
		func(ctxt context.Context, envelope events.Envelope) error { return nil },
		func(err error) {
			closed <- err
		},
		&wg,
	))

	// Closing from our side must not look like a failure
	assert.Nil(uut.Close(ctxt))
	time.Sleep(time.Millisecond * 100)
	assert.Empty(closed)
}

func TestWebsocketChannelHandshakeFailure(t *testing.T) {
	assert := assert.New(t)

	// Plain HTTP end-point rejects the upgrade
	server := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		},
	))
	defer server.Close()

	ctxt, cancel := context.WithCancel(context.Background())
	defer cancel()

	uut, err := GetWebsocketChannel(
		ctxt, "ws"+strings.TrimPrefix(server.URL, "http"), time.Second*5,
	)
	assert.Nil(err)
	assert.NotNil(uut.Open(ctxt))
}
