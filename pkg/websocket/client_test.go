package websocket

import (
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autotrageur/internal/logging"
)

func newStreamServer(t *testing.T, handler func(*websocket.Conn)) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handler(conn)
	}))
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func testLogger(t *testing.T) *logging.ZapLogger {
	t.Helper()
	logger, err := logging.NewZapLogger("ERROR")
	require.NoError(t, err)
	return logger
}

func TestStreamDeliversFrames(t *testing.T) {
	url := newStreamServer(t, func(conn *websocket.Conn) {
		for _, msg := range []string{"one", "two", "three"} {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
		}
		// Hold the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	frames := make(chan string, 3)
	stream := NewStream(Config{
		Name:      "test depth",
		URL:       url,
		OnMessage: func(msg []byte) { frames <- string(msg) },
	}, testLogger(t))

	stream.Start()
	defer stream.Stop()

	got := make([]string, 0, 3)
	for len(got) < 3 {
		select {
		case msg := <-frames:
			got = append(got, msg)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out after %d frames", len(got))
		}
	}
	assert.Equal(t, []string{"one", "two", "three"}, got)
}

func TestStreamHeartbeat(t *testing.T) {
	var pings int32
	url := newStreamServer(t, func(conn *websocket.Conn) {
		conn.SetPingHandler(func(string) error {
			atomic.AddInt32(&pings, 1)
			return conn.WriteControl(websocket.PongMessage, nil, time.Now().Add(time.Second))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	stream := NewStream(Config{
		Name:         "test depth",
		URL:          url,
		PingInterval: 50 * time.Millisecond,
		PingWait:     50 * time.Millisecond,
		PongWait:     300 * time.Millisecond,
	}, testLogger(t))

	stream.Start()
	defer stream.Stop()

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&pings) >= 2
	}, 2*time.Second, 20*time.Millisecond)
}

func TestStreamRedialsAfterPongTimeout(t *testing.T) {
	var dials int32
	var onConnected int32
	url := newStreamServer(t, func(conn *websocket.Conn) {
		atomic.AddInt32(&dials, 1)
		// Swallow pings so the client's read deadline fires.
		conn.SetPingHandler(func(string) error { return nil })
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	stream := NewStream(Config{
		Name:          "test depth",
		URL:           url,
		OnConnected:   func() { atomic.AddInt32(&onConnected, 1) },
		PingInterval:  50 * time.Millisecond,
		PingWait:      30 * time.Millisecond,
		PongWait:      100 * time.Millisecond,
		ReconnectWait: 10 * time.Millisecond,
	}, testLogger(t))

	stream.Start()
	defer stream.Stop()

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&dials) >= 2
	}, 3*time.Second, 20*time.Millisecond)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&onConnected), int32(2),
		"subscription callback should fire on every redial")
}

func TestStreamStopLeavesNoGoroutines(t *testing.T) {
	url := newStreamServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	time.Sleep(50 * time.Millisecond)
	before := runtime.NumGoroutine()

	stream := NewStream(Config{
		Name:         "test depth",
		URL:          url,
		PingInterval: 20 * time.Millisecond,
	}, testLogger(t))
	stream.Start()
	time.Sleep(100 * time.Millisecond)
	stream.Stop()

	assert.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= before+1
	}, 2*time.Second, 20*time.Millisecond)
}
