// Package websocket implements the reconnecting stream client the
// exchange adapters use for live market data feeds.
package websocket

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"autotrageur/internal/core"
	"autotrageur/pkg/telemetry"
)

// Config describes one market data stream.
type Config struct {
	// Name labels the stream in logs and metrics, e.g. "ETHUSDT depth".
	Name string
	URL  string
	// OnMessage receives every frame. It runs on the read loop, so it
	// must not block.
	OnMessage func(msg []byte)
	// OnConnected fires after each successful dial, including redials.
	// Venues that take subscriptions in-band send them here via Send.
	OnConnected func()

	PingInterval  time.Duration
	PingWait      time.Duration
	PongWait      time.Duration
	ReconnectWait time.Duration
}

// Stream is a reconnecting WebSocket subscription. It redials with a
// fixed backoff until Stop is called and feeds every frame to OnMessage.
type Stream struct {
	cfg    Config
	logger core.ILogger

	mu   sync.Mutex
	conn *websocket.Conn

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	frames metric.Int64Counter
	dials  metric.Int64Counter
	attrs  metric.MeasurementOption
}

// NewStream prepares a stream; no traffic until Start.
func NewStream(cfg Config, logger core.ILogger) *Stream {
	if cfg.PingInterval == 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.PingWait == 0 {
		cfg.PingWait = 10 * time.Second
	}
	if cfg.PongWait == 0 {
		cfg.PongWait = 60 * time.Second
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 5 * time.Second
	}

	meter := telemetry.GetMeter("exchange-stream")
	frames, _ := meter.Int64Counter("autotrageur_stream_frames_total",
		metric.WithDescription("Frames received across market data streams"))
	dials, _ := meter.Int64Counter("autotrageur_stream_dials_total",
		metric.WithDescription("Dial attempts across market data streams"))

	ctx, cancel := context.WithCancel(context.Background())
	return &Stream{
		cfg:    cfg,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		frames: frames,
		dials:  dials,
		attrs:  metric.WithAttributes(attribute.String("stream", cfg.Name)),
	}
}

// Start dials in the background and keeps the subscription alive.
func (s *Stream) Start() {
	s.wg.Add(1)
	go s.run()
}

// Stop tears the connection down and waits for the loops to exit.
func (s *Stream) Stop() {
	s.cancel()
	s.close()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		s.logger.Warn("stream did not stop in time", "stream", s.cfg.Name)
	}
}

// Send writes a JSON frame on the live connection.
func (s *Stream) Send(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("stream %s not connected", s.cfg.Name)
	}
	return s.conn.WriteJSON(v)
}

func (s *Stream) run() {
	defer s.wg.Done()

	for s.ctx.Err() == nil {
		conn, err := s.dial()
		if err != nil {
			s.logger.Error("stream dial failed",
				"stream", s.cfg.Name, "url", s.cfg.URL, "error", err)
			if !s.pause() {
				return
			}
			continue
		}

		if s.cfg.OnConnected != nil {
			s.cfg.OnConnected()
		}

		hbCtx, hbCancel := context.WithCancel(s.ctx)
		s.wg.Add(1)
		go s.heartbeat(hbCtx, conn)

		s.readFrames(conn)
		hbCancel()
		s.close()

		if !s.pause() {
			return
		}
	}
}

// pause sleeps the reconnect backoff; false means the stream is stopping.
func (s *Stream) pause() bool {
	select {
	case <-s.ctx.Done():
		return false
	case <-time.After(s.cfg.ReconnectWait):
		return true
	}
}

func (s *Stream) dial() (*websocket.Conn, error) {
	s.dials.Add(s.ctx, 1, s.attrs)

	conn, _, err := websocket.DefaultDialer.Dial(s.cfg.URL, nil)
	if err != nil {
		return nil, err
	}

	conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	})

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	return conn, nil
}

// heartbeat pings on an interval. A failed ping closes the connection so
// the read loop returns and the run loop redials.
func (s *Stream) heartbeat(ctx context.Context, conn *websocket.Conn) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(s.cfg.PingWait)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				s.close()
				return
			}
		}
	}
}

func (s *Stream) readFrames(conn *websocket.Conn) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if s.ctx.Err() == nil {
				s.logger.Warn("stream read failed",
					"stream", s.cfg.Name, "error", err)
			}
			return
		}
		s.frames.Add(s.ctx, 1, s.attrs)
		if s.cfg.OnMessage != nil {
			s.cfg.OnMessage(msg)
		}
	}
}

func (s *Stream) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}
