package invokeai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	"github.com/hupe1980/genrelay/core"
	"github.com/hupe1980/genrelay/logging"
)

// Engine.IO / Socket.IO packet prefixes used over the websocket transport.
const (
	packetOpen       = "0"
	packetClose      = "1"
	packetPing       = "2"
	packetPong       = "3"
	packetConnect    = "40"
	packetDisconnect = "41"
	packetEvent      = "42"
	packetConnectErr = "44"
)

var errServerClosed = errors.New("server closed the session")

type socketConfig struct {
	URL              string
	QueueID          string
	Dialer           *websocket.Dialer
	HandshakeTimeout time.Duration
	MinBackoff       time.Duration
	MaxBackoff       time.Duration
	OnEvent          func(name string, data gjson.Result)
	OnReconnect      func()
	Logger           logging.Logger
}

// socket is a minimal socket.io client bound to the default namespace. A
// supervisor goroutine owns the read side and redials whenever the
// connection drops; the queue subscription is part of every dial.
type socket struct {
	cfg socketConfig

	mu   sync.Mutex // guards conn
	conn *websocket.Conn

	writeMu sync.Mutex

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// dialSocket connects, subscribes and starts the supervisor. Only the
// initial dial is bounded by ctx.
func dialSocket(ctx context.Context, cfg socketConfig) (*socket, error) {
	s := &socket{cfg: cfg, done: make(chan struct{})}

	conn, window, err := s.dial(ctx)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.setConn(runCtx, conn)

	go s.run(runCtx, conn, window)
	return s, nil
}

// close stops the supervisor and waits for it to exit.
func (s *socket) close() {
	s.closeOnce.Do(func() {
		s.cancel()

		s.mu.Lock()
		if s.conn != nil {
			_ = s.write(s.conn, packetDisconnect)
			_ = s.conn.Close()
		}
		s.mu.Unlock()

		<-s.done
	})
}

// setConn publishes the live connection so close can interrupt its reader.
// A connection established after close started is closed right away.
func (s *socket) setConn(ctx context.Context, conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ctx.Err() != nil {
		_ = conn.Close()
	}
	s.conn = conn
}

func (s *socket) write(conn *websocket.Conn, packet string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, []byte(packet))
}

// dial opens the websocket, joins the default namespace and subscribes to
// the queue. It returns the read window derived from the server's ping
// settings.
func (s *socket) dial(ctx context.Context) (*websocket.Conn, time.Duration, error) {
	conn, resp, err := s.cfg.Dialer.DialContext(ctx, s.cfg.URL, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, 0, &core.ProtocolError{Stage: "dial", Err: err}
	}

	window, err := s.handshake(conn)
	if err != nil {
		_ = conn.Close()
		return nil, 0, err
	}
	return conn, window, nil
}

func (s *socket) handshake(conn *websocket.Conn) (time.Duration, error) {
	if s.cfg.HandshakeTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.HandshakeTimeout))
	}

	_, msg, err := conn.ReadMessage()
	if err != nil {
		return 0, &core.ProtocolError{Stage: "open", Err: err}
	}
	packet := string(msg)
	if !strings.HasPrefix(packet, packetOpen) {
		return 0, &core.ProtocolError{Stage: "open", Err: fmt.Errorf("unexpected packet %q", packet)}
	}
	open := gjson.Parse(packet[len(packetOpen):])
	window := time.Duration(open.Get("pingInterval").Int()+open.Get("pingTimeout").Int()) * time.Millisecond

	if err := s.write(conn, packetConnect); err != nil {
		return 0, &core.ProtocolError{Stage: "connect", Err: err}
	}

connected:
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return 0, &core.ProtocolError{Stage: "connect", Err: err}
		}
		packet := string(msg)
		switch {
		case packet == packetPing:
			if err := s.write(conn, packetPong); err != nil {
				return 0, &core.ProtocolError{Stage: "connect", Err: err}
			}
		case strings.HasPrefix(packet, packetConnectErr):
			return 0, &core.ProtocolError{Stage: "connect", Err: fmt.Errorf("rejected: %s", packet[len(packetConnectErr):])}
		case strings.HasPrefix(packet, packetConnect):
			break connected
		}
	}

	sub, err := json.Marshal([]any{"subscribe_queue", map[string]string{"queue_id": s.cfg.QueueID}})
	if err != nil {
		return 0, &core.ProtocolError{Stage: "subscribe", Err: err}
	}
	if err := s.write(conn, packetEvent+string(sub)); err != nil {
		return 0, &core.ProtocolError{Stage: "subscribe", Err: err}
	}

	_ = conn.SetReadDeadline(time.Time{})
	return window, nil
}

func (s *socket) run(ctx context.Context, conn *websocket.Conn, window time.Duration) {
	defer close(s.done)

	for {
		err := s.readLoop(conn, window)
		_ = conn.Close()
		if ctx.Err() != nil {
			return
		}
		s.cfg.Logger.Warn("InvokeAI socket disconnected", "error", err)

		conn, window = s.reconnect(ctx)
		if conn == nil {
			return
		}
		if s.cfg.OnReconnect != nil {
			s.cfg.OnReconnect()
		}
	}
}

// reconnect redials with capped exponential backoff until it succeeds or
// ctx ends, in which case it returns a nil connection.
func (s *socket) reconnect(ctx context.Context) (*websocket.Conn, time.Duration) {
	delay := s.cfg.MinBackoff
	for attempt := 1; ; attempt++ {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, 0
		case <-timer.C:
		}

		conn, window, err := s.dial(ctx)
		if err == nil {
			s.setConn(ctx, conn)
			s.cfg.Logger.Info("InvokeAI socket reconnected", "attempt", attempt)
			return conn, window
		}
		if ctx.Err() != nil {
			return nil, 0
		}

		s.cfg.Logger.Warn("InvokeAI reconnect failed", "attempt", attempt, "retry_in", delay, "error", err)
		delay *= 2
		if delay > s.cfg.MaxBackoff {
			delay = s.cfg.MaxBackoff
		}
	}
}

func (s *socket) readLoop(conn *websocket.Conn, window time.Duration) error {
	for {
		if window > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(window))
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if err := s.handlePacket(conn, string(msg)); err != nil {
			return err
		}
	}
}

func (s *socket) handlePacket(conn *websocket.Conn, packet string) error {
	switch {
	case packet == packetPing:
		return s.write(conn, packetPong)
	case packet == packetClose, strings.HasPrefix(packet, packetDisconnect):
		return errServerClosed
	case strings.HasPrefix(packet, packetEvent):
		name, data, err := splitEvent(packet[len(packetEvent):])
		if err != nil {
			s.cfg.Logger.Warn("Dropping malformed socket.io event", "error", err)
			return nil
		}
		s.cfg.OnEvent(name, data)
	}
	return nil
}
