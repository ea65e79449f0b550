package iqoption

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/iqsession/internal/domain"
)

const (
	// defaultWriteWait is the time allowed to write a frame to the peer.
	defaultWriteWait = 10 * time.Second

	// pongWait is the time allowed to read the next frame or pong.
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	handshakeTimeout = 15 * time.Second
)

// Dispatcher consumes inbound frames. It is called on the read goroutine
// and must not block.
type Dispatcher interface {
	Dispatch(raw []byte)
}

// SessionChannel owns one websocket connection to the broker. It binds the
// credential on connect, answers heartbeats and feeds every inbound frame to
// a Dispatcher. A channel opens once and closes once; there is no reconnect.
type SessionChannel struct {
	url       string
	writeWait time.Duration
	dialer    websocket.Dialer
	logger    *slog.Logger
	now       func() time.Time

	mu     sync.RWMutex
	conn   *websocket.Conn
	opened bool
	err    error

	writeMu sync.Mutex

	errMu    sync.RWMutex
	errSinks []func(error)

	ready     chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewSessionChannel creates a channel for the given websocket URL.
// A zero writeWait selects the default.
func NewSessionChannel(url string, writeWait time.Duration, logger *slog.Logger) *SessionChannel {
	if writeWait <= 0 {
		writeWait = defaultWriteWait
	}
	return &SessionChannel{
		url:       url,
		writeWait: writeWait,
		dialer:    websocket.Dialer{HandshakeTimeout: handshakeTimeout},
		logger:    logger.With(slog.String("component", "session_channel")),
		now:       time.Now,
		ready:     make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// SocketURL returns the websocket endpoint for a broker host.
func SocketURL(host string) string {
	return "wss://" + host + "/echo/websocket"
}

// OnError registers a sink for connection errors. Errors are never
// returned across Send or the read loop.
func (s *SessionChannel) OnError(fn func(error)) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	s.errSinks = append(s.errSinks, fn)
}

// Open starts connecting in the background and returns immediately. Once
// connected it sends the credential and the baseline subscription, closes
// Ready and starts feeding frames to d.
func (s *SessionChannel) Open(ctx context.Context, ssid string, d Dispatcher) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.done:
		return fmt.Errorf("iqoption/ws: open: %w", domain.ErrSessionClosed)
	default:
	}
	if s.opened {
		return fmt.Errorf("iqoption/ws: open: already opened")
	}
	s.opened = true

	go s.run(ctx, ssid, d)
	return nil
}

// Ready is closed once the handshake has been sent.
func (s *SessionChannel) Ready() <-chan struct{} { return s.ready }

// Done is closed when the channel has terminated.
func (s *SessionChannel) Done() <-chan struct{} { return s.done }

// Err returns the error that terminated the channel, nil after Stop.
func (s *SessionChannel) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// Connected reports whether the handshake completed and the channel is live.
func (s *SessionChannel) Connected() bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case <-s.ready:
		return true
	default:
		return false
	}
}

// Send writes one frame. Frames are logged at debug level.
func (s *SessionChannel) Send(f Frame) error {
	s.logger.Debug("send frame", slog.String("name", f.Name), slog.String("request_id", f.RequestID))
	return s.write(f)
}

// ReplyHeartbeat answers a heartbeat with the received payload and the
// current client time. Replies are not logged.
func (s *SessionChannel) ReplyHeartbeat(payload json.RawMessage) error {
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	userTime := float64(s.now().UnixNano()) / float64(10*time.Millisecond)
	return s.write(Frame{Name: FrameHeartbeat, Msg: HeartbeatReply{
		UserTime:      fmt.Sprintf("%.0f", userTime),
		HeartbeatTime: payload,
	}})
}

// Stop closes the connection. It is safe to call more than once.
func (s *SessionChannel) Stop() error {
	var err error
	s.terminate(nil, func(conn *websocket.Conn) {
		s.writeMu.Lock()
		_ = conn.SetWriteDeadline(time.Now().Add(s.writeWait))
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.writeMu.Unlock()
		err = conn.Close()
	})
	return err
}

func (s *SessionChannel) write(f Frame) error {
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()

	select {
	case <-s.done:
		return fmt.Errorf("iqoption/ws: send %s: %w", f.Name, domain.ErrSessionClosed)
	default:
	}
	if conn == nil {
		return fmt.Errorf("iqoption/ws: send %s: %w", f.Name, domain.ErrNotConnected)
	}

	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("iqoption/ws: marshal %s: %w", f.Name, err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(s.writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("iqoption/ws: write %s: %w", f.Name, err)
	}
	return nil
}

func (s *SessionChannel) run(ctx context.Context, ssid string, d Dispatcher) {
	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		s.fail(fmt.Errorf("iqoption/ws: connect: %w", err))
		return
	}

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	s.mu.Lock()
	select {
	case <-s.done:
		s.mu.Unlock()
		_ = conn.Close()
		return
	default:
	}
	s.conn = conn
	s.mu.Unlock()

	cmds := NewCommands(s)
	if err := cmds.Bind(ssid); err != nil {
		s.fail(err)
		return
	}
	if err := cmds.SubscribeTradersPulse(); err != nil {
		s.fail(err)
		return
	}
	close(s.ready)
	s.logger.Debug("session handshake sent")

	go s.pingLoop(conn)
	s.readLoop(conn, d)
}

func (s *SessionChannel) readLoop(conn *websocket.Conn, d Dispatcher) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
			default:
				s.fail(fmt.Errorf("iqoption/ws: read: %w", err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		d.Dispatch(raw)
	}
}

func (s *SessionChannel) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			_ = conn.SetWriteDeadline(time.Now().Add(s.writeWait))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// fail terminates the channel and reports err to the sinks.
func (s *SessionChannel) fail(err error) {
	if !s.terminate(err, func(conn *websocket.Conn) { _ = conn.Close() }) {
		return
	}

	s.logger.Error("session channel closed", slog.String("error", err.Error()))
	s.errMu.RLock()
	sinks := s.errSinks
	s.errMu.RUnlock()
	for _, fn := range sinks {
		fn(err)
	}
}

// terminate closes done exactly once, records err and releases the
// connection through closeConn when one exists. It reports whether this
// call was the one that terminated the channel.
func (s *SessionChannel) terminate(err error, closeConn func(*websocket.Conn)) bool {
	first := false
	s.closeOnce.Do(func() {
		first = true
		s.mu.Lock()
		s.err = err
		conn := s.conn
		close(s.done)
		s.mu.Unlock()

		if conn != nil {
			closeConn(conn)
		}
	})
	return first
}
