package bridge

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"

	"relay-gateway-go/internal/mailbox"
	"relay-gateway-go/internal/metrics"
)

const (
	writeWait    = 10 * time.Second
	clearTimeout = 5 * time.Second
)

// State is a session's position in Created -> Open -> Closing -> Closed.
type State int32

const (
	Created State = iota
	Open
	Closing
	Closed
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Open:
		return "open"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	}
	return "unknown"
}

// Session relays one target WebSocket. Frames from the target are queued and
// drained by a single worker through the session's Deliverer.
type Session struct {
	id     string
	target string
	conn   *lockedConn

	state   atomic.Int32
	queue   chan Frame
	deliver Deliverer
	slot    mailbox.Slot

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	workerWG  sync.WaitGroup
	done      chan struct{}
	onClose   func(*Session)

	logger  *slog.Logger
	metrics *metrics.Metrics
}

func newSession(parent context.Context, id, target string, conn *websocket.Conn, queueSize int) *Session {
	ctx, cancel := context.WithCancel(parent)
	s := &Session{
		id:     id,
		target: target,
		conn:   &lockedConn{conn: conn},
		queue:  make(chan Frame, queueSize),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	s.state.Store(int32(Created))
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the current state.
func (s *Session) State() State { return State(s.state.Load()) }

// Done is closed once the session reaches Closed.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) start() {
	s.state.Store(int32(Open))
	s.workerWG.Add(1)
	go s.drain()
	go s.readTarget()
}

// readTarget queues every frame the target sends. A full queue blocks the
// read rather than dropping frames.
func (s *Session) readTarget() {
	for {
		mt, data, err := s.conn.conn.ReadMessage()
		if err != nil {
			if s.State() == Open {
				s.logger.Debug("target socket closed", "error", err)
			}
			s.Close()
			return
		}
		s.countFrame("to_caller")
		select {
		case s.queue <- Frame{Type: mt, Data: data}:
		case <-s.ctx.Done():
			return
		}
	}
}

// drain is the only consumer of s.queue.
func (s *Session) drain() {
	defer s.workerWG.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case f := <-s.queue:
			if err := s.deliver.Deliver(s.ctx, s.id, f); err != nil {
				if s.ctx.Err() != nil {
					return
				}
				s.logger.Warn("frame not delivered", "error", err)
			}
		}
	}
}

// Write sends data to the target. Valid UTF-8 goes out as a text frame,
// anything else as binary.
func (s *Session) Write(data []byte) error {
	mt := websocket.BinaryMessage
	if utf8.Valid(data) {
		mt = websocket.TextMessage
	}
	return s.writeFrame(mt, data)
}

func (s *Session) writeFrame(mt int, data []byte) error {
	if s.State() != Open {
		return ErrSessionNotOpen
	}
	if err := s.conn.writeMessage(mt, data); err != nil {
		return errors.Join(ErrSessionNotOpen, err)
	}
	s.countFrame("to_target")
	return nil
}

// Close tears the session down: stop the worker and any mailbox poll, close
// the target socket, clear the mailbox slot if frames were handed off there. Safe to call repeatedly and from
// any goroutine except the worker.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.state.Store(int32(Closing))
		s.cancel()

		_ = s.conn.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = s.conn.conn.Close()

		// The worker must be gone before the slot is cleared, or a late write
		// could land after the clear.
		s.workerWG.Wait()

		// Only handoff sessions ever write to the slot.
		if _, ok := s.deliver.(*Handoff); ok && mailbox.Enabled(s.slot) {
			ctx, cancel := context.WithTimeout(context.Background(), clearTimeout)
			if err := s.slot.Clear(ctx, s.id); err != nil {
				s.logger.Warn("mailbox clear failed", "error", err)
			}
			cancel()
		}

		s.state.Store(int32(Closed))
		if s.onClose != nil {
			s.onClose(s)
		}
		close(s.done)
		s.logger.Info("session closed")
	})
}

func (s *Session) countFrame(direction string) {
	if s.metrics != nil {
		s.metrics.Frames.WithLabelValues(direction).Inc()
	}
}
