// Package bridge relays WebSocket traffic between callers and target
// sockets, either over a direct caller socket or through a mailbox handoff.
package bridge

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"relay-gateway-go/internal/config"
	"relay-gateway-go/internal/mailbox"
	"relay-gateway-go/internal/metrics"
)

// Bridge owns the session table.
type Bridge struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	dialer      *websocket.Dialer
	dialTimeout time.Duration
	queueSize   int

	slot          mailbox.Slot
	handoff       *Handoff
	directMailbox bool

	ctx    context.Context
	cancel context.CancelFunc

	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New creates a Bridge. slot may be mailbox.Disabled, in which case only the
// direct topology with socket delivery is available.
// The metrics parameter is optional; pass nil to disable bridge metrics.
func New(cfg *config.Config, slot mailbox.Slot, logger *slog.Logger, m *metrics.Metrics) *Bridge {
	ctx, cancel := context.WithCancel(context.Background())
	logger = logger.With("component", "bridge")

	b := &Bridge{
		sessions:      make(map[string]*Session),
		dialer:        &websocket.Dialer{HandshakeTimeout: cfg.WebSocket.DialTimeout(), Proxy: http.ProxyFromEnvironment},
		dialTimeout:   cfg.WebSocket.DialTimeout(),
		queueSize:     cfg.WebSocket.QueueSize,
		slot:          slot,
		directMailbox: cfg.WebSocket.DirectDelivery == "mailbox",
		ctx:           ctx,
		cancel:        cancel,
		logger:        logger,
		metrics:       m,
	}
	if mailbox.Enabled(slot) {
		b.handoff = NewHandoff(slot, cfg.WebSocket.PollInterval(), cfg.WebSocket.PollMaxAttempts, logger, m)
	}
	return b
}

// ValidateTarget checks that raw is an absolute ws:// or wss:// URL.
func ValidateTarget(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrInvalidTarget
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidTarget, err)
	}
	if (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return "", ErrInvalidTarget
	}
	return u.String(), nil
}

func (b *Bridge) dial(ctx context.Context, target string) (*websocket.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, b.dialTimeout)
	defer cancel()

	conn, resp, err := b.dialer.DialContext(ctx, target, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectFailure, err)
	}
	return conn, nil
}

// Create opens a mailbox-topology session to target and returns its id.
// Frames from the target are handed to the caller through the mailbox slot
// named by the id.
func (b *Bridge) Create(ctx context.Context, target string) (string, error) {
	if b.handoff == nil {
		return "", ErrMailboxUnavailable
	}
	target, err := ValidateTarget(target)
	if err != nil {
		return "", err
	}
	conn, err := b.dial(ctx, target)
	if err != nil {
		return "", err
	}

	s := b.register(target, conn, b.handoff)
	return s.id, nil
}

func (b *Bridge) register(target string, conn *websocket.Conn, d Deliverer) *Session {
	id := uuid.NewString()
	s := newSession(b.ctx, id, target, conn, b.queueSize)
	s.deliver = d
	s.slot = b.slot
	s.logger = b.logger.With("session", id)
	s.metrics = b.metrics
	s.onClose = b.remove

	b.mu.Lock()
	b.sessions[id] = s
	b.mu.Unlock()
	if b.metrics != nil {
		b.metrics.SessionsActive.Inc()
	}

	s.start()
	s.logger.Info("session open", "target", target)
	return s
}

// remove is idempotent.
func (b *Bridge) remove(s *Session) {
	b.mu.Lock()
	_, ok := b.sessions[s.id]
	delete(b.sessions, s.id)
	b.mu.Unlock()
	if ok && b.metrics != nil {
		b.metrics.SessionsActive.Dec()
	}
}

func (b *Bridge) get(id string) (*Session, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.sessions[id]
	return s, ok
}

// Send decodes a base64 message and writes it to the session's target.
func (b *Bridge) Send(id, message string) error {
	s, ok := b.get(id)
	if !ok {
		return ErrSessionNotFound
	}
	data, err := base64.StdEncoding.DecodeString(message)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	return s.Write(data)
}

// Close ends the session. The id is unknown to Send as soon as Close returns.
func (b *Bridge) Close(id string) error {
	s, ok := b.get(id)
	if !ok {
		return ErrSessionNotFound
	}
	b.remove(s)
	s.Close()
	return nil
}

// Len returns the number of live sessions.
func (b *Bridge) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.sessions)
}

// Shutdown closes every session.
func (b *Bridge) Shutdown(ctx context.Context) error {
	b.cancel()

	b.mu.RLock()
	sessions := make([]*Session, 0, len(b.sessions))
	for _, s := range b.sessions {
		sessions = append(sessions, s)
	}
	b.mu.RUnlock()

	done := make(chan struct{})
	go func() {
		for _, s := range sessions {
			s.Close()
		}
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
