package bridge

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v3"
	"github.com/gorilla/websocket"

	"relay-gateway-go/internal/mailbox"
	"relay-gateway-go/internal/metrics"
)

// Frame is one WebSocket message received from a target.
type Frame struct {
	Type int
	Data []byte
}

// Deliverer hands one frame to the caller side of a session. Deliver returns
// once the frame is consumed or given up on; the session worker calls it for
// one frame at a time.
type Deliverer interface {
	Deliver(ctx context.Context, id string, f Frame) error
}

// Handoff delivers frames through a mailbox slot: write the payload, then
// poll until the consumer clears it.
type Handoff struct {
	slot        mailbox.Slot
	interval    time.Duration
	maxAttempts int
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// NewHandoff creates a Handoff polling slot every interval, at most
// maxAttempts times per frame.
func NewHandoff(slot mailbox.Slot, interval time.Duration, maxAttempts int, logger *slog.Logger, m *metrics.Metrics) *Handoff {
	return &Handoff{
		slot:        slot,
		interval:    interval,
		maxAttempts: maxAttempts,
		logger:      logger,
		metrics:     m,
	}
}

func (h *Handoff) schedule(ctx context.Context) backoff.BackOff {
	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(h.interval), uint64(h.maxAttempts)),
		ctx,
	)
	b.Reset()
	return b
}

// Deliver writes f into the slot for id and waits for it to be cleared.
func (h *Handoff) Deliver(ctx context.Context, id string, f Frame) error {
	payload := base64.StdEncoding.EncodeToString(f.Data)
	if err := h.slot.Write(ctx, id, payload); err != nil {
		h.record("error")
		return fmt.Errorf("mailbox write: %w", err)
	}

	b := h.schedule(ctx)
	for {
		wait := b.NextBackOff()
		if wait == backoff.Stop {
			if err := ctx.Err(); err != nil {
				return err
			}
			h.record("expired")
			return ErrHandoffExpired
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		_, pending, err := h.slot.Read(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			h.logger.Warn("mailbox poll failed", "session", id, "error", err)
			continue
		}
		if !pending {
			h.record("delivered")
			return nil
		}
	}
}

func (h *Handoff) record(result string) {
	if h.metrics != nil {
		h.metrics.MailboxHandoffs.WithLabelValues(result).Inc()
	}
}

// lockedConn serializes writers on a websocket.Conn, which allows only one
// concurrent writer.
type lockedConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *lockedConn) writeMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(messageType, data)
}

// SocketDeliverer writes frames straight to a caller's WebSocket.
type SocketDeliverer struct {
	conn *lockedConn
}

func (d *SocketDeliverer) Deliver(_ context.Context, _ string, f Frame) error {
	return d.conn.writeMessage(f.Type, f.Data)
}
