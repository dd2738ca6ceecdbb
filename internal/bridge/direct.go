package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

// ServeDirect splices an upgraded caller socket with a target socket.
// Caller frames go straight to the target; target frames pass through the
// session queue and are delivered to the caller socket, or through the
// mailbox when direct delivery is configured that way; in that mode the first
// frame sent to the caller is {"uuid":"<session id>"}. The caller socket is
// closed on return: 1008 for an unusable target, 1011 when the target
// cannot be reached.
func (b *Bridge) ServeDirect(ctx context.Context, caller *websocket.Conn, target string) error {
	out := &lockedConn{conn: caller}
	defer func() { _ = caller.Close() }()
	// The HTTP server's read deadline may still be armed on the hijacked conn.
	_ = caller.NetConn().SetDeadline(time.Time{})

	target, err := ValidateTarget(target)
	if err != nil {
		closeWith(caller, websocket.ClosePolicyViolation, "invalid target")
		return err
	}
	conn, err := b.dial(ctx, target)
	if err != nil {
		closeWith(caller, websocket.CloseInternalServerErr, "target unreachable")
		return err
	}

	viaMailbox := b.directMailbox && b.handoff != nil
	var d Deliverer = &SocketDeliverer{conn: out}
	if viaMailbox {
		d = b.handoff
	}
	s := b.register(target, conn, d)
	if viaMailbox {
		// The caller needs the id to find its frames in the mailbox.
		if err := announce(out, s.id); err != nil {
			s.logger.Debug("session announce failed", "error", err)
			s.Close()
			return nil
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			mt, data, err := caller.ReadMessage()
			if err != nil {
				return err
			}
			if err := s.writeFrame(mt, data); err != nil {
				return err
			}
		}
	})
	g.Go(func() error {
		select {
		case <-s.Done():
		case <-gctx.Done():
		}
		s.Close()
		closeWith(caller, websocket.CloseNormalClosure, "")
		_ = caller.Close()
		return nil
	})

	// Either side ending is a normal finish once the session is up.
	if err := g.Wait(); err != nil && !errors.Is(err, ErrSessionNotOpen) {
		s.logger.Debug("caller socket closed", "error", err)
	}
	return nil
}

// Announcement is the first frame of a mailbox-delivered direct session.
type Announcement struct {
	UUID string `json:"uuid"`
}

func announce(out *lockedConn, id string) error {
	data, err := json.Marshal(Announcement{UUID: id})
	if err != nil {
		return err
	}
	return out.writeMessage(websocket.TextMessage, data)
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(time.Second))
}
