// Package tunnel implements CONNECT: a raw TCP splice between the caller's
// hijacked connection and a target host:port.
package tunnel

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Jigsaw-Code/outline-sdk/transport"

	"relay-gateway-go/internal/config"
	"relay-gateway-go/internal/metrics"
	"relay-gateway-go/internal/model"
)

var (
	ErrBadTarget      = errors.New("CONNECT target must be host[:port]")
	ErrConnectFailure = errors.New("target connection failed")
	ErrTimeout        = errors.New("connection timeout")
)

// State is a tunnel's position in Connecting -> Established -> Relaying -> Closed.
type State int32

const (
	Connecting State = iota
	Established
	Relaying
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Established:
		return "established"
	case Relaying:
		return "relaying"
	case Closed:
		return "closed"
	}
	return "unknown"
}

// Relay opens tunnels to CONNECT targets.
type Relay struct {
	dialer         transport.StreamDialer
	connectTimeout time.Duration
	defaultPort    int
	logger         *slog.Logger
	metrics        *metrics.Metrics
}

// NewRelay creates a Relay dialing plain TCP.
// The metrics parameter is optional; pass nil to disable tunnel metrics.
func NewRelay(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *Relay {
	return &Relay{
		dialer:         &transport.TCPDialer{},
		connectTimeout: cfg.Tunnel.ConnectTimeout(),
		defaultPort:    cfg.Tunnel.DefaultPort,
		logger:         logger.With("component", "tunnel"),
		metrics:        m,
	}
}

// SplitTarget normalizes target to host:port, applying defaultPort when the
// target carries none. A leading scheme is tolerated and ignored.
func SplitTarget(target string, defaultPort int) (string, error) {
	target = strings.TrimSpace(target)
	if strings.Contains(target, "://") {
		u, err := url.Parse(target)
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrBadTarget, err)
		}
		target = u.Host
	}
	if target == "" {
		return "", ErrBadTarget
	}

	if ip := net.ParseIP(target); ip != nil {
		return net.JoinHostPort(target, strconv.Itoa(defaultPort)), nil
	}
	host, port, err := net.SplitHostPort(target)
	if err != nil {
		// No port component.
		host, port = strings.TrimSuffix(strings.TrimPrefix(target, "["), "]"), ""
	}
	if host == "" {
		return "", ErrBadTarget
	}
	if port == "" {
		port = strconv.Itoa(defaultPort)
	}
	if n, err := strconv.Atoi(port); err != nil || n <= 0 || n > 65535 {
		return "", fmt.Errorf("%w: invalid port %q", ErrBadTarget, port)
	}
	return net.JoinHostPort(host, port), nil
}

// Open dials target within the connect timeout. The returned Tunnel is
// Established; call Serve to acknowledge and relay.
func (r *Relay) Open(ctx context.Context, target string) (*Tunnel, error) {
	addr, err := SplitTarget(target, r.defaultPort)
	if err != nil {
		return nil, err
	}

	t := &Tunnel{
		target:  addr,
		logger:  r.logger.With("target", addr),
		metrics: r.metrics,
	}
	t.state.Store(int32(Connecting))

	dialCtx, cancel := context.WithTimeout(ctx, r.connectTimeout)
	defer cancel()

	conn, err := r.dialer.DialStream(dialCtx, addr)
	if err != nil {
		t.state.Store(int32(Closed))
		if isTimeout(err) || errors.Is(dialCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s", ErrTimeout, addr)
		}
		return nil, fmt.Errorf("%w: %w", ErrConnectFailure, err)
	}

	t.upstream = conn
	t.state.Store(int32(Established))
	t.logger.Debug("tunnel established")
	return t, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// Tunnel pairs a caller connection with a target connection.
type Tunnel struct {
	target   string
	upstream transport.StreamConn
	caller   net.Conn

	state     atomic.Int32
	closeOnce sync.Once

	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Target returns the dialed host:port.
func (t *Tunnel) Target() string { return t.target }

// State returns the current state.
func (t *Tunnel) State() State { return State(t.state.Load()) }

// Serve writes the tunnel-established status line to caller and relays bytes
// in both directions until either side closes or errors. Bytes the caller
// already sent past the request are taken from buffered when it is non-nil.
// Both connections are closed when Serve returns.
func (t *Tunnel) Serve(caller net.Conn, buffered *bufio.ReadWriter) error {
	t.caller = caller
	defer t.Close()

	// The HTTP server may have left deadlines on the hijacked connection.
	_ = caller.SetDeadline(time.Time{})

	var w io.Writer = caller
	var src io.Reader = caller
	if buffered != nil {
		w = buffered.Writer
		src = buffered.Reader
	}
	if err := writeEstablished(w); err != nil {
		return fmt.Errorf("write tunnel acknowledgement: %w", err)
	}
	if buffered != nil {
		if err := buffered.Writer.Flush(); err != nil {
			return fmt.Errorf("write tunnel acknowledgement: %w", err)
		}
	}

	t.state.Store(int32(Relaying))
	if t.metrics != nil {
		t.metrics.TunnelsActive.Inc()
		defer t.metrics.TunnelsActive.Dec()
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		n, _ := io.Copy(t.upstream, src)
		t.count("upstream", n)
		t.Close()
	}()
	go func() {
		defer wg.Done()
		n, _ := io.Copy(caller, t.upstream)
		t.count("downstream", n)
		t.Close()
	}()
	wg.Wait()

	t.logger.Debug("tunnel closed")
	return nil
}

// Close tears down both connections. It is safe to call more than once and
// from either relay direction; the teardown runs once.
func (t *Tunnel) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.state.Store(int32(Closed))
		if t.upstream != nil {
			err = t.upstream.Close()
		}
		if t.caller != nil {
			_ = t.caller.Close()
		}
	})
	return err
}

func (t *Tunnel) count(direction string, n int64) {
	if t.metrics != nil && n > 0 {
		t.metrics.TunnelBytes.WithLabelValues(direction).Add(float64(n))
	}
}

func writeEstablished(w io.Writer) error {
	keys := make([]string, 0, len(model.CORSHeaders))
	for k := range model.CORSHeaders {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("HTTP/1.1 200 Connection Established\r\n")
	for _, k := range keys {
		b.WriteString(k + ": " + model.CORSHeaders[k] + "\r\n")
	}
	b.WriteString("\r\n")
	_, err := io.WriteString(w, b.String())
	return err
}
