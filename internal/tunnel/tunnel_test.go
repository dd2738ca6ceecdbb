package tunnel

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/Jigsaw-Code/outline-sdk/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRelay(timeout time.Duration) *Relay {
	return &Relay{
		dialer:         &transport.TCPDialer{},
		connectTimeout: timeout,
		defaultPort:    443,
		logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

type blockingDialer struct{}

func (blockingDialer) DialStream(ctx context.Context, _ string) (transport.StreamConn, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestSplitTarget(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"example.com:8443", "example.com:8443", false},
		{"example.com", "example.com:443", false},
		{"https://example.com", "example.com:443", false},
		{"http://example.com:80", "example.com:80", false},
		{"10.0.0.1", "10.0.0.1:443", false},
		{"::1", "[::1]:443", false},
		{"[::1]:22", "[::1]:22", false},
		{"[::1]", "[::1]:443", false},
		{"", "", true},
		{"example.com:0", "", true},
		{"example.com:http", "", true},
		{":443", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := SplitTarget(tt.in, 443)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrBadTarget)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRelay_SplicesBothDirections(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	// Echo server uppercasing what it reads.
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		buf := make([]byte, 3)
		if _, err := io.ReadFull(c, buf); err != nil {
			return
		}
		_, _ = c.Write([]byte(strings.ToUpper(string(buf))))
	}()

	r := testRelay(time.Second)
	tun, err := r.Open(context.Background(), ln.Addr().String())
	require.NoError(t, err)
	assert.Equal(t, Established, tun.State())

	server, client := net.Pipe()
	done := make(chan error, 1)
	go func() { done <- tun.Serve(server, nil) }()

	br := bufio.NewReader(client)
	status, err := br.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "HTTP/1.1 200 Connection Established\r\n", status)
	for {
		line, err := br.ReadString('\n')
		require.NoError(t, err)
		if line == "\r\n" {
			break
		}
		assert.Contains(t, line, "Access-Control-Allow-")
	}

	_, err = client.Write([]byte("abc"))
	require.NoError(t, err)

	got := make([]byte, 3)
	_, err = io.ReadFull(br, got)
	require.NoError(t, err)
	assert.Equal(t, "ABC", string(got))

	// Target closes after replying; the tunnel must tear down the caller side.
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("tunnel did not close after target hung up")
	}
	assert.Equal(t, Closed, tun.State())

	_, err = client.Write([]byte("x"))
	assert.Error(t, err)
}

func TestRelay_ConnectFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	_, err = testRelay(time.Second).Open(context.Background(), addr)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConnectFailure) || errors.Is(err, ErrTimeout), "got %v", err)
}

func TestRelay_Timeout(t *testing.T) {
	r := testRelay(50 * time.Millisecond)
	r.dialer = blockingDialer{}

	start := time.Now()
	_, err := r.Open(context.Background(), "example.com:443")
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), time.Second)
}

func TestRelay_BadTarget(t *testing.T) {
	_, err := testRelay(time.Second).Open(context.Background(), "")
	assert.ErrorIs(t, err, ErrBadTarget)
}

func TestTunnel_CloseIdempotent(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()
	tun := &Tunnel{caller: a, logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	assert.NoError(t, tun.Close())
	assert.NoError(t, tun.Close())
	assert.Equal(t, Closed, tun.State())
}
