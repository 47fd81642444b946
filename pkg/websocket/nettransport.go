package websocket

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
)

// NetTransport is the default [Transport], backed by a plain TCP socket or
// (for "wss" targets) a TLS connection, dialed with [net.Dialer] the way
// the teacher's handshake client dials its HTTP connections.
type NetTransport struct {
	conn   net.Conn
	events chan TransportEvent
	done   chan struct{}

	closeOnce sync.Once
}

// NewNetTransport returns a [Transport] ready to have [Transport.Connect] called on it.
func NewNetTransport() *NetTransport {
	return &NetTransport{events: make(chan TransportEvent, 16), done: make(chan struct{})}
}

// Connect dials target, upgrading to TLS when target.TLS is set, and
// starts the background reader that feeds [NetTransport.Events].
func (t *NetTransport) Connect(ctx context.Context, target Target, opts TransportDialOptions) error {
	timeout := opts.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	addr := net.JoinHostPort(target.Host, strconv.Itoa(target.Port))

	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", addr, err)
	}

	if target.TLS {
		cfg := opts.TLSConfig
		if cfg == nil {
			cfg = &tls.Config{ServerName: target.Host} //nolint:gosec // default verify mode.
		} else if cfg.ServerName == "" {
			c := cfg.Clone()
			c.ServerName = target.Host
			cfg = c
		}

		tlsConn := tls.Client(conn, cfg)
		if err := tlsConn.HandshakeContext(dialCtx); err != nil {
			_ = conn.Close()
			return fmt.Errorf("TLS handshake with %s failed: %w", addr, err)
		}
		conn = tlsConn
	}

	t.conn = conn
	go t.readLoop()

	return nil
}

// readLoop pumps inbound bytes (or the closed/error terminal event) into
// Events until the connection ends. Every send races against done, so a
// caller that stopped draining Events (after [NetTransport.Close], e.g.
// once the engine has finalized) can't strand this goroutine forever.
func (t *NetTransport) readLoop() {
	buf := make([]byte, 4096)
	for {
		n, err := t.conn.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if !t.send(TransportEvent{Kind: EventData, Data: chunk}) {
				return
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				t.send(TransportEvent{Kind: EventClosed})
			} else {
				t.send(TransportEvent{Kind: EventError, Err: err})
			}
			return
		}
	}
}

// send delivers evt to Events, dropping it (and reporting false) if done
// has fired first.
func (t *NetTransport) send(evt TransportEvent) bool {
	select {
	case t.events <- evt:
		return true
	case <-t.done:
		return false
	}
}

// Send writes b to the socket in full.
func (t *NetTransport) Send(b []byte) error {
	if t.conn == nil {
		return errors.New("transport not connected")
	}
	_, err := t.conn.Write(b)
	if err != nil {
		return fmt.Errorf("transport write failed: %w", err)
	}
	return nil
}

// Close closes the underlying socket and unblocks readLoop, if still
// running. Safe to call more than once.
func (t *NetTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		if t.conn != nil {
			err = t.conn.Close()
		}
	})
	return err
}

// Events returns the channel of inbound [TransportEvent]s.
func (t *NetTransport) Events() <-chan TransportEvent {
	return t.events
}
