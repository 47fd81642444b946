package websocket

import (
	"context"
	"crypto/tls"
	"time"
)

// DefaultConnectTimeout is the connect-attempt upper bound applied when no
// [WithConnectTimeout] option overrides it, per spec section 5's "bounded
// blocking transport connect with a 6-second upper bound".
const DefaultConnectTimeout = 6 * time.Second

// TransportDialOptions carries what a [Transport] needs to open a socket
// to a [Target]: the TLS configuration for "wss" targets and the upper
// bound on how long Connect may block.
type TransportDialOptions struct {
	TLSConfig      *tls.Config // Nil for plain "ws" targets.
	ConnectTimeout time.Duration
}

// TransportEventKind classifies a [TransportEvent].
type TransportEventKind int

const (
	// EventData means Data carries bytes newly received from the peer.
	EventData TransportEventKind = iota
	// EventClosed means the peer closed the connection in an orderly fashion.
	EventClosed
	// EventError means a read or write failed; Err carries the cause.
	EventError
)

// TransportEvent is one inbound occurrence on an open [Transport], per
// spec section 6's "{data, socket, bytes}", "{closed, socket}",
// "{error, socket, reason}" event stream.
type TransportEvent struct {
	Kind TransportEventKind
	Data []byte
	Err  error
}

// Transport is the abstract byte-stream capability contract the engine
// depends on, deliberately decoupled from any concrete TCP/TLS
// implementation, per spec section 1's "Deliberately OUT OF SCOPE:
// Concrete TCP/TLS transport".
//
// Connect must block for at most opts.ConnectTimeout (or ctx's deadline,
// whichever is sooner). Once Connect returns successfully, the engine
// reads from Events until either a Closed/Error event arrives or it calls
// Close itself. Events may stay open after the final event; the engine
// also copes with an implementation that closes it.
type Transport interface {
	Connect(ctx context.Context, target Target, opts TransportDialOptions) error
	Send(b []byte) error
	Close() error
	Events() <-chan TransportEvent
}
