package websocket

import "fmt"

// Kind classifies an [Error] returned or surfaced to a [Handler], per the
// error-kind vocabulary this engine exposes to callers.
type Kind int

const (
	// KindURLInvalid means the target URL could not be parsed, or used a
	// scheme other than "ws"/"wss".
	KindURLInvalid Kind = iota
	// KindTransportConnect means the transport failed to establish a
	// socket to the target (DNS, TCP connect, or TLS handshake failure).
	KindTransportConnect
	// KindTransportIO means a transport read or write failed, or an
	// operation needed a state the engine was not in: [Engine.Send] while
	// not Connected, [Engine.Connect] while not Disconnected, or any call
	// on a stopped engine.
	KindTransportIO
	// KindHandshakeRejected means the server's HTTP response to the
	// Upgrade request was not a valid 101 Switching Protocols response.
	KindHandshakeRejected
	// KindProtocolViolation means an inbound frame violated RFC 6455
	// framing rules; the connection is failed with a close code.
	KindProtocolViolation
	// KindKeepaliveTimeout means the server did not respond to
	// keepalive pings within the configured number of attempts.
	KindKeepaliveTimeout
	// KindRemoteClosed means the connection was closed: by a close frame
	// from the server, by the transport closing, by a handler Close
	// directive, or by [Engine.Stop]. Reason tells these apart.
	KindRemoteClosed
	// KindHandlerFailure means a [Handler] callback panicked.
	KindHandlerFailure
)

// String returns a short, human-readable name for k.
func (k Kind) String() string {
	switch k {
	case KindURLInvalid:
		return "url_invalid"
	case KindTransportConnect:
		return "transport_connect"
	case KindTransportIO:
		return "transport_io"
	case KindHandshakeRejected:
		return "handshake_rejected"
	case KindProtocolViolation:
		return "protocol_violation"
	case KindKeepaliveTimeout:
		return "keepalive_timeout"
	case KindRemoteClosed:
		return "remote_closed"
	case KindHandlerFailure:
		return "handler_failure"
	default:
		return "unknown"
	}
}

// Error is the typed error surfaced to callers and handed to
// [Handler.OnDisconnect]/[Handler.OnTerminate], carrying the [Kind] of
// failure plus any protocol-specific detail (close status code, handler
// identifier) and the underlying cause, if any.
type Error struct {
	Kind Kind

	// Status is set when Kind is [KindProtocolViolation] or
	// [KindRemoteClosed]: the close status code involved.
	Status StatusCode
	// Reason is a human-readable detail: the close reason text, the
	// handshake rejection reason, etc.
	Reason string
	// HandlerID identifies the engine whose handler failed, set when
	// Kind is [KindHandlerFailure].
	HandlerID string

	Err error
}

// Error implements the standard error interface.
func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Reason != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Reason)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %s", msg, e.Err)
	}
	return msg
}

// Unwrap exposes the underlying cause, if any, for use with [errors.Is]/[errors.As].
func (e *Error) Unwrap() error {
	return e.Err
}

// disconnected is returned by [Engine.Send] when called while the engine
// is not in the Connected state, per spec section 4.4's send operation.
var disconnected = &Error{Kind: KindTransportIO, Reason: "disconnected"}
