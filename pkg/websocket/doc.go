// Package websocket is a client-only implementation of the WebSocket
// protocol (RFC 6455), built around an explicit connection lifecycle
// state machine rather than a bare read/write socket wrapper.
//
// [Engine] owns exactly one logical connection at a time and drives it
// through Disconnected, Handshaking, and Connected states on a single
// goroutine. Callers never touch sockets or wire-level encoding directly:
// they exchange logical [Frame] values with the engine and implement
// [Handler], whose callbacks receive the engine's opaque, generic user
// state and return a directive describing what the engine should do next
// (stay put, reply, close, reconnect...). This mirrors an Erlang/OTP
// gen_statem more than a conventional net.Conn, which is deliberate:
// reconnection policy and close handling are driven by directives the
// handler returns, not by options baked into the connection itself.
// Keepalive is configured with [WithKeepalive] and may be overridden for
// one connection by [ConnectOkWithKeepalive].
//
// [Frame] parsing and construction ([Decoder], [EncodeFrame]) are pure
// functions over byte slices, decoupled from any transport. The
// [Transport] interface abstracts the byte stream itself; [NetTransport]
// is the default TCP/TLS-backed implementation, but tests and unusual
// deployments can supply their own via [WithTransport].
//
// WebSocket [extensions] are not supported. [subprotocols] may be
// requested with [WithSubprotocol].
//
// [extensions]: https://www.iana.org/assignments/websocket/websocket.xhtml#extension-name
// [subprotocols]: https://www.iana.org/assignments/websocket/websocket.xhtml#subprotocol-name
package websocket
