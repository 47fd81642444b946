package websocket

// Handler is the callback surface user code implements to drive an
// [Engine]: six callbacks. Init builds the initial user-state; the others
// receive the current user-state (opaque to the engine), and all of them
// except OnTerminate return a directive carrying the new state.
// The state is never aliased: the engine holds exactly one copy and
// swaps it for whatever each callback returns.
type Handler[S any] interface {
	// Init is called once, synchronously, from [Start]. args is the
	// opaque handlerArgs value passed to [Start].
	Init(args any) InitDirective[S]

	// OnConnect is called once the handshake has succeeded and the
	// engine has transitioned to Connected.
	OnConnect(ctx *RequestContext, state S) ConnectDirective[S]

	// OnDisconnect is called on every transition into Disconnected,
	// after the socket has been closed and the keepalive timer cancelled.
	OnDisconnect(reason error, state S) DisconnectDirective[S]

	// OnFrame is called for every frame yielded by the [Decoder] except
	// close frames, including ping and pong (the engine has already
	// auto-ponged any inbound ping before this is invoked). A close frame
	// is echoed by the engine and reported through OnDisconnect instead.
	OnFrame(frame Frame, ctx *RequestContext, state S) FrameDirective[S]

	// OnExternalMessage is called when a message passed to [Engine.Notify]
	// reaches the event loop while Connected, outside of any frame; its
	// allowed directives mirror OnFrame's.
	OnExternalMessage(msg any, ctx *RequestContext, state S) FrameDirective[S]

	// OnTerminate is invoked as the engine is about to stop for good
	// ([Engine.Stop], a [DisconnectClose] directive, or a panicking
	// callback). It is also invoked when the transport closes or fails
	// while Connected, just before OnDisconnect; in that case the engine
	// keeps running and may reconnect. It has no return value: side
	// effects only.
	OnTerminate(reason error, ctx *RequestContext, state S)
}

// directiveKind is shared plumbing across the four directive families
// below; callers never see it directly, only the typed constructors.
type directiveKind int

const (
	kindOk directiveKind = iota
	kindOnce
	kindReconnect
	kindReconnectAfter
	kindReply
	kindClose
)

// InitDirective is returned from [Handler.Init].
type InitDirective[S any] struct {
	kind  directiveKind
	State S
}

// InitOk starts the engine disconnected; the caller must invoke
// [Engine.Connect] explicitly to attempt a connection.
func InitOk[S any](state S) InitDirective[S] {
	return InitDirective[S]{kind: kindOk, State: state}
}

// InitOnce makes [Start] enqueue one connect attempt immediately. A failed
// attempt is handled exactly as with [InitReconnect]: InitOnce does not by
// itself keep the engine Disconnected, and the engine retries whenever
// [Handler.OnDisconnect] returns a reconnect directive.
func InitOnce[S any](state S) InitDirective[S] {
	return InitDirective[S]{kind: kindOnce, State: state}
}

// InitReconnect attempts a connect immediately and keeps reconnecting
// according to [Handler.OnDisconnect]'s directives on failure.
func InitReconnect[S any](state S) InitDirective[S] {
	return InitDirective[S]{kind: kindReconnect, State: state}
}

// ConnectDirective is returned from [Handler.OnConnect].
type ConnectDirective[S any] struct {
	kind         directiveKind
	State        S
	KeepaliveMS  int
	ReplyFrame   Frame
	ClosePayload []byte
}

// ConnectOk keeps the negotiated keepalive interval unchanged.
func ConnectOk[S any](state S) ConnectDirective[S] {
	return ConnectDirective[S]{kind: kindOk, State: state}
}

// ConnectOkWithKeepalive overrides the keepalive interval (in
// milliseconds) for the lifetime of this connection.
func ConnectOkWithKeepalive[S any](state S, keepaliveMS int) ConnectDirective[S] {
	return ConnectDirective[S]{kind: kindOk, State: state, KeepaliveMS: keepaliveMS}
}

// ConnectReply sends frame to the server immediately after OnConnect returns.
func ConnectReply[S any](frame Frame, state S) ConnectDirective[S] {
	return ConnectDirective[S]{kind: kindReply, State: state, ReplyFrame: frame}
}

// ConnectClose sends a close frame with status [StatusNormalClosure] and
// payload as its reason text (truncated to fit a control frame), and
// begins disconnecting.
func ConnectClose[S any](payload []byte, state S) ConnectDirective[S] {
	return ConnectDirective[S]{kind: kindClose, State: state, ClosePayload: payload}
}

// DisconnectDirective is returned from [Handler.OnDisconnect].
type DisconnectDirective[S any] struct {
	kind       directiveKind
	State      S
	AfterMS    int
	CloseError error
}

// DisconnectOk stays Disconnected; no reconnect is scheduled.
func DisconnectOk[S any](state S) DisconnectDirective[S] {
	return DisconnectDirective[S]{kind: kindOk, State: state}
}

// DisconnectReconnect attempts a new connect immediately.
func DisconnectReconnect[S any](state S) DisconnectDirective[S] {
	return DisconnectDirective[S]{kind: kindReconnect, State: state}
}

// DisconnectReconnectAfter arms a cancellable timer and attempts a new
// connect once it fires, per spec section 4.6's reconnect-timer handling.
func DisconnectReconnectAfter[S any](afterMS int, state S) DisconnectDirective[S] {
	return DisconnectDirective[S]{kind: kindReconnectAfter, State: state, AfterMS: afterMS}
}

// DisconnectClose terminates the engine for good; [Handler.OnTerminate]
// is invoked with reason.
func DisconnectClose[S any](reason error, state S) DisconnectDirective[S] {
	return DisconnectDirective[S]{kind: kindClose, State: state, CloseError: reason}
}

// FrameDirective is returned from [Handler.OnFrame] and
// [Handler.OnExternalMessage].
type FrameDirective[S any] struct {
	kind         directiveKind
	State        S
	ReplyFrame   Frame
	ClosePayload []byte
}

// FrameOk leaves the connection open with no reply.
func FrameOk[S any](state S) FrameDirective[S] {
	return FrameDirective[S]{kind: kindOk, State: state}
}

// FrameReply sends frame to the server, serialized before the next
// inbound frame is processed, per spec section 5's ordering guarantees.
func FrameReply[S any](frame Frame, state S) FrameDirective[S] {
	return FrameDirective[S]{kind: kindReply, State: state, ReplyFrame: frame}
}

// FrameClose sends a close frame with status [StatusNormalClosure] and
// payload as its reason text (truncated to fit a control frame), and
// begins disconnecting.
func FrameClose[S any](payload []byte, state S) FrameDirective[S] {
	return FrameDirective[S]{kind: kindClose, State: state, ClosePayload: payload}
}
