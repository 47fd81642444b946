// Package websocket implements a client-side RFC 6455 WebSocket engine:
// an explicit connection lifecycle state machine (Disconnected ->
// Handshaking -> Connected) driven by a single-threaded event loop, with
// automatic ping/pong, configurable keepalive, and an optional
// reconnect policy left entirely to the [Handler].
package websocket

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/rs/zerolog"

	applog "github.com/halvorsen/wsengine/internal/logger"
)

// engineState is the connection lifecycle state of spec section 4.5.
type engineState int

const (
	stateDisconnected engineState = iota
	stateHandshaking
	stateConnected
)

func (s engineState) String() string {
	switch s {
	case stateDisconnected:
		return "disconnected"
	case stateHandshaking:
		return "handshaking"
	case stateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

type commandKind int

const (
	cmdConnect commandKind = iota
	cmdSend
	cmdCast
	cmdNotify
	cmdStop
)

type command struct {
	kind  commandKind
	frame Frame
	msg   any
	reply chan error
}

// Engine is the state-machine-driven coordinator that owns the socket,
// timers, and handler state for one logical WebSocket connection, per
// spec section 2's Connection Engine / FSM component. All mutable state
// below the "loop-owned state" marker is touched only by [Engine.run]'s
// goroutine; callers interact exclusively through commands and replies.
type Engine[S any] struct {
	id      string
	logger  zerolog.Logger
	handler Handler[S]
	target  Target
	opts    startOptions

	commands chan command
	done     chan struct{}
	stopOnce sync.Once

	// Loop-owned state.
	state          engineState
	userState      S
	transport      Transport
	transportEvts  <-chan TransportEvent
	reqCtx         *RequestContext
	readBuf        []byte
	keepalive      *keepaliveState
	reconnectTimer *cancellableTimer
	pendingConnect chan error
	terminate      bool
}

// Start parses rawURL, runs handler.Init, and launches the engine's event
// loop, per spec section 4.4's start operation.
func Start[S any](ctx context.Context, rawURL string, handler Handler[S], handlerArgs any, opts ...Option) (*Engine[S], error) {
	target, err := ParseTarget(rawURL)
	if err != nil {
		return nil, err
	}

	o := defaultStartOptions()
	for _, opt := range opts {
		opt(&o)
	}

	id := shortuuid.New()
	l := applog.FromContext(ctx).With().Str("engine_id", id).Logger()

	init := handler.Init(handlerArgs)

	e := &Engine[S]{
		id:             id,
		logger:         l,
		handler:        handler,
		target:         target,
		opts:           o,
		commands:       make(chan command, 8),
		done:           make(chan struct{}),
		state:          stateDisconnected,
		userState:      init.State,
		keepalive:      newKeepaliveState(o.keepaliveMS, o.keepaliveMaxAttempts),
		reconnectTimer: newCancellableTimer(),
	}

	go e.run()

	if init.kind == kindOnce || init.kind == kindReconnect {
		e.connectAsync()
	}

	return e, nil
}

// connectAsync enqueues a connect attempt without waiting for its outcome.
func (e *Engine[S]) connectAsync() {
	select {
	case e.commands <- command{kind: cmdConnect}:
	case <-e.done:
	}
}

// Connect requests a connect attempt and blocks until this specific
// attempt concludes, returning its actual outcome: nil once Connected, or
// the error that sent the engine back to Disconnected. Spec section 9's
// open question (a) calls the source's blanket "ok" return a bug; this is
// the fix.
func (e *Engine[S]) Connect(ctx context.Context) error {
	reply := make(chan error, 1)
	select {
	case e.commands <- command{kind: cmdConnect, reply: reply}:
	case <-e.done:
		return &Error{Kind: KindTransportIO, Reason: "engine stopped"}
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return &Error{Kind: KindTransportIO, Reason: "engine stopped"}
	}
}

// Send writes frame synchronously. It only succeeds while Connected;
// otherwise it returns an [Error] of kind [KindTransportIO] with reason
// "disconnected", per spec section 4.4's send operation.
func (e *Engine[S]) Send(frame Frame) error {
	reply := make(chan error, 1)
	select {
	case e.commands <- command{kind: cmdSend, frame: frame, reply: reply}:
	case <-e.done:
		return disconnected
	}
	select {
	case err := <-reply:
		return err
	case <-e.done:
		return disconnected
	}
}

// Cast enqueues frame for sending without waiting for the outcome; it's
// dropped silently if the engine isn't Connected, per spec section 4.4's
// cast operation.
func (e *Engine[S]) Cast(frame Frame) {
	select {
	case e.commands <- command{kind: cmdCast, frame: frame}:
	case <-e.done:
	}
}

// Notify delivers msg to [Handler.OnExternalMessage], bypassing the wire
// entirely. It's ignored while not Connected, per spec section 4.5's
// "external message" row and section 7's "ignore unknown event" clauses.
func (e *Engine[S]) Notify(msg any) {
	select {
	case e.commands <- command{kind: cmdNotify, msg: msg}:
	case <-e.done:
	}
}

// Stop tears down any open connection, invokes [Handler.OnTerminate], and
// shuts the engine down for good. It blocks until the event loop has exited.
func (e *Engine[S]) Stop() {
	e.stopOnce.Do(func() {
		select {
		case e.commands <- command{kind: cmdStop}:
		case <-e.done:
		}
	})
	<-e.done
}

// run is the engine's single-threaded cooperative event loop, per spec
// section 5's concurrency model: all state above is mutated only here.
func (e *Engine[S]) run() {
	defer close(e.done)

	for {
		select {
		case cmd := <-e.commands:
			e.handleCommand(cmd)
		case evt, ok := <-e.transportEvts:
			if !ok {
				e.transportEvts = nil
				continue
			}
			e.handleTransportEvent(evt)
		case tick := <-e.keepalive.timer.c:
			e.handleKeepaliveTick(tick)
		case tick := <-e.reconnectTimer.c:
			e.handleReconnectTick(tick)
		}

		if e.terminate {
			return
		}
	}
}

func (e *Engine[S]) handleCommand(cmd command) {
	switch cmd.kind {
	case cmdStop:
		e.handleStop()
	case cmdConnect:
		e.handleConnect(cmd.reply)
	case cmdSend:
		cmd.reply <- e.handleSend(cmd.frame, true)
	case cmdCast:
		_ = e.handleSend(cmd.frame, false)
	case cmdNotify:
		e.handleNotify(cmd.msg)
	}
}

func (e *Engine[S]) handleStop() {
	reason := &Error{Kind: KindRemoteClosed, Reason: "stopped by caller"}
	if e.state != stateDisconnected {
		e.initiateClose(StatusGoingAway, nil)
	}
	e.handler.OnTerminate(reason, e.reqCtx, e.userState)
	e.finalize()
}

// finalize tears down any remaining resources and marks the loop to exit
// after the current iteration.
func (e *Engine[S]) finalize() {
	e.keepalive.cancel()
	e.reconnectTimer.Cancel()
	if e.transport != nil {
		_ = e.transport.Close()
		e.transport = nil
	}
	e.terminate = true
}

func (e *Engine[S]) connectTimeout() time.Duration {
	if e.opts.connectTimeout > 0 {
		return e.opts.connectTimeout
	}
	return DefaultConnectTimeout
}

// handleConnect implements the Disconnected "connect" command transition
// of spec section 4.5, plus the actual-outcome bugfix of section 9's open
// question (a).
func (e *Engine[S]) handleConnect(reply chan error) {
	e.reconnectTimer.Cancel() // maybe_cancel_reconnect, per spec section 4.6.

	if e.state != stateDisconnected {
		if reply != nil {
			reply <- &Error{Kind: KindTransportIO, Reason: "connect already in progress or connected"}
		}
		return
	}

	nonce, err := GenerateNonce(rand.Reader)
	if err != nil {
		e.failConnect(reply, &Error{Kind: KindURLInvalid, Err: err})
		return
	}

	transport := e.opts.transportFactory()
	dialCtx, cancel := context.WithTimeout(context.Background(), e.connectTimeout())
	defer cancel()

	dialOpts := TransportDialOptions{TLSConfig: e.opts.tlsConfig, ConnectTimeout: e.connectTimeout()}
	if err := transport.Connect(dialCtx, e.target, dialOpts); err != nil {
		e.failConnect(reply, &Error{Kind: KindTransportConnect, Err: err})
		return
	}

	reqBytes, err := BuildHandshakeRequest(e.target, nonce, e.opts.extraHeaders, e.opts.subprotocols)
	if err != nil {
		_ = transport.Close()
		e.failConnect(reply, &Error{Kind: KindHandshakeRejected, Err: err})
		return
	}
	if err := transport.Send(reqBytes); err != nil {
		_ = transport.Close()
		e.failConnect(reply, &Error{Kind: KindTransportIO, Err: err})
		return
	}

	e.transport = transport
	e.transportEvts = transport.Events()
	e.reqCtx = newRequestContext(e.target, nonce, e.opts.keepaliveMS, e.opts.keepaliveMaxAttempts)
	e.readBuf = nil
	e.pendingConnect = reply
	e.state = stateHandshaking
	e.keepalive = newKeepaliveState(e.opts.keepaliveMS, e.opts.keepaliveMaxAttempts)
	e.keepalive.arm()

	e.logger.Debug().Str("state", e.state.String()).Msg("WebSocket connect attempt started")
}

// failConnect reports an immediate connect failure (before a socket was
// ever handed to the Handshaking state) to any waiting caller and then
// runs the normal disconnect subprotocol so [Handler.OnDisconnect]
// decides whether to retry.
func (e *Engine[S]) failConnect(reply chan error, reason error) {
	if reply != nil {
		reply <- reason
	}
	e.disconnectConnection(reason)
}

// disconnectConnection implements spec section 4.6's disconnect
// subprotocol: cancel the keepalive timer, close the socket, clear the
// partial-read buffer, then invoke ondisconnect and apply its directive.
func (e *Engine[S]) disconnectConnection(reason error) {
	e.keepalive.cancel()
	if e.transport != nil {
		_ = e.transport.Close()
		e.transport = nil
	}
	e.transportEvts = nil
	e.readBuf = nil
	reqCtx := e.reqCtx
	e.reqCtx = nil
	e.state = stateDisconnected

	pending := e.pendingConnect
	e.pendingConnect = nil
	if pending != nil {
		pending <- reason
	}

	e.logger.Debug().Str("state", e.state.String()).Err(reason).Msg("WebSocket connection lost")

	directive := e.handler.OnDisconnect(reason, e.userState)
	e.userState = directive.State

	switch directive.kind {
	case kindReconnect:
		// Enqueued rather than called directly: a transport that fails
		// synchronously (e.g. connection refused) would otherwise drive
		// disconnectConnection -> handleConnect -> failConnect ->
		// disconnectConnection into an unbounded same-goroutine recursion.
		// Routing through the command channel gives every attempt its
		// own bounded event-loop iteration instead.
		e.connectAsync()
	case kindReconnectAfter:
		e.reconnectTimer.Arm(time.Duration(directive.AfterMS) * time.Millisecond)
	case kindClose:
		e.handler.OnTerminate(directive.CloseError, reqCtx, e.userState)
		e.finalize()
	}
}

func (e *Engine[S]) handleReconnectTick(tick timerTick) {
	if !e.reconnectTimer.Valid(tick) {
		return
	}
	e.handleConnect(nil)
}

// handleKeepaliveTick implements the keepalive-tick rows of spec section
// 4.5: missed-ping accounting and auto-ping re-arming.
func (e *Engine[S]) handleKeepaliveTick(tick timerTick) {
	if !e.keepalive.timer.Valid(tick) {
		return
	}
	if e.state != stateHandshaking && e.state != stateConnected {
		return
	}

	if e.keepalive.tick() {
		e.disconnectConnection(&Error{Kind: KindKeepaliveTimeout, Reason: "keepalive timeout"})
		return
	}

	data, err := EncodeFrameCrypto(OpcodePing, nil)
	if err != nil {
		e.logger.Error().Err(err).Msg("failed to encode keepalive ping")
		return
	}
	if err := e.transport.Send(data); err != nil {
		e.disconnectConnection(&Error{Kind: KindTransportIO, Err: err})
		return
	}
	e.keepalive.arm()
}

func (e *Engine[S]) handleTransportEvent(evt TransportEvent) {
	switch evt.Kind {
	case EventData:
		e.readBuf = append(e.readBuf, evt.Data...)
		switch e.state {
		case stateHandshaking:
			e.processHandshakeBytes()
		case stateConnected:
			e.processFrames()
		}
	case EventClosed:
		e.onTransportEnded(nil)
	case EventError:
		e.onTransportEnded(evt.Err)
	}
}

// onTransportEnded implements the "transport closed/error" rows of spec
// section 4.5: on_terminate is invoked (as an observability hook, per the
// Connected row's literal wording) before the normal disconnect
// subprotocol runs and decides whether to reconnect.
func (e *Engine[S]) onTransportEnded(cause error) {
	var reason error
	if cause != nil {
		reason = &Error{Kind: KindTransportIO, Err: cause}
	} else {
		reason = &Error{Kind: KindRemoteClosed, Reason: "transport closed"}
	}

	if e.state == stateConnected {
		e.handler.OnTerminate(reason, e.reqCtx, e.userState)
	}
	e.disconnectConnection(reason)
}

// processHandshakeBytes implements spec section 4.2's response
// validation and the Handshaking "inbound bytes" row of section 4.5.
func (e *Engine[S]) processHandshakeBytes() {
	result := ParseHandshakeResponse(e.readBuf, e.reqCtx.Nonce, e.opts.subprotocols)
	if !result.Complete {
		return
	}
	if result.Err != nil {
		e.readBuf = nil
		e.disconnectConnection(&Error{Kind: KindHandshakeRejected, Err: result.Err})
		return
	}

	remainder := clone(e.readBuf[result.Consumed:])
	e.readBuf = nil
	e.state = stateConnected
	e.keepalive.resetOnInboundFrame()

	pending := e.pendingConnect
	e.pendingConnect = nil
	replyPending := func(err error) {
		if pending != nil {
			pending <- err
			pending = nil
		}
	}

	directive := e.handler.OnConnect(e.reqCtx, e.userState)
	e.userState = directive.State
	if directive.KeepaliveMS > 0 {
		e.keepalive.intervalMS = directive.KeepaliveMS
	}
	e.keepalive.arm()

	switch directive.kind {
	case kindReply:
		data, err := EncodeFrameCrypto(directive.ReplyFrame.Opcode, directive.ReplyFrame.Payload)
		if err != nil {
			e.logger.Error().Err(err).Msg("failed to encode OnConnect reply frame")
			break
		}
		if err := e.transport.Send(data); err != nil {
			replyPending(nil)
			e.disconnectConnection(&Error{Kind: KindTransportIO, Err: err})
			return
		}
	case kindClose:
		replyPending(nil)
		e.initiateClose(StatusNormalClosure, directive.ClosePayload)
		e.disconnectConnection(&Error{Kind: KindRemoteClosed, Reason: "closed by handler after connect"})
		return
	}

	replyPending(nil)

	if len(remainder) > 0 {
		e.readBuf = remainder
		e.processFrames()
	}
}

// processFrames implements the Connected "inbound bytes" row of spec
// section 4.5: feed the Framer and dispatch each yielded frame.
func (e *Engine[S]) processFrames() {
	for {
		result, rest := e.reqCtx.decoder.Decode(e.readBuf)
		switch result.Outcome {
		case DecodeNeedMore:
			e.readBuf = rest
			return
		case DecodeProtocolError:
			e.readBuf = nil
			e.initiateClose(result.Code, []byte(result.Reason))
			e.disconnectConnection(&Error{Kind: KindProtocolViolation, Status: result.Code, Reason: result.Reason})
			return
		case DecodeFrame:
			e.readBuf = rest
			e.keepalive.resetOnInboundFrame()
			if e.dispatchFrame(result.Frame) {
				return
			}
		}
	}
}

// dispatchFrame implements spec section 4.3's "core auto-responds to
// inbound ping with a pong... the handler still sees the ping" and the
// close-frame echo-and-disconnect rule. It reports whether the engine
// left Connected while handling the frame (so the caller must stop
// consuming e.readBuf, which has already been cleared/replaced).
func (e *Engine[S]) dispatchFrame(frame Frame) (stopped bool) {
	switch frame.Opcode {
	case OpcodePing:
		pong, err := EncodeFrameCrypto(OpcodePong, frame.Payload)
		if err == nil {
			if err := e.transport.Send(pong); err != nil {
				e.disconnectConnection(&Error{Kind: KindTransportIO, Err: err})
				return true
			}
		}
		return e.invokeOnFrame(frame)
	case OpcodeClose:
		status, reason := ParseClosePayload(frame.Payload)
		e.initiateClose(status, []byte(reason))
		e.disconnectConnection(&Error{Kind: KindRemoteClosed, Status: status, Reason: reason})
		return true
	default:
		return e.invokeOnFrame(frame)
	}
}

func (e *Engine[S]) invokeOnFrame(frame Frame) (stopped bool) {
	directive, panicErr := e.safeOnFrame(frame)
	if panicErr != nil {
		e.handlePanic(panicErr)
		return true
	}
	return e.applyFrameDirective(directive)
}

func (e *Engine[S]) safeOnFrame(frame Frame) (d FrameDirective[S], panicErr error) {
	defer func() {
		if r := recover(); r != nil {
			panicErr = fmt.Errorf("handler panic in OnFrame: %v", r)
		}
	}()
	d = e.handler.OnFrame(frame, e.reqCtx, e.userState)
	return d, nil
}

func (e *Engine[S]) handleNotify(msg any) {
	if e.state != stateConnected {
		return // Ignore unknown event in Disconnected/Handshaking, per spec section 7.
	}

	directive, panicErr := e.safeOnExternalMessage(msg)
	if panicErr != nil {
		e.handlePanic(panicErr)
		return
	}
	e.applyFrameDirective(directive)
}

func (e *Engine[S]) safeOnExternalMessage(msg any) (d FrameDirective[S], panicErr error) {
	defer func() {
		if r := recover(); r != nil {
			panicErr = fmt.Errorf("handler panic in OnExternalMessage: %v", r)
		}
	}()
	d = e.handler.OnExternalMessage(msg, e.reqCtx, e.userState)
	return d, nil
}

// applyFrameDirective is shared by invokeOnFrame and handleNotify, since
// [Handler.OnFrame] and [Handler.OnExternalMessage] share a directive
// vocabulary.
func (e *Engine[S]) applyFrameDirective(directive FrameDirective[S]) (stopped bool) {
	e.userState = directive.State
	switch directive.kind {
	case kindReply:
		data, err := EncodeFrameCrypto(directive.ReplyFrame.Opcode, directive.ReplyFrame.Payload)
		if err != nil {
			e.logger.Error().Err(err).Msg("failed to encode handler reply frame")
			return false
		}
		if err := e.transport.Send(data); err != nil {
			e.disconnectConnection(&Error{Kind: KindTransportIO, Err: err})
			return true
		}
	case kindClose:
		e.initiateClose(StatusNormalClosure, directive.ClosePayload)
		e.disconnectConnection(&Error{Kind: KindRemoteClosed, Reason: "closed by handler"})
		return true
	}
	return false
}

// handlePanic implements spec section 7's "Handler exceptions in
// on_frame/on_external_message ⇒ log a structured record..., invoke
// on_terminate..., stop the engine."
func (e *Engine[S]) handlePanic(panicErr error) {
	reason := &Error{Kind: KindHandlerFailure, HandlerID: e.id, Err: panicErr}
	e.logger.Error().Str("handler_id", e.id).Err(panicErr).Msg("handler callback panicked")
	e.handler.OnTerminate(reason, e.reqCtx, e.userState)
	e.finalize()
}

// initiateClose best-effort sends a close control frame; failures are
// ignored since the caller always tears the connection down right after.
func (e *Engine[S]) initiateClose(status StatusCode, reason []byte) {
	if e.transport == nil {
		return
	}
	payload := EncodeClosePayload(status, string(reason))
	data, err := EncodeFrameCrypto(OpcodeClose, payload)
	if err != nil {
		return
	}
	_ = e.transport.Send(data)
}

// handleSend implements the Connected "send/cast" row of spec section
// 4.5 and the Disconnected "send/cast" row's error contract.
func (e *Engine[S]) handleSend(frame Frame, synchronous bool) error {
	if e.state != stateConnected {
		if synchronous {
			return disconnected
		}
		return nil
	}

	data, err := EncodeFrameCrypto(frame.Opcode, frame.Payload)
	if err != nil {
		return err
	}
	if err := e.transport.Send(data); err != nil {
		wrapped := &Error{Kind: KindTransportIO, Err: err}
		e.disconnectConnection(wrapped)
		if synchronous {
			return wrapped
		}
	}
	return nil
}
