package websocket

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

// fakeTransport is an in-memory [Transport] double: Send appends to
// sent, and test code drives inbound events by pushing through push.
// Each Connect call hands out a fresh events channel, mirroring how a
// real per-attempt socket would behave across a reconnect.
type fakeTransport struct {
	mu       sync.Mutex
	sent     [][]byte
	evts     chan TransportEvent
	closed   bool
	connErr  error
	connArgs struct {
		target Target
		opts   TransportDialOptions
	}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{evts: make(chan TransportEvent, 32)}
}

func (f *fakeTransport) Connect(_ context.Context, target Target, opts TransportDialOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connArgs.target = target
	f.connArgs.opts = opts
	f.evts = make(chan TransportEvent, 32)
	f.closed = false
	return f.connErr
}

func (f *fakeTransport) Send(b []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]byte, len(b))
	copy(cp, b)
	f.sent = append(f.sent, cp)
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) Events() <-chan TransportEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.evts
}

// push sends evt on whichever events channel is currently live.
func (f *fakeTransport) push(evt TransportEvent) {
	f.mu.Lock()
	c := f.evts
	f.mu.Unlock()
	c <- evt
}

func (f *fakeTransport) lastSent() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return nil
	}
	return f.sent[len(f.sent)-1]
}

func (f *fakeTransport) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// recordingHandler counts callback invocations and lets each test
// customize directives via function fields.
type recordingHandler struct {
	mu             sync.Mutex
	connectCount   int
	disconnectCnt  int
	frameCount     int
	terminateCount int
	lastFrame      Frame
	lastReason     error

	onConnect    func(ctx *RequestContext, state int) ConnectDirective[int]
	onDisconnect func(reason error, state int) DisconnectDirective[int]
	onFrame      func(frame Frame, ctx *RequestContext, state int) FrameDirective[int]
}

func (h *recordingHandler) Init(_ any) InitDirective[int] {
	return InitOk(0)
}

func (h *recordingHandler) OnConnect(ctx *RequestContext, state int) ConnectDirective[int] {
	h.mu.Lock()
	h.connectCount++
	h.mu.Unlock()
	if h.onConnect != nil {
		return h.onConnect(ctx, state)
	}
	return ConnectOk(state + 1)
}

func (h *recordingHandler) OnDisconnect(reason error, state int) DisconnectDirective[int] {
	h.mu.Lock()
	h.disconnectCnt++
	h.lastReason = reason
	h.mu.Unlock()
	if h.onDisconnect != nil {
		return h.onDisconnect(reason, state)
	}
	return DisconnectOk(state)
}

func (h *recordingHandler) OnFrame(frame Frame, ctx *RequestContext, state int) FrameDirective[int] {
	h.mu.Lock()
	h.frameCount++
	h.lastFrame = frame
	h.mu.Unlock()
	if h.onFrame != nil {
		return h.onFrame(frame, ctx, state)
	}
	return FrameOk(state)
}

func (h *recordingHandler) OnExternalMessage(_ any, _ *RequestContext, state int) FrameDirective[int] {
	return FrameOk(state)
}

func (h *recordingHandler) OnTerminate(reason error, _ *RequestContext, _ int) {
	h.mu.Lock()
	h.terminateCount++
	h.lastReason = reason
	h.mu.Unlock()
}

func (h *recordingHandler) counts() (connect, disconnect, frame, terminate int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.connectCount, h.disconnectCnt, h.frameCount, h.terminateCount
}

// startTestEngine starts an [Engine] wired to a [fakeTransport] and
// drives its handshake to completion, returning both for further testing.
func startTestEngine(t *testing.T, handler Handler[int]) (*Engine[int], *fakeTransport) {
	t.Helper()

	ft := newFakeTransport()
	e, err := Start(t.Context(), "ws://example.com/chat", handler, nil,
		WithTransport(ft), WithConnectTimeout(time.Second))
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(e.Stop)

	connectDone := make(chan error, 1)
	go func() { connectDone <- e.Connect(t.Context()) }()

	// Let handleConnect run and send the handshake request.
	waitForCondition(t, func() bool { return ft.sentCount() >= 1 })

	nonce := extractNonce(t, ft.lastSent())
	resp := "HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: " + ExpectedAcceptValue(nonce) + "\r\n\r\n"
	ft.push(TransportEvent{Kind: EventData, Data: []byte(resp)})

	if err := <-connectDone; err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	return e, ft
}

func extractNonce(t *testing.T, req []byte) string {
	t.Helper()
	const marker = "Sec-Websocket-Key: "
	s := string(req)
	idx := indexOf(s, marker)
	if idx < 0 {
		t.Fatalf("handshake request missing %q:\n%s", marker, s)
	}
	rest := s[idx+len(marker):]
	end := indexOf(rest, "\r\n")
	if end < 0 {
		t.Fatalf("malformed handshake request header:\n%s", s)
	}
	return rest[:end]
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

func waitForCondition(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("timed out waiting for condition")
}

func TestEngineConnectLifecycle(t *testing.T) {
	h := &recordingHandler{}
	startTestEngine(t, h)

	connect, disconnect, _, _ := h.counts()
	if connect != 1 {
		t.Errorf("OnConnect call count = %d, want 1", connect)
	}
	if disconnect != 0 {
		t.Errorf("OnDisconnect call count = %d, want 0", disconnect)
	}
}

func TestEngineConnectRejectsWhileConnected(t *testing.T) {
	h := &recordingHandler{}
	e, _ := startTestEngine(t, h)

	err := e.Connect(t.Context())
	if err == nil {
		t.Error("Connect() while already connected: error = nil, want non-nil")
	}
}

func TestEngineSendAndReceiveFrame(t *testing.T) {
	h := &recordingHandler{}
	e, ft := startTestEngine(t, h)

	if err := e.Send(Frame{Opcode: OpcodeText, Payload: []byte("hello")}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	waitForCondition(t, func() bool { return ft.sentCount() >= 2 })

	encoded, err := EncodeFrameCrypto(OpcodeText, []byte("world"))
	if err != nil {
		t.Fatalf("EncodeFrameCrypto() error = %v", err)
	}
	ft.push(TransportEvent{Kind: EventData, Data: unmaskFrame(t, encoded)})

	waitForCondition(t, func() bool {
		_, _, frame, _ := h.counts()
		return frame >= 1
	})

	h.mu.Lock()
	got := string(h.lastFrame.Payload)
	h.mu.Unlock()
	if got != "world" {
		t.Errorf("OnFrame payload = %q, want %q", got, "world")
	}
}

func TestEngineSendFailsWhileDisconnected(t *testing.T) {
	h := &recordingHandler{}
	ft := newFakeTransport()
	e, err := Start(t.Context(), "ws://example.com/", h, nil, WithTransport(ft))
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer e.Stop()

	if err := e.Send(Frame{Opcode: OpcodeText, Payload: []byte("x")}); err == nil {
		t.Error("Send() while Disconnected: error = nil, want non-nil")
	}
}

func TestEngineAutoPong(t *testing.T) {
	h := &recordingHandler{}
	_, ft := startTestEngine(t, h)

	pingPayload := []byte("keepalive-probe")
	encoded, err := EncodeFrameCrypto(OpcodePing, pingPayload)
	if err != nil {
		t.Fatalf("EncodeFrameCrypto() error = %v", err)
	}

	before := ft.sentCount()
	ft.push(TransportEvent{Kind: EventData, Data: unmaskFrame(t, encoded)})

	waitForCondition(t, func() bool { return ft.sentCount() > before })

	d := &Decoder{}
	result, _ := d.Decode(unmaskFrame(t, ft.lastSent()))
	if result.Outcome != DecodeFrame || result.Frame.Opcode != OpcodePong {
		t.Fatalf("auto-pong frame = %+v, want a pong", result)
	}
	if string(result.Frame.Payload) != string(pingPayload) {
		t.Errorf("auto-pong payload = %q, want %q", result.Frame.Payload, pingPayload)
	}

	waitForCondition(t, func() bool {
		_, _, frame, _ := h.counts()
		return frame >= 1
	})
}

func TestEngineRemoteCloseTriggersDisconnect(t *testing.T) {
	h := &recordingHandler{}
	_, ft := startTestEngine(t, h)

	closePayload := EncodeClosePayload(StatusGoingAway, "bye")
	encoded, err := EncodeFrameCrypto(OpcodeClose, closePayload)
	if err != nil {
		t.Fatalf("EncodeFrameCrypto() error = %v", err)
	}
	ft.push(TransportEvent{Kind: EventData, Data: unmaskFrame(t, encoded)})

	waitForCondition(t, func() bool {
		_, disconnect, _, _ := h.counts()
		return disconnect >= 1
	})

	h.mu.Lock()
	reason := h.lastReason
	h.mu.Unlock()

	wsErr, ok := reason.(*Error)
	if !ok || wsErr.Kind != KindRemoteClosed {
		t.Errorf("OnDisconnect reason = %v, want KindRemoteClosed", reason)
	}
}

func TestEngineDisconnectReconnectDirective(t *testing.T) {
	h := &recordingHandler{
		onDisconnect: func(_ error, state int) DisconnectDirective[int] {
			return DisconnectReconnect(state)
		},
	}

	_, ft := startTestEngine(t, h)

	firstNonce := extractNonce(t, ft.lastSent())

	// Force a transport error: the engine must invoke OnDisconnect, see
	// DisconnectReconnect, and dial again using the same transport
	// instance, with a freshly generated nonce.
	ft.push(TransportEvent{Kind: EventError, Err: fmt.Errorf("connection reset")})

	waitForCondition(t, func() bool {
		_, disconnect, _, _ := h.counts()
		return disconnect >= 1
	})
	waitForCondition(t, func() bool { return ft.sentCount() >= 2 })

	secondNonce := extractNonce(t, ft.lastSent())
	if firstNonce == secondNonce {
		t.Error("reconnect attempt reused the previous handshake nonce")
	}
}

func TestEngineStopInvokesOnTerminate(t *testing.T) {
	h := &recordingHandler{}
	e, _ := startTestEngine(t, h)

	e.Stop()

	_, _, _, terminate := h.counts()
	if terminate != 1 {
		t.Errorf("OnTerminate call count = %d, want 1", terminate)
	}
}

func TestEngineCastSilentlyDroppedWhileDisconnected(t *testing.T) {
	h := &recordingHandler{}
	ft := newFakeTransport()
	e, err := Start(t.Context(), "ws://example.com/", h, nil, WithTransport(ft))
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer e.Stop()

	e.Cast(Frame{Opcode: OpcodeText, Payload: []byte("dropped")})

	time.Sleep(20 * time.Millisecond)
	if ft.sentCount() != 0 {
		t.Errorf("Cast() while Disconnected sent %d frames, want 0", ft.sentCount())
	}
}
