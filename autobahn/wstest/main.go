// Wstest drives this module's [WebSocket client engine] against the
// fuzzing server of the [Autobahn Testsuite].
//
// [WebSocket client engine]: https://pkg.go.dev/github.com/halvorsen/wsengine/pkg/websocket
// [Autobahn Testsuite]: https://github.com/crossbario/autobahn-testsuite
package main

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/halvorsen/wsengine/pkg/websocket"
)

const (
	baseURL = "ws://127.0.0.1:9001"
	agent   = "wsengine"
)

// echoHandler echoes text/binary frames back to the server and signals
// done once the connection ends, one way or another. done is set by the
// caller before [websocket.Start], not by Init, since Init only controls
// the generic user-state S (kept as struct{} here, unused).
type echoHandler struct {
	done chan struct{}
	once *sync.Once
}

func newEchoHandler() echoHandler {
	return echoHandler{done: make(chan struct{}), once: &sync.Once{}}
}

func (h echoHandler) finish() {
	h.once.Do(func() { close(h.done) })
}

func (h echoHandler) Init(args any) websocket.InitDirective[struct{}] {
	return websocket.InitOk(struct{}{})
}

func (h echoHandler) OnConnect(ctx *websocket.RequestContext, state struct{}) websocket.ConnectDirective[struct{}] {
	return websocket.ConnectOk(state)
}

func (h echoHandler) OnDisconnect(reason error, state struct{}) websocket.DisconnectDirective[struct{}] {
	h.finish()
	return websocket.DisconnectOk(state)
}

func (h echoHandler) OnFrame(frame websocket.Frame, ctx *websocket.RequestContext, state struct{}) websocket.FrameDirective[struct{}] {
	switch frame.Opcode {
	case websocket.OpcodeText, websocket.OpcodeBinary:
		return websocket.FrameReply(frame, state)
	default:
		return websocket.FrameOk(state)
	}
}

func (h echoHandler) OnExternalMessage(msg any, ctx *websocket.RequestContext, state struct{}) websocket.FrameDirective[struct{}] {
	return websocket.FrameOk(state)
}

func (h echoHandler) OnTerminate(reason error, ctx *websocket.RequestContext, state struct{}) {
	h.finish()
}

func main() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	n := getCaseCount()
	log.Info().Int("n", n).Msg("case count")

	// Not implemented by this engine (so excluded in
	// "config/fuzzingserver.json"):
	//   - 6.4.*: fail-fast on invalid UTF-8 frames,
	//   - 12.* and 13.*: WebSocket compression.
	for i := range n {
		runCase(i + 1)
	}

	updateReports()
}

// getCaseCount retrieves the number of enabled test cases from the
// Autobahn fuzzing server, using a single text-message round trip.
func getCaseCount() int {
	ctx := context.Background()
	var result int
	var mu sync.Mutex
	resultCh := make(chan struct{})

	h := countHandler{resultCh: resultCh, n: &result, mu: &mu}
	e, err := websocket.Start[int](ctx, baseURL+"/getCaseCount", h, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("dial error")
	}
	defer e.Stop()

	if err := e.Connect(ctx); err != nil {
		log.Fatal().Err(err).Msg("connect error")
	}

	select {
	case <-resultCh:
	case <-time.After(10 * time.Second):
		log.Fatal().Msg("timed out waiting for case count")
	}

	mu.Lock()
	defer mu.Unlock()
	return result
}

// countHandler reads exactly one text frame (the case count) and signals resultCh.
type countHandler struct {
	resultCh chan struct{}
	n        *int
	mu       *sync.Mutex
}

func (h countHandler) Init(args any) websocket.InitDirective[int] {
	return websocket.InitOk(0)
}

func (h countHandler) OnConnect(ctx *websocket.RequestContext, state int) websocket.ConnectDirective[int] {
	return websocket.ConnectOk(state)
}

func (h countHandler) OnDisconnect(reason error, state int) websocket.DisconnectDirective[int] {
	return websocket.DisconnectOk(state)
}

func (h countHandler) OnFrame(frame websocket.Frame, ctx *websocket.RequestContext, state int) websocket.FrameDirective[int] {
	if frame.Opcode == websocket.OpcodeText {
		n, err := strconv.Atoi(string(frame.Payload))
		if err == nil {
			h.mu.Lock()
			*h.n = n
			h.mu.Unlock()
		}
		select {
		case <-h.resultCh:
		default:
			close(h.resultCh)
		}
	}
	return websocket.FrameOk(state)
}

func (h countHandler) OnExternalMessage(msg any, ctx *websocket.RequestContext, state int) websocket.FrameDirective[int] {
	return websocket.FrameOk(state)
}

func (h countHandler) OnTerminate(reason error, ctx *websocket.RequestContext, state int) {}

// updateReports instructs the Autobahn fuzzing server to generate/update
// all the HTML and JSON files for all the test-case results.
func updateReports() {
	log.Info().Msg("updating reports")

	url := fmt.Sprintf("%s/updateReports?agent=%s", baseURL, agent)
	ctx := context.Background()
	h := newEchoHandler()
	e, err := websocket.Start[struct{}](ctx, url, h, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("dial error")
	}
	defer e.Stop()
	if err := e.Connect(ctx); err != nil {
		log.Fatal().Err(err).Msg("connect error")
	}
	<-h.done
}

func runCase(i int) {
	l := log.With().Int("case", i).Logger()
	l.Info().Msg("starting test")

	ctx := context.Background()
	url := fmt.Sprintf("%s/runCase?case=%d&agent=%s", baseURL, i, agent)

	h := newEchoHandler()
	e, err := websocket.Start[struct{}](ctx, url, h, nil)
	if err != nil {
		l.Fatal().Err(err).Msg("dial error")
	}
	defer e.Stop()

	if err := e.Connect(ctx); err != nil {
		l.Fatal().Err(err).Msg("connect error")
	}

	<-h.done
	l.Debug().Msg("connection closed")
}
