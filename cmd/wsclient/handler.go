package main

import (
	"context"

	"github.com/halvorsen/wsengine/internal/logger"
	"github.com/halvorsen/wsengine/pkg/websocket"
)

// clientState is the opaque state threaded through every callback: just
// the logging context this run was started with.
type clientState struct {
	ctx context.Context
}

// echoHandler logs every lifecycle event and echoes back any text or
// binary frame it receives, the simplest possible [websocket.Handler]
// that still exercises every callback.
type echoHandler struct {
	reconnect bool
}

func (echoHandler) Init(args any) websocket.InitDirective[clientState] {
	ctx, _ := args.(context.Context)
	return websocket.InitOk(clientState{ctx: ctx})
}

func (echoHandler) OnConnect(rc *websocket.RequestContext, state clientState) websocket.ConnectDirective[clientState] {
	logger.FromContext(state.ctx).Info().
		Str("target", rc.Target.String()).
		Msg("connected")
	return websocket.ConnectOk(state)
}

func (h echoHandler) OnDisconnect(reason error, state clientState) websocket.DisconnectDirective[clientState] {
	l := logger.FromContext(state.ctx)
	if reason != nil {
		l.Warn().Err(reason).Msg("disconnected")
	} else {
		l.Info().Msg("disconnected")
	}
	if h.reconnect {
		return websocket.DisconnectReconnectAfter(1000, state)
	}
	return websocket.DisconnectOk(state)
}

func (echoHandler) OnFrame(frame websocket.Frame, rc *websocket.RequestContext, state clientState) websocket.FrameDirective[clientState] {
	l := logger.FromContext(state.ctx).With().Str("opcode", frame.Opcode.String()).Logger()
	l.Info().Int("length", len(frame.Payload)).Msg("received frame")

	switch frame.Opcode {
	case websocket.OpcodeText, websocket.OpcodeBinary:
		return websocket.FrameReply(frame, state)
	default:
		return websocket.FrameOk(state)
	}
}

func (echoHandler) OnExternalMessage(msg any, rc *websocket.RequestContext, state clientState) websocket.FrameDirective[clientState] {
	logger.FromContext(state.ctx).Debug().Interface("message", msg).Msg("external message")
	return websocket.FrameOk(state)
}

func (echoHandler) OnTerminate(reason error, rc *websocket.RequestContext, state clientState) {
	l := logger.FromContext(state.ctx)
	if reason != nil {
		l.Error().Err(reason).Msg("terminated")
		return
	}
	l.Info().Msg("terminated")
}
