package websocket

import "time"

// timerTick is what a [cancellableTimer] sends to the event loop. gen lets
// the loop recognize and discard a tick that was already cancelled by the
// time it's delivered — "never assume cancel prevents a race-delivered
// tick; loop handlers must be idempotent against late ticks".
type timerTick struct {
	gen uint64
}

// cancellableTimer wraps [time.Timer] with a generation counter so that
// Cancel is effective even against a tick already in flight on the
// channel: the loop compares the tick's gen against the current one and
// drops it silently if they differ.
type cancellableTimer struct {
	c     chan timerTick
	timer *time.Timer
	gen   uint64
	armed bool
}

func newCancellableTimer() *cancellableTimer {
	return &cancellableTimer{c: make(chan timerTick, 1)}
}

// Arm schedules a tick after d, cancelling any previously armed tick first.
func (t *cancellableTimer) Arm(d time.Duration) {
	t.Cancel()
	t.gen++
	gen := t.gen
	t.armed = true
	t.timer = time.AfterFunc(d, func() {
		select {
		case t.c <- timerTick{gen: gen}:
		default:
		}
	})
}

// Cancel stops any pending tick. Safe to call when nothing is armed.
func (t *cancellableTimer) Cancel() {
	if t.timer != nil {
		t.timer.Stop()
	}
	t.armed = false
}

// Valid reports whether tick was produced by the currently armed timer,
// i.e. it wasn't superseded by a later Arm/Cancel in the meantime.
func (t *cancellableTimer) Valid(tick timerTick) bool {
	return t.armed && tick.gen == t.gen
}

// keepaliveState tracks the missed-ping accounting of spec section 3's
// EngineState.ka_attempts: reset on every inbound frame while Connected,
// incremented on every outbound automatic ping, and forces a disconnect
// with [KindKeepaliveTimeout] once it exceeds the configured maximum.
type keepaliveState struct {
	timer       *cancellableTimer
	intervalMS  int
	maxAttempts int
	attempts    int
}

func newKeepaliveState(intervalMS, maxAttempts int) *keepaliveState {
	return &keepaliveState{
		timer:       newCancellableTimer(),
		intervalMS:  intervalMS,
		maxAttempts: maxAttempts,
	}
}

// enabled reports whether keepalive pings are configured at all.
func (k *keepaliveState) enabled() bool {
	return k != nil && k.intervalMS > 0
}

// arm (re)arms the keepalive timer, per spec section 3's invariant that
// it is armed only while Handshaking or Connected and the interval isn't
// infinite.
func (k *keepaliveState) arm() {
	if k.enabled() {
		k.timer.Arm(time.Duration(k.intervalMS) * time.Millisecond)
	}
}

func (k *keepaliveState) cancel() {
	if k != nil {
		k.timer.Cancel()
	}
}

// resetOnInboundFrame implements "ka_attempts is reset to 0 on every
// inbound frame in Connected".
func (k *keepaliveState) resetOnInboundFrame() {
	if k != nil {
		k.attempts = 0
	}
}

// tick records one outbound automatic ping attempt and reports whether
// the configured maximum has now been exceeded.
func (k *keepaliveState) tick() (exceeded bool) {
	k.attempts++
	return k.attempts > k.maxAttempts
}
