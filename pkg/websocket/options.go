package websocket

import (
	"crypto/tls"
	"net/http"
	"time"
)

// defaultKeepaliveMaxAttempts is spec section 4.4's "keepalive_max_attempts
// (int, default 3)".
const defaultKeepaliveMaxAttempts = 3

// startOptions collects the option bag [Start] accepts, per spec section
// 4.4's start operation: "keepalive_ms (int), keepalive_max_attempts (int,
// default 3), extra_headers (list), ssl_verify in {none, peer, custom},
// transport-socket options (pass-through)".
type startOptions struct {
	keepaliveMS          int
	keepaliveMaxAttempts int
	extraHeaders         http.Header
	subprotocols         []string
	tlsConfig            *tls.Config
	connectTimeout       time.Duration
	transportFactory     func() Transport
}

func defaultStartOptions() startOptions {
	return startOptions{
		keepaliveMaxAttempts: defaultKeepaliveMaxAttempts,
		extraHeaders:         http.Header{},
		connectTimeout:       DefaultConnectTimeout,
		transportFactory:     func() Transport { return NewNetTransport() },
	}
}

// Option configures a call to [Start], following the functional-option idiom.
type Option func(*startOptions)

// WithKeepalive enables automatic keepalive pings every intervalMS
// milliseconds, forcing a disconnect with [KindKeepaliveTimeout] after
// maxAttempts consecutive pings go unanswered.
func WithKeepalive(intervalMS, maxAttempts int) Option {
	return func(o *startOptions) {
		o.keepaliveMS = intervalMS
		o.keepaliveMaxAttempts = maxAttempts
	}
}

// WithHTTPHeader adds a single HTTP header to the handshake's Upgrade
// request. Use [WithHTTPHeaders] to specify multiple ones at once.
func WithHTTPHeader(key, value string) Option {
	return func(o *startOptions) {
		o.extraHeaders.Add(key, value)
	}
}

// WithHTTPHeaders adds multiple HTTP headers to the handshake's Upgrade request.
func WithHTTPHeaders(h http.Header) Option {
	return func(o *startOptions) {
		for k, vs := range h {
			for _, v := range vs {
				o.extraHeaders.Add(k, v)
			}
		}
	}
}

// WithSubprotocol requests proto via "Sec-WebSocket-Protocol" and requires
// the server to echo back one of the offered values, per spec section 1's
// "echoing a Sec-WebSocket-Protocol header if user-supplied". May be
// called more than once to offer several candidate subprotocols.
func WithSubprotocol(proto string) Option {
	return func(o *startOptions) {
		o.subprotocols = append(o.subprotocols, proto)
	}
}

// WithTLSConfig sets a custom *[tls.Config] for "wss" targets ("custom"
// ssl_verify mode).
func WithTLSConfig(cfg *tls.Config) Option {
	return func(o *startOptions) {
		o.tlsConfig = cfg
	}
}

// WithInsecureSkipVerify disables server certificate verification
// ("none" ssl_verify mode). Never use this against production endpoints.
func WithInsecureSkipVerify() Option {
	return func(o *startOptions) {
		c := &tls.Config{InsecureSkipVerify: true} //nolint:gosec // explicit opt-in.
		if o.tlsConfig != nil {
			c = o.tlsConfig.Clone()
			c.InsecureSkipVerify = true
		}
		o.tlsConfig = c
	}
}

// WithConnectTimeout overrides [DefaultConnectTimeout] for the bounded
// blocking connect attempt, per spec section 9's open question (c).
func WithConnectTimeout(d time.Duration) Option {
	return func(o *startOptions) {
		o.connectTimeout = d
	}
}

// WithTransport overrides the default [NetTransport], mainly for tests
// and for non-TCP transport-socket options ("transport-socket options,
// pass-through" in spec section 4.4). t is reused for every (re)connect
// attempt, so it must tolerate being dialed more than once if the engine
// reconnects.
func WithTransport(t Transport) Option {
	return func(o *startOptions) {
		o.transportFactory = func() Transport { return t }
	}
}
