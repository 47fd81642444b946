package websocket

import (
	"fmt"
	"net/url"
	"strconv"
)

// Target is the parsed form of the URL an [Engine] connects to: scheme,
// host, port, and path-with-query, as required by spec section 3's
// ConnectionConfig entity.
type Target struct {
	TLS  bool   // true for "wss", false for "ws".
	Host string // Hostname or IP literal, without port.
	Port int
	Path string // Always starts with "/"; includes the query string, if any.
}

// String renders t back into a "ws://"/"wss://" URL.
func (t Target) String() string {
	scheme := "ws"
	if t.TLS {
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s:%d%s", scheme, t.Host, t.Port, t.Path)
}

// ParseTarget parses rawURL into a [Target], applying the default ports
// (80 for "ws", 443 for "wss") and the default path ("/") called for by
// spec section 4.4's start operation. Any scheme other than "ws"/"wss" is
// rejected with a [Kind] of [KindURLInvalid].
func ParseTarget(rawURL string) (Target, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Target{}, &Error{Kind: KindURLInvalid, Err: fmt.Errorf("failed to parse WebSocket URL: %w", err)}
	}

	var t Target
	switch u.Scheme {
	case "ws":
		t.TLS = false
	case "wss":
		t.TLS = true
	default:
		return Target{}, &Error{Kind: KindURLInvalid,
			Err: fmt.Errorf("unsupported WebSocket URL scheme %q", u.Scheme)}
	}

	if u.Host == "" {
		return Target{}, &Error{Kind: KindURLInvalid, Err: fmt.Errorf("missing host in WebSocket URL %q", rawURL)}
	}

	t.Host = u.Hostname()
	if p := u.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			return Target{}, &Error{Kind: KindURLInvalid, Err: fmt.Errorf("invalid port in WebSocket URL %q: %w", rawURL, err)}
		}
		t.Port = n
	} else if t.TLS {
		t.Port = 443
	} else {
		t.Port = 80
	}

	t.Path = u.EscapedPath()
	if t.Path == "" {
		t.Path = "/"
	}
	if u.RawQuery != "" {
		t.Path += "?" + u.RawQuery
	}

	return t, nil
}

// RequestContext carries the per-connection-attempt state that the
// Handshake and Framer both need but neither owns: the generated
// handshake nonce, the keepalive interval negotiated for this attempt,
// and the [Decoder]'s in-progress fragmentation state. It is recreated
// (nonce regenerated) on every connect attempt, per spec section 3.
type RequestContext struct {
	Target Target
	Nonce  string

	KeepaliveMS          int
	KeepaliveMaxAttempts int

	decoder Decoder
}

// newRequestContext builds a fresh context for one connect attempt, with a
// newly generated nonce.
func newRequestContext(target Target, nonce string, keepaliveMS, keepaliveMaxAttempts int) *RequestContext {
	return &RequestContext{
		Target:               target,
		Nonce:                nonce,
		KeepaliveMS:          keepaliveMS,
		KeepaliveMaxAttempts: keepaliveMaxAttempts,
	}
}
