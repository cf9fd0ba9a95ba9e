package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
)

// Kind classifies a transport failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindDNS
	KindDial
	KindProxy
	KindTLS
	KindProtocol
	KindTimeout
	KindClosed
)

func (k Kind) String() string {
	switch k {
	case KindDNS:
		return "dns"
	case KindDial:
		return "dial"
	case KindProxy:
		return "proxy"
	case KindTLS:
		return "tls"
	case KindProtocol:
		return "protocol"
	case KindTimeout:
		return "timeout"
	case KindClosed:
		return "closed"
	}
	return "unknown"
}

// ErrClosed is returned when a pool or connection is used after Close.
var ErrClosed = errors.New("transport: use of closed connection")

// Error is a transport-level failure with enough context to tell where it
// happened.
type Error struct {
	Op       string // "dial", "handshake", "write", "read", ...
	Host     string
	Port     string
	Protocol string // "h1", "h2"
	Kind     Kind
	Cause    error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Host != "" {
		b.WriteString(" ")
		b.WriteString(net.JoinHostPort(e.Host, e.Port))
	}
	if e.Protocol != "" {
		fmt.Fprintf(&b, " [%s]", e.Protocol)
	}
	fmt.Fprintf(&b, ": %s", e.Kind)
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Timeout reports whether the failure was a deadline.
func (e *Error) Timeout() bool {
	return e.Kind == KindTimeout
}

// WrapError wraps err with operation context. The kind is derived from err,
// falling back to fallback when err carries no better hint. An *Error is
// returned unchanged.
func WrapError(op, host, port, protocol string, fallback Kind, err error) error {
	if err == nil {
		return nil
	}
	var te *Error
	if errors.As(err, &te) {
		return err
	}
	kind := Classify(err)
	if kind == KindUnknown {
		kind = fallback
	}
	return &Error{Op: op, Host: host, Port: port, Protocol: protocol, Kind: kind, Cause: err}
}

// Classify guesses the kind of a raw network error.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return KindTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return KindTimeout
	}
	if errors.Is(err, ErrClosed) || errors.Is(err, net.ErrClosed) {
		return KindClosed
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return KindDNS
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return KindDial
	}
	return KindUnknown
}
