package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/sardanioss/primp/fingerprint"
	"github.com/sardanioss/primp/transport"
)

// ConfigurationError is a usage error detected before any network I/O:
// an unknown profile, conflicting options or body variants, a bad URL.
type ConfigurationError struct {
	Field string
	Err   error
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "configuration error: " + e.Err.Error()
	}
	return fmt.Sprintf("configuration error: %s: %v", e.Field, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

func configError(field, format string, args ...any) error {
	return &ConfigurationError{Field: field, Err: fmt.Errorf(format, args...)}
}

// ConnectionError is a DNS, dial, proxy, TLS or protocol failure. The
// connection involved is never returned to the pool.
type ConnectionError struct {
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error: %s: %v", e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Phase tells where a timeout happened.
type Phase string

const (
	PhaseConnect Phase = "connect" // resolving, dialing, TLS handshake
	PhaseRead    Phase = "read"    // sending the request or reading the response
)

// TimeoutError reports that the request's deadline passed. It matches
// context.DeadlineExceeded with errors.Is.
type TimeoutError struct {
	Phase Phase
	URL   string
	Err   error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout during %s: %s: %v", e.Phase, e.URL, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

func (e *TimeoutError) Is(target error) bool {
	return target == context.DeadlineExceeded
}

// Timeout is part of the net.Error convention.
func (e *TimeoutError) Timeout() bool { return true }

// RedirectLimitError is returned when a redirect would exceed MaxRedirects.
type RedirectLimitError struct {
	Max      int
	URL      string // URL of the redirect response that was not followed
	Location string
}

func (e *RedirectLimitError) Error() string {
	return fmt.Sprintf("too many redirects (max %d): %s -> %s", e.Max, e.URL, e.Location)
}

// DecodeError is returned lazily by Response accessors when the body cannot
// be decompressed, decoded or parsed.
type DecodeError struct {
	What string // "content", "text" or "json"
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.What, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// mapError turns a pool or transport failure into the public taxonomy.
func mapError(ctx context.Context, phase Phase, rawURL string, err error) error {
	switch {
	case errors.Is(err, fingerprint.ErrUnsupportedTarget):
		return &ConfigurationError{Field: "impersonate", Err: err}
	case errors.As(err, new(*fingerprint.SignatureError)):
		return &ConfigurationError{Field: "impersonate", Err: err}
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) || transport.Classify(err) == transport.KindTimeout {
		return &TimeoutError{Phase: phase, URL: rawURL, Err: err}
	}
	return &ConnectionError{URL: rawURL, Err: err}
}

// evictReason keeps the metric label set small.
func evictReason(err error) string {
	return transport.Classify(err).String()
}
