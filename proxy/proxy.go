// Package proxy provides the pass-through dialers used before TLS is applied:
// HTTP CONNECT (http:// and https:// proxies) and SOCKS5.
//
// The dialers only open a byte tunnel to host:port. The TLS signature is
// applied by the caller on top, so it is identical with or without a proxy.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"
)

// ErrUnsupportedScheme is returned for proxy URLs that are not http, https,
// socks5 or socks5h.
var ErrUnsupportedScheme = errors.New("unsupported proxy scheme")

// Dialer opens a tunnel to addr through the proxy.
type Dialer interface {
	DialContext(ctx context.Context, network, addr string) (net.Conn, error)
}

// Parse validates a proxy URL and fills in the default port. URLs without a
// scheme are treated as http.
func Parse(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, errors.New("empty proxy URL")
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy URL: %w", err)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("invalid proxy URL %q: missing host", raw)
	}

	var port string
	switch u.Scheme {
	case "http":
		port = "8080"
	case "https":
		port = "443"
	case "socks5", "socks5h":
		port = "1080"
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, u.Scheme)
	}
	if u.Port() == "" {
		u.Host = net.JoinHostPort(u.Hostname(), port)
	}
	return u, nil
}

// New returns the dialer for a proxy URL.
func New(raw string, timeout time.Duration) (Dialer, error) {
	u, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	forward := &net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}

	switch u.Scheme {
	case "socks5", "socks5h":
		return newSOCKS5Dialer(u, forward)
	default:
		return &ConnectDialer{proxy: u, forward: forward}, nil
	}
}

// Redacted returns the proxy URL with the password masked, for logs.
func Redacted(raw string) string {
	u, err := Parse(raw)
	if err != nil {
		return raw
	}
	return u.Redacted()
}
