// Package client is the request pipeline: it merges client defaults with
// per-call options, dispatches through the connection pool with the chosen
// impersonation profile, follows redirects and hands back a lazily decoded
// Response.
//
// A client with defaults needs no options:
//
//	c, err := client.NewClient()
//
// Or customize with options:
//
//	c, err := client.NewClient(
//	    client.WithImpersonate("chrome_131"),
//	    client.WithTimeout(60*time.Second),
//	    client.WithProxy("socks5://127.0.0.1:1080"),
//	    client.WithFollowRedirects(true),
//	)
package client

import (
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sardanioss/primp/transport"
)

// ClientConfig holds all configuration options for the HTTP client.
// Use functional options (WithTimeout, WithProxy, etc.) to set these values.
type ClientConfig struct {
	// Impersonate is the profile identifier (e.g. "chrome_131"). It selects
	// the TLS ClientHello, the HTTP/2 preamble and the default headers.
	// Empty means no impersonation.
	Impersonate string

	// BasicAuth and BearerToken are mutually exclusive.
	BasicAuth   *BasicAuth
	BearerToken string

	// Params are appended to every request URL, before per-call params.
	Params []Param

	// Headers are sent when no profile is set. A profile's header set takes
	// their place.
	Headers map[string]string

	// Timeout covers a whole request including every redirect hop.
	// Default: 30 seconds.
	Timeout time.Duration

	// Proxy is the URL of the proxy server.
	// Supports http://, https://, socks5:// and socks5h:// schemes.
	Proxy string

	// FollowRedirects controls whether 3xx responses are followed.
	// Default: false.
	FollowRedirects bool

	// MaxRedirects is the hop budget when following redirects.
	// Default: 20.
	MaxRedirects int

	// Verify enables TLS certificate verification.
	// Default: true.
	Verify bool

	// HTTP1Only and HTTP2Only force a protocol instead of negotiating it via
	// ALPN. Setting both is a configuration error.
	HTTP1Only bool
	HTTP2Only bool

	// CookieStore keeps cookies received in responses and sends them on
	// later requests. Default: true.
	CookieStore bool

	// Referer sets the Referer header on redirect hops. Default: true.
	Referer bool

	// RateLimit paces requests (each redirect hop counts). Zero disables it.
	RateLimit float64
	RateBurst int

	// DNSServer queries a specific resolver instead of the system one.
	DNSServer string

	// Registerer receives the connection pool metrics.
	Registerer prometheus.Registerer

	// KeyLogWriter receives TLS secrets in NSS key log format.
	KeyLogWriter io.Writer
}

// DefaultConfig returns default client configuration
func DefaultConfig() *ClientConfig {
	return &ClientConfig{
		Timeout:      30 * time.Second,
		MaxRedirects: 20,
		Verify:       true,
		CookieStore:  true,
		Referer:      true,
	}
}

// Option is a function that modifies ClientConfig
type Option func(*ClientConfig)

// WithImpersonate selects an impersonation profile.
func WithImpersonate(id string) Option {
	return func(c *ClientConfig) {
		c.Impersonate = id
	}
}

// WithBasicAuth sets HTTP Basic credentials. The password may be empty.
func WithBasicAuth(username, password string) Option {
	return func(c *ClientConfig) {
		c.BasicAuth = NewBasicAuth(username, password)
	}
}

// WithBearerAuth sets a bearer token.
func WithBearerAuth(token string) Option {
	return func(c *ClientConfig) {
		c.BearerToken = token
	}
}

// WithParams appends default query parameters.
func WithParams(params ...Param) Option {
	return func(c *ClientConfig) {
		c.Params = append(c.Params, params...)
	}
}

// WithHeaders sets default headers, used only without a profile.
func WithHeaders(headers map[string]string) Option {
	return func(c *ClientConfig) {
		if c.Headers == nil {
			c.Headers = make(map[string]string, len(headers))
		}
		for k, v := range headers {
			c.Headers[k] = v
		}
	}
}

// WithTimeout sets the request timeout
func WithTimeout(timeout time.Duration) Option {
	return func(c *ClientConfig) {
		c.Timeout = timeout
	}
}

// WithProxy sets the proxy URL
func WithProxy(proxyURL string) Option {
	return func(c *ClientConfig) {
		c.Proxy = proxyURL
	}
}

// WithFollowRedirects enables or disables following redirects.
func WithFollowRedirects(follow bool) Option {
	return func(c *ClientConfig) {
		c.FollowRedirects = follow
	}
}

// WithMaxRedirects sets the redirect hop budget.
func WithMaxRedirects(n int) Option {
	return func(c *ClientConfig) {
		c.MaxRedirects = n
	}
}

// WithVerify enables or disables certificate verification.
// WARNING: disabling it makes the connection insecure. Only use for testing.
func WithVerify(verify bool) Option {
	return func(c *ClientConfig) {
		c.Verify = verify
	}
}

// WithHTTP1Only forces HTTP/1.1.
func WithHTTP1Only() Option {
	return func(c *ClientConfig) {
		c.HTTP1Only = true
	}
}

// WithHTTP2Only forces HTTP/2; servers that do not select h2 fail.
func WithHTTP2Only() Option {
	return func(c *ClientConfig) {
		c.HTTP2Only = true
	}
}

// WithCookieStore enables or disables the cookie store.
func WithCookieStore(enabled bool) Option {
	return func(c *ClientConfig) {
		c.CookieStore = enabled
	}
}

// WithReferer enables or disables Referer on redirect hops.
func WithReferer(enabled bool) Option {
	return func(c *ClientConfig) {
		c.Referer = enabled
	}
}

// WithRateLimit limits requests to rps per second with the given burst.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *ClientConfig) {
		c.RateLimit = rps
		c.RateBurst = burst
	}
}

// WithDNSServer resolves hostnames through addr ("1.1.1.1" or "1.1.1.1:53").
func WithDNSServer(addr string) Option {
	return func(c *ClientConfig) {
		c.DNSServer = addr
	}
}

// WithMetrics registers the pool metrics on reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(c *ClientConfig) {
		c.Registerer = reg
	}
}

// WithKeyLogWriter writes TLS secrets to w, for Wireshark.
func WithKeyLogWriter(w io.Writer) Option {
	return func(c *ClientConfig) {
		c.KeyLogWriter = w
	}
}

// protocol returns the pool protocol restriction.
func (c *ClientConfig) protocol() string {
	switch {
	case c.HTTP1Only:
		return transport.ProtoHTTP1
	case c.HTTP2Only:
		return transport.ProtoHTTP2
	}
	return ""
}
