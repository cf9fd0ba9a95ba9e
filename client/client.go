package client

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/net/http/httpguts"
	"golang.org/x/time/rate"
	"k8s.io/klog/v2"

	"github.com/sardanioss/primp/dns"
	"github.com/sardanioss/primp/fingerprint"
	"github.com/sardanioss/primp/pool"
	"github.com/sardanioss/primp/proxy"
)

// Client is the blocking client: each call occupies the calling goroutine
// until the response is fully read. It is safe for concurrent use.
type Client struct {
	cfg     *ClientConfig
	profile *fingerprint.Profile // nil without impersonation
	auth    Auth

	pool    *pool.Manager
	jar     *CookieJar // nil when the cookie store is off
	limiter *rate.Limiter
}

// NewClient creates a client. Every option is validated here, before any
// network I/O; invalid combinations return a *ConfigurationError.
func NewClient(opts ...Option) (*Client, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return newClient(cfg)
}

func newClient(cfg *ClientConfig) (*Client, error) {
	c := &Client{cfg: cfg}

	if cfg.Impersonate != "" {
		p, err := fingerprint.Resolve(cfg.Impersonate)
		if err != nil {
			return nil, &ConfigurationError{Field: "impersonate", Err: err}
		}
		// A profile the TLS or HTTP/2 stack cannot express fails now, not
		// at the first handshake.
		if _, err := fingerprint.BuildClientHelloSpec(p, fingerprint.BuildOptions{}); err != nil {
			return nil, &ConfigurationError{Field: "impersonate", Err: err}
		}
		if _, err := fingerprint.BuildHTTP2Params(p); err != nil {
			return nil, &ConfigurationError{Field: "impersonate", Err: err}
		}
		c.profile = p
	}

	auth, err := pickAuth(cfg.BasicAuth, cfg.BearerToken)
	if err != nil {
		return nil, err
	}
	c.auth = auth

	switch {
	case cfg.HTTP1Only && cfg.HTTP2Only:
		return nil, configError("http1/http2", "HTTP/1.1-only and HTTP/2-only are mutually exclusive")
	case cfg.MaxRedirects < 0:
		return nil, configError("max_redirects", "must be >= 0, got %d", cfg.MaxRedirects)
	case cfg.Timeout < 0:
		return nil, configError("timeout", "must be >= 0, got %s", cfg.Timeout)
	case cfg.RateLimit < 0:
		return nil, configError("rate_limit", "must be >= 0, got %v", cfg.RateLimit)
	}
	for name, value := range cfg.Headers {
		if err := validHeader(name, value); err != nil {
			return nil, &ConfigurationError{Field: "headers", Err: err}
		}
	}
	if cfg.Proxy != "" {
		if _, err := proxy.Parse(cfg.Proxy); err != nil {
			return nil, &ConfigurationError{Field: "proxy", Err: err}
		}
	}

	if cfg.CookieStore {
		c.jar = NewCookieJar()
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	var resolver *dns.Cache
	if cfg.DNSServer != "" {
		resolver = dns.NewCache(dns.WithServer(cfg.DNSServer))
	}
	c.pool = pool.NewManager(pool.Config{
		DNS:                resolver,
		InsecureSkipVerify: !cfg.Verify,
		KeyLogWriter:       cfg.KeyLogWriter,
		Registerer:         cfg.Registerer,
	})

	if cfg.Proxy != "" {
		klog.V(2).Infof("client: profile=%q proxy=%s", cfg.Impersonate, proxy.Redacted(cfg.Proxy))
	} else {
		klog.V(2).Infof("client: profile=%q", cfg.Impersonate)
	}
	return c, nil
}

// Do executes req.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	return c.execute(ctx, req)
}

// Request builds a request from opts and executes it.
func (c *Client) Request(ctx context.Context, method, url string, opts ...RequestOption) (*Response, error) {
	return c.Do(ctx, newRequest(method, url, opts))
}

// Get performs a GET request
func (c *Client) Get(ctx context.Context, url string, opts ...RequestOption) (*Response, error) {
	return c.Request(ctx, http.MethodGet, url, opts...)
}

// Head performs a HEAD request
func (c *Client) Head(ctx context.Context, url string, opts ...RequestOption) (*Response, error) {
	return c.Request(ctx, http.MethodHead, url, opts...)
}

// Options performs an OPTIONS request
func (c *Client) Options(ctx context.Context, url string, opts ...RequestOption) (*Response, error) {
	return c.Request(ctx, http.MethodOptions, url, opts...)
}

// Delete performs a DELETE request
func (c *Client) Delete(ctx context.Context, url string, opts ...RequestOption) (*Response, error) {
	return c.Request(ctx, http.MethodDelete, url, opts...)
}

// Post performs a POST request
func (c *Client) Post(ctx context.Context, url string, opts ...RequestOption) (*Response, error) {
	return c.Request(ctx, http.MethodPost, url, opts...)
}

// Put performs a PUT request
func (c *Client) Put(ctx context.Context, url string, opts ...RequestOption) (*Response, error) {
	return c.Request(ctx, http.MethodPut, url, opts...)
}

// Patch performs a PATCH request
func (c *Client) Patch(ctx context.Context, url string, opts ...RequestOption) (*Response, error) {
	return c.Request(ctx, http.MethodPatch, url, opts...)
}

// Profile returns a copy of the impersonation profile, or nil.
func (c *Client) Profile() *fingerprint.Profile {
	if c.profile == nil {
		return nil
	}
	return c.profile.Clone()
}

// Cookies returns the cookie store, or nil when it is disabled.
func (c *Client) Cookies() *CookieJar {
	return c.jar
}

// Stats returns connection pool counters.
func (c *Client) Stats() pool.Stats {
	return c.pool.Stats()
}

// Close closes all pooled connections.
func (c *Client) Close() {
	c.pool.Close()
}

func newRequest(method, url string, opts []RequestOption) *Request {
	req := &Request{Method: method, URL: url}
	for _, opt := range opts {
		opt(req)
	}
	return req
}

func validHeader(name, value string) error {
	if !httpguts.ValidHeaderFieldName(name) {
		return fmt.Errorf("invalid header name %q", name)
	}
	if !httpguts.ValidHeaderFieldValue(value) {
		return fmt.Errorf("invalid value for header %q", name)
	}
	return nil
}
