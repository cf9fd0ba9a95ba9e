package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"k8s.io/klog/v2"

	"github.com/sardanioss/primp/fingerprint"
	"github.com/sardanioss/primp/pool"
	"github.com/sardanioss/primp/transport"
)

// hop is the request sent at one step of the redirect loop.
type hop struct {
	method  string
	url     *url.URL
	headers []fingerprint.HeaderField
	body    []byte
	ctype   string
	referer string
}

// execute runs one request through BUILD, then for every hop
// RESOLVE_CONNECTION, SEND and AWAIT_RESPONSE_HEADERS, following redirects
// until COMPLETE. The timeout covers all hops. Each hop is attempted once.
func (c *Client) execute(ctx context.Context, req *Request) (*Response, error) {
	p, err := c.build(req)
	if err != nil {
		return nil, err
	}
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	origin := strings.ToLower(p.url.Hostname())
	h := &hop{
		method:  p.method,
		url:     p.url,
		headers: p.headers,
		body:    p.body,
		ctype:   p.ctype,
	}

	for redirects := 0; ; redirects++ {
		resp, err := c.send(ctx, h, p.auth, origin)
		if err != nil {
			return nil, err
		}
		if c.jar != nil {
			c.jar.SetCookies(h.url, resp.Values("Set-Cookie"))
		}

		location := resp.Get("Location")
		if !c.cfg.FollowRedirects || !isRedirect(resp.StatusCode) || location == "" {
			return newResponse(h.url.String(), resp.Proto, resp.StatusCode, resp.Header, resp.Body), nil
		}
		if redirects >= c.cfg.MaxRedirects {
			return nil, &RedirectLimitError{Max: c.cfg.MaxRedirects, URL: h.url.String(), Location: location}
		}

		next, err := c.redirect(h, resp.StatusCode, location)
		if err != nil {
			return nil, &ConnectionError{URL: h.url.String(), Err: fmt.Errorf("invalid redirect location %q: %w", location, err)}
		}
		klog.V(2).Infof("client: %d %s %s -> %s %s", resp.StatusCode, h.method, h.url, next.method, next.url)
		h = next
	}
}

// send acquires a connection for the hop's URL, writes the request and reads
// the response. A connection left in an unknown state by an error is
// evicted, so a half-read connection never goes back to the pool.
func (c *Client) send(ctx context.Context, h *hop, auth, origin string) (*transport.Response, error) {
	rawURL := h.url.String()
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil, &ConnectionError{URL: rawURL, Err: err}
			}
			return nil, &TimeoutError{Phase: PhaseConnect, URL: rawURL, Err: err}
		}
	}

	host, port := hostPort(h.url)
	key := pool.Key{
		Scheme:   h.url.Scheme,
		Host:     host,
		Port:     port,
		Profile:  c.cfg.Impersonate,
		Proxy:    c.cfg.Proxy,
		Protocol: c.cfg.protocol(),
	}
	conn, err := c.pool.Acquire(ctx, key)
	if err != nil {
		return nil, mapError(ctx, PhaseConnect, rawURL, err)
	}

	treq := &transport.Request{
		Method: h.method,
		URL:    rawURL,
		Host:   authority(h.url),
		Path:   requestURI(h.url),
		Header: c.wireHeaders(h, auth, host == origin),
		Body:   h.body,
	}
	if c.profile != nil {
		treq.Order = c.profile.HTTP2.HeaderOrder
	}

	resp, err := conn.RoundTrip(ctx, treq)
	if err != nil {
		// A failed HTTP/2 stream leaves the other streams on its connection
		// running.
		if conn.Reusable() {
			c.pool.Release(conn)
		} else {
			c.pool.Evict(conn, evictReason(err))
		}
		return nil, mapError(ctx, PhaseRead, rawURL, err)
	}
	c.pool.Release(conn)
	return resp, nil
}

// wireHeaders adds the per-hop headers: Content-Type, Authorization, Cookie
// and Referer. Caller credentials only go to the original host.
func (c *Client) wireHeaders(h *hop, auth string, sameHost bool) []fingerprint.HeaderField {
	fields := append([]fingerprint.HeaderField(nil), h.headers...)
	if !sameHost {
		fields = withoutHeaders(fields, "Authorization", "Cookie")
	}
	if h.ctype != "" && !hasHeader(fields, "Content-Type") {
		fields = append(fields, fingerprint.HeaderField{Name: "Content-Type", Value: h.ctype})
	}
	if auth != "" && sameHost && !hasHeader(fields, "Authorization") {
		fields = append(fields, fingerprint.HeaderField{Name: "Authorization", Value: auth})
	}
	if c.jar != nil {
		if stored := c.jar.CookieHeader(h.url); stored != "" {
			if own := headerValue(fields, "Cookie"); own != "" {
				stored = own + "; " + stored
			}
			fields = append(withoutHeaders(fields, "Cookie"), fingerprint.HeaderField{Name: "Cookie", Value: stored})
		}
	}
	if h.referer != "" {
		fields = append(withoutHeaders(fields, "Referer"), fingerprint.HeaderField{Name: "Referer", Value: h.referer})
	}
	return fields
}

// redirect builds the next hop. 303 becomes GET (HEAD stays HEAD), 301 and
// 302 become GET for anything but GET and HEAD, 307 and 308 keep the method
// and body.
func (c *Client) redirect(h *hop, status int, location string) (*hop, error) {
	next, err := resolveLocation(h.url, location)
	if err != nil {
		return nil, err
	}
	switch next.Scheme {
	case "http", "https":
	default:
		return nil, fmt.Errorf("unsupported scheme %q", next.Scheme)
	}

	n := &hop{
		method:  h.method,
		url:     next,
		headers: h.headers,
		body:    h.body,
		ctype:   h.ctype,
	}
	switch status {
	case 303:
		if n.method != "HEAD" {
			n.method = "GET"
		}
	case 301, 302:
		if n.method != "GET" && n.method != "HEAD" {
			n.method = "GET"
		}
	}
	if status != 307 && status != 308 {
		n.body, n.ctype = nil, ""
		n.headers = withoutHeaders(n.headers, "Content-Type", "Content-Length", "Content-Encoding", "Transfer-Encoding")
	}

	if c.cfg.Referer && !(h.url.Scheme == "https" && next.Scheme == "http") {
		ref := *h.url
		ref.User = nil
		ref.Fragment = ""
		n.referer = ref.String()
	}
	return n, nil
}

func isRedirect(status int) bool {
	switch status {
	case 301, 302, 303, 307, 308:
		return true
	}
	return false
}
