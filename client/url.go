package client

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Param is one query or form parameter. Keys may repeat.
type Param struct {
	Key   string
	Value string
}

// P is shorthand for Param{Key: key, Value: value}.
func P(key, value string) Param {
	return Param{Key: key, Value: value}
}

// ParamsFromMap converts a map to params with keys in sorted order.
func ParamsFromMap(m map[string]string) []Param {
	out := make([]Param, 0, len(m))
	for _, k := range sortedKeys(m) {
		out = append(out, Param{Key: k, Value: m[k]})
	}
	return out
}

// mergeParams appends call params after base. Base params whose key also
// appears in call are dropped, so the call value wins and every other key
// keeps its place.
func mergeParams(base, call []Param) []Param {
	if len(call) == 0 {
		return append([]Param(nil), base...)
	}
	override := make(map[string]bool, len(call))
	for _, p := range call {
		override[p.Key] = true
	}
	out := make([]Param, 0, len(base)+len(call))
	for _, p := range base {
		if !override[p.Key] {
			out = append(out, p)
		}
	}
	return append(out, call...)
}

// encodeParams encodes params in order. url.Values.Encode would sort them.
func encodeParams(params []Param) string {
	var sb strings.Builder
	for i, p := range params {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(url.QueryEscape(p.Key))
		sb.WriteByte('=')
		sb.WriteString(url.QueryEscape(p.Value))
	}
	return sb.String()
}

// buildURL parses rawURL and appends params after any query it already has.
func buildURL(rawURL string, params []Param) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "http", "https":
	case "":
		return nil, fmt.Errorf("missing scheme in URL %q", rawURL)
	default:
		return nil, fmt.Errorf("unsupported URL scheme %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("missing host in URL %q", rawURL)
	}
	u.Fragment = ""
	if len(params) > 0 {
		q := encodeParams(params)
		if u.RawQuery != "" {
			u.RawQuery += "&" + q
		} else {
			u.RawQuery = q
		}
	}
	return u, nil
}

// resolveLocation resolves a Location header against the URL that returned it.
func resolveLocation(base *url.URL, location string) (*url.URL, error) {
	ref, err := url.Parse(strings.TrimSpace(location))
	if err != nil {
		return nil, err
	}
	next := base.ResolveReference(ref)
	next.Fragment = ""
	return next, nil
}

// hostPort returns the host and port to dial for u.
func hostPort(u *url.URL) (string, string) {
	port := u.Port()
	if port == "" {
		if u.Scheme == "http" {
			port = "80"
		} else {
			port = "443"
		}
	}
	return strings.ToLower(u.Hostname()), port
}

// authority returns the Host header value: the port is omitted when it is
// the scheme's default.
func authority(u *url.URL) string {
	host, port := hostPort(u)
	if (u.Scheme == "https" && port == "443") || (u.Scheme == "http" && port == "80") {
		if strings.Contains(host, ":") {
			return "[" + host + "]"
		}
		return host
	}
	return net.JoinHostPort(host, port)
}

// requestURI is the request-target: path and query, never empty.
func requestURI(u *url.URL) string {
	uri := u.EscapedPath()
	if uri == "" {
		uri = "/"
	}
	if u.RawQuery != "" {
		uri += "?" + u.RawQuery
	}
	return uri
}
