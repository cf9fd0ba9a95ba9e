// Package transport writes requests and reads responses over connections the
// pool has already established, applying the profile's header order for
// HTTP/1.1 and its frame-level signature for HTTP/2.
package transport

import (
	"sort"
	"strings"

	"github.com/samber/lo"

	"github.com/sardanioss/primp/fingerprint"
)

// Protocol names used in errors, pool keys and responses.
const (
	ProtoHTTP1 = "h1"
	ProtoHTTP2 = "h2"
)

// Request is one request on the wire. Header is ordered and keeps the
// caller's casing; Order lists lowercase names in the profile's order.
type Request struct {
	Method string
	URL    string
	Host   string // authority, host[:port]
	Path   string // request-target, path and query
	Header []fingerprint.HeaderField
	Order  []string
	Body   []byte
}

// Response is a fully read response. Body is the undecoded entity body.
type Response struct {
	StatusCode int
	Proto      string // "HTTP/1.1", "HTTP/2.0"
	Header     []fingerprint.HeaderField
	Body       []byte
}

// Get returns the first value for name, case-insensitively.
func (r *Response) Get(name string) string {
	for _, f := range r.Header {
		if strings.EqualFold(f.Name, name) {
			return f.Value
		}
	}
	return ""
}

// Values returns every value for name, case-insensitively, in received order.
func (r *Response) Values(name string) []string {
	return lo.FilterMap(r.Header, func(f fingerprint.HeaderField, _ int) (string, bool) {
		return f.Value, strings.EqualFold(f.Name, name)
	})
}

// OrderHeaders sorts fields into order (lowercase names). Fields whose name is
// not listed keep their relative order after the listed ones. The sort is
// stable so repeated names stay in caller order.
func OrderHeaders(fields []fingerprint.HeaderField, order []string) []fingerprint.HeaderField {
	rank := make(map[string]int, len(order))
	for i, name := range order {
		if _, dup := rank[name]; !dup {
			rank[name] = i
		}
	}
	out := append([]fingerprint.HeaderField(nil), fields...)
	sort.SliceStable(out, func(i, j int) bool {
		ri, iok := rank[strings.ToLower(out[i].Name)]
		rj, jok := rank[strings.ToLower(out[j].Name)]
		switch {
		case iok && jok:
			return ri < rj
		case iok:
			return true
		default:
			return false
		}
	})
	return out
}

func lookup(fields []fingerprint.HeaderField, name string) (string, bool) {
	for _, f := range fields {
		if strings.EqualFold(f.Name, name) {
			return f.Value, true
		}
	}
	return "", false
}

// bodyMethod reports whether method always carries a Content-Length.
func bodyMethod(method string) bool {
	switch method {
	case "POST", "PUT", "PATCH":
		return true
	}
	return false
}
