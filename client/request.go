package client

import (
	"encoding/json"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/sardanioss/primp/fingerprint"
)

// Request is one logical request. At most one of Content, Data, JSON and
// Files may be set; the body is only sent for POST, PUT and PATCH.
type Request struct {
	Method  string
	URL     string
	Params  []Param
	Headers map[string]string

	Content []byte  // raw body
	Data    []Param // application/x-www-form-urlencoded
	JSON    any     // application/json
	Files   []File  // multipart/form-data

	// Auth overrides the client's authentication for this call.
	Auth Auth

	// Timeout overrides the client's timeout for this call.
	Timeout time.Duration

	dataSet bool // Data was supplied, even if empty
}

// RequestOption configures a single request.
type RequestOption func(*Request)

// Params appends query parameters for this call.
func Params(params ...Param) RequestOption {
	return func(r *Request) {
		r.Params = append(r.Params, params...)
	}
}

// Headers sets headers for this call. They override profile and client
// headers with the same name.
func Headers(headers map[string]string) RequestOption {
	return func(r *Request) {
		if r.Headers == nil {
			r.Headers = make(map[string]string, len(headers))
		}
		for k, v := range headers {
			r.Headers[k] = v
		}
	}
}

// Content sets a raw body.
func Content(body []byte) RequestOption {
	return func(r *Request) {
		r.Content = body
	}
}

// Data sets a url-encoded form body. Plain fields of a multipart body are
// passed to Files with FormField.
func Data(fields ...Param) RequestOption {
	return func(r *Request) {
		r.Data = append(r.Data, fields...)
		r.dataSet = true
	}
}

// JSON sets a JSON body.
func JSON(v any) RequestOption {
	return func(r *Request) {
		r.JSON = v
	}
}

// Files adds multipart file parts.
func Files(files ...File) RequestOption {
	return func(r *Request) {
		r.Files = append(r.Files, files...)
	}
}

// WithAuth overrides authentication for this call.
func WithAuth(auth Auth) RequestOption {
	return func(r *Request) {
		r.Auth = auth
	}
}

// Timeout overrides the client timeout for this call.
func Timeout(d time.Duration) RequestOption {
	return func(r *Request) {
		r.Timeout = d
	}
}

// prepared is a request after the BUILD stage: everything the wire needs,
// validated, before any I/O.
type prepared struct {
	method  string
	url     *url.URL
	headers []fingerprint.HeaderField // profile or config headers merged with call headers
	body    []byte
	ctype   string // Content-Type for body, "" to leave the headers alone
	auth    string // Authorization value, "" for none
	timeout time.Duration
}

// build merges client defaults with req and validates the result.
func (c *Client) build(req *Request) (*prepared, error) {
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = "GET"
	}

	u, err := buildURL(req.URL, mergeParams(c.cfg.Params, req.Params))
	if err != nil {
		return nil, &ConfigurationError{Field: "url", Err: err}
	}

	p := &prepared{
		method:  method,
		url:     u,
		headers: mergeHeaders(c.baseHeaders(), req.Headers),
		timeout: c.cfg.Timeout,
	}
	if req.Timeout > 0 {
		p.timeout = req.Timeout
	}

	if err := encodeBody(req, p); err != nil {
		return nil, err
	}
	if !hasBody(method) {
		p.body, p.ctype = nil, ""
	}

	auth := c.auth
	if req.Auth != nil {
		auth = req.Auth
	}
	if auth != nil {
		if p.auth, err = auth.Authorization(); err != nil {
			return nil, &ConfigurationError{Field: "auth", Err: err}
		}
	}
	return p, nil
}

// encodeBody checks that only one body variant is set and encodes it.
func encodeBody(req *Request, p *prepared) error {
	set := map[string]bool{
		"content": req.Content != nil,
		"data":    req.dataSet || len(req.Data) > 0,
		"json":    req.JSON != nil,
		"files":   len(req.Files) > 0,
	}
	variants := lo.Filter([]string{"content", "data", "json", "files"}, func(name string, _ int) bool {
		return set[name]
	})
	if len(variants) > 1 {
		return configError("body", "%s are mutually exclusive", strings.Join(variants, ", "))
	}
	if len(variants) == 0 {
		return nil
	}

	switch variants[0] {
	case "content":
		p.body = req.Content
	case "data":
		p.body = []byte(encodeParams(req.Data))
		p.ctype = "application/x-www-form-urlencoded"
	case "json":
		b, err := json.Marshal(req.JSON)
		if err != nil {
			return &ConfigurationError{Field: "json", Err: err}
		}
		p.body = b
		p.ctype = "application/json"
	case "files":
		b, ctype, err := encodeMultipart(req.Files)
		if err != nil {
			return &ConfigurationError{Field: "files", Err: err}
		}
		p.body = b
		p.ctype = ctype
	}
	return nil
}

// hasBody reports whether method sends a body.
func hasBody(method string) bool {
	switch method {
	case "POST", "PUT", "PATCH":
		return true
	}
	return false
}

// baseHeaders returns the profile's header set, or the client headers when
// there is no profile.
func (c *Client) baseHeaders() []fingerprint.HeaderField {
	if c.profile != nil {
		return append([]fingerprint.HeaderField(nil), c.profile.Headers...)
	}
	return lo.Map(sortedKeys(c.cfg.Headers), func(k string, _ int) fingerprint.HeaderField {
		return fingerprint.HeaderField{Name: k, Value: c.cfg.Headers[k]}
	})
}

// mergeHeaders applies call headers over base. A call header replaces the
// value of a base header with the same name in place; new names go last.
// An empty value removes the header.
func mergeHeaders(base []fingerprint.HeaderField, call map[string]string) []fingerprint.HeaderField {
	if len(call) == 0 {
		return base
	}
	out := make([]fingerprint.HeaderField, 0, len(base)+len(call))
	used := make(map[string]bool, len(call))
	for _, f := range base {
		name := headerKey(call, f.Name)
		if name == "" {
			out = append(out, f)
			continue
		}
		used[name] = true
		if v := call[name]; v != "" {
			out = append(out, fingerprint.HeaderField{Name: f.Name, Value: v})
		}
	}
	for _, name := range sortedKeys(call) {
		if !used[name] && call[name] != "" {
			out = append(out, fingerprint.HeaderField{Name: name, Value: call[name]})
		}
	}
	return out
}

// headerKey returns the key of m equal to name ignoring case, or "".
func headerKey(m map[string]string, name string) string {
	if _, ok := m[name]; ok {
		return name
	}
	for k := range m {
		if strings.EqualFold(k, name) {
			return k
		}
	}
	return ""
}

func hasHeader(fields []fingerprint.HeaderField, name string) bool {
	return lo.ContainsBy(fields, func(f fingerprint.HeaderField) bool {
		return strings.EqualFold(f.Name, name)
	})
}

func withoutHeaders(fields []fingerprint.HeaderField, names ...string) []fingerprint.HeaderField {
	return lo.Reject(fields, func(f fingerprint.HeaderField, _ int) bool {
		return lo.ContainsBy(names, func(n string) bool { return strings.EqualFold(f.Name, n) })
	})
}

func headerValue(fields []fingerprint.HeaderField, name string) string {
	f, _ := lo.Find(fields, func(f fingerprint.HeaderField) bool {
		return strings.EqualFold(f.Name, name)
	})
	return f.Value
}

func sortedKeys(m map[string]string) []string {
	keys := lo.Keys(m)
	slices.Sort(keys)
	return keys
}
