package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"

	"github.com/sardanioss/primp/fingerprint"
)

// Response is a fully received response. Creating it does no decoding work;
// each accessor decodes on first use and returns the cached value after.
type Response struct {
	StatusCode int
	URL        string // final URL after redirects
	Protocol   string // "HTTP/1.1" or "HTTP/2.0"

	header []fingerprint.HeaderField
	raw    []byte

	contentOnce sync.Once
	content     []byte
	contentErr  error

	textOnce sync.Once
	text     string
	textErr  error

	jsonOnce   sync.Once
	jsonValue  any
	jsonErr    error
	jsonParses atomic.Int32

	headersOnce sync.Once
	headers     *HeaderMap

	cookiesOnce sync.Once
	cookies     map[string]string
}

func newResponse(url, proto string, status int, header []fingerprint.HeaderField, body []byte) *Response {
	return &Response{
		StatusCode: status,
		URL:        url,
		Protocol:   proto,
		header:     header,
		raw:        body,
	}
}

// Raw returns the body bytes as received, before content decoding.
func (r *Response) Raw() []byte {
	return r.raw
}

// Header returns the first value of the named header.
func (r *Response) Header(name string) string {
	return headerValue(r.header, name)
}

// Content returns the body with its Content-Encoding removed.
func (r *Response) Content() ([]byte, error) {
	r.contentOnce.Do(func() {
		r.content, r.contentErr = decompress(r.raw, r.Header("Content-Encoding"))
		if r.contentErr != nil {
			r.contentErr = &DecodeError{What: "content", Err: r.contentErr}
		}
	})
	return r.content, r.contentErr
}

// Text returns the body decoded with the charset from Content-Type, UTF-8
// when it is absent or unknown.
func (r *Response) Text() (string, error) {
	r.textOnce.Do(func() {
		content, err := r.Content()
		if err != nil {
			r.textErr = err
			return
		}
		enc, name := charset(r.Header("Content-Type"))
		out, err := enc.NewDecoder().Bytes(content)
		if err != nil {
			r.textErr = &DecodeError{What: "text", Err: fmt.Errorf("%s: %w", name, err)}
			return
		}
		r.text = string(out)
	})
	return r.text, r.textErr
}

// Encoding returns the charset Text decodes with.
func (r *Response) Encoding() string {
	_, name := charset(r.Header("Content-Type"))
	return name
}

// JSON parses the body once and returns the cached value after.
func (r *Response) JSON() (any, error) {
	r.jsonOnce.Do(func() {
		content, err := r.Content()
		if err != nil {
			r.jsonErr = err
			return
		}
		r.jsonParses.Add(1)
		if err := json.Unmarshal(content, &r.jsonValue); err != nil {
			r.jsonValue = nil
			r.jsonErr = &DecodeError{What: "json", Err: err}
		}
	})
	return r.jsonValue, r.jsonErr
}

// DecodeJSON unmarshals the body into v. Unlike JSON it parses on every call,
// since v is the caller's.
func (r *Response) DecodeJSON(v any) error {
	content, err := r.Content()
	if err != nil {
		return err
	}
	if err := json.Unmarshal(content, v); err != nil {
		return &DecodeError{What: "json", Err: err}
	}
	return nil
}

// Headers returns the response headers with lowercase names in received
// order.
func (r *Response) Headers() *HeaderMap {
	r.headersOnce.Do(func() {
		r.headers = newHeaderMap(r.header)
	})
	return r.headers
}

// Cookies returns the cookies set by this response, by name. A later
// Set-Cookie for the same name wins.
func (r *Response) Cookies() map[string]string {
	r.cookiesOnce.Do(func() {
		now := time.Now()
		r.cookies = make(map[string]string)
		for _, line := range r.Headers().Values("set-cookie") {
			if c := ParseSetCookie(line, now); c != nil {
				r.cookies[c.Name] = c.Value
			}
		}
	})
	return r.cookies
}

// HeaderMap is an ordered, case-insensitive view of response headers.
type HeaderMap struct {
	keys   []string
	values map[string][]string
}

func newHeaderMap(fields []fingerprint.HeaderField) *HeaderMap {
	h := &HeaderMap{values: make(map[string][]string)}
	for _, f := range fields {
		name := strings.ToLower(f.Name)
		if _, ok := h.values[name]; !ok {
			h.keys = append(h.keys, name)
		}
		h.values[name] = append(h.values[name], f.Value)
	}
	return h
}

// Get returns the first value for name.
func (h *HeaderMap) Get(name string) string {
	if v := h.values[strings.ToLower(name)]; len(v) > 0 {
		return v[0]
	}
	return ""
}

// Values returns every value for name in received order.
func (h *HeaderMap) Values(name string) []string {
	return h.values[strings.ToLower(name)]
}

// Keys returns the lowercase header names in first-seen order.
func (h *HeaderMap) Keys() []string {
	return append([]string(nil), h.keys...)
}

// Len returns the number of distinct header names.
func (h *HeaderMap) Len() int {
	return len(h.keys)
}

// charset picks the decoder for a Content-Type value.
func charset(contentType string) (encoding.Encoding, string) {
	if contentType != "" {
		if _, params, err := mime.ParseMediaType(contentType); err == nil {
			if label := params["charset"]; label != "" {
				if enc, err := htmlindex.Get(label); err == nil {
					name, _ := htmlindex.Name(enc)
					return enc, name
				}
			}
		}
	}
	return unicode.UTF8, "utf-8"
}

// decompress removes a Content-Encoding. Stacked codings ("gzip, br") are
// undone in reverse order.
func decompress(data []byte, contentEncoding string) ([]byte, error) {
	codings := strings.Split(contentEncoding, ",")
	for i := len(codings) - 1; i >= 0; i-- {
		var err error
		if data, err = decodeOne(data, strings.ToLower(strings.TrimSpace(codings[i]))); err != nil {
			return nil, err
		}
	}
	return data, nil
}

func decodeOne(data []byte, coding string) ([]byte, error) {
	switch coding {
	case "gzip", "x-gzip":
		reader, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		defer reader.Close()
		return readAll(reader, "gzip")

	case "br":
		return readAll(brotli.NewReader(bytes.NewReader(data)), "br")

	case "zstd":
		decoder, err := zstd.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		defer decoder.Close()
		return readAll(decoder, "zstd")

	case "deflate":
		// Servers send zlib-wrapped or raw deflate under this name.
		if reader, err := zlib.NewReader(bytes.NewReader(data)); err == nil {
			defer reader.Close()
			return readAll(reader, "deflate")
		}
		reader := flate.NewReader(bytes.NewReader(data))
		defer reader.Close()
		return readAll(reader, "deflate")

	case "", "identity":
		return data, nil

	default:
		return nil, fmt.Errorf("unsupported content encoding %q", coding)
	}
}

func readAll(r io.Reader, coding string) ([]byte, error) {
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", coding, err)
	}
	return out, nil
}
