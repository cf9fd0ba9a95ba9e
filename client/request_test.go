package client

import (
	"bytes"
	"io"
	"mime"
	"mime/multipart"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sardanioss/primp/fingerprint"
)

func testClient(opts ...Option) *Client {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return &Client{cfg: cfg}
}

func TestMergeParams(t *testing.T) {
	base := []Param{P("a", "1"), P("x", "0"), P("a", "9")}
	got := mergeParams(base, []Param{P("a", "2"), P("b", "3")})
	assert.Equal(t, []Param{P("x", "0"), P("a", "2"), P("b", "3")}, got)

	same := mergeParams(base, nil)
	assert.Equal(t, base, same)
	same[0].Value = "changed"
	assert.Equal(t, "1", base[0].Value)

	assert.Equal(t, []Param{P("a", "1"), P("b", "2")}, ParamsFromMap(map[string]string{"b": "2", "a": "1"}))
}

func TestBuildURL(t *testing.T) {
	u, err := buildURL("https://example.com/search?q=go#frag", []Param{P("page", "2"), P("tag", "a b&c")})
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/search?q=go&page=2&tag=a+b%26c", u.String())

	for _, bad := range []string{"example.com/path", "ftp://example.com/", "https:///nohost", "http://[::1"} {
		_, err := buildURL(bad, nil)
		assert.Error(t, err, bad)
	}
}

func TestAuthorityAndRequestURI(t *testing.T) {
	tests := []struct {
		raw       string
		authority string
		uri       string
	}{
		{"https://Example.com", "example.com", "/"},
		{"https://example.com:443/a", "example.com", "/a"},
		{"http://example.com:80/a?b=c", "example.com", "/a?b=c"},
		{"https://example.com:8443/", "example.com:8443", "/"},
		{"http://[::1]:8080/x", "[::1]:8080", "/x"},
		{"https://[::1]/", "[::1]", "/"},
		{"https://example.com/a%20b", "example.com", "/a%20b"},
	}
	for _, tt := range tests {
		u := mustURL(t, tt.raw)
		assert.Equal(t, tt.authority, authority(u), tt.raw)
		assert.Equal(t, tt.uri, requestURI(u), tt.raw)
	}
}

func TestMergeHeaders(t *testing.T) {
	base := []fingerprint.HeaderField{
		{Name: "User-Agent", Value: "ua"},
		{Name: "Accept", Value: "*/*"},
		{Name: "Accept-Language", Value: "en"},
	}
	got := mergeHeaders(base, map[string]string{
		"accept":          "text/html",
		"Accept-Language": "",
		"X-Z":             "z",
		"X-A":             "a",
	})
	assert.Equal(t, []fingerprint.HeaderField{
		{Name: "User-Agent", Value: "ua"},
		{Name: "Accept", Value: "text/html"},
		{Name: "X-A", Value: "a"},
		{Name: "X-Z", Value: "z"},
	}, got)
	assert.Equal(t, "*/*", base[1].Value)
}

func TestBuildHeadersWithoutProfile(t *testing.T) {
	c := testClient(WithHeaders(map[string]string{"X-B": "b", "X-A": "a"}))
	p, err := c.build(&Request{URL: "https://example.com", Headers: map[string]string{"x-b": "call"}})
	require.NoError(t, err)
	assert.Equal(t, "GET", p.method)
	assert.Equal(t, []fingerprint.HeaderField{
		{Name: "X-A", Value: "a"},
		{Name: "X-B", Value: "call"},
	}, p.headers)
}

func TestEncodeBody(t *testing.T) {
	c := testClient()

	t.Run("conflict", func(t *testing.T) {
		_, err := c.build(newRequest("POST", "https://example.com", []RequestOption{
			Content([]byte("x")), JSON(map[string]int{"a": 1}),
		}))
		var ce *ConfigurationError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, "body", ce.Field)
		assert.Contains(t, ce.Error(), "content, json are mutually exclusive")
	})

	t.Run("empty data still conflicts", func(t *testing.T) {
		_, err := c.build(newRequest("POST", "https://example.com", []RequestOption{
			Data(), Files(FormField("a", "b")),
		}))
		var ce *ConfigurationError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, "body", ce.Field)
	})

	t.Run("form", func(t *testing.T) {
		p, err := c.build(newRequest("put", "https://example.com", []RequestOption{
			Data(P("b", "2"), P("a", "x y")),
		}))
		require.NoError(t, err)
		assert.Equal(t, "PUT", p.method)
		assert.Equal(t, "b=2&a=x+y", string(p.body))
		assert.Equal(t, "application/x-www-form-urlencoded", p.ctype)
	})

	t.Run("json", func(t *testing.T) {
		p, err := c.build(newRequest("PATCH", "https://example.com", []RequestOption{
			JSON(map[string]any{"k": []int{1}}),
		}))
		require.NoError(t, err)
		assert.JSONEq(t, `{"k":[1]}`, string(p.body))
		assert.Equal(t, "application/json", p.ctype)
	})

	t.Run("invalid json", func(t *testing.T) {
		_, err := c.build(newRequest("POST", "https://example.com", []RequestOption{JSON(make(chan int))}))
		var ce *ConfigurationError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, "json", ce.Field)
	})

	t.Run("get drops body", func(t *testing.T) {
		p, err := c.build(newRequest("GET", "https://example.com", []RequestOption{Content([]byte("x"))}))
		require.NoError(t, err)
		assert.Nil(t, p.body)
		assert.Empty(t, p.ctype)
	})
}

func TestEncodeMultipart(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "report.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF"), 0o600))

	body, ctype, err := encodeMultipart([]File{
		FormField("title", "q3"),
		FileFromPath("doc", path),
		FileFromBytes("img", `we"ird.PNG`, []byte{0x89, 'P'}),
		{Field: "blob", Name: "data.bin", Content: []byte("raw"), MIMEType: "application/x-custom"},
	})
	require.NoError(t, err)

	mt, params, err := mime.ParseMediaType(ctype)
	require.NoError(t, err)
	assert.Equal(t, "multipart/form-data", mt)

	r := multipart.NewReader(bytes.NewReader(body), params["boundary"])
	type part struct{ field, file, ctype, content string }
	var parts []part
	for {
		p, err := r.NextPart()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		b, err := io.ReadAll(p)
		require.NoError(t, err)
		parts = append(parts, part{p.FormName(), p.FileName(), p.Header.Get("Content-Type"), string(b)})
	}
	assert.Equal(t, []part{
		{"title", "", "", "q3"},
		{"doc", "report.pdf", "application/pdf", "%PDF"},
		{"img", `we"ird.PNG`, "image/png", "\x89P"},
		{"blob", "data.bin", "application/x-custom", "raw"},
	}, parts)

	_, _, err = encodeMultipart([]File{FileFromPath("missing", filepath.Join(dir, "nope"))})
	assert.Error(t, err)
}

func TestAuthHeaders(t *testing.T) {
	v, err := NewBasicAuth("user", "").Authorization()
	require.NoError(t, err)
	assert.Equal(t, "Basic dXNlcjo=", v)

	_, err = NewBasicAuth("us:er", "p").Authorization()
	assert.Error(t, err)
	_, err = NewBearerAuth("").Authorization()
	assert.Error(t, err)
	_, err = NewBearerAuth("a\r\nX-Injected: 1").Authorization()
	assert.Error(t, err)

	c := testClient()
	p, err := c.build(newRequest("GET", "https://example.com", []RequestOption{WithAuth(NewBearerAuth(""))}))
	assert.Nil(t, p)
	var ce *ConfigurationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "auth", ce.Field)
}

func TestRedirectRules(t *testing.T) {
	body := []byte("a=1")
	start := func(method string) *hop {
		return &hop{
			method: method,
			url:    mustURL(t, "https://example.com/start?x=1"),
			headers: []fingerprint.HeaderField{
				{Name: "Accept", Value: "*/*"},
				{Name: "Content-Length", Value: "3"},
			},
			body:  body,
			ctype: "application/x-www-form-urlencoded",
		}
	}

	tests := []struct {
		status   int
		method   string
		want     string
		keepBody bool
	}{
		{301, "POST", "GET", false},
		{302, "PUT", "GET", false},
		{301, "HEAD", "HEAD", false},
		{303, "POST", "GET", false},
		{303, "HEAD", "HEAD", false},
		{307, "POST", "POST", true},
		{308, "PATCH", "PATCH", true},
	}
	c := testClient()
	for _, tt := range tests {
		next, err := c.redirect(start(tt.method), tt.status, "/next#frag")
		require.NoError(t, err)
		assert.Equal(t, tt.want, next.method, "%d %s", tt.status, tt.method)
		assert.Equal(t, "https://example.com/next", next.url.String())
		assert.Equal(t, "https://example.com/start?x=1", next.referer)
		if tt.keepBody {
			assert.Equal(t, body, next.body)
			assert.True(t, hasHeader(next.headers, "Content-Length"))
		} else {
			assert.Nil(t, next.body)
			assert.Empty(t, next.ctype)
			assert.False(t, hasHeader(next.headers, "Content-Length"))
			assert.True(t, hasHeader(next.headers, "Accept"))
		}
	}

	// No Referer on a downgrade to plain http.
	next, err := c.redirect(start("GET"), 302, "http://example.com/plain")
	require.NoError(t, err)
	assert.Empty(t, next.referer)

	_, err = c.redirect(start("GET"), 302, "ftp://example.com/file")
	assert.Error(t, err)

	noRef := testClient(WithReferer(false))
	next, err = noRef.redirect(start("GET"), 302, "/x")
	require.NoError(t, err)
	assert.Empty(t, next.referer)
}

func TestWireHeaders(t *testing.T) {
	c := testClient()
	c.jar = NewCookieJar()
	u := mustURL(t, "https://example.com/")
	c.jar.SetCookie(u, "jar", "1")

	h := &hop{
		method: "POST",
		url:    u,
		headers: []fingerprint.HeaderField{
			{Name: "Accept", Value: "*/*"},
			{Name: "Cookie", Value: "own=0"},
		},
		ctype:   "application/json",
		referer: "https://example.com/prev",
	}
	got := c.wireHeaders(h, "Bearer t", true)
	assert.Equal(t, []fingerprint.HeaderField{
		{Name: "Accept", Value: "*/*"},
		{Name: "Content-Type", Value: "application/json"},
		{Name: "Authorization", Value: "Bearer t"},
		{Name: "Cookie", Value: "own=0; jar=1"},
		{Name: "Referer", Value: "https://example.com/prev"},
	}, got)

	h.url = mustURL(t, "https://other.example.net/")
	got = c.wireHeaders(h, "Bearer t", false)
	assert.False(t, hasHeader(got, "Authorization"))
	assert.False(t, hasHeader(got, "Cookie"))
}
