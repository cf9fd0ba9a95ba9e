package client

import (
	"bytes"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestParseSetCookie(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	c := ParseSetCookie(`sid="abc"; Domain=.Example.COM; Path=/app; Secure; HttpOnly; SameSite=Lax`, now)
	require.NotNil(t, c)
	assert.Equal(t, "sid", c.Name)
	assert.Equal(t, "abc", c.Value)
	assert.Equal(t, "example.com", c.Domain)
	assert.Equal(t, "/app", c.Path)
	assert.True(t, c.Secure)
	assert.True(t, c.HttpOnly)
	assert.Equal(t, "Lax", c.SameSite)
	assert.True(t, c.Expires.IsZero())

	c = ParseSetCookie("a=1; Expires=Wed, 21 Oct 2099 07:28:00 GMT; Max-Age=60", now)
	require.NotNil(t, c)
	assert.Equal(t, now.Add(time.Minute), c.Expires)

	c = ParseSetCookie("a=1; Max-Age=0", now)
	require.NotNil(t, c)
	assert.True(t, c.expired(now))

	c = ParseSetCookie("a=1; Path=relative", now)
	require.NotNil(t, c)
	assert.Empty(t, c.Path)

	assert.Nil(t, ParseSetCookie("novalue", now))
	assert.Nil(t, ParseSetCookie("=x", now))
}

func TestCookieJarDomainScoping(t *testing.T) {
	jar := NewCookieJar()
	origin := mustURL(t, "https://www.example.com/login")

	jar.SetCookies(origin, []string{
		"host=1; Path=/",
		"shared=2; Domain=example.com; Path=/",
		"suffix=3; Domain=com; Path=/",
		"foreign=4; Domain=other.org; Path=/",
	})
	assert.Equal(t, 2, jar.Count())

	assert.Equal(t, "host=1; shared=2", jar.CookieHeader(mustURL(t, "https://www.example.com/")))
	assert.Equal(t, "shared=2", jar.CookieHeader(mustURL(t, "https://api.example.com/")))
	assert.Equal(t, "shared=2", jar.CookieHeader(mustURL(t, "https://example.com/")))
	assert.Empty(t, jar.CookieHeader(mustURL(t, "https://other.org/")))
	assert.Empty(t, jar.CookieHeader(mustURL(t, "https://notexample.com/")))
}

func TestCookieJarPublicSuffixRejected(t *testing.T) {
	jar := NewCookieJar()
	jar.SetCookies(mustURL(t, "https://shop.example.co.uk/"), []string{
		"bad=1; Domain=co.uk",
		"good=2; Domain=example.co.uk",
	})
	assert.Equal(t, 1, jar.Count())
	assert.Equal(t, "good=2", jar.CookieHeader(mustURL(t, "https://www.example.co.uk/")))
}

func TestCookieJarIPHost(t *testing.T) {
	jar := NewCookieJar()
	u := mustURL(t, "http://127.0.0.1:8080/")
	jar.SetCookies(u, []string{"a=1", "b=2; Domain=0.0.1"})
	assert.Equal(t, "a=1", jar.CookieHeader(u))
}

func TestCookieJarPathAndSecure(t *testing.T) {
	jar := NewCookieJar()
	jar.SetCookies(mustURL(t, "https://example.com/docs/index.html"), []string{
		"root=r; Path=/",
		"dir=d",
		"deep=x; Path=/docs/api",
		"sec=s; Path=/; Secure",
	})

	assert.Equal(t, "deep=x; dir=d; root=r; sec=s", jar.CookieHeader(mustURL(t, "https://example.com/docs/api/v1")))
	assert.Equal(t, "dir=d; root=r; sec=s", jar.CookieHeader(mustURL(t, "https://example.com/docs")))
	assert.Equal(t, "root=r", jar.CookieHeader(mustURL(t, "http://example.com/docsx")))
	assert.Equal(t, "root=r", jar.CookieHeader(mustURL(t, "http://example.com/")))
}

func TestCookieJarReplaceAndDelete(t *testing.T) {
	jar := NewCookieJar()
	u := mustURL(t, "https://example.com/")

	jar.SetCookies(u, []string{"a=1; Path=/", "b=2; Path=/"})
	jar.SetCookies(u, []string{"a=3; Path=/"})
	// The replacement keeps its place ahead of b.
	assert.Equal(t, "a=3; b=2", jar.CookieHeader(u))

	jar.SetCookies(u, []string{"a=gone; Path=/; Max-Age=0"})
	assert.Equal(t, "b=2", jar.CookieHeader(u))
	assert.Equal(t, 1, jar.Count())

	jar.SetCookies(u, []string{"b=old; Path=/; Expires=Thu, 01 Jan 1970 00:00:00 GMT"})
	assert.Empty(t, jar.CookieHeader(u))
	assert.Zero(t, jar.Count())
}

func TestCookieJarManualAndClear(t *testing.T) {
	jar := NewCookieJar()
	u := mustURL(t, "https://example.com/a/b")

	jar.SetCookie(u, "token", "xyz")
	cookies := jar.Cookies(mustURL(t, "https://example.com/"))
	require.Len(t, cookies, 1)
	assert.Equal(t, "/", cookies[0].Path)
	assert.True(t, cookies[0].HostOnly)

	// Returned cookies are copies.
	cookies[0].Value = "changed"
	assert.Equal(t, "token=xyz", jar.CookieHeader(u))

	jar.Clear()
	assert.Zero(t, jar.Count())
}

func TestDefaultPath(t *testing.T) {
	tests := map[string]string{
		"":         "/",
		"/":        "/",
		"/a":       "/",
		"/a/b":     "/a",
		"/a/b/":    "/a/b",
		"relative": "/",
	}
	for in, want := range tests {
		assert.Equal(t, want, defaultPath(in), in)
	}
}

func TestCookieJarSaveLoad(t *testing.T) {
	src := NewCookieJar()
	src.SetCookies(mustURL(t, "https://www.example.com/"), []string{
		"host=1; Path=/",
		"shared=2; Domain=example.com; Path=/app; Secure; HttpOnly; SameSite=Strict; Max-Age=3600",
		"gone=3; Path=/; Max-Age=0",
	})

	var buf bytes.Buffer
	require.NoError(t, src.Save(&buf))

	dst := NewCookieJar()
	dst.SetCookie(mustURL(t, "https://www.example.com/"), "host", "old")
	require.NoError(t, dst.Load(&buf))
	assert.Equal(t, 2, dst.Count())

	assert.Equal(t, "host=1", dst.CookieHeader(mustURL(t, "https://www.example.com/")))
	assert.Equal(t, "shared=2", dst.CookieHeader(mustURL(t, "https://api.example.com/app/x")))
	assert.Empty(t, dst.CookieHeader(mustURL(t, "http://api.example.com/app/x")))

	var de *DecodeError
	require.ErrorAs(t, dst.Load(strings.NewReader(`{"version":9}`)), &de)
	require.ErrorAs(t, dst.Load(strings.NewReader(`not json`)), &de)
}
