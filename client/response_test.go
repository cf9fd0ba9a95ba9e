package client

import (
	"bytes"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sardanioss/primp/fingerprint"
)

func hdr(kv ...string) []fingerprint.HeaderField {
	var out []fingerprint.HeaderField
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, fingerprint.HeaderField{Name: kv[i], Value: kv[i+1]})
	}
	return out
}

func compress(t *testing.T, coding string, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	switch coding {
	case "gzip":
		w := gzip.NewWriter(&buf)
		_, err := w.Write(data)
		require.NoError(t, err)
		require.NoError(t, w.Close())
	case "br":
		w := brotli.NewWriter(&buf)
		_, err := w.Write(data)
		require.NoError(t, err)
		require.NoError(t, w.Close())
	case "zstd":
		w, err := zstd.NewWriter(&buf)
		require.NoError(t, err)
		_, err = w.Write(data)
		require.NoError(t, err)
		require.NoError(t, w.Close())
	case "deflate":
		w := zlib.NewWriter(&buf)
		_, err := w.Write(data)
		require.NoError(t, err)
		require.NoError(t, w.Close())
	case "raw-deflate":
		w, err := flate.NewWriter(&buf, flate.DefaultCompression)
		require.NoError(t, err)
		_, err = w.Write(data)
		require.NoError(t, err)
		require.NoError(t, w.Close())
	default:
		t.Fatalf("unknown coding %s", coding)
	}
	return buf.Bytes()
}

func TestResponseContentDecoding(t *testing.T) {
	plain := []byte(`{"hello":"world"}`)
	tests := []struct {
		coding string // Content-Encoding header
		build  string // encoder used
	}{
		{"gzip", "gzip"},
		{"br", "br"},
		{"zstd", "zstd"},
		{"deflate", "deflate"},
		{"deflate", "raw-deflate"},
	}
	for _, tt := range tests {
		t.Run(tt.build, func(t *testing.T) {
			raw := compress(t, tt.build, plain)
			resp := newResponse("https://example.com/", "HTTP/2.0", 200, hdr("content-encoding", tt.coding), raw)

			assert.Equal(t, raw, resp.Raw())
			content, err := resp.Content()
			require.NoError(t, err)
			assert.Equal(t, plain, content)
		})
	}

	t.Run("stacked", func(t *testing.T) {
		raw := compress(t, "br", compress(t, "gzip", plain))
		resp := newResponse("", "HTTP/1.1", 200, hdr("Content-Encoding", "gzip, br"), raw)
		content, err := resp.Content()
		require.NoError(t, err)
		assert.Equal(t, plain, content)
	})
}

func TestResponseDecodeErrors(t *testing.T) {
	resp := newResponse("", "HTTP/1.1", 200, hdr("Content-Encoding", "gzip"), []byte("not gzip"))

	_, err := resp.Content()
	var de *DecodeError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "content", de.What)

	_, err = resp.Text()
	require.ErrorAs(t, err, &de)
	_, err = resp.JSON()
	require.ErrorAs(t, err, &de)

	unknown := newResponse("", "HTTP/1.1", 200, hdr("Content-Encoding", "compress"), []byte("x"))
	_, err = unknown.Content()
	require.ErrorAs(t, err, &de)
}

func TestResponseText(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        []byte
		want        string
		encoding    string
	}{
		{"no header", "", []byte("héllo"), "héllo", "utf-8"},
		{"no charset", "text/html", []byte("héllo"), "héllo", "utf-8"},
		{"latin1", "text/plain; charset=ISO-8859-1", []byte("caf\xe9"), "café", "windows-1252"},
		{"quoted", `text/plain; charset="windows-1251"`, []byte("\xcf\xf0\xe8\xe2\xe5\xf2"), "Привет", "windows-1251"},
		{"shift_jis", "text/plain; charset=shift_jis", []byte("\x82\xa0"), "あ", "shift_jis"},
		{"unknown charset", "text/plain; charset=x-made-up", []byte("plain"), "plain", "utf-8"},
		{"unparseable", "text/plain; charset", []byte("plain"), "plain", "utf-8"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var h []fingerprint.HeaderField
			if tt.contentType != "" {
				h = hdr("Content-Type", tt.contentType)
			}
			resp := newResponse("", "HTTP/1.1", 200, h, tt.body)
			got, err := resp.Text()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.encoding, resp.Encoding())
		})
	}
}

func TestResponseJSONParsedOnce(t *testing.T) {
	resp := newResponse("", "HTTP/2.0", 200, hdr("content-type", "application/json"), []byte(`{"a":[1,2],"b":"x"}`))

	first, err := resp.JSON()
	require.NoError(t, err)
	second, err := resp.JSON()
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, map[string]any{"a": []any{1.0, 2.0}, "b": "x"}, first)
	assert.EqualValues(t, 1, resp.jsonParses.Load())

	var typed struct {
		A []int `json:"a"`
	}
	require.NoError(t, resp.DecodeJSON(&typed))
	assert.Equal(t, []int{1, 2}, typed.A)
}

func TestResponseJSONInvalid(t *testing.T) {
	resp := newResponse("", "HTTP/1.1", 200, nil, []byte("<html>"))
	for i := 0; i < 2; i++ {
		v, err := resp.JSON()
		assert.Nil(t, v)
		var de *DecodeError
		require.ErrorAs(t, err, &de)
		assert.Equal(t, "json", de.What)
	}
	assert.EqualValues(t, 1, resp.jsonParses.Load())
}

func TestResponseHeadersAndCookies(t *testing.T) {
	resp := newResponse("", "HTTP/1.1", 200, hdr(
		"Content-Type", "text/plain",
		"Set-Cookie", "a=1; Path=/",
		"X-Multi", "one",
		"Set-Cookie", `b="2"; HttpOnly`,
		"x-multi", "two",
		"Set-Cookie", "a=3",
	), nil)

	h := resp.Headers()
	assert.Same(t, h, resp.Headers())
	assert.Equal(t, []string{"content-type", "set-cookie", "x-multi"}, h.Keys())
	assert.Equal(t, 3, h.Len())
	assert.Equal(t, []string{"one", "two"}, h.Values("X-MULTI"))
	assert.Equal(t, "text/plain", h.Get("Content-Type"))
	assert.Empty(t, h.Get("missing"))

	assert.Equal(t, map[string]string{"a": "3", "b": "2"}, resp.Cookies())
}
