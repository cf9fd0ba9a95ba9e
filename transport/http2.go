package transport

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strconv"
	"strings"

	http "github.com/sardanioss/http"
	"github.com/sardanioss/net/http2"

	"github.com/sardanioss/primp/fingerprint"
)

// NewHTTP2Transport returns the HTTP/2 transport whose connection settings
// match params. It only ever serves connections handed to NewClientConn.
//
// The frame writer advertises the profile's windows to the server, so the
// transport's own receive windows are set to the same values; otherwise a
// stream over the library's default window fails with FLOW_CONTROL_ERROR.
func NewHTTP2Transport(params *fingerprint.HTTP2Params) (*http2.Transport, error) {
	h2cfg := &http.HTTP2Config{}
	if params.InitialWindowSize > 0 {
		h2cfg.MaxReceiveBufferPerStream = int(min(params.InitialWindowSize, maxWindow))
	}
	if params.WindowUpdate > 0 {
		h2cfg.MaxReceiveBufferPerConnection = int(min(params.WindowUpdate, maxWindow))
	}
	t, err := http2.ConfigureTransports(&http.Transport{HTTP2: h2cfg})
	if err != nil {
		return nil, err
	}
	t.AllowHTTP = true
	t.DisableCompression = true
	t.StrictMaxConcurrentStreams = false
	t.MaxReadFrameSize = params.MaxFrameSize
	t.MaxDecoderHeaderTableSize = params.HeaderTableSize
	t.MaxEncoderHeaderTableSize = params.HeaderTableSize
	if params.MaxHeaderListSize > 0 {
		t.MaxHeaderListSize = params.MaxHeaderListSize
	}
	return t, nil
}

// maxWindow is the largest flow-control window HTTP/2 allows.
const maxWindow = 1<<31 - 1

// RoundTripHTTP2 sends req as one stream on cc and reads the whole response.
//
// The frame writer under cc puts the fields in the profile's order; the order
// keys only keep the library's own encoding close to it.
func RoundTripHTTP2(ctx context.Context, cc *http2.ClientConn, req *Request, pseudoOrder []string) (*Response, error) {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	hreq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, err
	}
	hreq.Host = req.Host
	hreq.ContentLength = int64(len(req.Body))

	for _, f := range OrderHeaders(req.Header, req.Order) {
		switch strings.ToLower(f.Name) {
		case "host":
			hreq.Host = f.Value
			continue
		case "connection", "keep-alive", "proxy-connection", "transfer-encoding", "upgrade", "content-length":
			// Connection-specific headers are illegal in HTTP/2.
			continue
		}
		hreq.Header.Add(f.Name, f.Value)
	}
	if len(req.Order) > 0 {
		hreq.Header[http.HeaderOrderKey] = append([]string(nil), req.Order...)
	}
	if len(pseudoOrder) > 0 {
		hreq.Header[http.PHeaderOrderKey] = append([]string(nil), pseudoOrder...)
	}

	hresp, err := cc.RoundTrip(hreq)
	if err != nil {
		return nil, err
	}
	defer hresp.Body.Close()

	data, err := io.ReadAll(hresp.Body)
	if err != nil {
		return nil, err
	}

	// HTTP/2 responses arrive as a map; names are sorted for a stable order.
	names := make([]string, 0, len(hresp.Header))
	for name := range hresp.Header {
		names = append(names, name)
	}
	sort.Strings(names)
	var fields []fingerprint.HeaderField
	for _, name := range names {
		for _, v := range hresp.Header[name] {
			fields = append(fields, fingerprint.HeaderField{Name: strings.ToLower(name), Value: v})
		}
	}

	return &Response{
		StatusCode: hresp.StatusCode,
		Proto:      "HTTP/" + strconv.Itoa(hresp.ProtoMajor) + "." + strconv.Itoa(hresp.ProtoMinor),
		Header:     fields,
		Body:       data,
	}, nil
}
