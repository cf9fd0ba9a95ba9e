package transport

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http/httputil"
	"strconv"
	"strings"

	"github.com/samber/lo"
	http "github.com/sardanioss/http"
	"golang.org/x/net/http/httpguts"

	"github.com/sardanioss/primp/fingerprint"
)

// maxHeaderBytes bounds a response header block.
const maxHeaderBytes = 1 << 20

var errHeaderTooLarge = errors.New("http1: response header block too large")

// WriteHTTP1Request writes req the way a browser does: request line, Host,
// Connection, Content-Length, then the remaining headers in req.Order with the
// caller's casing.
func WriteHTTP1Request(w *bufio.Writer, req *Request) error {
	fields := OrderHeaders(req.Header, req.Order)
	for _, f := range fields {
		if !httpguts.ValidHeaderFieldName(f.Name) {
			return fmt.Errorf("http1: invalid header name %q", f.Name)
		}
		if !httpguts.ValidHeaderFieldValue(f.Value) {
			return fmt.Errorf("http1: invalid value for header %q", f.Name)
		}
	}

	path := req.Path
	if path == "" {
		path = "/"
	}
	fmt.Fprintf(w, "%s %s HTTP/1.1\r\n", req.Method, path)

	host := req.Host
	if v, ok := lookup(fields, "host"); ok {
		host = v
	}
	fmt.Fprintf(w, "Host: %s\r\n", host)

	conn := "keep-alive"
	if v, ok := lookup(fields, "connection"); ok {
		conn = v
	}
	fmt.Fprintf(w, "Connection: %s\r\n", conn)

	if _, ok := lookup(fields, "content-length"); !ok && (len(req.Body) > 0 || bodyMethod(req.Method)) {
		fmt.Fprintf(w, "Content-Length: %d\r\n", len(req.Body))
	}

	for _, f := range fields {
		switch strings.ToLower(f.Name) {
		case "host", "connection":
			continue
		}
		fmt.Fprintf(w, "%s: %s\r\n", f.Name, f.Value)
	}
	w.WriteString("\r\n")

	if len(req.Body) > 0 {
		w.Write(req.Body)
	}
	return w.Flush()
}

// ReadHTTP1Response reads one response, body included, from br. keepAlive is
// false when the connection cannot carry another request. Nothing past the
// end of the response is consumed from br.
func ReadHTTP1Response(br *bufio.Reader, method string) (resp *Response, keepAlive bool, err error) {
	for {
		raw, err := readHeaderLines(br)
		if err != nil {
			return nil, false, err
		}

		// The standard parser sees only the header block; the body is framed
		// below straight from br so a read never runs into the next response.
		hresp, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(raw)), &http.Request{Method: method})
		if err != nil {
			return nil, false, err
		}

		// Interim responses carry no body; the final one follows.
		if hresp.StatusCode >= 100 && hresp.StatusCode < 200 && hresp.StatusCode != http.StatusSwitchingProtocols {
			continue
		}

		body, untilEOF, err := readBody(br, method, hresp)
		if err != nil {
			return nil, false, err
		}

		return &Response{
			StatusCode: hresp.StatusCode,
			Proto:      "HTTP/" + strconv.Itoa(hresp.ProtoMajor) + "." + strconv.Itoa(hresp.ProtoMinor),
			Header:     parseHeaderBlock(raw),
			Body:       body,
		}, !hresp.Close && !untilEOF, nil
	}
}

// readBody reads the entity body framed by hresp's headers. untilEOF is true
// when the body is delimited by the connection closing.
func readBody(br *bufio.Reader, method string, hresp *http.Response) (body []byte, untilEOF bool, err error) {
	switch {
	case method == "HEAD",
		hresp.StatusCode == http.StatusNoContent,
		hresp.StatusCode == http.StatusNotModified,
		hresp.StatusCode < 200:
		return nil, false, nil

	case lo.Contains(hresp.TransferEncoding, "chunked"):
		body, err = io.ReadAll(httputil.NewChunkedReader(br))
		if err != nil {
			return nil, false, err
		}
		// Trailer section, ends with an empty line.
		if _, err := readHeaderLines(br); err != nil {
			return nil, false, err
		}
		return body, false, nil

	case hresp.ContentLength >= 0:
		// Memory follows the bytes received, not the advertised length.
		var buf bytes.Buffer
		n, err := io.CopyN(&buf, br, hresp.ContentLength)
		if err != nil {
			if errors.Is(err, io.EOF) && n < hresp.ContentLength {
				err = io.ErrUnexpectedEOF
			}
			return nil, false, err
		}
		return buf.Bytes(), false, nil
	}

	body, err = io.ReadAll(br)
	return body, true, err
}

// readHeaderLines reads lines up to and including the first empty one: the
// status line and headers, or a chunked trailer section.
func readHeaderLines(br *bufio.Reader) ([]byte, error) {
	var raw []byte
	for {
		line, err := br.ReadSlice('\n')
		if err != nil && !errors.Is(err, bufio.ErrBufferFull) {
			if errors.Is(err, io.EOF) && len(raw) == 0 && len(line) == 0 {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
		raw = append(raw, line...)
		if len(raw) > maxHeaderBytes {
			return nil, errHeaderTooLarge
		}
		if err == nil && (bytes.Equal(line, []byte("\r\n")) || bytes.Equal(line, []byte("\n"))) {
			return raw, nil
		}
	}
}

// parseHeaderBlock returns the header fields of a raw block in received
// order. Folded continuation lines are joined to the previous value.
func parseHeaderBlock(raw []byte) []fingerprint.HeaderField {
	lines := strings.Split(strings.ReplaceAll(string(raw), "\r\n", "\n"), "\n")
	var fields []fingerprint.HeaderField
	for _, line := range lines[1:] {
		if line == "" {
			break
		}
		if (line[0] == ' ' || line[0] == '\t') && len(fields) > 0 {
			last := &fields[len(fields)-1]
			last.Value += " " + strings.TrimSpace(line)
			continue
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		fields = append(fields, fingerprint.HeaderField{Name: strings.TrimSpace(name), Value: strings.TrimSpace(value)})
	}
	return fields
}
