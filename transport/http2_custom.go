package transport

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net"
	"sync"

	"github.com/sardanioss/net/http2/hpack"
	utls "github.com/sardanioss/utls"
	"k8s.io/klog/v2"

	"github.com/sardanioss/primp/fingerprint"
)

// HTTP/2 frame types
const (
	frameTypeHeaders      = 0x1
	frameTypeSettings     = 0x4
	frameTypeWindowUpdate = 0x8
	frameTypeContinuation = 0x9
)

// HTTP/2 frame flags
const (
	flagEndStream  = 0x1
	flagAck        = 0x1
	flagEndHeaders = 0x4
	flagPadded     = 0x8
	flagPriority   = 0x20
)

// HTTP/2 frame header size
const frameHeaderLen = 9

// maxOutFrame is the largest frame payload every peer must accept.
const maxOutFrame = 16384

var clientPreface = []byte("PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n")

// http2Conn sits between the HTTP/2 client and the TLS connection and rewrites
// the frames that carry the fingerprint: the first SETTINGS, the first
// connection WINDOW_UPDATE and every HEADERS block.
//
// HEADERS blocks are decoded with a decoder that lives as long as the
// connection, so it tracks the client encoder's dynamic table, and re-encoded
// with our own encoder, which the server's decoder then tracks.
type http2Conn struct {
	net.Conn
	params *fingerprint.HTTP2Params

	mu            sync.Mutex
	buf           bytes.Buffer
	wrotePreface  bool
	wroteSettings bool
	wroteWindow   bool

	decoder  *hpack.Decoder
	encoder  *hpack.Encoder
	hpackBuf bytes.Buffer

	// pending collects a header block split across HEADERS + CONTINUATION.
	pending      []byte
	pendingFlags byte
	pendingID    uint32
	inBlock      bool
}

func newHTTP2Conn(conn net.Conn, params *fingerprint.HTTP2Params) *http2Conn {
	c := &http2Conn{
		Conn:    conn,
		params:  params,
		decoder: hpack.NewDecoder(65536, nil),
	}
	c.encoder = hpack.NewEncoder(&c.hpackBuf)
	return c
}

// Write intercepts writes to modify HTTP/2 frames
func (c *http2Conn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.buf.Write(p)

	for c.buf.Len() > 0 {
		data := c.buf.Bytes()

		if !c.wrotePreface {
			if len(data) < len(clientPreface) {
				break
			}
			if !bytes.Equal(data[:len(clientPreface)], clientPreface) {
				return 0, fmt.Errorf("http2: unexpected client preface")
			}
			if _, err := c.Conn.Write(clientPreface); err != nil {
				return 0, err
			}
			c.buf.Next(len(clientPreface))
			c.wrotePreface = true
			continue
		}

		if len(data) < frameHeaderLen {
			break
		}
		length := int(data[0])<<16 | int(data[1])<<8 | int(data[2])
		frameSize := frameHeaderLen + length
		if len(data) < frameSize {
			break
		}

		out, err := c.rewrite(data[:frameSize])
		if err != nil {
			return 0, err
		}
		if len(out) > 0 {
			if _, err := c.Conn.Write(out); err != nil {
				return 0, err
			}
		}
		c.buf.Next(frameSize)
	}

	return len(p), nil
}

// rewrite returns the bytes to put on the wire for one client frame. It may
// return nothing while a header block is still incomplete.
func (c *http2Conn) rewrite(frame []byte) ([]byte, error) {
	frameType := frame[3]
	flags := frame[4]
	streamID := binary.BigEndian.Uint32(frame[5:9]) & 0x7fffffff

	switch frameType {
	case frameTypeSettings:
		if !c.wroteSettings && flags&flagAck == 0 {
			c.wroteSettings = true
			klog.V(4).Infof("http2: rewriting SETTINGS (%d entries)", len(c.params.Settings))
			return c.settingsFrame(), nil
		}

	case frameTypeWindowUpdate:
		if !c.wroteWindow && streamID == 0 && c.params.WindowUpdate > 0 {
			c.wroteWindow = true
			return c.windowUpdateFrame(), nil
		}

	case frameTypeHeaders:
		block, err := headerFragment(frame)
		if err != nil {
			return nil, err
		}
		c.pending = append(c.pending[:0], block...)
		c.pendingFlags = flags
		c.pendingID = streamID
		c.inBlock = true
		if flags&flagEndHeaders == 0 {
			return nil, nil
		}
		return c.flushHeaders()

	case frameTypeContinuation:
		if !c.inBlock || streamID != c.pendingID {
			return nil, fmt.Errorf("http2: CONTINUATION for stream %d outside a header block", streamID)
		}
		c.pending = append(c.pending, frame[frameHeaderLen:]...)
		if flags&flagEndHeaders == 0 {
			return nil, nil
		}
		return c.flushHeaders()
	}

	return frame, nil
}

// headerFragment strips padding and any priority block from a HEADERS payload.
func headerFragment(frame []byte) ([]byte, error) {
	flags := frame[4]
	payload := frame[frameHeaderLen:]

	padLen := 0
	if flags&flagPadded != 0 {
		if len(payload) < 1 {
			return nil, fmt.Errorf("http2: short padded HEADERS frame")
		}
		padLen = int(payload[0])
		payload = payload[1:]
	}
	if flags&flagPriority != 0 {
		if len(payload) < 5 {
			return nil, fmt.Errorf("http2: short HEADERS priority block")
		}
		payload = payload[5:]
	}
	if padLen > len(payload) {
		return nil, fmt.Errorf("http2: HEADERS padding exceeds payload")
	}
	return payload[:len(payload)-padLen], nil
}

// flushHeaders re-encodes the pending header block in profile order and
// frames it as HEADERS (+ CONTINUATION if it does not fit one frame).
func (c *http2Conn) flushHeaders() ([]byte, error) {
	c.inBlock = false
	fields, err := c.decoder.DecodeFull(c.pending)
	if err != nil {
		return nil, fmt.Errorf("http2: decoding client header block: %w", err)
	}

	c.hpackBuf.Reset()
	for _, f := range orderFields(fields, c.params.PseudoHeaderOrder, c.params.HeaderOrder) {
		if err := c.encoder.WriteField(hpack.HeaderField{Name: f.Name, Value: f.Value, Sensitive: f.Sensitive}); err != nil {
			return nil, err
		}
	}
	block := c.hpackBuf.Bytes()

	// Trailers carry no pseudo-headers and no priority.
	isRequest := len(fields) > 0 && fields[0].IsPseudo()

	var prio []byte
	flags := c.pendingFlags & flagEndStream
	if isRequest && c.params.HasPriority {
		prio = make([]byte, 5)
		dep := c.params.StreamDependency & 0x7fffffff
		if c.params.StreamExclusive {
			dep |= 0x80000000
		}
		binary.BigEndian.PutUint32(prio[0:4], dep)
		prio[4] = c.params.Weight
		flags |= flagPriority
	}

	klog.V(4).Infof("http2: stream %d HEADERS rewritten (%d fields, priority=%v)", c.pendingID, len(fields), prio != nil)
	return frameHeaders(c.pendingID, flags, prio, block), nil
}

// orderFields puts pseudo-headers in pseudoOrder, then regular headers in
// headerOrder. Headers not named in headerOrder keep their original relative
// order after the listed ones.
func orderFields(fields []hpack.HeaderField, pseudoOrder, headerOrder []string) []hpack.HeaderField {
	out := make([]hpack.HeaderField, 0, len(fields))
	used := make([]bool, len(fields))

	take := func(name string) {
		for i, f := range fields {
			if !used[i] && f.Name == name {
				out = append(out, f)
				used[i] = true
			}
		}
	}
	for _, name := range pseudoOrder {
		take(name)
	}
	// Pseudo-headers the profile does not list still go before regular ones.
	for i, f := range fields {
		if !used[i] && f.IsPseudo() {
			out = append(out, f)
			used[i] = true
		}
	}
	for _, name := range headerOrder {
		take(name)
	}
	for i, f := range fields {
		if !used[i] {
			out = append(out, f)
		}
	}
	return out
}

func frameHeaders(streamID uint32, flags byte, prio, block []byte) []byte {
	var out bytes.Buffer

	first := maxOutFrame - len(prio)
	if first > len(block) {
		first = len(block)
	}
	if first == len(block) {
		flags |= flagEndHeaders
	}
	writeFrameHeader(&out, len(prio)+first, frameTypeHeaders, flags, streamID)
	out.Write(prio)
	out.Write(block[:first])

	for rest := block[first:]; len(rest) > 0; {
		n := len(rest)
		var f byte
		if n > maxOutFrame {
			n = maxOutFrame
		} else {
			f = flagEndHeaders
		}
		writeFrameHeader(&out, n, frameTypeContinuation, f, streamID)
		out.Write(rest[:n])
		rest = rest[n:]
	}
	return out.Bytes()
}

func writeFrameHeader(w *bytes.Buffer, length int, frameType, flags byte, streamID uint32) {
	var hdr [frameHeaderLen]byte
	hdr[0] = byte(length >> 16)
	hdr[1] = byte(length >> 8)
	hdr[2] = byte(length)
	hdr[3] = frameType
	hdr[4] = flags
	binary.BigEndian.PutUint32(hdr[5:], streamID&0x7fffffff)
	w.Write(hdr[:])
}

// settingsFrame builds the SETTINGS frame with the profile's entries in
// profile order.
func (c *http2Conn) settingsFrame() []byte {
	var out bytes.Buffer
	writeFrameHeader(&out, len(c.params.SettingsPayload), frameTypeSettings, 0, 0)
	out.Write(c.params.SettingsPayload)
	return out.Bytes()
}

func (c *http2Conn) windowUpdateFrame() []byte {
	var out bytes.Buffer
	writeFrameHeader(&out, 4, frameTypeWindowUpdate, 0, 0)
	var inc [4]byte
	binary.BigEndian.PutUint32(inc[:], c.params.WindowUpdate&0x7fffffff)
	out.Write(inc[:])
	return out.Bytes()
}

// tlsConnWrapper wraps http2Conn and provides TLS state for http2.Transport
type tlsConnWrapper struct {
	*http2Conn
	tlsConn *utls.UConn
}

// ConnectionState returns the TLS connection state
func (w *tlsConnWrapper) ConnectionState() utls.ConnectionState {
	return w.tlsConn.ConnectionState()
}

// WrapHTTP2 wraps conn with the frame rewriter for params. When conn is a
// uTLS connection the wrapper also exposes its ConnectionState.
func WrapHTTP2(conn net.Conn, params *fingerprint.HTTP2Params) net.Conn {
	h2 := newHTTP2Conn(conn, params)
	if tlsConn, ok := conn.(*utls.UConn); ok {
		return &tlsConnWrapper{http2Conn: h2, tlsConn: tlsConn}
	}
	return h2
}
