package pool

import (
	"bufio"
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/sardanioss/net/http2"
	"k8s.io/klog/v2"

	"github.com/sardanioss/primp/transport"
)

// Conn is one established connection carrying a fixed signature. HTTP/1.1
// connections are checked out by one request at a time; HTTP/2 connections
// are shared while the server accepts new streams.
type Conn struct {
	key      Key
	pool     *HostPool
	protocol string // transport.ProtoHTTP1 or transport.ProtoHTTP2

	netConn net.Conn
	br      *bufio.Reader
	bw      *bufio.Writer

	h2          *http2.ClientConn
	pseudoOrder []string

	createdAt time.Time

	mu       sync.Mutex
	lastUsed time.Time
	inUse    int
	reusable bool
	closed   bool
	useCount int64
}

// Key returns the pool key the connection was opened for.
func (c *Conn) Key() Key {
	return c.key
}

// Protocol returns the negotiated protocol, "h1" or "h2".
func (c *Conn) Protocol() string {
	return c.protocol
}

// RemoteAddr returns the address of the peer (or proxy).
func (c *Conn) RemoteAddr() net.Addr {
	return c.netConn.RemoteAddr()
}

// RoundTrip sends req and reads the full response. On success the caller
// must Release the connection. On error it must Evict it unless Reusable
// still reports true.
func (c *Conn) RoundTrip(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, c.wrap("roundtrip", transport.KindClosed, transport.ErrClosed)
	}
	c.lastUsed = time.Now()
	c.useCount++
	c.mu.Unlock()

	if c.protocol == transport.ProtoHTTP2 {
		resp, err := transport.RoundTripHTTP2(ctx, c.h2, req, c.pseudoOrder)
		if err != nil {
			if connBroken(c.h2, err) {
				c.markBroken()
			}
			return nil, c.wrap("roundtrip", transport.KindProtocol, ctxCause(ctx, err))
		}
		return resp, nil
	}
	return c.roundTripHTTP1(ctx, req)
}

// Reusable reports whether the connection is still in a known state. After
// a failed HTTP/1.1 exchange it never is; a failed HTTP/2 stream leaves the
// connection reusable unless the connection itself went down.
func (c *Conn) Reusable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reusable && !c.closed
}

func (c *Conn) markBroken() {
	c.mu.Lock()
	c.reusable = false
	c.mu.Unlock()
}

// connBroken reports whether err took down the whole HTTP/2 connection rather
// than the one stream: a connection error, GOAWAY, or a client connection
// that no longer takes new streams.
func connBroken(cc *http2.ClientConn, err error) bool {
	var connErr http2.ConnectionError
	var goAway http2.GoAwayError
	if errors.As(err, &connErr) || errors.As(err, &goAway) {
		return true
	}
	return !cc.CanTakeNewRequest()
}

func (c *Conn) roundTripHTTP1(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	if deadline, ok := ctx.Deadline(); ok {
		c.netConn.SetDeadline(deadline)
	}
	// Cancellation unblocks a pending read or write.
	stop := context.AfterFunc(ctx, func() {
		c.netConn.SetDeadline(time.Unix(1, 0))
	})
	defer func() {
		if stop() {
			c.netConn.SetDeadline(time.Time{})
		}
	}()

	if err := transport.WriteHTTP1Request(c.bw, req); err != nil {
		c.markBroken()
		return nil, c.wrap("write", transport.KindProtocol, ctxCause(ctx, err))
	}
	resp, keepAlive, err := transport.ReadHTTP1Response(c.br, req.Method)
	if err != nil {
		c.markBroken()
		return nil, c.wrap("read", transport.KindProtocol, ctxCause(ctx, err))
	}

	c.mu.Lock()
	c.reusable = keepAlive
	c.mu.Unlock()
	return resp, nil
}

// ctxCause prefers the context error when the context ended the I/O.
func ctxCause(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
		return ctxErr
	}
	return err
}

func (c *Conn) wrap(op string, kind transport.Kind, err error) error {
	return transport.WrapError(op, c.key.Host, c.key.Port, c.protocol, kind, err)
}

// usable reports whether the connection may serve another request. Callers
// hold c.mu.
func (c *Conn) usable(now time.Time, idleTimeout, maxAge time.Duration) bool {
	if c.closed || !c.reusable {
		return false
	}
	if now.Sub(c.createdAt) >= maxAge {
		return false
	}
	if c.inUse == 0 && now.Sub(c.lastUsed) >= idleTimeout {
		return false
	}
	if c.h2 != nil {
		return c.h2.CanTakeNewRequest()
	}
	return c.inUse == 0
}

// close tears the connection down. It is safe to call more than once.
func (c *Conn) close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	var err error
	if c.h2 != nil {
		err = c.h2.Close()
	}
	if cerr := c.netConn.Close(); cerr != nil && err == nil && !errors.Is(cerr, net.ErrClosed) {
		err = cerr
	}
	if err != nil {
		klog.Warningf("pool: closing connection to %s: %v", net.JoinHostPort(c.key.Host, c.key.Port), err)
	}
	return err
}
