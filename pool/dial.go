package pool

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/sardanioss/net/http2"
	utls "github.com/sardanioss/utls"
	"k8s.io/klog/v2"

	"github.com/sardanioss/primp/fingerprint"
	"github.com/sardanioss/primp/keylog"
	"github.com/sardanioss/primp/proxy"
	"github.com/sardanioss/primp/transport"
)

// ErrNoH2 is returned when HTTP/2 is forced and the server did not select it.
var ErrNoH2 = errors.New("server did not negotiate h2")

// dialer opens connections for one key. Everything derived from the profile
// is computed once, before the first dial.
type dialer struct {
	m   *Manager
	key Key

	profile  *fingerprint.Profile // nil without impersonation
	alpn     []string
	h2params *fingerprint.HTTP2Params
	h2       *http2.Transport
	proxy    proxy.Dialer
}

func newDialer(m *Manager, key Key) (*dialer, error) {
	d := &dialer{m: m, key: key}

	switch key.Protocol {
	case transport.ProtoHTTP1:
		d.alpn = []string{"http/1.1"}
	default:
		d.alpn = []string{"h2", "http/1.1"}
	}

	if key.Profile != "" {
		p, err := fingerprint.Resolve(key.Profile)
		if err != nil {
			return nil, err
		}
		d.profile = p
		if key.Protocol != transport.ProtoHTTP1 {
			d.alpn = p.TLS.ALPN
		}
		// Fails here, before any I/O, if the signature cannot be expressed.
		if _, err := fingerprint.BuildClientHelloSpec(p, fingerprint.BuildOptions{ALPN: d.forcedALPN()}); err != nil {
			return nil, err
		}
		if d.h2params, err = fingerprint.BuildHTTP2Params(p); err != nil {
			return nil, err
		}
		if d.h2, err = transport.NewHTTP2Transport(d.h2params); err != nil {
			return nil, err
		}
	} else {
		d.h2 = &http2.Transport{AllowHTTP: true, DisableCompression: true}
	}

	if key.Proxy != "" {
		pd, err := proxy.New(key.Proxy, m.cfg.DialTimeout)
		if err != nil {
			return nil, err
		}
		d.proxy = pd
	}
	return d, nil
}

// forcedALPN narrows the profile's ALPN list when HTTP/1.1 is forced.
func (d *dialer) forcedALPN() []string {
	if d.key.Protocol == transport.ProtoHTTP1 {
		return []string{"http/1.1"}
	}
	return nil
}

func (d *dialer) wrap(op string, kind transport.Kind, err error) error {
	return transport.WrapError(op, d.key.Host, d.key.Port, d.key.Protocol, kind, err)
}

// dial opens a new connection: TCP (or proxy tunnel), then TLS with the
// profile's ClientHello, then the protocol ALPN selected.
func (d *dialer) dial(ctx context.Context) (*Conn, error) {
	raw, err := d.dialTCP(ctx)
	if err != nil {
		return nil, err
	}
	d.m.metrics.dial()

	if d.key.Scheme == "http" {
		if d.key.Protocol == transport.ProtoHTTP2 {
			raw.Close()
			return nil, d.wrap("dial", transport.KindProtocol, fmt.Errorf("%w: plain-text HTTP/2 is not supported", ErrNoH2))
		}
		klog.V(2).Infof("pool: opened h1 connection to %s", d.key)
		return d.newConn(raw, transport.ProtoHTTP1), nil
	}

	tlsConn, err := d.handshake(ctx, raw)
	if err != nil {
		raw.Close()
		return nil, err
	}
	d.m.metrics.handshake()

	proto := tlsConn.ConnectionState().NegotiatedProtocol
	switch {
	case proto == "h2":
		c, err := d.newH2Conn(tlsConn)
		if err != nil {
			tlsConn.Close()
			return nil, d.wrap("h2 setup", transport.KindProtocol, err)
		}
		klog.V(2).Infof("pool: opened h2 connection to %s", d.key)
		return c, nil
	case d.key.Protocol == transport.ProtoHTTP2:
		tlsConn.Close()
		return nil, d.wrap("alpn", transport.KindProtocol, fmt.Errorf("%w (got %q)", ErrNoH2, proto))
	}
	klog.V(2).Infof("pool: opened h1 connection to %s (alpn %q)", d.key, proto)
	return d.newConn(tlsConn, transport.ProtoHTTP1), nil
}

func (d *dialer) dialTCP(ctx context.Context) (net.Conn, error) {
	addr := net.JoinHostPort(d.key.Host, d.key.Port)
	if d.proxy != nil {
		conn, err := d.proxy.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, d.wrap("proxy", transport.KindProxy, err)
		}
		return conn, nil
	}

	ips, err := d.m.cfg.DNS.ResolveAllSorted(ctx, d.key.Host)
	if err != nil {
		return nil, d.wrap("resolve", transport.KindDNS, err)
	}
	conn, err := d.dialAddrs(ctx, ips)
	if err != nil {
		return nil, d.wrap("dial", transport.KindDial, err)
	}
	return conn, nil
}

// dialAddrs tries each address in order (IPv6 and IPv4 interleaved by the
// resolver) and returns the first connection that succeeds.
func (d *dialer) dialAddrs(ctx context.Context, ips []net.IP) (net.Conn, error) {
	if len(ips) == 0 {
		return nil, fmt.Errorf("no IP addresses available")
	}
	nd := &net.Dialer{Timeout: d.m.cfg.DialTimeout, KeepAlive: 30 * time.Second}

	var lastErr error
	for _, ip := range ips {
		conn, err := nd.DialContext(ctx, "tcp", net.JoinHostPort(ip.String(), d.key.Port))
		if err == nil {
			return conn, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

// handshake runs the TLS handshake with the profile's ClientHello.
func (d *dialer) handshake(ctx context.Context, raw net.Conn) (*utls.UConn, error) {
	cfg := &utls.Config{
		ServerName:         d.key.Host,
		InsecureSkipVerify: d.m.cfg.InsecureSkipVerify,
		KeyLogWriter:       keylog.Writer(d.m.cfg.KeyLogWriter),
		NextProtos:         d.alpn,
	}

	var tlsConn *utls.UConn
	if d.profile == nil {
		tlsConn = utls.UClient(raw, cfg, utls.HelloGolang)
	} else {
		// Built per connection: uTLS fills the extensions in place.
		spec, err := fingerprint.BuildClientHelloSpec(d.profile, fingerprint.BuildOptions{ALPN: d.forcedALPN()})
		if err != nil {
			return nil, err
		}
		tlsConn = utls.UClient(raw, cfg, utls.HelloCustom)
		if err := tlsConn.ApplyPreset(spec); err != nil {
			return nil, d.wrap("handshake", transport.KindTLS, fmt.Errorf("applying %s ClientHello: %w", d.profile.ID, err))
		}
	}

	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return nil, d.wrap("handshake", transport.KindTLS, err)
	}
	return tlsConn, nil
}

func (d *dialer) newH2Conn(tlsConn *utls.UConn) (*Conn, error) {
	var wire = net.Conn(tlsConn)
	var pseudo []string
	if d.h2params != nil {
		wire = transport.WrapHTTP2(tlsConn, d.h2params)
		pseudo = d.h2params.PseudoHeaderOrder
	}
	cc, err := d.h2.NewClientConn(wire)
	if err != nil {
		return nil, err
	}
	c := d.newConn(tlsConn, transport.ProtoHTTP2)
	c.h2 = cc
	c.pseudoOrder = pseudo
	return c, nil
}

func (d *dialer) newConn(nc net.Conn, proto string) *Conn {
	now := time.Now()
	c := &Conn{
		key:       d.key,
		protocol:  proto,
		netConn:   nc,
		createdAt: now,
		lastUsed:  now,
		reusable:  true,
	}
	if proto == transport.ProtoHTTP1 {
		c.br = bufio.NewReader(nc)
		c.bw = bufio.NewWriter(nc)
	}
	return c
}
