package proxy

import (
	"context"
	"fmt"
	"net"
	"net/url"

	xproxy "golang.org/x/net/proxy"
)

// socks5Dialer adapts the x/net SOCKS5 client. Hostnames are always sent to
// the proxy unresolved, so socks5 and socks5h behave the same.
type socks5Dialer struct {
	addr string
	d    xproxy.ContextDialer
}

func newSOCKS5Dialer(u *url.URL, forward *net.Dialer) (*socks5Dialer, error) {
	var auth *xproxy.Auth
	if u.User != nil && u.User.Username() != "" {
		pass, _ := u.User.Password()
		auth = &xproxy.Auth{User: u.User.Username(), Password: pass}
	}
	d, err := xproxy.SOCKS5("tcp", u.Host, auth, forward)
	if err != nil {
		return nil, fmt.Errorf("socks5 proxy %s: %w", u.Host, err)
	}
	cd, ok := d.(xproxy.ContextDialer)
	if !ok {
		return nil, fmt.Errorf("socks5 proxy %s: dialer does not support contexts", u.Host)
	}
	return &socks5Dialer{addr: u.Host, d: cd}, nil
}

func (s *socks5Dialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	conn, err := s.d.DialContext(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("SOCKS5 CONNECT via %s failed: %w", s.addr, err)
	}
	return conn, nil
}
