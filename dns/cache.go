// Package dns resolves hostnames for the connection pool and caches the
// answers with a TTL.
package dns

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	mdns "github.com/miekg/dns"
)

const (
	defaultTTL  = 5 * time.Minute
	minTTL      = 30 * time.Second
	defaultSize = 1024
)

// entry is one cached answer. ExpiresAt may be earlier than the cache-wide
// TTL when the upstream record says so.
type entry struct {
	IPs       []net.IP
	ExpiresAt time.Time
}

// Cache provides TTL-aware DNS caching.
type Cache struct {
	entries *expirable.LRU[string, entry]
	ttl     time.Duration

	// server, when set, is queried directly with miekg/dns instead of the
	// system resolver.
	server   string
	client   *mdns.Client
	resolver *net.Resolver
}

// Option configures a Cache.
type Option func(*Cache)

// WithServer sends queries to a specific DNS server ("1.1.1.1" or
// "1.1.1.1:53") instead of the system resolver.
func WithServer(addr string) Option {
	return func(c *Cache) {
		if addr == "" {
			return
		}
		if _, _, err := net.SplitHostPort(addr); err != nil {
			addr = net.JoinHostPort(addr, "53")
		}
		c.server = addr
	}
}

// WithTTL sets the cache TTL. Values below 30s are raised to 30s.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl < minTTL {
			ttl = minTTL
		}
		c.ttl = ttl
	}
}

// NewCache creates a new DNS cache.
func NewCache(opts ...Option) *Cache {
	c := &Cache{
		ttl:      defaultTTL,
		resolver: net.DefaultResolver,
		client:   &mdns.Client{Timeout: 5 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.entries = expirable.NewLRU[string, entry](defaultSize, nil, c.ttl)
	return c
}

// Server returns the configured upstream server, or "" for the system resolver.
func (c *Cache) Server() string {
	return c.server
}

// Resolve looks up the IP addresses for a hostname.
// Returns cached result if available and not expired.
func (c *Cache) Resolve(ctx context.Context, host string) ([]net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return []net.IP{ip}, nil
	}

	if e, ok := c.entries.Get(host); ok && time.Now().Before(e.ExpiresAt) {
		return e.IPs, nil
	}

	var (
		ips []net.IP
		ttl = c.ttl
		err error
	)
	if c.server != "" {
		ips, ttl, err = c.exchange(ctx, host)
	} else {
		ips, err = c.lookup(ctx, host)
	}
	if err != nil {
		return nil, err
	}
	if len(ips) == 0 {
		return nil, &net.DNSError{Err: "no addresses found", Name: host, IsNotFound: true}
	}

	c.entries.Add(host, entry{IPs: ips, ExpiresAt: time.Now().Add(ttl)})
	return ips, nil
}

func (c *Cache) lookup(ctx context.Context, host string) ([]net.IP, error) {
	addrs, err := c.resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, err
	}
	ips := make([]net.IP, len(addrs))
	for i, addr := range addrs {
		ips[i] = addr.IP
	}
	return ips, nil
}

// exchange queries AAAA and A records from the configured server. The
// returned TTL is the smallest record TTL, clamped to [minTTL, c.ttl].
func (c *Cache) exchange(ctx context.Context, host string) ([]net.IP, time.Duration, error) {
	var (
		ips     []net.IP
		lowest  = c.ttl
		lastErr error
	)
	for _, qtype := range []uint16{mdns.TypeAAAA, mdns.TypeA} {
		msg := new(mdns.Msg)
		msg.SetQuestion(mdns.Fqdn(host), qtype)
		msg.RecursionDesired = true

		resp, _, err := c.client.ExchangeContext(ctx, msg, c.server)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.Rcode != mdns.RcodeSuccess {
			lastErr = fmt.Errorf("dns: %s for %s", mdns.RcodeToString[resp.Rcode], host)
			continue
		}
		for _, rr := range resp.Answer {
			var ip net.IP
			switch rec := rr.(type) {
			case *mdns.A:
				ip = rec.A
			case *mdns.AAAA:
				ip = rec.AAAA
			default:
				continue
			}
			ips = append(ips, ip)
			if ttl := time.Duration(rr.Header().Ttl) * time.Second; ttl < lowest {
				lowest = ttl
			}
		}
	}
	if len(ips) == 0 && lastErr != nil {
		return nil, 0, &net.DNSError{Err: lastErr.Error(), Name: host, Server: c.server}
	}
	if lowest < minTTL {
		lowest = minTTL
	}
	return ips, lowest, nil
}

// ResolveAllSorted returns all IPs sorted for Happy Eyeballs (RFC 8305):
// IPv6 addresses first, interleaved with IPv4.
func (c *Cache) ResolveAllSorted(ctx context.Context, host string) ([]net.IP, error) {
	ips, err := c.Resolve(ctx, host)
	if err != nil {
		return nil, err
	}

	var ipv4, ipv6 []net.IP
	for _, ip := range ips {
		if ip.To4() != nil {
			ipv4 = append(ipv4, ip)
		} else {
			ipv6 = append(ipv6, ip)
		}
	}

	result := make([]net.IP, 0, len(ips))
	i, j := 0, 0
	for i < len(ipv6) || j < len(ipv4) {
		if i < len(ipv6) {
			result = append(result, ipv6[i])
			i++
		}
		if j < len(ipv4) {
			result = append(result, ipv4[j])
			j++
		}
	}
	return result, nil
}

// Invalidate removes a hostname from the cache.
func (c *Cache) Invalidate(host string) {
	c.entries.Remove(host)
}

// Clear removes all entries from the cache.
func (c *Cache) Clear() {
	c.entries.Purge()
}

// Len returns the number of cached hostnames.
func (c *Cache) Len() int {
	return c.entries.Len()
}
