// Package pool owns the connections opened with an impersonation profile:
// it dials (directly or through a proxy), runs the TLS handshake with the
// profile's ClientHello, dispatches on ALPN and keeps connections for reuse
// per exact key.
package pool

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"
	"k8s.io/klog/v2"

	"github.com/sardanioss/primp/dns"
	"github.com/sardanioss/primp/transport"
)

var ErrPoolClosed = errors.New("connection pool is closed")

// Key identifies connections that may serve the same request. Two requests
// share a connection only when every field is equal.
type Key struct {
	Scheme   string // "http" or "https"
	Host     string
	Port     string
	Profile  string // profile identifier, "" for none
	Proxy    string // proxy URL, "" for direct
	Protocol string // "" negotiates via ALPN; "h1" or "h2" forces one
}

func (k Key) String() string {
	s := k.Scheme + "://" + net.JoinHostPort(k.Host, k.Port)
	if k.Profile != "" {
		s += " profile=" + k.Profile
	}
	if k.Protocol != "" {
		s += " proto=" + k.Protocol
	}
	if k.Proxy != "" {
		s += " via proxy"
	}
	return s
}

// Config configures a Manager.
type Config struct {
	DNS                *dns.Cache
	InsecureSkipVerify bool
	KeyLogWriter       io.Writer
	DialTimeout        time.Duration
	IdleTimeout        time.Duration
	MaxAge             time.Duration
	Registerer         prometheus.Registerer
}

const (
	defaultDialTimeout = 30 * time.Second
	defaultIdleTimeout = 90 * time.Second
	defaultMaxAge      = 5 * time.Minute
	cleanupInterval    = 30 * time.Second
)

// Manager manages connection pools for multiple keys
type Manager struct {
	cfg     Config
	metrics *metrics

	pools  map[Key]*HostPool
	mu     sync.RWMutex
	closed bool

	stopCleanup chan struct{}
}

// NewManager creates a manager and starts its cleanup loop.
func NewManager(cfg Config) *Manager {
	if cfg.DNS == nil {
		cfg.DNS = dns.NewCache()
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = defaultMaxAge
	}
	m := &Manager{
		cfg:         cfg,
		metrics:     newMetrics(cfg.Registerer),
		pools:       make(map[Key]*HostPool),
		stopCleanup: make(chan struct{}),
	}
	go m.cleanupLoop()
	return m
}

// Acquire returns a connection for key, reusing a pooled one when possible.
// The profile named by key is resolved and built before any network I/O.
func (m *Manager) Acquire(ctx context.Context, key Key) (*Conn, error) {
	p, err := m.pool(key)
	if err != nil {
		return nil, err
	}
	defer p.active.Add(-1)
	return p.acquire(ctx)
}

// Release hands a connection back after a complete request/response cycle.
func (m *Manager) Release(c *Conn) {
	c.pool.release(c)
}

// Evict closes c and drops it from its pool. reason is used in logs and
// metrics.
func (m *Manager) Evict(c *Conn, reason string) {
	c.pool.evict(c, reason)
}

// Stats returns counters across all pools.
func (m *Manager) Stats() Stats {
	return m.metrics.snapshot()
}

// pool returns the pool for key, creating it if needed. The pool is pinned
// against cleanup until the caller drops p.active.
func (m *Manager) pool(key Key) (*HostPool, error) {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return nil, ErrPoolClosed
	}
	p, ok := m.pools[key]
	if ok {
		p.active.Add(1)
	}
	m.mu.RUnlock()
	if ok {
		return p, nil
	}

	// Built outside the lock: it resolves the profile and proxy.
	fresh, err := newHostPool(m, key)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrPoolClosed
	}
	// Double-check after acquiring write lock
	if p, ok = m.pools[key]; ok {
		p.active.Add(1)
		return p, nil
	}
	m.pools[key] = fresh
	fresh.active.Add(1)
	return fresh, nil
}

func (m *Manager) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCleanup:
			return
		case <-ticker.C:
			m.cleanup()
		}
	}
}

// cleanup closes expired connections and drops empty pools. A pool with an
// Acquire in progress stays, or its new connection would land in a pool
// nothing can reach.
func (m *Manager) cleanup() {
	m.mu.RLock()
	pools := make(map[Key]*HostPool, len(m.pools))
	for k, p := range m.pools {
		pools[k] = p
	}
	m.mu.RUnlock()

	var empty []Key
	for k, p := range pools {
		if p.closeExpired() == 0 {
			empty = append(empty, k)
		}
	}
	if len(empty) == 0 {
		return
	}

	m.mu.Lock()
	for _, k := range empty {
		if p, ok := m.pools[k]; ok && p.active.Load() == 0 && p.size() == 0 {
			delete(m.pools, k)
		}
	}
	m.mu.Unlock()
}

// Close shuts down the manager and all pools
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	close(m.stopCleanup)
	pools := m.pools
	m.pools = nil
	m.mu.Unlock()

	for _, p := range pools {
		p.close()
	}
}

// HostPool manages connections for a single key
type HostPool struct {
	m      *Manager
	key    Key
	dialer *dialer

	mu     sync.Mutex
	conns  []*Conn
	closed bool

	dials singleflight.Group

	// active counts Acquire calls holding the pool. Raised under the
	// manager's read lock, checked under its write lock.
	active atomic.Int32
}

func newHostPool(m *Manager, key Key) (*HostPool, error) {
	d, err := newDialer(m, key)
	if err != nil {
		return nil, err
	}
	return &HostPool{m: m, key: key, dialer: d}, nil
}

func (p *HostPool) acquire(ctx context.Context) (*Conn, error) {
	if c := p.reuse(); c != nil {
		return c, nil
	}

	// Forced HTTP/1.1 never shares, so there is nothing to collapse.
	if p.key.Protocol == transport.ProtoHTTP1 || p.key.Scheme == "http" {
		return p.dialAndAdd(ctx, true)
	}

	// Collapse concurrent dials: an h2 connection serves every waiter. The
	// shared dial does not end with the context of the caller that started
	// it; each waiter gives up on its own context instead.
	ch := p.dials.DoChan("dial", func() (any, error) {
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.m.cfg.DialTimeout)
		defer cancel()
		return p.dialAndAdd(dctx, false)
	})
	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, transport.WrapError("dial", p.key.Host, p.key.Port, p.key.Protocol, transport.KindDial, ctx.Err())
	}
	if res.Err != nil {
		return nil, res.Err
	}
	c := res.Val.(*Conn)
	if p.claim(c) {
		return c, nil
	}
	// ALPN picked HTTP/1.1 and another waiter took the connection.
	if c := p.reuse(); c != nil {
		return c, nil
	}
	return p.dialAndAdd(ctx, true)
}

// reuse claims a healthy pooled connection, closing dead ones on the way.
func (p *HostPool) reuse() *Conn {
	now := time.Now()
	p.mu.Lock()
	kept := p.conns[:0]
	var found *Conn
	var dead []*Conn
	for _, c := range p.conns {
		c.mu.Lock()
		ok := c.usable(now, p.m.cfg.IdleTimeout, p.m.cfg.MaxAge)
		gone := c.closed || (c.inUse == 0 && !ok)
		if found == nil && ok {
			c.inUse++
			found = c
		}
		c.mu.Unlock()
		if gone {
			dead = append(dead, c)
			continue
		}
		kept = append(kept, c)
	}
	p.conns = kept
	p.mu.Unlock()

	for _, c := range dead {
		p.drop(c, "expired")
	}
	if found != nil {
		p.m.metrics.reuse()
		klog.V(2).Infof("pool: reusing %s connection to %s", found.protocol, p.key)
	}
	return found
}

// dialAndAdd opens a connection and adds it to the pool. When claim is set
// the connection is checked out to the caller straight away.
func (p *HostPool) dialAndAdd(ctx context.Context, claim bool) (*Conn, error) {
	c, err := p.dialer.dial(ctx)
	if err != nil {
		return nil, err
	}
	c.pool = p
	if claim {
		c.inUse = 1
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		c.close()
		return nil, ErrPoolClosed
	}
	p.conns = append(p.conns, c)
	p.mu.Unlock()
	p.m.metrics.opened()
	return c, nil
}

// claim checks c out for one request. HTTP/2 connections always succeed
// while they accept streams; an HTTP/1.1 connection only for its first
// claimer.
func (p *HostPool) claim(c *Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	if c.h2 != nil {
		c.inUse++
		return true
	}
	if c.inUse > 0 {
		return false
	}
	c.inUse = 1
	return true
}

func (p *HostPool) release(c *Conn) {
	c.mu.Lock()
	if c.inUse > 0 {
		c.inUse--
	}
	c.lastUsed = time.Now()
	keep := c.reusable && !c.closed
	c.mu.Unlock()

	if !keep {
		p.remove(c)
		p.drop(c, "not reusable")
	}
}

func (p *HostPool) evict(c *Conn, reason string) {
	klog.V(2).Infof("pool: evicting %s connection to %s: %s", c.protocol, p.key, reason)
	p.remove(c)
	p.dropEvicted(c, reason)
}

func (p *HostPool) remove(c *Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, pc := range p.conns {
		if pc == c {
			p.conns = append(p.conns[:i], p.conns[i+1:]...)
			return
		}
	}
}

// drop closes a connection that left the pool in the normal course of
// things. It is counted once even if called twice.
func (p *HostPool) drop(c *Conn, reason string) {
	p.shut(c, reason, false)
}

func (p *HostPool) dropEvicted(c *Conn, reason string) {
	p.shut(c, reason, true)
}

func (p *HostPool) shut(c *Conn, reason string, evicted bool) {
	c.mu.Lock()
	already := c.closed
	c.mu.Unlock()
	if already {
		return
	}
	c.close()
	p.m.metrics.closed(reason, evicted)
}

// closeExpired drops idle connections past their idle timeout or max age and
// returns how many remain.
func (p *HostPool) closeExpired() int {
	now := time.Now()
	p.mu.Lock()
	kept := p.conns[:0]
	var expired []*Conn
	for _, c := range p.conns {
		c.mu.Lock()
		idle := c.inUse == 0
		ok := c.usable(now, p.m.cfg.IdleTimeout, p.m.cfg.MaxAge)
		c.mu.Unlock()
		if idle && !ok {
			expired = append(expired, c)
			continue
		}
		kept = append(kept, c)
	}
	p.conns = kept
	n := len(kept)
	p.mu.Unlock()

	for _, c := range expired {
		p.drop(c, "expired")
	}
	return n
}

func (p *HostPool) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns)
}

func (p *HostPool) close() {
	p.mu.Lock()
	conns := p.conns
	p.conns = nil
	p.closed = true
	p.mu.Unlock()
	for _, c := range conns {
		p.drop(c, "closed")
	}
}
