package client

import (
	"net"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/publicsuffix"
	"k8s.io/klog/v2"
)

// CookieJar stores cookies and provides thread-safe access. Cookies are
// grouped by registrable domain (eTLD+1), and Domain attributes naming a
// public suffix are rejected.
type CookieJar struct {
	mu      sync.Mutex
	cookies map[string][]*Cookie // registrable domain -> cookies
	seq     uint64
}

// NewCookieJar creates a new empty cookie jar
func NewCookieJar() *CookieJar {
	return &CookieJar{
		cookies: make(map[string][]*Cookie),
	}
}

// SetCookies stores the cookies from Set-Cookie header values received for u.
func (j *CookieJar) SetCookies(u *url.URL, setCookies []string) {
	if len(setCookies) == 0 {
		return
	}
	host := strings.ToLower(u.Hostname())
	key := jarKey(host)
	now := time.Now()

	j.mu.Lock()
	defer j.mu.Unlock()

	for _, line := range setCookies {
		c := ParseSetCookie(line, now)
		if c == nil {
			continue
		}
		if !j.scope(c, u, host) {
			klog.V(4).Infof("cookies: rejected %q for %s (domain %q)", c.Name, host, c.Domain)
			continue
		}
		j.store(key, c, now)
	}
}

// scope fills in Domain and Path and reports whether host may set c.
func (j *CookieJar) scope(c *Cookie, u *url.URL, host string) bool {
	if c.Path == "" {
		c.Path = defaultPath(u.Path)
	}
	if c.Domain == "" || c.Domain == host {
		c.Domain = host
		c.HostOnly = true
		return true
	}
	if isIP(host) {
		return false
	}
	// A Domain attribute naming a public suffix would leak to every site
	// under it.
	if ps, _ := publicsuffix.PublicSuffix(c.Domain); ps == c.Domain {
		return false
	}
	return domainMatch(host, c.Domain)
}

func (j *CookieJar) store(key string, c *Cookie, now time.Time) {
	existing := j.cookies[key]
	kept := existing[:0]
	for _, old := range existing {
		if old.Name == c.Name && old.Domain == c.Domain && old.Path == c.Path {
			// A replacement keeps the original creation order.
			c.seq = old.seq
			continue
		}
		kept = append(kept, old)
	}
	if !c.expired(now) {
		if c.seq == 0 {
			j.seq++
			c.seq = j.seq
		}
		kept = append(kept, c)
	}
	if len(kept) == 0 {
		delete(j.cookies, key)
		return
	}
	j.cookies[key] = kept
}

// Cookies returns the cookies to send for the given URL, longest path first
// and then in creation order.
func (j *CookieJar) Cookies(u *url.URL) []*Cookie {
	host := strings.ToLower(u.Hostname())
	now := time.Now()

	j.mu.Lock()
	var result []*Cookie
	for _, c := range j.cookies[jarKey(host)] {
		if !c.expired(now) && c.matches(u) {
			cp := *c
			result = append(result, &cp)
		}
	}
	j.mu.Unlock()

	sort.SliceStable(result, func(a, b int) bool {
		if len(result[a].Path) != len(result[b].Path) {
			return len(result[a].Path) > len(result[b].Path)
		}
		return result[a].seq < result[b].seq
	})
	return result
}

// CookieHeader returns the Cookie header value for the given URL
func (j *CookieJar) CookieHeader(u *url.URL) string {
	cookies := j.Cookies(u)
	if len(cookies) == 0 {
		return ""
	}
	parts := make([]string, len(cookies))
	for i, c := range cookies {
		parts[i] = c.String()
	}
	return strings.Join(parts, "; ")
}

// SetCookie adds a host-only session cookie for u.
func (j *CookieJar) SetCookie(u *url.URL, name, value string) {
	j.SetCookies(u, []string{name + "=" + value + "; Path=/"})
}

// Clear removes all cookies from the jar
func (j *CookieJar) Clear() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.cookies = make(map[string][]*Cookie)
}

// Count returns the number of stored cookies, expired ones included until
// they are next overwritten.
func (j *CookieJar) Count() int {
	j.mu.Lock()
	defer j.mu.Unlock()

	count := 0
	for _, cookies := range j.cookies {
		count += len(cookies)
	}
	return count
}

// jarKey groups a host under its registrable domain.
func jarKey(host string) string {
	if isIP(host) {
		return host
	}
	if key, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		return key
	}
	return host
}

func isIP(host string) bool {
	return net.ParseIP(host) != nil
}
