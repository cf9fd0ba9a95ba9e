package client

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Cookie represents an HTTP cookie
type Cookie struct {
	Name     string
	Value    string
	Domain   string // without a leading dot
	HostOnly bool   // no Domain attribute: sent to the exact host only
	Path     string
	Expires  time.Time // zero for session cookies
	Secure   bool
	HttpOnly bool
	SameSite string // "Strict", "Lax", "None"

	seq uint64 // creation order, for stable Cookie header ordering
}

// expired reports whether the cookie must no longer be sent.
func (c *Cookie) expired(now time.Time) bool {
	return !c.Expires.IsZero() && !now.Before(c.Expires)
}

// String returns the cookie in "name=value" format for the Cookie header
func (c *Cookie) String() string {
	return c.Name + "=" + c.Value
}

// matches reports whether this cookie should be sent for u.
func (c *Cookie) matches(u *url.URL) bool {
	host := strings.ToLower(u.Hostname())
	if c.HostOnly {
		if host != c.Domain {
			return false
		}
	} else if !domainMatch(host, c.Domain) {
		return false
	}
	if c.Secure && u.Scheme != "https" {
		return false
	}
	return pathMatch(u.Path, c.Path)
}

// domainMatch implements the RFC 6265 domain-match rule.
func domainMatch(host, domain string) bool {
	if host == domain {
		return true
	}
	return strings.HasSuffix(host, "."+domain) && !isIP(host)
}

// pathMatch implements the RFC 6265 path-match rule.
func pathMatch(reqPath, cookiePath string) bool {
	if reqPath == "" {
		reqPath = "/"
	}
	if cookiePath == "" || cookiePath == "/" || reqPath == cookiePath {
		return true
	}
	if !strings.HasPrefix(reqPath, cookiePath) {
		return false
	}
	return strings.HasSuffix(cookiePath, "/") || reqPath[len(cookiePath)] == '/'
}

// defaultPath is the directory of the request path.
func defaultPath(reqPath string) string {
	if reqPath == "" || reqPath[0] != '/' {
		return "/"
	}
	i := strings.LastIndex(reqPath, "/")
	if i == 0 {
		return "/"
	}
	return reqPath[:i]
}

// ParseSetCookie parses one Set-Cookie header value. Domain and Path keep the
// attribute values (Domain without its leading dot); the jar fills in
// defaults from the request URL. Max-Age is converted to Expires relative to
// now. Returns nil for lines without a name=value pair.
func ParseSetCookie(line string, now time.Time) *Cookie {
	parts := strings.Split(line, ";")
	nameValue := strings.TrimSpace(parts[0])
	eq := strings.Index(nameValue, "=")
	if eq <= 0 {
		return nil
	}
	cookie := &Cookie{
		Name:  strings.TrimSpace(nameValue[:eq]),
		Value: strings.Trim(strings.TrimSpace(nameValue[eq+1:]), `"`),
	}

	var maxAge *int
	for _, attr := range parts[1:] {
		attr = strings.TrimSpace(attr)
		if attr == "" {
			continue
		}
		name, value, _ := strings.Cut(attr, "=")
		name = strings.ToLower(strings.TrimSpace(name))
		value = strings.TrimSpace(value)

		switch name {
		case "domain":
			cookie.Domain = strings.ToLower(strings.TrimPrefix(value, "."))
		case "path":
			if strings.HasPrefix(value, "/") {
				cookie.Path = value
			}
		case "expires":
			if t, err := http.ParseTime(value); err == nil {
				cookie.Expires = t
			} else if t, err := time.Parse("Mon, 02-Jan-2006 15:04:05 MST", value); err == nil {
				cookie.Expires = t
			}
		case "max-age":
			if n, err := strconv.Atoi(value); err == nil {
				maxAge = &n
			}
		case "secure":
			cookie.Secure = true
		case "httponly":
			cookie.HttpOnly = true
		case "samesite":
			cookie.SameSite = value
		}
	}

	// Max-Age wins over Expires.
	if maxAge != nil {
		if *maxAge <= 0 {
			cookie.Expires = time.Unix(1, 0)
		} else {
			cookie.Expires = now.Add(time.Duration(*maxAge) * time.Second)
		}
	}
	return cookie
}
