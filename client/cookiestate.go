package client

import (
	"cmp"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"time"
)

const cookieStateVersion = 1

// CookieState is the saveable form of a CookieJar.
type CookieState struct {
	Version int           `json:"version"`
	SavedAt time.Time     `json:"saved_at"`
	Cookies []CookieEntry `json:"cookies"`
}

// CookieEntry is one serialized cookie.
type CookieEntry struct {
	Domain   string     `json:"domain"`
	HostOnly bool       `json:"host_only,omitempty"`
	Path     string     `json:"path"`
	Name     string     `json:"name"`
	Value    string     `json:"value"`
	Expires  *time.Time `json:"expires,omitempty"`
	Secure   bool       `json:"secure,omitempty"`
	HttpOnly bool       `json:"http_only,omitempty"`
	SameSite string     `json:"same_site,omitempty"`
}

// Save writes the unexpired cookies as JSON, in creation order.
func (j *CookieJar) Save(w io.Writer) error {
	now := time.Now()
	state := CookieState{Version: cookieStateVersion, SavedAt: now.UTC()}

	j.mu.Lock()
	var all []*Cookie
	for _, cookies := range j.cookies {
		for _, c := range cookies {
			if !c.expired(now) {
				all = append(all, c)
			}
		}
	}
	j.mu.Unlock()

	slices.SortFunc(all, func(a, b *Cookie) int { return cmp.Compare(a.seq, b.seq) })
	for _, c := range all {
		e := CookieEntry{
			Domain:   c.Domain,
			HostOnly: c.HostOnly,
			Path:     c.Path,
			Name:     c.Name,
			Value:    c.Value,
			Secure:   c.Secure,
			HttpOnly: c.HttpOnly,
			SameSite: c.SameSite,
		}
		if !c.Expires.IsZero() {
			exp := c.Expires.UTC()
			e.Expires = &exp
		}
		state.Cookies = append(state.Cookies, e)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(state)
}

// Load adds the cookies in a state written by Save. Stored cookies with the
// same name, domain and path are replaced; expired entries are skipped.
func (j *CookieJar) Load(r io.Reader) error {
	var state CookieState
	if err := json.NewDecoder(r).Decode(&state); err != nil {
		return &DecodeError{What: "cookie state", Err: err}
	}
	if state.Version != cookieStateVersion {
		return &DecodeError{What: "cookie state", Err: fmt.Errorf("unsupported version %d", state.Version)}
	}

	now := time.Now()
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, e := range state.Cookies {
		if e.Name == "" || e.Domain == "" {
			continue
		}
		c := &Cookie{
			Name:     e.Name,
			Value:    e.Value,
			Domain:   e.Domain,
			HostOnly: e.HostOnly,
			Path:     e.Path,
			Secure:   e.Secure,
			HttpOnly: e.HttpOnly,
			SameSite: e.SameSite,
		}
		if c.Path == "" {
			c.Path = "/"
		}
		if e.Expires != nil {
			c.Expires = *e.Expires
		}
		if c.expired(now) {
			continue
		}
		j.store(jarKey(c.Domain), c, now)
	}
	return nil
}
