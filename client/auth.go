package client

import (
	"encoding/base64"
	"errors"
	"strings"
)

// Auth produces the Authorization header value for a request.
type Auth interface {
	Authorization() (string, error)
}

// BasicAuth implements HTTP Basic authentication
type BasicAuth struct {
	Username string
	Password string
}

// NewBasicAuth creates a new BasicAuth
func NewBasicAuth(username, password string) *BasicAuth {
	return &BasicAuth{
		Username: username,
		Password: password,
	}
}

// Authorization returns the Basic header value. An empty password still
// encodes as "user:".
func (a *BasicAuth) Authorization() (string, error) {
	if strings.Contains(a.Username, ":") {
		return "", errors.New("basic auth username must not contain ':'")
	}
	auth := a.Username + ":" + a.Password
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(auth)), nil
}

// BearerAuth implements bearer token authentication
type BearerAuth struct {
	Token string
}

// NewBearerAuth creates a new BearerAuth
func NewBearerAuth(token string) *BearerAuth {
	return &BearerAuth{Token: token}
}

// Authorization returns the Bearer header value.
func (a *BearerAuth) Authorization() (string, error) {
	if a.Token == "" {
		return "", errors.New("empty bearer token")
	}
	if strings.ContainsAny(a.Token, "\r\n") {
		return "", errors.New("bearer token contains a line break")
	}
	return "Bearer " + a.Token, nil
}

// pickAuth returns the single configured auth, or an error when both kinds
// are set.
func pickAuth(basic *BasicAuth, bearer string) (Auth, error) {
	switch {
	case basic != nil && bearer != "":
		return nil, configError("auth", "basic and bearer auth are mutually exclusive")
	case basic != nil:
		return basic, nil
	case bearer != "":
		return NewBearerAuth(bearer), nil
	}
	return nil, nil
}
