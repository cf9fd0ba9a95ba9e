// Package primp provides an HTTP client that impersonates real browsers on
// the wire: the TLS ClientHello, HTTP/2 SETTINGS and frame order, and header
// order all match the selected browser profile.
//
// Basic usage:
//
//	c, err := primp.New(client.WithImpersonate("chrome_131"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer c.Close()
//
//	resp, err := c.Get(ctx, "https://example.com")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	body, _ := resp.Text()
//
// One-off requests can skip the client:
//
//	resp, err := primp.Get(ctx, "firefox_133", "https://example.com",
//	    client.Params(client.P("q", "go")),
//	)
package primp

import (
	"context"
	"net/http"

	"github.com/sardanioss/primp/client"
	"github.com/sardanioss/primp/fingerprint"
)

type (
	Client      = client.Client
	AsyncClient = client.AsyncClient
	Response    = client.Response
)

// New creates a blocking client.
func New(opts ...client.Option) (*Client, error) {
	return client.NewClient(opts...)
}

// NewAsync creates a client whose calls return futures.
func NewAsync(opts ...client.Option) (*AsyncClient, error) {
	return client.NewAsyncClient(opts...)
}

// Profiles returns the identifiers accepted by client.WithImpersonate.
func Profiles() []string {
	return fingerprint.Available()
}

// Request sends a single request on a throwaway client impersonating the
// given profile ("" for none). The client is closed before returning, so no
// connection outlives the call. An unknown profile fails before any I/O.
func Request(ctx context.Context, impersonate, method, url string, opts ...client.RequestOption) (*Response, error) {
	c, err := client.NewClient(client.WithImpersonate(impersonate))
	if err != nil {
		return nil, err
	}
	defer c.Close()
	return c.Request(ctx, method, url, opts...)
}

// Get performs a one-shot GET request
func Get(ctx context.Context, impersonate, url string, opts ...client.RequestOption) (*Response, error) {
	return Request(ctx, impersonate, http.MethodGet, url, opts...)
}

// Head performs a one-shot HEAD request
func Head(ctx context.Context, impersonate, url string, opts ...client.RequestOption) (*Response, error) {
	return Request(ctx, impersonate, http.MethodHead, url, opts...)
}

// Options performs a one-shot OPTIONS request
func Options(ctx context.Context, impersonate, url string, opts ...client.RequestOption) (*Response, error) {
	return Request(ctx, impersonate, http.MethodOptions, url, opts...)
}

// Delete performs a one-shot DELETE request
func Delete(ctx context.Context, impersonate, url string, opts ...client.RequestOption) (*Response, error) {
	return Request(ctx, impersonate, http.MethodDelete, url, opts...)
}

// Post performs a one-shot POST request
func Post(ctx context.Context, impersonate, url string, opts ...client.RequestOption) (*Response, error) {
	return Request(ctx, impersonate, http.MethodPost, url, opts...)
}

// Put performs a one-shot PUT request
func Put(ctx context.Context, impersonate, url string, opts ...client.RequestOption) (*Response, error) {
	return Request(ctx, impersonate, http.MethodPut, url, opts...)
}

// Patch performs a one-shot PATCH request
func Patch(ctx context.Context, impersonate, url string, opts ...client.RequestOption) (*Response, error) {
	return Request(ctx, impersonate, http.MethodPatch, url, opts...)
}
