package client

import (
	"context"
	"net/http"

	"golang.org/x/sync/errgroup"
)

// AsyncClient is the non-blocking client: calls return a Future at once and
// the request runs on its own goroutine. It shares the pipeline with Client,
// so the wire signature and Response semantics are identical.
type AsyncClient struct {
	*Client
}

// NewAsyncClient creates an AsyncClient with the same options as NewClient.
func NewAsyncClient(opts ...Option) (*AsyncClient, error) {
	c, err := NewClient(opts...)
	if err != nil {
		return nil, err
	}
	return &AsyncClient{Client: c}, nil
}

// Future is the pending result of an asynchronous request.
type Future struct {
	done chan struct{}
	resp *Response
	err  error
}

// Done is closed when the result is available.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Await waits for the result. A ctx that ends first returns its error; the
// request itself keeps running under the context it was started with.
func (f *Future) Await(ctx context.Context) (*Response, error) {
	select {
	case <-f.done:
		return f.resp, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Do starts req and returns its Future.
func (a *AsyncClient) Do(ctx context.Context, req *Request) *Future {
	f := &Future{done: make(chan struct{})}
	go func() {
		defer close(f.done)
		f.resp, f.err = a.execute(ctx, req)
	}()
	return f
}

// Request starts a request built from opts.
func (a *AsyncClient) Request(ctx context.Context, method, url string, opts ...RequestOption) *Future {
	return a.Do(ctx, newRequest(method, url, opts))
}

// Get starts a GET request
func (a *AsyncClient) Get(ctx context.Context, url string, opts ...RequestOption) *Future {
	return a.Request(ctx, http.MethodGet, url, opts...)
}

// Head starts a HEAD request
func (a *AsyncClient) Head(ctx context.Context, url string, opts ...RequestOption) *Future {
	return a.Request(ctx, http.MethodHead, url, opts...)
}

// Options starts an OPTIONS request
func (a *AsyncClient) Options(ctx context.Context, url string, opts ...RequestOption) *Future {
	return a.Request(ctx, http.MethodOptions, url, opts...)
}

// Delete starts a DELETE request
func (a *AsyncClient) Delete(ctx context.Context, url string, opts ...RequestOption) *Future {
	return a.Request(ctx, http.MethodDelete, url, opts...)
}

// Post starts a POST request
func (a *AsyncClient) Post(ctx context.Context, url string, opts ...RequestOption) *Future {
	return a.Request(ctx, http.MethodPost, url, opts...)
}

// Put starts a PUT request
func (a *AsyncClient) Put(ctx context.Context, url string, opts ...RequestOption) *Future {
	return a.Request(ctx, http.MethodPut, url, opts...)
}

// Patch starts a PATCH request
func (a *AsyncClient) Patch(ctx context.Context, url string, opts ...RequestOption) *Future {
	return a.Request(ctx, http.MethodPatch, url, opts...)
}

// Gather waits for every future and returns the responses in the same order.
// The first error stops the wait for the others; their requests still run.
func Gather(ctx context.Context, futures ...*Future) ([]*Response, error) {
	out := make([]*Response, len(futures))
	g, gctx := errgroup.WithContext(ctx)
	for i, f := range futures {
		g.Go(func() error {
			resp, err := f.Await(gctx)
			if err != nil {
				return err
			}
			out[i] = resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
