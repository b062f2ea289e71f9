package apiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// RequestOption configures a single request.
type RequestOption func(*Request)

// WithHeader adds a header to the request.
func WithHeader(key, value string) RequestOption {
	return func(r *Request) {
		if r.Headers == nil {
			r.Headers = make(map[string]string)
		}
		r.Headers[key] = value
	}
}

// WithQuery adds a query parameter to the request.
func WithQuery(key, value string) RequestOption {
	return func(r *Request) {
		if r.Query == nil {
			r.Query = make(map[string]string)
		}
		r.Query[key] = value
	}
}

// WithTimeout overrides the client's per-attempt timeout for this
// request.
func WithTimeout(timeout time.Duration) RequestOption {
	return func(r *Request) {
		r.Timeout = timeout
	}
}

// Get performs a GET request.
func (c *Client) Get(ctx context.Context, path string, opts ...RequestOption) *Result {
	return c.Request(ctx, newRequest(http.MethodGet, path, nil, opts...))
}

// Post performs a POST request with the given body.
func (c *Client) Post(ctx context.Context, path string, body any, opts ...RequestOption) *Result {
	return c.Request(ctx, newRequest(http.MethodPost, path, body, opts...))
}

// Put performs a PUT request with the given body.
func (c *Client) Put(ctx context.Context, path string, body any, opts ...RequestOption) *Result {
	return c.Request(ctx, newRequest(http.MethodPut, path, body, opts...))
}

// Patch performs a PATCH request with the given body.
func (c *Client) Patch(ctx context.Context, path string, body any, opts ...RequestOption) *Result {
	return c.Request(ctx, newRequest(http.MethodPatch, path, body, opts...))
}

// Delete performs a DELETE request.
func (c *Client) Delete(ctx context.Context, path string, opts ...RequestOption) *Result {
	return c.Request(ctx, newRequest(http.MethodDelete, path, nil, opts...))
}

func newRequest(method, path string, body any, opts ...RequestOption) Request {
	req := Request{
		Method: method,
		Path:   path,
		Body:   body,
	}
	for _, opt := range opts {
		opt(&req)
	}
	return req
}

// TypedResult pairs a decoded response body with the underlying Result.
type TypedResult[T any] struct {
	// Data is the decoded response body.
	Data T
	// Result is the full outcome of the call.
	Result *Result
}

// Get performs a GET request and decodes the JSON response into type T.
func Get[T any](ctx context.Context, c *Client, path string, opts ...RequestOption) (*TypedResult[T], error) {
	return doTyped[T](ctx, c, http.MethodGet, path, nil, opts...)
}

// Post performs a POST request and decodes the JSON response into type T.
func Post[T any](ctx context.Context, c *Client, path string, body any, opts ...RequestOption) (*TypedResult[T], error) {
	return doTyped[T](ctx, c, http.MethodPost, path, body, opts...)
}

// Put performs a PUT request and decodes the JSON response into type T.
func Put[T any](ctx context.Context, c *Client, path string, body any, opts ...RequestOption) (*TypedResult[T], error) {
	return doTyped[T](ctx, c, http.MethodPut, path, body, opts...)
}

// Patch performs a PATCH request and decodes the JSON response into type T.
func Patch[T any](ctx context.Context, c *Client, path string, body any, opts ...RequestOption) (*TypedResult[T], error) {
	return doTyped[T](ctx, c, http.MethodPatch, path, body, opts...)
}

// Delete performs a DELETE request and decodes the JSON response into type T.
func Delete[T any](ctx context.Context, c *Client, path string, opts ...RequestOption) (*TypedResult[T], error) {
	return doTyped[T](ctx, c, http.MethodDelete, path, nil, opts...)
}

// doTyped executes a request and decodes the JSON response. A
// non-success status is returned as an error alongside the partially
// populated TypedResult; the body is still decoded best effort so error
// payloads remain accessible.
func doTyped[T any](ctx context.Context, c *Client, method, path string, body any, opts ...RequestOption) (*TypedResult[T], error) {
	result := c.Request(ctx, newRequest(method, path, body, opts...))
	typed := &TypedResult[T]{Result: result}

	if !result.IsSuccess() {
		if result.Response != nil && len(result.Response.Body) > 0 {
			_ = json.Unmarshal(result.Response.Body, &typed.Data)
		}
		if result.Err != nil {
			return typed, result.Err
		}
		return typed, fmt.Errorf("apiclient: request ended with status %s", result.Status)
	}

	if len(result.Response.Body) > 0 {
		if err := json.Unmarshal(result.Response.Body, &typed.Data); err != nil {
			return typed, fmt.Errorf("apiclient: decode response: %w", err)
		}
	}
	return typed, nil
}
