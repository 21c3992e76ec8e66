// Package net provides the HTTP client used for all anchor interactions
// (stellar.toml, SEP-10 auth, KYC, quote, and transfer servers).
//
// The Client offers a configurable timeout and convenience helpers for the
// request shapes the SEP specifications use: JSON GET/POST, form-encoded
// POST, and multipart PUT. It performs no internal retries; retry, when
// wanted, belongs to the caller.
//
// Example usage:
//
//	client := net.NewClient(net.WithTimeout(20 * time.Second))
//	resp, err := client.Get(ctx, "https://testanchor.stellar.org/info", token)
package net

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/stellar-connect/anchor-client-go/errors"
)

const defaultTimeout = 30 * time.Second

// Client is an HTTP client with timeout control and SEP-shaped helpers.
type Client struct {
	httpClient *http.Client
}

// ClientOption is a function that configures a Client.
type ClientOption func(*Client)

// WithTimeout sets the HTTP client timeout (default: 30s).
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithHTTPClient replaces the underlying http.Client entirely.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// NewClient creates a new HTTP client with the given options.
func NewClient(opts ...ClientOption) *Client {
	client := &Client{
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

// Response wraps an HTTP response with convenience methods.
type Response struct {
	*http.Response
}

// DecodeJSON reads the response body into v and closes it.
func (r *Response) DecodeJSON(v any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.NewCoreError(errors.NETWORK_ERROR, "failed to decode response JSON", err)
	}
	return nil
}

// Text reads the response body as a string and closes it.
func (r *Response) Text() (string, error) {
	defer r.Body.Close()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return "", errors.NewCoreError(errors.NETWORK_ERROR, "failed to read response body", err)
	}
	return string(body), nil
}

// Get performs an HTTP GET request. An empty bearer omits the Authorization
// header.
func (c *Client) Get(ctx context.Context, url string, bearer string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.NewCoreError(errors.NETWORK_ERROR, "failed to create GET request", err)
	}
	setBearer(req, bearer)
	return c.do(req)
}

// GetJSON performs a GET request and decodes a 2xx JSON body into v. Non-2xx
// responses are returned to the caller undecoded for protocol-specific
// handling.
func (c *Client) GetJSON(ctx context.Context, url string, bearer string, v any) (*Response, error) {
	resp, err := c.Get(ctx, url, bearer)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return resp, nil
	}
	if err := resp.DecodeJSON(v); err != nil {
		return nil, err
	}
	return resp, nil
}

// PostJSON performs a POST request with a JSON body.
func (c *Client) PostJSON(ctx context.Context, url string, bearer string, body any) (*Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, errors.NewCoreError(errors.NETWORK_ERROR, "failed to marshal request body", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.NewCoreError(errors.NETWORK_ERROR, "failed to create POST request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	setBearer(req, bearer)
	return c.do(req)
}

// PostForm performs a POST request with form-encoded data (SEP-10 token
// exchange uses this shape).
func (c *Client) PostForm(ctx context.Context, urlStr string, bearer string, data url.Values) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, urlStr, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, errors.NewCoreError(errors.NETWORK_ERROR, "failed to create POST form request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	setBearer(req, bearer)
	return c.do(req)
}

// MultipartField is one part of a multipart request body. Parts with a
// Filename are sent as raw file content (SEP-12 binary fields); others as
// plain form values.
type MultipartField struct {
	Name     string
	Value    string
	Filename string
	Content  []byte
}

// PostMultipart performs a POST request with a multipart form body (SEP-24
// interactive initiation uses this shape).
func (c *Client) PostMultipart(ctx context.Context, url string, bearer string, fields []MultipartField) (*Response, error) {
	return c.multipart(ctx, http.MethodPost, url, bearer, fields)
}

// PutMultipart performs a PUT request with a multipart form body (SEP-12
// customer submission uses this shape).
func (c *Client) PutMultipart(ctx context.Context, url string, bearer string, fields []MultipartField) (*Response, error) {
	return c.multipart(ctx, http.MethodPut, url, bearer, fields)
}

// Delete performs an HTTP DELETE request.
func (c *Client) Delete(ctx context.Context, url string, bearer string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return nil, errors.NewCoreError(errors.NETWORK_ERROR, "failed to create DELETE request", err)
	}
	setBearer(req, bearer)
	return c.do(req)
}

func (c *Client) multipart(ctx context.Context, method, url, bearer string, fields []MultipartField) (*Response, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, f := range fields {
		if f.Filename != "" {
			part, err := w.CreateFormFile(f.Name, f.Filename)
			if err != nil {
				return nil, errors.NewCoreError(errors.NETWORK_ERROR, "failed to create multipart file part", err)
			}
			if _, err := part.Write(f.Content); err != nil {
				return nil, errors.NewCoreError(errors.NETWORK_ERROR, "failed to write multipart file part", err)
			}
			continue
		}
		if err := w.WriteField(f.Name, f.Value); err != nil {
			return nil, errors.NewCoreError(errors.NETWORK_ERROR, "failed to write multipart field", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, errors.NewCoreError(errors.NETWORK_ERROR, "failed to finalize multipart body", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return nil, errors.NewCoreError(errors.NETWORK_ERROR, fmt.Sprintf("failed to create %s request", method), err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	setBearer(req, bearer)
	return c.do(req)
}

// do executes the HTTP request. One transport failure is one error; nothing
// is retried here.
func (c *Client) do(req *http.Request) (*Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.NewCoreError(
			errors.NETWORK_ERROR,
			fmt.Sprintf("%s %s failed", req.Method, req.URL),
			err,
		)
	}
	return &Response{resp}, nil
}

func setBearer(req *http.Request, bearer string) {
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
}
