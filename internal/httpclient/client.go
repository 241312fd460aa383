// Package httpclient provides the HTTP client used to fetch checkpoints and
// label files, with context management, timeouts and observability hooks.
package httpclient

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"
)

const (
	// DefaultTimeout is the default timeout for small requests if the context has no deadline.
	DefaultTimeout = 30 * time.Second

	defaultMaxIdleConns          = 10
	defaultIdleConnTimeout       = 90 * time.Second
	defaultTLSHandshakeTimeout   = 10 * time.Second
	defaultResponseHeaderTimeout = 30 * time.Second
	defaultDialTimeout           = 30 * time.Second
	defaultDialKeepAlive         = 30 * time.Second
	downloadBufferSize           = 256 * 1024

	defaultUserAgent = "panns-go"
)

// Client wraps http.Client with default timeouts, a User-Agent and hooks.
// Safe for concurrent use.
type Client struct {
	client         *http.Client
	defaultTimeout time.Duration
	userAgent      string

	hookMu        sync.RWMutex
	beforeRequest func(*http.Request)
	afterResponse func(*http.Request, *http.Response, error)
}

// Config holds configuration for creating an HTTP client.
type Config struct {
	// DefaultTimeout is applied by Get/Do when the context has no deadline.
	// Download never applies it: large transfers are bounded by the caller's context.
	DefaultTimeout time.Duration

	UserAgent string

	MaxIdleConns          int
	IdleConnTimeout       time.Duration
	TLSHandshakeTimeout   time.Duration
	ResponseHeaderTimeout time.Duration

	// Transport replaces the tuned default transport, mainly for tests.
	Transport http.RoundTripper
}

// DefaultConfig returns a Config with production defaults.
func DefaultConfig() Config {
	return Config{
		DefaultTimeout:        DefaultTimeout,
		UserAgent:             defaultUserAgent,
		MaxIdleConns:          defaultMaxIdleConns,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   defaultTLSHandshakeTimeout,
		ResponseHeaderTimeout: defaultResponseHeaderTimeout,
	}
}

// New creates a new HTTP client. A nil cfg means DefaultConfig; zero fields take defaults.
func New(cfg *Config) *Client {
	c := DefaultConfig()
	if cfg != nil {
		def := c
		c = *cfg
		if c.DefaultTimeout == 0 {
			c.DefaultTimeout = def.DefaultTimeout
		}
		if c.UserAgent == "" {
			c.UserAgent = def.UserAgent
		}
		if c.MaxIdleConns == 0 {
			c.MaxIdleConns = def.MaxIdleConns
		}
		if c.IdleConnTimeout == 0 {
			c.IdleConnTimeout = def.IdleConnTimeout
		}
		if c.TLSHandshakeTimeout == 0 {
			c.TLSHandshakeTimeout = def.TLSHandshakeTimeout
		}
		if c.ResponseHeaderTimeout == 0 {
			c.ResponseHeaderTimeout = def.ResponseHeaderTimeout
		}
	}

	transport := c.Transport
	if transport == nil {
		transport = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   defaultDialTimeout,
				KeepAlive: defaultDialKeepAlive,
			}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          c.MaxIdleConns,
			IdleConnTimeout:       c.IdleConnTimeout,
			TLSHandshakeTimeout:   c.TLSHandshakeTimeout,
			ResponseHeaderTimeout: c.ResponseHeaderTimeout,
		}
	}

	return &Client{
		client:         &http.Client{Transport: transport},
		defaultTimeout: c.DefaultTimeout,
		userAgent:      c.UserAgent,
	}
}

// Do executes an HTTP request, applying the default timeout when ctx has no deadline.
// The response body must be closed by the caller if err is nil.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, fmt.Errorf("nil request")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline && c.defaultTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.defaultTimeout)
		resp, err := c.do(ctx, req)
		if err != nil || resp == nil {
			cancel()
			return resp, err
		}
		// keep the timeout alive until the caller closes the body
		resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
		return resp, nil
	}

	return c.do(ctx, req)
}

func (c *Client) do(ctx context.Context, req *http.Request) (*http.Response, error) {
	req = req.WithContext(ctx)

	if req.Header.Get("User-Agent") == "" && c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	c.hookMu.RLock()
	beforeHook, afterHook := c.beforeRequest, c.afterResponse
	c.hookMu.RUnlock()

	if beforeHook != nil {
		beforeHook(req)
	}

	resp, err := c.client.Do(req)

	if afterHook != nil {
		afterHook(req, resp, err)
	}

	return resp, err
}

// Get performs a GET request with context.
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create GET request: %w", err)
	}
	return c.Do(ctx, req)
}

// ProgressFunc receives the bytes received so far and the expected total.
// total is -1 when the server sends no Content-Length.
type ProgressFunc func(received, total int64)

// StatusError is returned by Download for non-2xx responses.
type StatusError struct {
	URL        string
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected HTTP status %s", e.Status)
}

// Download streams the body of a GET on url into w and returns the bytes written.
// Only ctx bounds the transfer. A short body against a declared Content-Length
// is reported as io.ErrUnexpectedEOF.
func (c *Client) Download(ctx context.Context, url string, w io.Writer, progress ProgressFunc) (int64, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return 0, fmt.Errorf("failed to create GET request: %w", err)
	}

	resp, err := c.do(ctx, req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, &StatusError{URL: url, StatusCode: resp.StatusCode, Status: resp.Status}
	}

	total := resp.ContentLength
	pw := &progressWriter{w: w, total: total, progress: progress}
	if progress != nil {
		progress(0, total)
	}

	n, err := io.CopyBuffer(pw, resp.Body, make([]byte, downloadBufferSize))
	if err != nil {
		return n, err
	}
	if total > 0 && n != total {
		return n, fmt.Errorf("received %d of %d bytes: %w", n, total, io.ErrUnexpectedEOF)
	}
	return n, nil
}

// SetBeforeRequestHook sets a function to be called before each request.
func (c *Client) SetBeforeRequestHook(fn func(*http.Request)) {
	c.hookMu.Lock()
	defer c.hookMu.Unlock()
	c.beforeRequest = fn
}

// SetAfterResponseHook sets a function to be called after each request.
func (c *Client) SetAfterResponseHook(fn func(*http.Request, *http.Response, error)) {
	c.hookMu.Lock()
	defer c.hookMu.Unlock()
	c.afterResponse = fn
}

// Close closes idle connections in the connection pool.
func (c *Client) Close() {
	c.client.CloseIdleConnections()
}

type progressWriter struct {
	w        io.Writer
	received int64
	total    int64
	progress ProgressFunc
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	p.received += int64(n)
	if p.progress != nil && n > 0 {
		p.progress(p.received, p.total)
	}
	return n, err
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	defer c.cancel()
	return c.ReadCloser.Close()
}
