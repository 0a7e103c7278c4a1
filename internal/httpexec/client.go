// Package httpexec sends materialized requests to the target.
package httpexec

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/BetterCallFirewall/Intruder/internal/models"
)

// Executor dispatches one request and returns the response or a transport error.
// Non-2xx statuses are responses, not errors.
type Executor interface {
	Execute(ctx context.Context, req *models.HTTPRequest) (*models.HTTPResponse, error)
}

// Options configures the HTTP client
type Options struct {
	Timeout          time.Duration
	InsecureTLS      bool
	ProxyURL         string
	MaxResponseBytes int64
	MaxConns         int
}

// DefaultOptions returns the client defaults
func DefaultOptions() Options {
	return Options{
		Timeout:          10 * time.Second,
		MaxResponseBytes: 10 << 20,
		MaxConns:         100,
	}
}

// Client is the net/http backed Executor
type Client struct {
	client  *http.Client
	timeout time.Duration
	maxBody int64
}

// NewClient creates a client. Redirects are never followed so 3xx responses reach the results.
func NewClient(opts Options) (*Client, error) {
	defaults := DefaultOptions()
	if opts.Timeout <= 0 {
		opts.Timeout = defaults.Timeout
	}
	if opts.MaxResponseBytes <= 0 {
		opts.MaxResponseBytes = defaults.MaxResponseBytes
	}
	if opts.MaxConns <= 0 {
		opts.MaxConns = defaults.MaxConns
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          opts.MaxConns,
		MaxIdleConnsPerHost:   opts.MaxConns,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: opts.InsecureTLS,
		},
	}

	if opts.ProxyURL != "" {
		proxyURL, err := url.Parse(opts.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	return &Client{
		client: &http.Client{
			Transport: transport,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		timeout: opts.Timeout,
		maxBody: opts.MaxResponseBytes,
	}, nil
}

// Execute sends req and reads at most MaxResponseBytes of the body. Length counts the full body.
func (c *Client) Execute(ctx context.Context, req *models.HTTPRequest) (*models.HTTPResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := buildRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	var body strings.Builder
	n, err := io.Copy(&body, io.LimitReader(resp.Body, c.maxBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	rest, err := io.Copy(io.Discard, resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	elapsed := time.Since(start)

	headers := make(map[string]string, len(resp.Header))
	for k, v := range resp.Header {
		if len(v) > 0 {
			headers[k] = v[0]
		}
	}

	return &models.HTTPResponse{
		StatusCode: resp.StatusCode,
		Headers:    headers,
		Body:       body.String(),
		Length:     n + rest,
		ElapsedMs:  elapsed.Milliseconds(),
	}, nil
}

func buildRequest(ctx context.Context, req *models.HTTPRequest) (*http.Request, error) {
	var body io.Reader
	if req.Body != "" {
		body = strings.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for k, v := range req.Headers {
		if strings.EqualFold(k, "Host") {
			httpReq.Host = v
			continue
		}
		httpReq.Header.Set(k, v)
	}
	return httpReq, nil
}
