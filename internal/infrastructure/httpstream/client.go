// Package httpstream executes outgoing provider requests, either fully
// buffered or as a long-lived SSE byte stream.
package httpstream

import (
	"bytes"
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/skiff-ai/skiff/pkg/errors"
)

const (
	// DefaultRequestTimeout bounds buffered calls.
	DefaultRequestTimeout = 300 * time.Second
	// DefaultStreamTimeout bounds SSE streams; model turns can run for
	// hours when tools are slow.
	DefaultStreamTimeout = 24 * time.Hour

	maxErrorBody = 64 * 1024
)

// Client is the process-wide HTTP client. One instance is shared across
// all adapters so connections pool; streams hold a reference to it, which
// keeps the transport alive for their whole lifetime.
type Client struct {
	http   *http.Client
	logger *zap.Logger
}

// NewClient builds a Client with a tuned transport.
func NewClient(logger *zap.Logger) *Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ResponseHeaderTimeout: DefaultRequestTimeout,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   5,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}
	return &Client{
		http:   &http.Client{Transport: transport},
		logger: logger.With(zap.String("component", "httpstream")),
	}
}

// Request describes one outgoing call.
type Request struct {
	Method  string
	URL     string
	Headers http.Header
	Body    []byte
	// Timeout overrides the mode default when positive.
	Timeout time.Duration
}

// Response is a fully buffered 2xx reply.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Do executes req and buffers the reply. Non-2xx replies fail with an
// httpStatus error carrying up to 64 KiB of the body; I/O failures fail
// with a transport error.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := c.send(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errors.HTTPStatus(resp.StatusCode, readCapped(resp.Body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Transport("read response body", err)
	}
	return &Response{Status: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

// Stream is a live SSE response body. Closing it cancels the underlying
// request.
type Stream struct {
	Status int
	Header http.Header

	body   io.ReadCloser
	cancel context.CancelFunc
	client *Client
}

func (s *Stream) Read(p []byte) (int, error) {
	return s.body.Read(p)
}

// Close cancels the request and releases the connection.
func (s *Stream) Close() error {
	s.cancel()
	return s.body.Close()
}

// Stream executes req and hands back the response body as a byte stream.
// The connection stays open until the stream is closed or the timeout
// elapses. Non-2xx replies are drained (capped) and fail like Do.
func (c *Client) Stream(ctx context.Context, req Request) (*Stream, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultStreamTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)

	resp, err := c.send(ctx, req)
	if err != nil {
		cancel()
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body := readCapped(resp.Body)
		resp.Body.Close()
		cancel()
		return nil, errors.HTTPStatus(resp.StatusCode, body)
	}

	c.logger.Debug("Stream opened",
		zap.String("url", req.URL),
		zap.Int("status", resp.StatusCode),
	)
	return &Stream{
		Status: resp.StatusCode,
		Header: resp.Header,
		body:   resp.Body,
		cancel: cancel,
		client: c,
	}, nil
}

func (c *Client) send(ctx context.Context, req Request) (*http.Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodPost
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return nil, errors.Transport("build request", err)
	}
	for key, values := range req.Headers {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, errors.Transport("request failed", err)
	}
	if resp == nil {
		return nil, errors.InvalidResponse("nil response from transport")
	}
	return resp, nil
}

func readCapped(r io.Reader) string {
	body, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil {
		return ""
	}
	return string(body)
}
