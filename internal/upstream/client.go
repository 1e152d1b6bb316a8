// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package upstream

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/tombee/workbench/internal/log"
	"github.com/tombee/workbench/internal/metrics"
	"github.com/tombee/workbench/internal/tracing"
	wberrors "github.com/tombee/workbench/pkg/errors"
)

// Failure reasons reported in UpstreamError.Reason.
const (
	ReasonTimeout          = "TIMEOUT"
	ReasonRedirectBlocked  = "REDIRECT_BLOCKED"
	ReasonUnreachable      = "UNREACHABLE"
	ReasonResponseTooLarge = "RESPONSE_TOO_LARGE"
	ReasonInvalidResponse  = "INVALID_RESPONSE"
)

// Request kinds, used for spans and metrics.
const (
	KindGraphQL = "graphql"
	KindREST    = "rest"
)

const tracerName = "github.com/tombee/workbench/internal/upstream"

// Request is one call to a provider. URL must already be allowlisted.
type Request struct {
	Provider string
	Kind     string
	Method   string
	URL      string
	Header   http.Header
	Body     []byte
}

// Response is a fully read upstream response.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Client calls provider APIs.
type Client struct {
	http     *http.Client
	timeout  time.Duration
	maxBytes int64
}

// New creates a Client. Returns an error if the configuration is invalid.
func New(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.Discard()
	}

	base := cfg.Transport
	if base == nil {
		base = &http.Transport{
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: cfg.Timeout,
			ExpectContinueTimeout: 1 * time.Second,
		}
	}

	transport := &tracing.CorrelationRoundTripper{
		Transport: newLoggingTransport(base, cfg.UserAgent, log.WithComponent(logger, "upstream")),
	}

	return &Client{
		http: &http.Client{
			Transport: transport,
			// 3xx responses are returned as-is and rejected in Do.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		timeout:  cfg.Timeout,
		maxBytes: cfg.MaxResponseBytes,
	}, nil
}

// Do performs req under the client timeout. It never retries.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	ctx, span := otel.Tracer(tracerName).Start(ctx, "upstream."+req.Kind,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("workbench.provider", req.Provider),
			semconv.HTTPRequestMethodKey.String(req.Method),
		),
	)
	defer span.End()

	done := metrics.UpstreamStarted()
	defer done()
	start := time.Now()

	resp, err := c.do(ctx, req)

	outcome := "ok"
	if err != nil {
		var upErr *wberrors.UpstreamError
		if errors.As(err, &upErr) {
			outcome = strings.ToLower(upErr.Reason)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	} else {
		span.SetAttributes(semconv.HTTPResponseStatusCode(resp.Status))
	}
	metrics.ObserveUpstream(req.Provider, req.Kind, outcome, time.Since(start))
	return resp, err
}

func (c *Client) do(ctx context.Context, req *Request) (*Response, error) {
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, c.fail(req, ReasonUnreachable, 0, fmt.Errorf("failed to build request: %w", err))
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, c.fail(req, c.classify(ctx, err), 0, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= 300 && httpResp.StatusCode < 400 {
		return nil, c.fail(req, ReasonRedirectBlocked, httpResp.StatusCode, nil)
	}

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, c.maxBytes+1))
	if err != nil {
		return nil, c.fail(req, c.classify(ctx, err), httpResp.StatusCode, err)
	}
	if int64(len(data)) > c.maxBytes {
		return nil, c.fail(req, ReasonResponseTooLarge, httpResp.StatusCode, nil)
	}

	return &Response{
		Status: httpResp.StatusCode,
		Header: httpResp.Header,
		Body:   data,
	}, nil
}

func (c *Client) classify(ctx context.Context, err error) string {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ReasonTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ReasonTimeout
	}
	return ReasonUnreachable
}

func (c *Client) fail(req *Request, reason string, status int, cause error) error {
	err := &wberrors.UpstreamError{
		Provider:   req.Provider,
		Reason:     reason,
		StatusCode: status,
		Cause:      cause,
	}
	if reason == ReasonTimeout {
		err.Cause = &wberrors.TimeoutError{
			Operation: req.Provider + " " + req.Kind + " request",
			Duration:  c.timeout,
			Cause:     cause,
		}
	}
	return err
}
