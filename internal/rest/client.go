// Package rest is a generic CRUD and search client for JSON resource APIs.
//
// Every response is classified once by a pluggable Classifier. Unauthenticated
// and server error outcomes fail every verb the same way; the verb methods on
// Endpoint decide what the remaining classifications mean.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/dhawalhost/scimbridge/internal/connerr"
)

const (
	tracerName   = "github.com/dhawalhost/scimbridge/internal/rest"
	maxBodyBytes = 1 << 20
	snippetBytes = 1024
)

// Options configures a Client.
type Options struct {
	// Name identifies the connector instance in logs and metrics.
	Name       string
	BaseURL    string
	HTTPClient *http.Client
	Classifier Classifier
	Logger     *zap.Logger
	Metrics    *Metrics
	Tracer     trace.Tracer
	// ErrorDetail extracts a human readable message from an error body. When
	// nil, or when it returns "", a truncated body snippet is used.
	ErrorDetail func(body []byte) string
}

// Client sends requests relative to a base URL and classifies the responses.
type Client struct {
	name        string
	baseURL     string
	http        *http.Client
	classifier  Classifier
	logger      *zap.Logger
	metrics     *Metrics
	tracer      trace.Tracer
	errorDetail func([]byte) string
}

// NewClient creates a Client. The base URL loses any trailing slash.
func NewClient(opts Options) *Client {
	c := &Client{
		name:        opts.Name,
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		http:        opts.HTTPClient,
		classifier:  opts.Classifier,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		tracer:      opts.Tracer,
		errorDetail: opts.ErrorDetail,
	}
	if c.http == nil {
		c.http = http.DefaultClient
	}
	if c.classifier == nil {
		c.classifier = DefaultStatusClassifier()
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.tracer == nil {
		c.tracer = otel.Tracer(tracerName)
	}
	return c
}

// Request describes one backend call. Body is encoded as JSON when non-nil.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   any
}

// Response is a classified backend response.
type Response struct {
	Status int
	Class  Classification
	Body   []byte
}

// Decode unmarshals the response body into v.
func (r *Response) Decode(v any) error {
	if len(bytes.TrimSpace(r.Body)) == 0 {
		return connerr.New(connerr.UpstreamFailure, "empty response body (status %d)", r.Status)
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return connerr.Wrap(connerr.UpstreamFailure, err, "malformed response body (status %d)", r.Status)
	}
	return nil
}

// Do sends req and classifies the response. Transport failures and
// unauthenticated responses are ConnectionFailure; server errors are
// UpstreamFailure. Every other outcome is returned for the caller to interpret.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	ctx, span := c.tracer.Start(ctx, "rest "+req.Method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("scimbridge.instance", c.name),
			attribute.String("http.request.method", req.Method),
			attribute.String("url.path", req.Path),
		))
	defer span.End()

	start := time.Now()
	resp, err := c.send(ctx, req)
	elapsed := time.Since(start)
	if err != nil {
		c.metrics.observe(c.name, req.Method, "transport_error", elapsed)
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport error")
		c.logger.Debug("Backend request failed",
			zap.String("instance", c.name),
			zap.String("method", req.Method),
			zap.String("path", req.Path),
			zap.Duration("duration", elapsed),
			zap.Error(err),
		)
		return nil, connerr.Wrap(connerr.ConnectionFailure, err, "%s %s", req.Method, req.Path)
	}

	c.metrics.observe(c.name, req.Method, resp.Class.String(), elapsed)
	span.SetAttributes(
		attribute.Int("http.response.status_code", resp.Status),
		attribute.String("scimbridge.classification", resp.Class.String()),
	)
	c.logger.Debug("Backend request",
		zap.String("instance", c.name),
		zap.String("method", req.Method),
		zap.String("path", req.Path),
		zap.Int("status", resp.Status),
		zap.Stringer("classification", resp.Class),
		zap.Duration("duration", elapsed),
	)

	switch resp.Class {
	case Unauthenticated:
		span.SetStatus(codes.Error, "unauthenticated")
		return nil, c.statusError(connerr.ConnectionFailure, req, resp, "authentication failed")
	case ServerError:
		span.SetStatus(codes.Error, "server error")
		return nil, c.statusError(connerr.UpstreamFailure, req, resp, "server error")
	}
	return resp, nil
}

func (c *Client) send(ctx context.Context, req Request) (*Response, error) {
	u := c.baseURL + "/" + strings.TrimLeft(req.Path, "/")
	if len(req.Query) > 0 {
		u += "?" + req.Query.Encode()
	}

	var body io.Reader
	if req.Body != nil {
		b, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		body = bytes.NewReader(b)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, u, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return &Response{
		Status: httpResp.StatusCode,
		Class:  c.classifier.Classify(httpResp.StatusCode, data),
		Body:   data,
	}, nil
}

// statusError builds a classified error echoing the backend's explanation.
func (c *Client) statusError(kind connerr.Kind, req Request, resp *Response, msg string) error {
	detail := ""
	if c.errorDetail != nil {
		detail = c.errorDetail(resp.Body)
	}
	if detail == "" {
		detail = Snippet(resp.Body)
	}
	full := fmt.Sprintf("%s %s: %s", req.Method, req.Path, msg)
	if detail != "" {
		full += ": " + detail
	}
	return &connerr.Error{Kind: kind, Status: resp.Status, Msg: full}
}

var bearerPattern = regexp.MustCompile(`(?i)(bearer\s+)[A-Za-z0-9._~+/=-]+`)

// Snippet returns a trimmed, truncated body with bearer tokens redacted.
func Snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > snippetBytes {
		s = s[:snippetBytes] + "..."
	}
	return bearerPattern.ReplaceAllString(s, "${1}[REDACTED]")
}
