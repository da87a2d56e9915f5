// Package api implements the transport layer of the conversion
// client: authenticated multipart requests, retry with exponential
// backoff, JSON/binary response discrimination, and the mapping of
// service-reported errors to a closed taxonomy of typed failures.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/typeshift/typeshift-go/api/throttle"
)

// Version is the client library version reported in the User-Agent
// header.
const Version = "0.3.0"

const (
	defaultEndpoint   = "https://api.typeshift.io"
	defaultAPIVersion = "1"
	defaultRetries    = 3
	defaultTimeout    = 30 * time.Second
	defaultLong       = 5 * time.Minute
	defaultChunkSize  = 256 * 1024
)

// Client owns one credential and turns logical requests into
// authenticated HTTP attempts. Service-reported errors are terminal;
// transport failures are retried with exponential backoff.
type Client struct {
	c          *http.Client
	credential Credential
	endpoint   string
	version    string
	retries    int
	timeout    time.Duration
	long       time.Duration
	chunkSize  int
	userAgent  string
	logger     *slog.Logger
	tracer     trace.Tracer
	sleep      func(d time.Duration)
}

// Build constructs a Client for the given credential. A zero
// credential is rejected.
func Build(credential Credential, optFns ...Option) (*Client, error) {
	if credential.App() == "" || credential.Token() == "" {
		return nil, errors.New("credential must not be empty")
	}

	var opts options
	for _, opt := range optFns {
		if err := opt(&opts); err != nil {
			return nil, fmt.Errorf("applying client option: %w", err)
		}
	}

	client := &Client{
		c:          &http.Client{},
		credential: credential,
		endpoint:   defaultEndpoint,
		version:    defaultAPIVersion,
		retries:    defaultRetries,
		timeout:    defaultTimeout,
		long:       defaultLong,
		chunkSize:  defaultChunkSize,
		userAgent:  fmt.Sprintf("typeshift-go/%s (%s; %s)", Version, runtime.GOOS, runtime.Version()),
		logger:     slog.Default(),
		tracer:     noop.NewTracerProvider().Tracer("no-op tracer"),
		sleep:      time.Sleep,
	}

	if opts.client != nil {
		client.c = opts.client
	}
	if opts.endpoint != "" {
		client.endpoint = strings.TrimSuffix(opts.endpoint, "/")
	}
	if opts.version != "" {
		client.version = opts.version
	}
	if opts.retries != nil {
		client.retries = *opts.retries
	}
	if opts.timeout != nil {
		client.timeout = *opts.timeout
	}
	if opts.long != nil {
		client.long = *opts.long
	}
	if opts.chunkSize != nil {
		client.chunkSize = *opts.chunkSize
	}
	if opts.userAgent != "" {
		client.userAgent = opts.userAgent
	}
	if opts.logger != nil {
		client.logger = opts.logger
	}
	if opts.tracer != nil {
		client.tracer = opts.tracer
	}
	if opts.sleep != nil {
		client.sleep = opts.sleep
	}

	if opts.throttle != nil {
		transport := client.c.Transport
		if transport == nil {
			transport = http.DefaultTransport
		}
		rt, err := throttle.NewRoundTripper(opts.throttle.RPS, opts.throttle.Burst, func() *slog.Logger { return client.logger }, transport)
		if err != nil {
			return nil, fmt.Errorf("configuring throttle: %w", err)
		}

		// Wrap a copy so a caller-provided http.Client is not mutated.
		throttled := *client.c
		throttled.Transport = rt
		client.c = &throttled
	}

	return client, nil
}

// Credential returns the credential the client was built with.
func (c *Client) Credential() Credential {
	return c.credential
}

// ChunkSize returns the configured stream chunk size.
func (c *Client) ChunkSize() int {
	return c.chunkSize
}

// Send executes one logical request. JSON responses are decoded and
// classified: a service-reported error or an undecodable body is
// terminal and never retried. Transport failures are retried up to
// the configured attempt count with 2^attempt seconds of backoff,
// then surface as a KindConnection error embedding the last cause.
// Non-JSON success responses return the unread body for streaming.
func (c *Client) Send(ctx context.Context, d Descriptor) (*Response, error) {
	if d.Path == "" {
		return nil, errors.New("descriptor path must not be empty")
	}

	method := d.Method
	if method == "" {
		method = http.MethodPost
	}
	if method != http.MethodGet && method != http.MethodPost {
		return nil, fmt.Errorf("unsupported method %q", method)
	}

	enc, err := c.encodeFields(d.Fields)
	if err != nil {
		return nil, err
	}

	version := d.Version
	if version == "" {
		version = c.version
	}
	reqURL := fmt.Sprintf("%s/v%s%s", c.endpoint, version, d.Path)

	timeout := d.Timeout
	if timeout == 0 {
		timeout = c.timeout
		if longTimeoutPath(d.Path) {
			timeout = c.long
		}
	}

	reqID := uuid.NewString()
	logger := c.logger.With("request_id", reqID, "path", d.Path)

	ctx, span := c.tracer.Start(ctx, "api.send")
	span.SetAttributes(
		attribute.String("path", d.Path),
		attribute.String("request_id", reqID),
	)
	defer span.End()

	var lastErr error
	for attempt := 1; attempt <= c.retries; attempt++ {
		resp, terminal, err := c.attempt(ctx, method, reqURL, enc, timeout, logger)
		if err == nil {
			return resp, nil
		}
		if terminal {
			return nil, err
		}

		lastErr = err
		if attempt < c.retries {
			backoff := time.Duration(1<<attempt) * time.Second
			logger.Info("retrying request", "attempt", attempt, "backoff", backoff.String(), "error", err)
			span.AddEvent("retry", trace.WithAttributes(attribute.Int("attempt", attempt)))
			c.sleep(backoff)
		}
	}

	return nil, &Error{Kind: KindConnection, Err: lastErr}
}

// attempt runs a single physical request under its own deadline.
// terminal distinguishes failures the retry loop must not repeat.
func (c *Client) attempt(ctx context.Context, method, reqURL string, enc *encodedFields, timeout time.Duration, logger *slog.Logger) (resp *Response, terminal bool, err error) {
	actx, cancel := context.WithTimeout(ctx, timeout)

	var body io.Reader
	var contentType string
	if method == http.MethodPost {
		buf, ct, err := multipartBody(enc)
		if err != nil {
			cancel()
			return nil, true, err
		}
		body, contentType = buf, ct
	}

	req, err := http.NewRequestWithContext(actx, method, reqURL, body)
	if err != nil {
		cancel()
		return nil, true, fmt.Errorf("instantiating request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Authorization", "Bearer "+c.credential.Token())
	req.Header.Set("User-Agent", c.userAgent)

	httpResp, err := c.c.Do(req)
	if err != nil {
		cancel()
		return nil, false, fmt.Errorf("http do: %w", err)
	}

	if isJSON(httpResp.Header.Get("Content-Type")) {
		defer cancel()
		defer c.drainAndClose(httpResp.Body, logger)

		var env Envelope
		if err := json.NewDecoder(httpResp.Body).Decode(&env); err != nil {
			return nil, true, &Error{Kind: KindDecode, Err: fmt.Errorf("decoding response body: %w", err)}
		}

		if apiErr := classify(env, logger); apiErr != nil {
			return nil, true, apiErr
		}

		return &Response{JSON: env}, false, nil
	}

	if httpResp.StatusCode >= http.StatusBadRequest {
		b, readErr := io.ReadAll(io.LimitReader(httpResp.Body, maxErrBodySize))
		if readErr != nil {
			b = []byte("unable to read body")
		}
		c.drainAndClose(httpResp.Body, logger)
		cancel()

		return nil, false, &UnexpectedStatusError{
			StatusCode: httpResp.StatusCode,
			Body:       string(b),
			Err:        ErrUnexpectedStatusCode,
		}
	}

	return &Response{
		Body:          &cancelReadCloser{rc: httpResp.Body, cancel: cancel},
		ContentLength: httpResp.ContentLength,
		Filename:      dispositionFilename(httpResp.Header.Get("Content-Disposition")),
	}, false, nil
}

// drainAndClose exhausts and closes a response body so the underlying
// connection can be reused.
func (c *Client) drainAndClose(body io.ReadCloser, logger *slog.Logger) {
	if _, err := io.Copy(io.Discard, body); err != nil {
		logger.Error("failed to discard unused body", "error", err)
	}
	if err := body.Close(); err != nil {
		logger.Error("failed to close response body", "error", err)
	}
}

// longTimeoutPath reports whether path belongs to the upload/download
// endpoint class that gets the long per-call deadline.
func longTimeoutPath(path string) bool {
	return strings.HasPrefix(path, "/upload/") || path == "/download/url/get"
}

func isJSON(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}

	return mediaType == "application/json"
}

// dispositionFilename extracts the filename parameter from a
// Content-Disposition header, empty when absent or malformed.
func dispositionFilename(header string) string {
	if header == "" {
		return ""
	}

	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}

	return params["filename"]
}

// cancelReadCloser ties the per-attempt deadline cancelation to the
// lifetime of a streamed response body.
type cancelReadCloser struct {
	rc     io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelReadCloser) Read(p []byte) (int, error) {
	return c.rc.Read(p)
}

func (c *cancelReadCloser) Close() error {
	defer c.cancel()
	return c.rc.Close()
}
