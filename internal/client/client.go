// Package client executes signed calls against an AWS-compatible
// endpoint with jittered exponential-backoff retries. Every attempt
// rebuilds and re-signs its request with a fresh timestamp; on an
// authorization rejection the shared credential cache is invalidated
// before the next attempt, so retries sign with fresh material.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/ethanadams/awsreq/internal/awserr"
	"github.com/ethanadams/awsreq/internal/config"
	"github.com/ethanadams/awsreq/internal/creds"
	"github.com/ethanadams/awsreq/internal/logging"
	"github.com/ethanadams/awsreq/internal/metrics"
	"github.com/ethanadams/awsreq/internal/retry"
	"github.com/ethanadams/awsreq/internal/sigv4"
)

// Transport executes one HTTP exchange. *http.Client satisfies it; the
// client never reaches into connection handling or TLS.
type Transport interface {
	Do(*http.Request) (*http.Response, error)
}

// Response is the drained result of a successful call.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Client signs and delivers requests for one endpoint/region/service.
// Safe for concurrent use; concurrent operations share the credential
// cache but each carries its own backoff state.
type Client struct {
	cfg       config.ClientConfig
	endpoint  string
	scope     string
	transport Transport
	creds     *creds.Cache
	signer    *sigv4.Signer
	metrics   *metrics.Collector
	policy    retry.Policy
	now       func() time.Time
}

// Option customizes a Client.
type Option func(*Client)

// WithTransport replaces the default HTTP client.
func WithTransport(t Transport) Option {
	return func(c *Client) { c.transport = t }
}

// WithMetrics attaches a Prometheus collector.
func WithMetrics(mc *metrics.Collector) Option {
	return func(c *Client) { c.metrics = mc }
}

// New builds a client over provider. The provider is wrapped in a
// shared credential cache wired to flush the signer's derived-key memo
// on invalidation.
func New(cfg config.ClientConfig, provider creds.Provider, opts ...Option) *Client {
	signer := sigv4.NewSigner(cfg.Region, cfg.Service)
	cache := creds.NewCache(provider)
	cache.OnInvalidate(signer.FlushKeys)

	c := &Client{
		cfg:       cfg,
		endpoint:  strings.TrimSuffix(cfg.Endpoint, "/"),
		scope:     cfg.Region + "/" + cfg.Service,
		transport: &http.Client{Timeout: 5 * time.Minute},
		creds:     cache,
		signer:    signer,
		policy:    retry.Policy{MaxRetries: cfg.MaxRetries()},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do executes a JSON-RPC style operation: POST to the endpoint root
// with the operation name in x-amz-target and payload as the body.
func (c *Client) Do(ctx context.Context, operation string, payload []byte) (*Response, error) {
	payloadHash := sigv4.HashPayload(payload)

	return c.execute(ctx, operation, func(ctx context.Context, cr sigv4.Credentials) (*Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.ContentLength = int64(len(payload))
		req.Header.Set("Content-Type", "application/x-amz-json-1.1")
		req.Header.Set("X-Amz-Target", c.target(operation))
		return c.attempt(ctx, operation, req, payloadHash, cr, nil)
	})
}

// Put uploads payload to key in a single signed request, hashing the
// full body. For payloads too large to buffer use PutStream.
func (c *Client) Put(ctx context.Context, key string, payload []byte) error {
	payloadHash := sigv4.HashPayload(payload)

	_, err := c.execute(ctx, "PutObject", func(ctx context.Context, cr sigv4.Credentials) (*Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.objectURL(key), bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.ContentLength = int64(len(payload))
		req.Header.Set("Content-Type", "application/octet-stream")
		return c.attempt(ctx, "PutObject", req, payloadHash, cr, nil)
	})
	return err
}

// Get downloads key.
func (c *Client) Get(ctx context.Context, key string) (*Response, error) {
	return c.execute(ctx, "GetObject", func(ctx context.Context, cr sigv4.Credentials) (*Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.objectURL(key), nil)
		if err != nil {
			return nil, err
		}
		return c.attempt(ctx, "GetObject", req, sigv4.EmptyPayloadHash, cr, nil)
	})
}

// Delete removes key.
func (c *Client) Delete(ctx context.Context, key string) error {
	_, err := c.execute(ctx, "DeleteObject", func(ctx context.Context, cr sigv4.Credentials) (*Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.objectURL(key), nil)
		if err != nil {
			return nil, err
		}
		return c.attempt(ctx, "DeleteObject", req, sigv4.EmptyPayloadHash, cr, nil)
	})
	return err
}

// execute drives buildAttempt through the retry policy. Credentials
// are fetched fresh for every attempt, in the streaming and
// non-streaming paths alike, so an invalidation between attempts takes
// effect immediately.
func (c *Client) execute(ctx context.Context, operation string, buildAttempt func(context.Context, sigv4.Credentials) (*Response, error)) (*Response, error) {
	id := ulid.Make().String()

	var (
		result    *Response
		lastCreds sigv4.Credentials
		tries     int
	)

	op := func(ctx context.Context) error {
		if tries > 0 {
			c.metrics.RecordRetry(operation)
			logging.Info("[%s] retrying %s (attempt %d/%d)", id, operation, tries+1, c.policy.MaxRetries+1)
		}
		tries++

		cr, err := c.creds.Credentials(ctx, c.scope)
		if err != nil {
			return fmt.Errorf("fetch credentials for %s: %w", c.scope, err)
		}
		lastCreds = cr

		resp, err := buildAttempt(ctx, cr)
		if err != nil {
			return err
		}
		result = resp
		return nil
	}

	invalidate := func(reason string) {
		c.metrics.RecordAuthFailure(c.scope)
		c.creds.Invalidate(c.scope, lastCreds, reason)
	}

	if err := c.policy.Do(ctx, op, invalidate); err != nil {
		logging.Error("[%s] %s failed after %d attempt(s): %v", id, operation, tries, err)
		return nil, err
	}

	logging.Debug("[%s] %s succeeded after %d attempt(s)", id, operation, tries)
	return result, nil
}

// attempt signs req and performs one exchange. prepare runs after
// signing and before sending; the streaming path uses it to wire the
// chunk-signed body off the fresh seed signature. Failures are
// classified here, once, at the response boundary.
func (c *Client) attempt(ctx context.Context, operation string, req *http.Request, payloadHash string, cr sigv4.Credentials, prepare func(*sigv4.Signature) error) (*Response, error) {
	signStart := time.Now()
	sig, err := c.signer.Sign(req, cr, payloadHash, c.now())
	if err != nil {
		return nil, err
	}
	c.metrics.RecordSign(operation, time.Since(signStart))

	if prepare != nil {
		if err := prepare(sig); err != nil {
			return nil, err
		}
	}

	start := time.Now()
	resp, err := c.transport.Do(req)
	if err != nil {
		c.metrics.RecordAttempt(operation, false, time.Since(start))
		return nil, &awserr.TransportError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.metrics.RecordAttempt(operation, false, time.Since(start))
		return nil, &awserr.TransportError{Err: err}
	}

	if resp.StatusCode >= 400 {
		c.metrics.RecordAttempt(operation, false, time.Since(start))
		errorType, message := errorInfo(resp, body)
		return nil, awserr.Classify(resp.StatusCode, errorType, message)
	}

	c.metrics.RecordAttempt(operation, true, time.Since(start))
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

func (c *Client) target(operation string) string {
	if c.cfg.TargetPrefix == "" {
		return operation
	}
	return c.cfg.TargetPrefix + "." + operation
}

func (c *Client) objectURL(key string) string {
	return c.endpoint + "/" + strings.TrimPrefix(key, "/")
}

// errorInfo extracts the provider's error-type token and message from
// a failed response. JSON-RPC services report __type in a JSON body or
// the x-amzn-errortype header; REST services report an XML Error
// element.
func errorInfo(resp *http.Response, body []byte) (string, string) {
	errorType := resp.Header.Get("X-Amzn-Errortype")
	if i := strings.IndexByte(errorType, ':'); i >= 0 {
		errorType = errorType[:i]
	}

	var jsonBody struct {
		Type    string `json:"__type"`
		Message string
	}
	if err := json.Unmarshal(body, &jsonBody); err == nil {
		if errorType == "" {
			errorType = jsonBody.Type
		}
		return errorType, jsonBody.Message
	}

	var xmlBody struct {
		Code    string `xml:"Code"`
		Message string `xml:"Message"`
	}
	if err := xml.Unmarshal(body, &xmlBody); err == nil {
		if errorType == "" {
			errorType = xmlBody.Code
		}
		return errorType, xmlBody.Message
	}

	return errorType, strings.TrimSpace(string(body))
}
