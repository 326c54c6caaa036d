package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"studyquiz/internal/logger"
)

const (
	DefaultBaseURL        = "https://generativelanguage.googleapis.com"
	DefaultAPIVersion     = "v1"
	DefaultModel          = "gemini-2.5-flash"
	DefaultTimeout        = 90 * time.Second
	DefaultConnectTimeout = 10 * time.Second
	DefaultRetryDelay     = 500 * time.Millisecond
	DefaultTemperature    = 0.5

	minTimeout        = 10 * time.Second
	minConnectTimeout = 3 * time.Second
	maxRetry          = 3
	maxResponseBytes  = 4 << 20
	maxErrorBodyBytes = 512
)

type Config struct {
	APIKey         string
	BaseURL        string
	APIVersion     string
	Model          string
	Timeout        time.Duration
	ConnectTimeout time.Duration
	Retry          int
	RetryDelay     time.Duration
	Temperature    float64
	HTTPClient     *http.Client
}

// Client calls the generateContent REST endpoint and returns the first
// completion text.
type Client struct {
	apiKey      string
	baseURL     string
	apiVersion  string
	model       string
	retry       int
	retryDelay  time.Duration
	temperature float64
	client      *http.Client
	log         *logger.Logger
	tracer      trace.Tracer
}

func NewClient(cfg Config, log *logger.Logger) *Client {
	if log == nil {
		log = logger.Nop()
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	version := strings.Trim(strings.TrimSpace(cfg.APIVersion), "/")
	if version == "" {
		version = DefaultAPIVersion
	}
	model := strings.TrimPrefix(strings.TrimSpace(cfg.Model), "models/")
	if model == "" {
		model = DefaultModel
	}
	retry := cfg.Retry
	if retry < 0 {
		retry = 0
	}
	if retry > maxRetry {
		retry = maxRetry
	}
	delay := cfg.RetryDelay
	if delay <= 0 {
		delay = DefaultRetryDelay
	}
	temperature := cfg.Temperature
	if temperature <= 0 {
		temperature = DefaultTemperature
	}

	client := cfg.HTTPClient
	if client == nil {
		client = newHTTPClient(cfg.Timeout, cfg.ConnectTimeout)
	}

	return &Client{
		apiKey:      strings.TrimSpace(cfg.APIKey),
		baseURL:     base,
		apiVersion:  version,
		model:       model,
		retry:       retry,
		retryDelay:  delay,
		temperature: temperature,
		client:      client,
		log:         log.With("component", "llm", "model", model),
		tracer:      otel.Tracer("studyquiz/internal/llm"),
	}
}

func newHTTPClient(timeout, connectTimeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if timeout < minTimeout {
		timeout = minTimeout
	}
	if connectTimeout <= 0 {
		connectTimeout = DefaultConnectTimeout
	}
	if connectTimeout < minConnectTimeout {
		connectTimeout = minConnectTimeout
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{
		Timeout:   connectTimeout,
		KeepAlive: 30 * time.Second,
	}).DialContext
	transport.TLSHandshakeTimeout = connectTimeout
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(transport),
	}
}

func (c *Client) Model() string { return c.model }

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	Temperature float64 `json:"temperature"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// firstText returns the first part of the first candidate only. Later parts
// and candidates are never used as a fallback.
func (r generateResponse) firstText() string {
	if len(r.Candidates) == 0 || len(r.Candidates[0].Content.Parts) == 0 {
		return ""
	}
	return r.Candidates[0].Content.Parts[0].Text
}

// Generate sends prompt and returns the raw completion text. Network failures
// and 429/5xx responses are retried with a fixed delay; any other non-2xx
// status fails immediately.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	if c.apiKey == "" {
		return "", ErrMissingAPIKey
	}

	ctx, span := c.tracer.Start(ctx, "llm.generate_content", trace.WithAttributes(
		attribute.String("llm.model", c.model),
		attribute.Int("llm.max_attempts", c.retry+1),
	))
	defer span.End()

	body, err := json.Marshal(generateRequest{
		Contents:         []content{{Parts: []part{{Text: prompt}}}},
		GenerationConfig: generationConfig{Temperature: c.temperature},
	})
	if err != nil {
		return "", fmt.Errorf("encode llm request: %w", err)
	}

	var lastErr *Error
	attempts := 0
	for attempts <= c.retry {
		if attempts > 0 {
			if err := sleepContext(ctx, c.retryDelay); err != nil {
				break
			}
		}
		attempts++

		status, raw, err := c.post(ctx, body)
		if err != nil {
			lastErr = &Error{Kind: KindNetwork, Attempts: attempts, Err: err}
			if ctx.Err() != nil {
				break
			}
			c.log.Warn("llm request failed", "attempt", attempts, "error", err)
			continue
		}
		if status < 200 || status >= 300 {
			lastErr = &Error{Kind: KindHTTPStatus, Attempts: attempts, StatusCode: status, Body: truncate(raw, maxErrorBodyBytes)}
			if !retryableStatus(status) {
				break
			}
			c.log.Warn("llm request returned retryable status", "attempt", attempts, "status", status)
			continue
		}

		span.SetAttributes(attribute.Int("llm.attempts", attempts))
		text, err := parseCompletion(raw, attempts)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return "", err
		}
		return text, nil
	}

	if lastErr == nil {
		lastErr = &Error{Kind: KindNetwork, Attempts: attempts, Err: ctx.Err()}
	}
	span.SetAttributes(attribute.Int("llm.attempts", lastErr.Attempts))
	span.RecordError(lastErr)
	span.SetStatus(codes.Error, lastErr.Error())
	return "", lastErr
}

func (c *Client) post(ctx context.Context, body []byte) (int, []byte, error) {
	endpoint := fmt.Sprintf("%s/%s/models/%s:generateContent?key=%s",
		c.baseURL, c.apiVersion, url.PathEscape(c.model), url.QueryEscape(c.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, nil, redactKey(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, redactKey(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return 0, nil, fmt.Errorf("read llm response: %w", err)
	}
	return resp.StatusCode, raw, nil
}

func parseCompletion(raw []byte, attempts int) (string, error) {
	var out generateResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", &Error{Kind: KindMalformedEnvelope, Attempts: attempts, Err: err}
	}
	text := out.firstText()
	if strings.TrimSpace(text) == "" {
		return "", &Error{Kind: KindEmptyCompletion, Attempts: attempts}
	}
	return text, nil
}

func retryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// redactKey removes the api key from transport errors, which embed the URL.
func redactKey(err error) error {
	var ue *url.Error
	if !errors.As(err, &ue) {
		return err
	}
	u, perr := url.Parse(ue.URL)
	if perr != nil {
		return &url.Error{Op: ue.Op, URL: "[redacted]", Err: ue.Err}
	}
	q := u.Query()
	if q.Has("key") {
		q.Set("key", "REDACTED")
		u.RawQuery = q.Encode()
	}
	return &url.Error{Op: ue.Op, URL: u.String(), Err: ue.Err}
}

func truncate(raw []byte, n int) string {
	s := strings.TrimSpace(string(raw))
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
