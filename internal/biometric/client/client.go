// Package client is the HTTP client for the external face-matching service.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"civis/pkg/platform/circuit"
	"civis/pkg/platform/sentinel"
)

var tracer = otel.Tracer("civis/biometric/client")

type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	breaker *circuit.Breaker
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("face service base URL is required")
	}
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
		breaker: circuit.New("face-service",
			circuit.WithFailureThreshold(5),
			circuit.WithSuccessThreshold(2),
			circuit.WithCooldown(30*time.Second)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type enrollRequest struct {
	Samples []string `json:"samples"`
}

type enrollResponse struct {
	Template string  `json:"template"`
	Quality  float64 `json:"quality"`
}

func (c *Client) Enroll(ctx context.Context, samples []string) (string, float64, error) {
	ctx, span := tracer.Start(ctx, "face.enroll")
	defer span.End()
	span.SetAttributes(attribute.Int("face.samples", len(samples)))

	var resp enrollResponse
	if err := c.post(ctx, "/v1/templates", enrollRequest{Samples: samples}, &resp); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return "", 0, err
	}
	span.SetAttributes(attribute.Float64("face.quality", resp.Quality))
	return resp.Template, resp.Quality, nil
}

type matchRequest struct {
	Template string `json:"template"`
	Sample   string `json:"sample"`
}

type matchResponse struct {
	Score float64 `json:"score"`
}

func (c *Client) Match(ctx context.Context, template, sample string) (float64, error) {
	ctx, span := tracer.Start(ctx, "face.match")
	defer span.End()

	var resp matchResponse
	if err := c.post(ctx, "/v1/match", matchRequest{Template: template, Sample: sample}, &resp); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}
	span.SetAttributes(attribute.Float64("face.score", resp.Score))
	return resp.Score, nil
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	if c.breaker.IsOpen() {
		return fmt.Errorf("face service circuit open: %w", sentinel.ErrUnavailable)
	}

	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal face request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build face request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.breaker.RecordFailure()
		return fmt.Errorf("call face service: %w: %w", sentinel.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		c.breaker.RecordFailure()
		return fmt.Errorf("face service returned %d: %w", resp.StatusCode, sentinel.ErrUnavailable)
	}
	c.breaker.RecordSuccess()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("face service returned %d: %s", resp.StatusCode, snippet)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode face response: %w", err)
	}
	return nil
}
