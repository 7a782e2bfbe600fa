// Package client is the HTTP client for the document registries. Both
// registries expose the same two-step shape: open a verification request,
// then confirm it to receive the registered holder details.
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

	"civis/internal/kyc"
	"civis/pkg/platform/circuit"
	"civis/pkg/platform/sentinel"
)

var tracer = otel.Tracer("civis/kyc/client")

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
		return nil, fmt.Errorf("registry base URL is required")
	}
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
		breaker: circuit.New("document-registry",
			circuit.WithFailureThreshold(5),
			circuit.WithSuccessThreshold(2),
			circuit.WithCooldown(30*time.Second)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type initiateRequest struct {
	DocType string `json:"doc_type"`
	Number  string `json:"number"`
}

type initiateResponse struct {
	RequestID     string `json:"request_id"`
	MaskedChannel string `json:"masked_channel"`
}

// Initiate opens a registry verification request for the document. The
// registry dispatches a one-time code and reports the masked channel it
// went to.
func (c *Client) Initiate(ctx context.Context, docType kyc.DocType, number string) (string, string, error) {
	ctx, span := tracer.Start(ctx, "registry.initiate")
	defer span.End()
	span.SetAttributes(attribute.String("registry.doc_type", string(docType)))

	var resp initiateResponse
	if err := c.post(ctx, "/v1/verifications", initiateRequest{
		DocType: string(docType),
		Number:  number,
	}, &resp); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return "", "", err
	}
	return resp.RequestID, resp.MaskedChannel, nil
}

type confirmRequest struct {
	Number       string `json:"number"`
	SecondNumber string `json:"second_number,omitempty"`
	Code         string `json:"code"`
}

type confirmResponse struct {
	Status         string `json:"status"`
	RegisteredName string `json:"registered_name"`
}

// Confirm completes a verification request with the one-time code. A
// non-verified status is reported through the ok flag, not an error.
func (c *Client) Confirm(ctx context.Context, req kyc.ConfirmRequest) (registeredName string, ok bool, err error) {
	ctx, span := tracer.Start(ctx, "registry.confirm")
	defer span.End()

	var resp confirmResponse
	if err := c.post(ctx, "/v1/verifications/"+req.RequestID+"/confirm", confirmRequest{
		Number:       req.Number,
		SecondNumber: req.SecondNumber,
		Code:         req.Code,
	}, &resp); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return "", false, err
	}
	span.SetAttributes(attribute.String("registry.status", resp.Status))
	return resp.RegisteredName, resp.Status == "verified", nil
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	if c.breaker.IsOpen() {
		return fmt.Errorf("registry circuit open: %w", sentinel.ErrUnavailable)
	}

	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal registry request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build registry request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.breaker.RecordFailure()
		return fmt.Errorf("call registry: %w: %w", sentinel.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		c.breaker.RecordFailure()
		return fmt.Errorf("registry returned %d: %w", resp.StatusCode, sentinel.ErrUnavailable)
	}
	c.breaker.RecordSuccess()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("registry returned %d: %s", resp.StatusCode, snippet)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode registry response: %w", err)
	}
	return nil
}
