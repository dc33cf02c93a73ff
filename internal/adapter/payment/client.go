package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Quagm/ios-aquatics/internal/core/domain"
)

const maxResponseBytes = 1 << 20

type linkResponse struct {
	URL   string `json:"url"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Client creates hosted checkout links through the payment provider's REST
// API. The provider owns the payment page; we only hand it the amount.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) CreatePaymentLink(ctx context.Context, req domain.PaymentLinkRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal payment link request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/payment-links", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build payment link request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", &domain.UpstreamError{Op: "create payment link", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", &domain.UpstreamError{Op: "create payment link", Err: err}
	}

	var out linkResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", &domain.UpstreamError{
			Op:  "create payment link",
			Err: fmt.Errorf("unreadable response (status %d): %w", resp.StatusCode, err),
		}
	}

	if resp.StatusCode >= http.StatusBadRequest || out.Error != nil {
		msg := http.StatusText(resp.StatusCode)
		if out.Error != nil && out.Error.Message != "" {
			msg = out.Error.Message
		}
		return "", &domain.UpstreamError{
			Op:  "create payment link",
			Err: fmt.Errorf("provider returned %d: %s", resp.StatusCode, msg),
		}
	}
	if out.URL == "" {
		return "", &domain.UpstreamError{Op: "create payment link", Err: errors.New("provider returned no url")}
	}
	return out.URL, nil
}
