// Package payments talks to the external PIX provider and turns its webhook
// callbacks into conversation events.
package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vendezap/pixstore-bot/internal/config"
)

// Client is the PIX provider HTTP client. CreatePixCharge satisfies the
// conversation engine's Charger interface.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	log        *slog.Logger
}

func NewClient(cfg config.Config, log *slog.Logger) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		apiKey:  cfg.PixAPIKey,
		baseURL: strings.TrimRight(cfg.PixBaseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		log: log,
	}
}

type chargeResponse struct {
	TxID      string `json:"txid"`
	Status    string `json:"status"`
	CopyPaste string `json:"pix_copy_paste"`
	QRCodeURL string `json:"qr_code_url"`
}

// CreatePixCharge registers a charge with the provider and returns the
// transaction id plus the copy-paste code and QR image the customer pays
// with. The idempotency key makes retried calls return the same charge.
func (c *Client) CreatePixCharge(ctx context.Context, amount decimal.Decimal, description, idempotencyKey string) (string, string, string, error) {
	if c.apiKey == "" || c.baseURL == "" {
		return "", "", "", fmt.Errorf("pix provider is not configured")
	}

	payload := map[string]any{
		"amount":      amount.StringFixed(2),
		"currency":    "BRL",
		"description": description,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", "", "", fmt.Errorf("marshal charge: %w", err)
	}

	fullURL, err := c.endpoint("/v1/pix/charges")
	if err != nil {
		return "", "", "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fullURL, bytes.NewReader(body))
	if err != nil {
		return "", "", "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Idempotence-Key", idempotencyKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", "", "", fmt.Errorf("post pix charge: %w", err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "", "", fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode >= 300 {
		c.log.Error("pix charge failed", "status", resp.StatusCode, "body", truncateBody(rawBody))
		return "", "", "", fmt.Errorf("pix error: status=%d body=%s", resp.StatusCode, truncateBody(rawBody))
	}

	var parsed chargeResponse
	if err := json.Unmarshal(rawBody, &parsed); err != nil {
		return "", "", "", fmt.Errorf("decode charge response: %w (body=%s)", err, truncateBody(rawBody))
	}
	if parsed.TxID == "" || parsed.CopyPaste == "" {
		return "", "", "", fmt.Errorf("invalid charge response (missing txid or copy-paste code)")
	}

	c.log.Info("pix charge created", "txid", parsed.TxID, "amount", amount.StringFixed(2))
	return parsed.TxID, parsed.CopyPaste, parsed.QRCodeURL, nil
}

func (c *Client) endpoint(path string) (string, error) {
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base URL: %w", err)
	}
	ref, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	return base.ResolveReference(ref).String(), nil
}

func truncateBody(body []byte) string {
	const max = 512
	if len(body) <= max {
		return string(body)
	}
	return string(body[:max]) + "..."
}
