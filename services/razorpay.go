package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// RazorpayConfig holds the gateway credentials and endpoint.
type RazorpayConfig struct {
	KeyID     string
	KeySecret string
	APIURL    string // https://api.razorpay.com/v1
}

// GatewayOrder is the order descriptor returned by the gateway. The client
// needs id/amount/currency to open the checkout UI.
type GatewayOrder struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"` // minor currency units (paise)
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

// Gateway is the payment gateway adapter. Injected into DonationService so
// tests can substitute a fake.
type Gateway interface {
	CreateOrder(ctx context.Context, amountPaise int64, currency, receipt string) (*GatewayOrder, error)
	RefundPayment(ctx context.Context, paymentID string, amountPaise int64) error
}

// RazorpayClient talks to the Razorpay REST API with basic auth.
type RazorpayClient struct {
	config     RazorpayConfig
	httpClient *http.Client
}

func NewRazorpayClient(config RazorpayConfig) *RazorpayClient {
	if config.APIURL == "" {
		config.APIURL = "https://api.razorpay.com/v1"
	}
	httpClient := &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   20,
			MaxConnsPerHost:       100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
		Timeout: 30 * time.Second,
	}
	return &RazorpayClient{config: config, httpClient: httpClient}
}

// CreateOrder opens a gateway order for the given amount in paise.
func (rc *RazorpayClient) CreateOrder(ctx context.Context, amountPaise int64, currency, receipt string) (*GatewayOrder, error) {
	params := map[string]interface{}{
		"amount":   amountPaise,
		"currency": currency,
		"receipt":  receipt,
	}

	var order GatewayOrder
	if err := rc.post(ctx, "/orders", params, &order); err != nil {
		return nil, err
	}
	if order.ID == "" {
		return nil, fmt.Errorf("gateway returned order without id")
	}
	return &order, nil
}

// RefundPayment issues a refund for a captured payment. Amount 0 refunds in full.
func (rc *RazorpayClient) RefundPayment(ctx context.Context, paymentID string, amountPaise int64) error {
	params := map[string]interface{}{}
	if amountPaise > 0 {
		params["amount"] = amountPaise
	}
	return rc.post(ctx, fmt.Sprintf("/payments/%s/refund", paymentID), params, nil)
}

func (rc *RazorpayClient) post(ctx context.Context, path string, params map[string]interface{}, out interface{}) error {
	jsonParams, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to marshal params: %v", err)
	}

	url := rc.config.APIURL + path
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonParams))
	if err != nil {
		return fmt.Errorf("failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(rc.config.KeyID, rc.config.KeySecret)

	resp, err := rc.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %v", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Razorpay error envelope: {"error":{"code":...,"description":...}}
		var errResp struct {
			Error struct {
				Code        string `json:"code"`
				Description string `json:"description"`
			} `json:"error"`
		}
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Description != "" {
			return fmt.Errorf("gateway error %d: %s (%s)", resp.StatusCode, errResp.Error.Description, errResp.Error.Code)
		}
		return fmt.Errorf("gateway error %d: %s", resp.StatusCode, body)
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("failed to decode response: %v, response body: %s", err, body)
		}
	}
	return nil
}
