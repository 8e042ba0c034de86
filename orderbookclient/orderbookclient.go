// Package orderbookclient is the HTTP client implementation of
// poller.OrderBook, the off-chain central-limit order-book's public
// submission endpoint. Grounded on the same POST/JSON/Do shape as
// notify.Slack (itself grounded on the teacher's
// services/escrow-gateway/webhook.go), instrumented with otelhttp the way
// services/oracle-attesterd/main.go wraps its outbound clients.
package orderbookclient

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/cowprotocol/tenderly-watch-tower/poller"
)

// Noop rejects every submission; used when no order-book endpoint is
// configured so poller.Poller always has a non-nil OrderBook to call.
type Noop struct{}

func (Noop) Submit(ctx context.Context, order poller.Order, sig poller.Signature, correlationID string) (poller.SubmitOutcome, error) {
	return poller.SubmitRejected, fmt.Errorf("orderbookclient: no order-book endpoint configured")
}

// Client posts discrete orders to the order-book's submission endpoint.
type Client struct {
	baseURL string
	http    *http.Client
}

// New constructs a Client against baseURL (e.g.
// "https://api.cow.fi/mainnet/api/v1/orders").
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http: &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

type orderPayload struct {
	Sell              string `json:"sellToken"`
	Buy               string `json:"buyToken"`
	SellAmount        string `json:"sellAmount"`
	BuyAmount         string `json:"buyAmount"`
	ValidTo           uint32 `json:"validTo"`
	AppData           string `json:"appData"`
	FeeAmount         string `json:"feeAmount"`
	Kind              string `json:"kind"`
	PartiallyFillable bool   `json:"partiallyFillable"`
	SigningScheme     string `json:"signingScheme"`
	Signature         string `json:"signature"`
}

// errorBody is the order-book's JSON error shape; "DuplicateOrder" is
// reclassified as success per spec.md §4.5 step 4.
type errorBody struct {
	ErrorType string `json:"errorType"`
}

// Submit posts order to the order-book, tagging the request with
// correlationID so a rejection can be traced back to the attempt that
// produced it (spec.md's request-correlation supplement).
func (c *Client) Submit(ctx context.Context, order poller.Order, sig poller.Signature, correlationID string) (poller.SubmitOutcome, error) {
	payload := orderPayload{
		Sell:              hex.EncodeToString(order.Sell),
		Buy:               hex.EncodeToString(order.Buy),
		SellAmount:        order.SellAmount.String(),
		BuyAmount:         order.BuyAmount.String(),
		ValidTo:           order.ValidTo,
		AppData:           hex.EncodeToString(order.AppData[:]),
		FeeAmount:         order.FeeAmount.String(),
		Kind:              order.Kind,
		PartiallyFillable: order.PartiallyFillable,
		SigningScheme:     sig.Scheme,
		Signature:         hex.EncodeToString(sig.Data),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return poller.SubmitRejected, fmt.Errorf("orderbookclient: marshal order: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return poller.SubmitRejected, fmt.Errorf("orderbookclient: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Correlation-Id", correlationID)

	resp, err := c.http.Do(req)
	if err != nil {
		return poller.SubmitRejected, &poller.TransientError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return poller.SubmitAccepted, nil
	}
	if resp.StatusCode == http.StatusBadRequest {
		var eb errorBody
		if decodeErr := json.NewDecoder(resp.Body).Decode(&eb); decodeErr == nil && eb.ErrorType == "DuplicateOrder" {
			return poller.SubmitDuplicate, nil
		}
	}
	if resp.StatusCode >= 500 {
		return poller.SubmitRejected, &poller.TransientError{Err: fmt.Errorf("orderbookclient: server error %s", resp.Status)}
	}
	return poller.SubmitRejected, fmt.Errorf("orderbookclient: rejected with %s", resp.Status)
}
