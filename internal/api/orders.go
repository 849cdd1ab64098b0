package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrOrderNotFound is returned when the venue has no record of an order.
// After a timed-out submit this is the proof the order never arrived.
var ErrOrderNotFound = errors.New("order not found")

// SubmitOrder submits a fill-and-kill order. The request is sent exactly
// once: retrying after an ambiguous failure could double-fill, so the
// caller classifies timeouts as uncertain and reconciles via
// GetOrderStatus instead.
func (c *Client) SubmitOrder(ctx context.Context, sub OrderSubmission) (*OrderResponse, error) {
	if c.creds == nil {
		return nil, fmt.Errorf("order submission requires credentials")
	}

	var resp OrderResponse
	if err := c.postOnce(ctx, "/orders", sub, &resp); err != nil {
		return nil, fmt.Errorf("submit order %s: %w", sub.ClientOrderID, err)
	}

	return &resp, nil
}

// GetOrderStatus looks up an order by its client order id. Retries on
// transient failures; a 404 maps to ErrOrderNotFound.
func (c *Client) GetOrderStatus(ctx context.Context, clientOrderID string) (*OrderResponse, error) {
	var resp OrderResponse
	err := c.get(ctx, "/orders/client/"+clientOrderID, nil, &resp)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order %s: %w", clientOrderID, err)
	}

	return &resp, nil
}
