package api

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// GetMarkets fetches a page of catalog markets.
func (c *Client) GetMarkets(ctx context.Context, opts GetMarketsOptions) (*MarketsResponse, error) {
	query := url.Values{}

	if opts.Limit > 0 {
		query.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Cursor != "" {
		query.Set("cursor", opts.Cursor)
	}
	if opts.Sport != "" {
		query.Set("sport", opts.Sport)
	}
	if opts.Live {
		query.Set("live", "true")
	}
	if opts.Status != "" {
		query.Set("status", opts.Status)
	}

	var resp MarketsResponse
	if err := c.get(ctx, "/markets", query, &resp); err != nil {
		return nil, fmt.Errorf("get markets: %w", err)
	}

	return &resp, nil
}

// GetAllMarkets fetches all markets matching the given options by
// paginating through results.
func (c *Client) GetAllMarkets(ctx context.Context, opts GetMarketsOptions) ([]APIMarket, error) {
	var allMarkets []APIMarket
	opts.Limit = 500 // Max page size

	for {
		resp, err := c.GetMarkets(ctx, opts)
		if err != nil {
			return nil, err
		}

		allMarkets = append(allMarkets, resp.Markets...)

		if resp.Cursor == "" {
			break
		}
		opts.Cursor = resp.Cursor
	}

	return allMarkets, nil
}

// GetMarket fetches a single market by token id.
func (c *Client) GetMarket(ctx context.Context, tokenID string) (*APIMarket, error) {
	var resp SingleMarketResponse
	if err := c.get(ctx, "/markets/"+tokenID, nil, &resp); err != nil {
		return nil, fmt.Errorf("get market %s: %w", tokenID, err)
	}
	return &resp.Market, nil
}

// GetBook fetches the full order book for a market. Used on resync after
// a sequence gap; deltas cannot be applied again until this succeeds.
func (c *Client) GetBook(ctx context.Context, tokenID string) (*BookResponse, error) {
	query := url.Values{}
	query.Set("token_id", tokenID)

	var resp BookResponse
	if err := c.get(ctx, "/book", query, &resp); err != nil {
		return nil, fmt.Errorf("get book %s: %w", tokenID, err)
	}
	if resp.AssetID == "" {
		resp.AssetID = tokenID
	}
	resp.Timestamp = normalizeMillis(resp.Timestamp)

	return &resp, nil
}

// normalizeMillis defaults a missing venue timestamp to now.
func normalizeMillis(ms int64) int64 {
	if ms == 0 {
		return time.Now().UnixMilli()
	}
	return ms
}
