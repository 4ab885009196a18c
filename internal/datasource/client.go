// Package datasource implements the public Polymarket Data API client and
// the Gamma price oracle.
//
// The Data API (no auth) serves any wallet's positions and trades; the agent
// uses it both to observe the target trader and to seed its own holdings.
// The Gamma API supplies exit prices for assets the target no longer holds.
package datasource

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"polymarket-copytrade/pkg/types"
)

// DefaultDataAPIBase is the public Polymarket data API (no auth required).
const DefaultDataAPIBase = "https://data-api.polymarket.com"

// positionsPageSize is the Data API page size for position listing.
const positionsPageSize = 100

// Client is the Data API client.
type Client struct {
	http   *resty.Client
	logger *slog.Logger
}

// NewClient creates a Data API client.
func NewClient(baseURL string, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(15 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second)

	return &Client{
		http:   httpClient,
		logger: logger.With("component", "datasource"),
	}
}

// ActivePositions fetches every active position of the given wallet.
//
// Pages through /positions until a short page, then filters to tradable
// entries: currentValue > 0 and 0 < curPrice < 1 (resolved markets report a
// price of exactly 0 or 1 and are excluded).
func (c *Client) ActivePositions(ctx context.Context, address string) ([]types.Position, error) {
	var all []types.Position
	offset := 0

	for {
		var page []types.Position
		resp, err := c.http.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"user":   address,
				"limit":  strconv.Itoa(positionsPageSize),
				"offset": strconv.Itoa(offset),
			}).
			SetResult(&page).
			Get("/positions")
		if err != nil {
			return nil, fmt.Errorf("fetch positions page %d: %w", offset, err)
		}
		if resp.StatusCode() != http.StatusOK {
			return nil, fmt.Errorf("fetch positions: status %d: %s", resp.StatusCode(), resp.String())
		}

		for _, pos := range page {
			if pos.CurrentValue > 0 && pos.CurPrice > 0 && pos.CurPrice < 1 {
				all = append(all, pos)
			}
		}

		if len(page) < positionsPageSize {
			break
		}
		offset += positionsPageSize
	}

	c.logger.Debug("fetched active positions", "address", address, "count", len(all))
	return all, nil
}

// RecentTrades fetches the wallet's most recent trades, newest first.
func (c *Client) RecentTrades(ctx context.Context, address string, limit int) ([]types.Trade, error) {
	var trades []types.Trade
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"user":  address,
			"limit": strconv.Itoa(limit),
		}).
		SetResult(&trades).
		Get("/trades")
	if err != nil {
		return nil, fmt.Errorf("fetch trades: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("fetch trades: status %d: %s", resp.StatusCode(), resp.String())
	}

	c.logger.Debug("fetched recent trades", "address", address, "count", len(trades))
	return trades, nil
}
