package datasource

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// DefaultGammaAPIBase is the Gamma markets API base URL.
const DefaultGammaAPIBase = "https://gamma-api.polymarket.com"

// Oracle resolves current prices for individual outcome tokens via the
// Gamma /markets endpoint. It is used only for exit pricing of assets the
// target trader no longer holds.
//
// Tokens must be queried one at a time: the upstream rejects batched
// clob_token_ids with HTTP 422.
type Oracle struct {
	http   *resty.Client
	logger *slog.Logger
}

// NewOracle creates a Gamma price oracle.
func NewOracle(baseURL string, logger *slog.Logger) *Oracle {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(15 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second)

	return &Oracle{
		http:   httpClient,
		logger: logger.With("component", "oracle"),
	}
}

// gammaMarket is the subset of the Gamma market shape the oracle needs.
// Both fields arrive as strings holding either a JSON-encoded array or a
// comma-separated list, paired by index.
type gammaMarket struct {
	ClobTokenIds  string `json:"clobTokenIds"`
	OutcomePrices string `json:"outcomePrices"`
}

// PriceFor looks up the current price of one token. ok is false when the
// token is unknown to Gamma or its price cannot be parsed.
func (o *Oracle) PriceFor(ctx context.Context, tokenID string) (float64, bool, error) {
	var markets []gammaMarket
	resp, err := o.http.R().
		SetContext(ctx).
		SetQueryParam("clob_token_ids", tokenID).
		SetResult(&markets).
		Get("/markets")
	if err != nil {
		return 0, false, fmt.Errorf("fetch market for token: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return 0, false, fmt.Errorf("fetch market for token: status %d: %s", resp.StatusCode(), resp.String())
	}

	for _, m := range markets {
		ids := parseStringList(m.ClobTokenIds)
		prices := parseStringList(m.OutcomePrices)
		for i, id := range ids {
			if id != tokenID || i >= len(prices) {
				continue
			}
			price, err := strconv.ParseFloat(prices[i], 64)
			if err != nil {
				o.logger.Warn("unparseable outcome price", "token", tokenID, "raw", prices[i])
				return 0, false, nil
			}
			return price, true, nil
		}
	}

	return 0, false, nil
}

// parseStringList parses a Gamma parallel-array field. Preferred form is a
// JSON-encoded array like "[\"id1\",\"id2\"]"; some responses use a bare
// comma-separated string instead.
func parseStringList(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}

	var out []string
	if err := json.Unmarshal([]byte(s), &out); err == nil {
		return out
	}

	parts := strings.Split(strings.Trim(s, "[]"), ",")
	out = make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(strings.TrimSpace(p), `"`)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
