package price

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// aliases maps wallet price ids to CoinGecko ids where they differ.
var aliases = map[string]string{
	"acala":    "acala-token",
	"bifrost":  "bifrost-native-coin",
	"calamari": "calamari-network",
	"kilt":     "kilt-protocol",
	"parallel": "par-stablecoin",
}

// Quote is the price snapshot returned by a Fetcher.
type Quote struct {
	Currency    string
	PriceMap    map[string]float64
	Price24hMap map[string]float64
}

// Fetcher retrieves prices for a set of ids.
type Fetcher interface {
	Fetch(ctx context.Context, ids []string, currency string) (*Quote, error)
}

// CoinGecko fetches prices from the coins/markets endpoint.
type CoinGecko struct {
	endpoint   string
	httpClient *http.Client
}

// NewCoinGecko creates a fetcher for the given API base URL.
func NewCoinGecko(endpoint string) *CoinGecko {
	return &CoinGecko{
		endpoint: strings.TrimSuffix(endpoint, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type marketItem struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	CurrentPrice   decimal.Decimal `json:"current_price"`
	PriceChange24h decimal.Decimal `json:"price_change_24h"`
}

// Fetch queries coins/markets and maps results back to wallet ids.
func (c *CoinGecko) Fetch(ctx context.Context, ids []string, currency string) (*Quote, error) {
	inverse := make(map[string]string, len(ids))
	geckoIDs := make([]string, 0, len(ids))
	for _, id := range ids {
		geckoID := id
		if alias, ok := aliases[id]; ok {
			geckoID = alias
			inverse[alias] = id
		}
		geckoIDs = append(geckoIDs, geckoID)
	}
	sort.Strings(geckoIDs)

	q := url.Values{}
	q.Set("vs_currency", currency)
	q.Set("ids", strings.Join(geckoIDs, ","))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/coins/markets?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("coingecko returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var items []marketItem
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	quote := &Quote{
		Currency:    currency,
		PriceMap:    make(map[string]float64, len(items)),
		Price24hMap: make(map[string]float64, len(items)),
	}
	for _, item := range items {
		id := item.ID
		if walletID, ok := inverse[id]; ok {
			id = walletID
		}
		quote.PriceMap[id] = item.CurrentPrice.InexactFloat64()
		quote.Price24hMap[id] = item.CurrentPrice.Sub(item.PriceChange24h).InexactFloat64()
	}
	return quote, nil
}
