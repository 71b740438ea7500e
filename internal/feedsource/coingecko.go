package feedsource

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/concordmarkets/concord/internal/fixedpoint"
)

// DefaultCoingeckoHost is the public CoinGecko API endpoint.
const DefaultCoingeckoHost = "https://api.coingecko.com"

// CoingeckoSource polls CoinGecko's simple-price endpoint for USD quotes of
// the configured coins. Feed names are UPPER/USD (e.g. BTC/USD) in the
// "crypto" category.
type CoingeckoSource struct {
	host   string
	coins  []string
	client *http.Client
}

// coinSymbols maps CoinGecko ids to ticker symbols used in feed names.
// Unknown ids fall back to the upper-cased id.
var coinSymbols = map[string]string{
	"bitcoin":  "BTC",
	"ethereum": "ETH",
	"solana":   "SOL",
	"cardano":  "ADA",
	"polkadot": "DOT",
	"dogecoin": "DOGE",
}

// NewCoingeckoSource creates a CoingeckoSource. An empty host selects the
// public API.
func NewCoingeckoSource(host string, coins []string, timeout time.Duration) *CoingeckoSource {
	if host == "" {
		host = DefaultCoingeckoHost
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &CoingeckoSource{
		host:   strings.TrimRight(host, "/"),
		coins:  coins,
		client: &http.Client{Timeout: timeout},
	}
}

// Name returns the source identifier.
func (s *CoingeckoSource) Name() string {
	return "coingecko"
}

// Fetch retrieves USD prices for every configured coin in one request.
func (s *CoingeckoSource) Fetch(ctx context.Context) ([]Quote, error) {
	if len(s.coins) == 0 {
		return nil, nil
	}

	url := fmt.Sprintf("%s/api/v3/simple/price?ids=%s&vs_currencies=usd",
		s.host, strings.Join(s.coins, ","))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("feedsource: coingecko request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("feedsource: coingecko fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("feedsource: coingecko status %d: %s", resp.StatusCode, string(body))
	}

	// {"bitcoin":{"usd":67231.12}, ...}
	var payload map[string]map[string]json.Number
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("feedsource: coingecko decode: %w", err)
	}

	quotes := make([]Quote, 0, len(s.coins))
	for _, coin := range s.coins {
		prices, ok := payload[coin]
		if !ok {
			continue
		}
		raw, ok := prices["usd"]
		if !ok {
			continue
		}
		price, err := fixedpoint.Parse(raw.String())
		if err != nil || price.Sign() <= 0 {
			continue
		}
		quotes = append(quotes, Quote{
			Name:     symbolFor(coin) + "/USD",
			Category: "crypto",
			Price:    price,
		})
	}
	return quotes, nil
}

func symbolFor(coin string) string {
	if sym, ok := coinSymbols[coin]; ok {
		return sym
	}
	return strings.ToUpper(coin)
}
