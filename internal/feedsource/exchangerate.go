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

// DefaultExchangeRateHost is the public open exchange-rate API endpoint.
const DefaultExchangeRateHost = "https://open.er-api.com"

// ExchangeRateSource polls an exchange-rate API for fiat rates against a
// base currency. Feed names are BASE/SYMBOL (e.g. USD/EUR) in the "fiat"
// category.
type ExchangeRateSource struct {
	host    string
	base    string
	symbols []string
	client  *http.Client
}

// NewExchangeRateSource creates an ExchangeRateSource. An empty host selects
// the public API; an empty base defaults to USD.
func NewExchangeRateSource(host, base string, symbols []string, timeout time.Duration) *ExchangeRateSource {
	if host == "" {
		host = DefaultExchangeRateHost
	}
	if base == "" {
		base = "USD"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ExchangeRateSource{
		host:    strings.TrimRight(host, "/"),
		base:    strings.ToUpper(base),
		symbols: symbols,
		client:  &http.Client{Timeout: timeout},
	}
}

// Name returns the source identifier.
func (s *ExchangeRateSource) Name() string {
	return "exchangerate"
}

// Fetch retrieves the latest rates for the base currency and filters them to
// the configured symbols.
func (s *ExchangeRateSource) Fetch(ctx context.Context) ([]Quote, error) {
	if len(s.symbols) == 0 {
		return nil, nil
	}

	url := fmt.Sprintf("%s/v6/latest/%s", s.host, s.base)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("feedsource: exchangerate request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("feedsource: exchangerate fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("feedsource: exchangerate status %d: %s", resp.StatusCode, string(body))
	}

	var payload struct {
		Result string                 `json:"result"`
		Rates  map[string]json.Number `json:"rates"`
	}
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("feedsource: exchangerate decode: %w", err)
	}
	if payload.Result != "" && payload.Result != "success" {
		return nil, fmt.Errorf("feedsource: exchangerate result %q", payload.Result)
	}

	quotes := make([]Quote, 0, len(s.symbols))
	for _, sym := range s.symbols {
		sym = strings.ToUpper(sym)
		raw, ok := payload.Rates[sym]
		if !ok {
			continue
		}
		price, err := fixedpoint.Parse(raw.String())
		if err != nil || price.Sign() <= 0 {
			continue
		}
		quotes = append(quotes, Quote{
			Name:     s.base + "/" + sym,
			Category: "fiat",
			Price:    price,
		})
	}
	return quotes, nil
}
