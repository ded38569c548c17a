// Package prices maintains USD quotes for the curated tokens: a
// CoinGecko-compatible oracle client, a TTL cache with a background
// refresh loop, stablecoin pinning, and staleness marking when the
// oracle stops answering.
package prices

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultOracleURL is the public CoinGecko API root.
const DefaultOracleURL = "https://api.coingecko.com/api/v3"

// Oracle fetches spot prices from a CoinGecko-compatible endpoint.
type Oracle struct {
	baseURL    string
	httpClient *http.Client
}

// NewOracle creates an oracle client against the given API root.
func NewOracle(baseURL string) *Oracle {
	if baseURL == "" {
		baseURL = DefaultOracleURL
	}
	return &Oracle{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// SimplePrice returns the USD price for each requested oracle id. Ids
// missing from the response are absent from the map, not an error.
func (o *Oracle) SimplePrice(ctx context.Context, ids []string) (map[string]float64, error) {
	if len(ids) == 0 {
		return map[string]float64{}, nil
	}

	q := url.Values{}
	q.Set("ids", strings.Join(ids, ","))
	q.Set("vs_currencies", "usd")
	endpoint := fmt.Sprintf("%s/simple/price?%s", o.baseURL, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("price request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read price response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		preview := string(body)
		if len(preview) > 200 {
			preview = preview[:200] + "..."
		}
		return nil, fmt.Errorf("unexpected status %d from price oracle: %s", resp.StatusCode, preview)
	}

	// Response shape: {"weth": {"usd": 2591.04}, ...}
	var decoded map[string]map[string]float64
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("failed to decode price response: %w", err)
	}

	out := make(map[string]float64, len(decoded))
	for id, currencies := range decoded {
		if usd, ok := currencies["usd"]; ok {
			out[id] = usd
		}
	}
	return out, nil
}
