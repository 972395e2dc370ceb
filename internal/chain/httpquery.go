package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// HTTPQuery implements Query against a node gateway's REST API
// (GET {base}/addresses/{address}/utxos). The wallet layer usually injects
// its own richer client; this one exists so the maintenance daemon can run
// standalone.
type HTTPQuery struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPQuery creates a query client for the gateway at baseURL. apiKey is
// sent as the project_id header when non-empty.
func NewHTTPQuery(baseURL, apiKey string) *HTTPQuery {
	return &HTTPQuery{
		baseURL: baseURL,
		apiKey:  apiKey,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// UTXOsAt returns the unspent outputs at an address in gateway order.
func (q *HTTPQuery) UTXOsAt(ctx context.Context, address string) ([]UTXO, error) {
	endpoint := fmt.Sprintf("%s/addresses/%s/utxos", q.baseURL, url.PathEscape(address))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build utxo request: %w", err)
	}
	if q.apiKey != "" {
		req.Header.Set("project_id", q.apiKey)
	}

	resp, err := q.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("utxo query for %s failed: %w", address, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		// Gateways report unused addresses as 404; that is an empty set.
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("utxo query for %s returned status %d: %s",
			address, resp.StatusCode, string(body))
	}

	var utxos []UTXO
	if err := json.NewDecoder(resp.Body).Decode(&utxos); err != nil {
		return nil, fmt.Errorf("failed to decode utxo response: %w", err)
	}

	for i := range utxos {
		if utxos[i].Address == "" {
			utxos[i].Address = address
		}
	}
	return utxos, nil
}
