// Package ibkr is a client for the IBKR Client Portal gateway: session status,
// account positions, historical bars, market data snapshots, contract search
// and order placement over REST, plus streaming quotes over websocket.
package ibkr

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const requestTimeout = 30 * time.Second

// Client is a Client Portal REST client.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        zerolog.Logger
}

// NewClient creates a gateway client for the given base URL, e.g.
// "https://localhost:5002". The gateway serves a self-signed certificate on
// localhost, so certificate verification is disabled; traffic never leaves the
// machine.
func NewClient(baseURL string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: requestTimeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
		},
		log: log.With().Str("client", "ibkr").Logger(),
	}
}

// AuthStatus checks the current authentication and connection status.
func (c *Client) AuthStatus(ctx context.Context) (*AuthStatus, error) {
	var status AuthStatus
	if err := c.get(ctx, "/v1/api/iserver/auth/status", &status); err != nil {
		return nil, fmt.Errorf("failed to check auth status: %w", err)
	}
	return &status, nil
}

// Accounts retrieves all accessible account ids.
func (c *Client) Accounts(ctx context.Context) ([]Account, error) {
	var accounts []Account
	if err := c.get(ctx, "/v1/api/portfolio/accounts", &accounts); err != nil {
		return nil, fmt.Errorf("failed to get accounts: %w", err)
	}
	return accounts, nil
}

// Positions returns the current positions for an account. Quantities may be
// fractional.
func (c *Client) Positions(ctx context.Context, accountID string) ([]Position, error) {
	if accountID == "" {
		return nil, fmt.Errorf("account id is required")
	}

	var positions []Position
	path := fmt.Sprintf("/v1/api/portfolio/%s/positions/0", accountID)
	if err := c.get(ctx, path, &positions); err != nil {
		return nil, fmt.Errorf("failed to get positions for %s: %w", accountID, err)
	}
	return positions, nil
}

// HistoricalBars fetches aggregated bars for a contract.
// Returns an empty slice (no error) when the gateway has no data for the
// requested window, so callers can fall through to the next candidate query.
func (c *Client) HistoricalBars(ctx context.Context, conid int64, query HistoryQuery) ([]HistoryBar, error) {
	path := fmt.Sprintf("/v1/api/iserver/marketdata/history?conid=%d&period=%s&bar=%s&outsideRth=false",
		conid, query.Period, query.Bar)

	var resp historyResponse
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, fmt.Errorf("failed to get history for conid %d: %w", conid, err)
	}
	return resp.Data, nil
}

// HistoricalBarsWithFallback tries each candidate query in order until one
// yields bars. This generalizes the snapshot-then-history retry pattern into an
// ordered list of fetch strategies.
func (c *Client) HistoricalBarsWithFallback(ctx context.Context, conid int64, queries []HistoryQuery) ([]HistoryBar, error) {
	var lastErr error
	for _, q := range queries {
		bars, err := c.HistoricalBars(ctx, conid, q)
		if err != nil {
			lastErr = err
			c.log.Warn().Err(err).
				Int64("conid", conid).
				Str("period", q.Period).
				Str("bar", q.Bar).
				Msg("History request failed, trying next fallback")
			continue
		}
		if len(bars) > 0 {
			return bars, nil
		}
		c.log.Debug().
			Int64("conid", conid).
			Str("period", q.Period).
			Msg("History request returned no bars, trying next fallback")
	}
	if lastErr != nil {
		return nil, fmt.Errorf("all history queries failed for conid %d: %w", conid, lastErr)
	}
	return nil, fmt.Errorf("no historical data for conid %d", conid)
}

// SnapshotQuotes fetches a one-shot market data snapshot for the given
// contracts. Missing fields stay NaN in the returned quotes.
func (c *Client) SnapshotQuotes(ctx context.Context, conids []int64) (map[int64]Quote, error) {
	if len(conids) == 0 {
		return map[int64]Quote{}, nil
	}

	ids := make([]string, len(conids))
	for i, id := range conids {
		ids[i] = strconv.FormatInt(id, 10)
	}
	path := "/v1/api/iserver/marketdata/snapshot?conids=" + strings.Join(ids, ",") +
		"&fields=" + strings.Join(quoteFields, ",")

	var rows []map[string]json.RawMessage
	if err := c.get(ctx, path, &rows); err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}

	quotes := make(map[int64]Quote, len(rows))
	for _, row := range rows {
		conid, ok := rawInt(row["conid"])
		if !ok {
			continue
		}
		q := emptyQuote()
		q.Updated = time.Now()
		if v, ok := rawPrice(row[fieldLast]); ok {
			q.Last = v
		}
		if v, ok := rawPrice(row[fieldBid]); ok {
			q.Bid = v
		}
		if v, ok := rawPrice(row[fieldAsk]); ok {
			q.Ask = v
		}
		if v, ok := rawPrice(row[fieldClose]); ok {
			q.Close = v
		}
		quotes[conid] = q
	}
	return quotes, nil
}

// SearchContracts resolves a ticker symbol to matching contracts.
func (c *Client) SearchContracts(ctx context.Context, symbol string) ([]Contract, error) {
	var contracts []Contract
	body := map[string]any{"symbol": symbol, "name": false}
	if err := c.post(ctx, "/v1/api/iserver/secdef/search", body, &contracts); err != nil {
		return nil, fmt.Errorf("failed to search contracts for %q: %w", symbol, err)
	}
	return contracts, nil
}

// PlaceOrder submits an order for the account. The gateway may answer with a
// confirmation question instead of an order id; see ConfirmOrder.
func (c *Client) PlaceOrder(ctx context.Context, accountID string, ticket OrderTicket) ([]OrderReply, error) {
	if accountID == "" {
		return nil, fmt.Errorf("account id is required")
	}

	var replies []OrderReply
	path := fmt.Sprintf("/v1/api/iserver/account/%s/orders", accountID)
	body := map[string]any{"orders": []OrderTicket{ticket}}
	if err := c.post(ctx, path, body, &replies); err != nil {
		return nil, fmt.Errorf("failed to place order: %w", err)
	}
	return replies, nil
}

// OrderStatus fetches the current status of a submitted order.
func (c *Client) OrderStatus(ctx context.Context, orderID string) (*OrderState, error) {
	var state OrderState
	path := "/v1/api/iserver/account/order/status/" + orderID
	if err := c.get(ctx, path, &state); err != nil {
		return nil, fmt.Errorf("failed to get status for order %s: %w", orderID, err)
	}
	return &state, nil
}

// ConfirmOrder answers a confirmation question raised by PlaceOrder.
func (c *Client) ConfirmOrder(ctx context.Context, replyID string) ([]OrderReply, error) {
	var replies []OrderReply
	path := "/v1/api/iserver/reply/" + replyID
	if err := c.post(ctx, path, map[string]any{"confirmed": true}, &replies); err != nil {
		return nil, fmt.Errorf("failed to confirm order reply %s: %w", replyID, err)
	}
	return replies, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("gateway returned %d for %s %s: %s", resp.StatusCode, method, path, truncate(string(data), 200))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", path, err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// rawPrice parses a snapshot/stream price value. The gateway sends numbers or
// strings, and string prices may carry a letter prefix ("C" when the value is
// derived from the close, "H" when the instrument is halted).
func rawPrice(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 {
		return 0, false
	}

	var num float64
	if err := json.Unmarshal(raw, &num); err == nil {
		return num, true
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, false
	}
	s = strings.TrimLeft(s, "CHch")
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func rawInt(raw json.RawMessage) (int64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, false
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
