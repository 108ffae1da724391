package ibkr

import (
	"math"
	"time"
)

// Market data field ids used on both the snapshot endpoint and the websocket
// stream. The gateway keys quote values by these numeric strings.
const (
	fieldLast  = "31"
	fieldBid   = "84"
	fieldAsk   = "86"
	fieldClose = "7296"
)

var quoteFields = []string{fieldLast, fieldBid, fieldAsk, fieldClose}

// AuthStatus is the gateway session state.
type AuthStatus struct {
	Authenticated bool   `json:"authenticated"`
	Connected     bool   `json:"connected"`
	Competing     bool   `json:"competing"`
	Message       string `json:"message"`
}

// Account is one brokerage account reachable through the gateway.
type Account struct {
	AccountID    string `json:"accountId"`
	AccountAlias string `json:"accountAlias"`
	Currency     string `json:"currency"`
}

// Position is one holding in an account portfolio.
type Position struct {
	Conid        int64   `json:"conid"`
	ContractDesc string  `json:"contractDesc"`
	Position     float64 `json:"position"`
	MktPrice     float64 `json:"mktPrice"`
	MktValue     float64 `json:"mktValue"`
	Currency     string  `json:"currency"`
	AssetClass   string  `json:"assetClass"`
}

// HistoryBar is one aggregated OHLC observation. T is epoch milliseconds.
type HistoryBar struct {
	T int64   `json:"t"`
	O float64 `json:"o"`
	C float64 `json:"c"`
	H float64 `json:"h"`
	L float64 `json:"l"`
	V float64 `json:"v"`
}

// Date returns the bar's date in YYYY-MM-DD form (UTC).
func (b HistoryBar) Date() string {
	return time.UnixMilli(b.T).UTC().Format("2006-01-02")
}

type historyResponse struct {
	Symbol string       `json:"symbol"`
	Data   []HistoryBar `json:"data"`
}

// HistoryQuery is one (period, bar) candidate for a historical data request.
type HistoryQuery struct {
	Period string // e.g. "2y", "1y", "6m"
	Bar    string // e.g. "1d"
}

// DefaultHistoryQueries is the ordered fallback chain for daily history:
// the requested lookback first, then progressively shorter windows for
// instruments with a short listing history.
func DefaultHistoryQueries(lookback string) []HistoryQuery {
	queries := []HistoryQuery{{Period: lookback, Bar: "1d"}}
	for _, period := range []string{"1y", "6m"} {
		if period != lookback {
			queries = append(queries, HistoryQuery{Period: period, Bar: "1d"})
		}
	}
	return queries
}

// Contract is a security definition search result. The gateway returns conids
// as strings on this endpoint.
type Contract struct {
	Conid       string `json:"conid"`
	Symbol      string `json:"symbol"`
	CompanyName string `json:"companyName"`
	Description string `json:"description"`
	SecType     string `json:"secType"`
}

// OrderTicket is a single order to submit.
type OrderTicket struct {
	Conid     int64   `json:"conid"`
	OrderType string  `json:"orderType"` // LMT or MKT
	Side      string  `json:"side"`      // BUY or SELL
	Quantity  float64 `json:"quantity"`
	Price     float64 `json:"price,omitempty"` // limit price, ignored for MKT
	TIF       string  `json:"tif"`             // e.g. DAY, GTC
}

// OrderReply is the gateway response to an order submission. When the gateway
// wants confirmation (price warnings etc.) it answers with a reply id and the
// question text instead of an order id.
type OrderReply struct {
	ID          string   `json:"id"`
	OrderID     string   `json:"order_id"`
	OrderStatus string   `json:"order_status"`
	Message     []string `json:"message"`
}

// OrderState is the gateway's live view of a submitted order.
type OrderState struct {
	OrderID     int64  `json:"order_id"`
	OrderStatus string `json:"order_status"`
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	Size        string `json:"size"`
}

// Quote is the latest streamed or snapshotted market data for one contract.
// Absent fields are NaN.
type Quote struct {
	Last    float64
	Bid     float64
	Ask     float64
	Close   float64
	Updated time.Time
}

func emptyQuote() Quote {
	return Quote{Last: math.NaN(), Bid: math.NaN(), Ask: math.NaN(), Close: math.NaN()}
}

// BestPrice returns the best available price using the preference order
// last traded price, then previous close, then best bid. The second return is
// false when no field is populated.
func (q Quote) BestPrice() (float64, bool) {
	for _, v := range []float64{q.Last, q.Close, q.Bid} {
		if !math.IsNaN(v) && v > 0 {
			return v, true
		}
	}
	return 0, false
}
