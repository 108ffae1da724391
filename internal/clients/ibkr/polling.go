package ibkr

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// PollingFeed is a snapshot-based price feed for gateways where the websocket
// is unavailable. It satisfies the same subscribe/best-price contract as
// QuoteFeed; Refresh pulls a fresh snapshot for every subscribed contract and
// is expected to be called once per check cycle.
type PollingFeed struct {
	client *Client
	log    zerolog.Logger

	mu     sync.RWMutex
	subs   map[int64]bool
	quotes map[int64]Quote
}

// NewPollingFeed creates a polling price feed backed by the REST snapshot
// endpoint.
func NewPollingFeed(client *Client, log zerolog.Logger) *PollingFeed {
	return &PollingFeed{
		client: client,
		log:    log.With().Str("component", "polling_feed").Logger(),
		subs:   make(map[int64]bool),
		quotes: make(map[int64]Quote),
	}
}

// Subscribe registers a contract for polling.
func (p *PollingFeed) Subscribe(conid int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subs[conid] = true
	return nil
}

// Unsubscribe removes a contract and its cached quote.
func (p *PollingFeed) Unsubscribe(conid int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.subs, conid)
	delete(p.quotes, conid)
	return nil
}

// Refresh pulls a snapshot for all subscribed contracts.
func (p *PollingFeed) Refresh(ctx context.Context) error {
	p.mu.RLock()
	conids := make([]int64, 0, len(p.subs))
	for conid := range p.subs {
		conids = append(conids, conid)
	}
	p.mu.RUnlock()

	if len(conids) == 0 {
		return nil
	}

	quotes, err := p.client.SnapshotQuotes(ctx, conids)
	if err != nil {
		return err
	}

	p.mu.Lock()
	for conid, q := range quotes {
		p.quotes[conid] = q
	}
	p.mu.Unlock()

	p.log.Debug().Int("contracts", len(quotes)).Msg("Refreshed snapshot quotes")
	return nil
}

// BestPrice returns the best available price from the latest snapshot.
func (p *PollingFeed) BestPrice(conid int64) (float64, bool) {
	p.mu.RLock()
	q, ok := p.quotes[conid]
	p.mu.RUnlock()
	if !ok {
		return 0, false
	}
	return q.BestPrice()
}
