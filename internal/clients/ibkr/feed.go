package ibkr

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
)

const (
	writeWait   = 10 * time.Second
	dialTimeout = 30 * time.Second

	baseReconnectDelay   = 5 * time.Second
	maxReconnectDelay    = 5 * time.Minute
	maxReconnectAttempts = 10
)

// QuoteFeed streams market data for subscribed contracts from the gateway
// websocket and maintains a read-mostly quote cache. Consumers read the best
// available price through BestPrice; the read loop pushes updates in the
// background.
type QuoteFeed struct {
	url        string
	httpClient *http.Client
	conn       *websocket.Conn
	connCtx    context.Context
	cancelFunc context.CancelFunc
	mu         sync.RWMutex

	log zerolog.Logger

	connected    bool
	reconnecting bool
	stopChan     chan struct{}
	stopped      bool

	// Cache and subscription set (thread-safe)
	quotes  map[int64]Quote
	subs    map[int64]bool
	cacheMu sync.RWMutex
}

// NewQuoteFeed creates a streaming quote client for the gateway websocket
// endpoint, e.g. "wss://localhost:5002/v1/api/ws". TLS verification is
// disabled for the gateway's self-signed localhost certificate.
func NewQuoteFeed(url string, log zerolog.Logger) *QuoteFeed {
	return &QuoteFeed{
		url: url,
		httpClient: &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
		},
		log:      log.With().Str("component", "quote_feed").Logger(),
		quotes:   make(map[int64]Quote),
		subs:     make(map[int64]bool),
		stopChan: make(chan struct{}),
	}
}

// Start establishes the websocket connection and begins the read loop.
func (f *QuoteFeed) Start() error {
	f.log.Info().Msg("Starting quote feed")

	if err := f.connect(); err != nil {
		f.log.Warn().Err(err).Msg("Initial websocket connection failed, will retry in background")
		go f.reconnectLoop()
		return err
	}

	f.mu.RLock()
	ctx := f.connCtx
	f.mu.RUnlock()
	go f.readLoop(ctx)

	f.log.Info().Msg("Quote feed started")
	return nil
}

// Stop unsubscribes everything and closes the connection.
func (f *QuoteFeed) Stop() error {
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return nil
	}
	f.stopped = true
	f.mu.Unlock()

	f.log.Info().Msg("Stopping quote feed")
	close(f.stopChan)

	f.cacheMu.RLock()
	conids := make([]int64, 0, len(f.subs))
	for conid := range f.subs {
		conids = append(conids, conid)
	}
	f.cacheMu.RUnlock()

	for _, conid := range conids {
		if err := f.Unsubscribe(conid); err != nil {
			f.log.Warn().Err(err).Int64("conid", conid).Msg("Failed to unsubscribe during shutdown")
		}
	}

	return f.disconnect()
}

// Subscribe registers a contract for streaming. The subscription is replayed
// automatically after a reconnect.
func (f *QuoteFeed) Subscribe(conid int64) error {
	f.cacheMu.Lock()
	f.subs[conid] = true
	if _, ok := f.quotes[conid]; !ok {
		f.quotes[conid] = emptyQuote()
	}
	f.cacheMu.Unlock()

	if !f.IsConnected() {
		// Will be replayed once the connection is up.
		return nil
	}
	return f.sendSubscribe(conid)
}

// Unsubscribe cancels streaming for a contract and drops its cached quote.
func (f *QuoteFeed) Unsubscribe(conid int64) error {
	f.cacheMu.Lock()
	delete(f.subs, conid)
	delete(f.quotes, conid)
	f.cacheMu.Unlock()

	if !f.IsConnected() {
		return nil
	}

	msg := fmt.Sprintf("smu+%d+{}", conid)
	if err := f.write(msg); err != nil {
		return fmt.Errorf("failed to send unsubscribe for conid %d: %w", conid, err)
	}
	f.log.Debug().Int64("conid", conid).Msg("Unsubscribed from market data")
	return nil
}

// BestPrice returns the best available price for a contract using the
// last/close/bid preference order. Returns false while no usable field has
// arrived yet.
func (f *QuoteFeed) BestPrice(conid int64) (float64, bool) {
	f.cacheMu.RLock()
	q, ok := f.quotes[conid]
	f.cacheMu.RUnlock()
	if !ok {
		return 0, false
	}
	return q.BestPrice()
}

// IsConnected returns current connection status.
func (f *QuoteFeed) IsConnected() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.connected
}

func (f *QuoteFeed) connect() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.log.Info().Str("url", f.url).Msg("Connecting to gateway websocket")

	dialCtx, dialCancel := context.WithTimeout(context.Background(), dialTimeout)
	defer dialCancel()

	conn, _, err := websocket.Dial(dialCtx, f.url, &websocket.DialOptions{
		HTTPClient: f.httpClient,
	})
	if err != nil {
		return fmt.Errorf("failed to dial websocket: %w", err)
	}

	connCtx, connCancel := context.WithCancel(context.Background())
	f.conn = conn
	f.connCtx = connCtx
	f.cancelFunc = connCancel
	f.connected = true

	f.log.Info().Msg("Connected to gateway websocket")
	return nil
}

func (f *QuoteFeed) disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.conn == nil {
		return nil
	}

	if f.cancelFunc != nil {
		f.cancelFunc()
		f.cancelFunc = nil
	}

	err := f.conn.Close(websocket.StatusNormalClosure, "")
	f.conn = nil
	f.connCtx = nil
	f.connected = false

	if err != nil {
		return fmt.Errorf("error closing websocket: %w", err)
	}
	return nil
}

// resubscribeAll replays the subscription set after a (re)connect.
func (f *QuoteFeed) resubscribeAll() {
	f.cacheMu.RLock()
	conids := make([]int64, 0, len(f.subs))
	for conid := range f.subs {
		conids = append(conids, conid)
	}
	f.cacheMu.RUnlock()

	for _, conid := range conids {
		if err := f.sendSubscribe(conid); err != nil {
			f.log.Error().Err(err).Int64("conid", conid).Msg("Failed to resubscribe")
		}
	}
}

func (f *QuoteFeed) sendSubscribe(conid int64) error {
	fields := `["` + strings.Join(quoteFields, `","`) + `"]`
	msg := fmt.Sprintf(`smd+%d+{"fields":%s}`, conid, fields)
	if err := f.write(msg); err != nil {
		return fmt.Errorf("failed to send subscribe for conid %d: %w", conid, err)
	}
	f.log.Debug().Int64("conid", conid).Msg("Subscribed to market data")
	return nil
}

func (f *QuoteFeed) write(msg string) error {
	f.mu.RLock()
	conn := f.conn
	ctx := f.connCtx
	f.mu.RUnlock()

	if conn == nil {
		return fmt.Errorf("websocket not connected")
	}

	writeCtx, cancel := context.WithTimeout(ctx, writeWait)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, []byte(msg))
}

func (f *QuoteFeed) readLoop(ctx context.Context) {
	defer func() {
		f.log.Info().Msg("Read loop stopped")
		f.mu.RLock()
		stopped := f.stopped
		f.mu.RUnlock()
		if !stopped {
			go f.reconnectLoop()
		}
	}()

	for {
		select {
		case <-f.stopChan:
			return
		case <-ctx.Done():
			return
		default:
		}

		f.mu.RLock()
		conn := f.conn
		f.mu.RUnlock()
		if conn == nil {
			return
		}

		msgType, message, err := conn.Read(ctx)
		if err != nil {
			closeStatus := websocket.CloseStatus(err)
			if closeStatus == websocket.StatusNormalClosure || closeStatus == websocket.StatusGoingAway {
				f.log.Info().Int("status", int(closeStatus)).Msg("Websocket closed normally")
			} else if ctx.Err() != nil {
				f.log.Debug().Msg("Read cancelled by context")
			} else {
				f.log.Error().Err(err).Msg("Unexpected websocket read error")
			}
			return
		}

		if msgType != websocket.MessageText {
			continue
		}

		if err := f.handleMessage(message); err != nil {
			f.log.Debug().Err(err).Str("message", truncate(string(message), 120)).Msg("Ignoring unparseable message")
		}
	}
}

// handleMessage merges one streamed market data message into the cache.
// Messages carry a topic like "smd+265598" plus whatever fields changed.
func (f *QuoteFeed) handleMessage(message []byte) error {
	var row map[string]json.RawMessage
	if err := json.Unmarshal(message, &row); err != nil {
		return fmt.Errorf("failed to parse message: %w", err)
	}

	var topic string
	if err := json.Unmarshal(row["topic"], &topic); err != nil {
		return fmt.Errorf("missing topic")
	}
	if !strings.HasPrefix(topic, "smd+") {
		return nil
	}

	conid, err := strconv.ParseInt(strings.TrimPrefix(topic, "smd+"), 10, 64)
	if err != nil {
		return fmt.Errorf("bad conid in topic %q", topic)
	}

	f.cacheMu.Lock()
	defer f.cacheMu.Unlock()

	q, ok := f.quotes[conid]
	if !ok {
		q = emptyQuote()
	}
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
	q.Updated = time.Now()
	f.quotes[conid] = q
	return nil
}

func (f *QuoteFeed) reconnectLoop() {
	f.mu.Lock()
	if f.reconnecting || f.stopped {
		f.mu.Unlock()
		return
	}
	f.reconnecting = true
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.reconnecting = false
		f.mu.Unlock()
	}()

	attempt := 0
	for {
		select {
		case <-f.stopChan:
			return
		default:
		}

		f.mu.RLock()
		stopped := f.stopped
		f.mu.RUnlock()
		if stopped {
			return
		}

		attempt++
		delay := f.backoff(attempt)

		if attempt <= maxReconnectAttempts {
			f.log.Info().Int("attempt", attempt).Dur("delay", delay).Msg("Attempting websocket reconnect")
		} else {
			f.log.Warn().Int("attempt", attempt).Dur("delay", delay).Msg("Reconnect attempt (exceeded max attempts, will keep retrying)")
		}

		select {
		case <-time.After(delay):
		case <-f.stopChan:
			return
		}

		if err := f.connect(); err != nil {
			f.log.Error().Err(err).Int("attempt", attempt).Msg("Reconnect failed")
			continue
		}

		f.log.Info().Int("attempt", attempt).Msg("Reconnected to gateway websocket")
		f.resubscribeAll()

		f.mu.RLock()
		ctx := f.connCtx
		f.mu.RUnlock()
		go f.readLoop(ctx)
		return
	}
}

func (f *QuoteFeed) backoff(attempt int) time.Duration {
	delay := float64(baseReconnectDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(maxReconnectDelay) {
		delay = float64(maxReconnectDelay)
	}
	return time.Duration(delay)
}
