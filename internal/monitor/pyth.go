package monitor

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrPriceUnavailable is returned when no usable quote exists for a
// feed: never seen, or older than the staleness threshold.
var ErrPriceUnavailable = errors.New("price unavailable")

// PriceQuote is one Pyth observation, already scaled by 10^expo to a
// human USD value.
type PriceQuote struct {
	FeedID      string
	Price       float64
	Conf        float64
	Expo        int32
	PublishTime int64
}

// priceFeed caches the latest quote per feed and streams updates from
// Hermes over SSE or websocket. Staleness is enforced at read time so a
// dead stream surfaces as unusable prices, not frozen ones.
type priceFeed struct {
	staleness time.Duration

	mu     sync.RWMutex
	latest map[string]PriceQuote
}

func newPriceFeed(staleness time.Duration) *priceFeed {
	return &priceFeed{
		staleness: staleness,
		latest:    make(map[string]PriceQuote),
	}
}

// GetLatestPrice returns the cached quote for a feed, rejecting anything
// older than the staleness threshold.
func (f *priceFeed) GetLatestPrice(feedID string) (PriceQuote, error) {
	f.mu.RLock()
	quote, ok := f.latest[strings.ToLower(feedID)]
	f.mu.RUnlock()

	if !ok {
		return PriceQuote{}, fmt.Errorf("%w: no quote for feed %s", ErrPriceUnavailable, feedID)
	}
	age := time.Since(time.Unix(quote.PublishTime, 0))
	if age > f.staleness {
		return PriceQuote{}, fmt.Errorf("%w: feed %s is %s old (max %s)", ErrPriceUnavailable, feedID, age.Truncate(time.Millisecond), f.staleness)
	}
	return quote, nil
}

func (f *priceFeed) put(quote PriceQuote) {
	f.mu.Lock()
	f.latest[strings.ToLower(quote.FeedID)] = quote
	f.mu.Unlock()
}

type hermesEnvelope struct {
	Parsed []hermesPriceUpdate `json:"parsed"`
}

type hermesPriceUpdate struct {
	ID    string `json:"id"`
	Price struct {
		Price       string `json:"price"`
		Conf        string `json:"conf"`
		Expo        int32  `json:"expo"`
		PublishTime int64  `json:"publish_time"`
	} `json:"price"`
}

type hermesWSMessage struct {
	Type      string            `json:"type"`
	PriceFeed hermesPriceUpdate `json:"price_feed"`
}

// runSSEStream consumes the Hermes server-sent-events endpoint and feeds
// the cache, reconnecting after reconnectDelay on any failure.
func (s *Service) runSSEStream(ctx context.Context, feedIDs []string, reconnectDelay time.Duration) {
	client := &http.Client{}
	for {
		if ctx.Err() != nil {
			return
		}
		err := s.consumeSSEStream(ctx, client, feedIDs)
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Warn("pyth sse stream disconnected", "err", err, "retry_in", reconnectDelay.String())
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

func (s *Service) consumeSSEStream(ctx context.Context, client *http.Client, feedIDs []string) error {
	streamURL, err := buildHermesStreamURL(s.cfg.HermesURL, feedIDs)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		return fmt.Errorf("build hermes request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("open hermes stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("open hermes stream: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 1024), 16*1024*1024)

	var eventData strings.Builder
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			if eventData.Len() > 0 {
				s.handleHermesEvent(ctx, eventData.String())
				eventData.Reset()
			}
			continue
		}
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}
		if eventData.Len() > 0 {
			eventData.WriteByte('\n')
		}
		eventData.WriteString(payload)
	}
	if eventData.Len() > 0 {
		s.handleHermesEvent(ctx, eventData.String())
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read hermes stream: %w", err)
	}
	return io.EOF
}

func (s *Service) handleHermesEvent(ctx context.Context, rawEvent string) {
	payload := strings.TrimSpace(rawEvent)
	if payload == "" || payload == "[DONE]" {
		return
	}

	var event hermesEnvelope
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		s.logger.Warn("failed to decode hermes event", "err", err)
		return
	}
	for _, update := range event.Parsed {
		s.recordPriceUpdate(ctx, update)
	}
}

// runWSStream is the websocket variant of the Hermes consumer; some
// deployments sit behind proxies that buffer SSE, so both transports
// stay supported.
func (s *Service) runWSStream(ctx context.Context, feedIDs []string, reconnectDelay time.Duration) {
	for {
		if ctx.Err() != nil {
			return
		}
		err := s.consumeWSStream(ctx, feedIDs)
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Warn("pyth ws stream disconnected", "err", err, "retry_in", reconnectDelay.String())
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

func (s *Service) consumeWSStream(ctx context.Context, feedIDs []string) error {
	dialer := websocket.Dialer{
		Proxy:             http.ProxyFromEnvironment,
		HandshakeTimeout:  10 * time.Second,
		EnableCompression: true,
	}
	conn, _, err := dialer.DialContext(ctx, s.cfg.HermesWSURL, nil)
	if err != nil {
		return fmt.Errorf("dial hermes ws: %w", err)
	}
	defer conn.Close()
	conn.SetReadLimit(8 * 1024 * 1024)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	subscribe := map[string]any{
		"type":    "subscribe",
		"ids":     feedIDs,
		"verbose": false,
		"binary":  false,
	}
	if err := conn.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
		return err
	}
	if err := conn.WriteJSON(subscribe); err != nil {
		return fmt.Errorf("subscribe hermes ws: %w", err)
	}

	for {
		var message hermesWSMessage
		if err := conn.ReadJSON(&message); err != nil {
			return fmt.Errorf("read hermes ws: %w", err)
		}
		if message.Type != "price_update" {
			continue
		}
		s.recordPriceUpdate(ctx, message.PriceFeed)
	}
}

func (s *Service) recordPriceUpdate(ctx context.Context, update hermesPriceUpdate) {
	feedID := strings.ToLower(strings.TrimSpace(update.ID))
	symbol, tracked := s.symbolByFeed[feedID]
	if !tracked {
		return
	}

	price, err := scaleHermesValue(update.Price.Price, update.Price.Expo)
	if err != nil || price <= 0 {
		return
	}
	conf, err := scaleHermesValue(update.Price.Conf, update.Price.Expo)
	if err != nil {
		conf = 0
	}

	now := time.Now().Unix()
	publishTime := update.Price.PublishTime
	if publishTime <= 0 {
		publishTime = now
	}

	s.prices.put(PriceQuote{
		FeedID:      feedID,
		Price:       price,
		Conf:        conf,
		Expo:        update.Price.Expo,
		PublishTime: publishTime,
	})

	if err := s.store.InsertPriceTick(ctx, PriceTickInput{
		FeedID:      feedID,
		Symbol:      symbol,
		Price:       price,
		Conf:        conf,
		Expo:        update.Price.Expo,
		PublishTime: publishTime,
		ReceivedAt:  now,
	}); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("failed to store price tick", "feed", feedID, "err", err)
	}
}

func buildHermesStreamURL(endpoint string, feedIDs []string) (string, error) {
	parsedURL, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil {
		return "", fmt.Errorf("parse hermes endpoint: %w", err)
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return "", fmt.Errorf("invalid hermes endpoint: %q", endpoint)
	}

	query := parsedURL.Query()
	query.Del("ids[]")
	for _, feedID := range feedIDs {
		query.Add("ids[]", feedID)
	}
	if strings.TrimSpace(query.Get("parsed")) == "" {
		query.Set("parsed", "true")
	}
	parsedURL.RawQuery = query.Encode()
	return parsedURL.String(), nil
}

// scaleHermesValue applies price * 10^expo to Hermes' integer-string
// encoding.
func scaleHermesValue(raw string, expo int32) (float64, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, fmt.Errorf("empty value")
	}
	value, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return 0, err
	}
	if expo < 0 {
		return value / math.Pow10(int(-expo)), nil
	}
	if expo > 0 {
		return value * math.Pow10(int(expo)), nil
	}
	return value, nil
}
