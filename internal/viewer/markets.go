package viewer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/DziriM/playground-stream/internal/platform/retry"
)

// Proxy routes served by the server under /api/proxy.
const (
	ProxyBTC    = "btc"
	ProxyEURUSD = "eurusd"
	ProxyFrance = "france"

	proxyPathPrefix = "/api/proxy/"
	defaultCountry  = "France"
)

// DefaultMarketIntervals are the refresh periods used for proxies missing
// from the map given to PollMarkets.
var DefaultMarketIntervals = map[string]time.Duration{
	ProxyBTC:    30 * time.Second,
	ProxyEURUSD: time.Minute,
	ProxyFrance: 24 * time.Hour,
}

var errMissingField = errors.New("missing field")

// Country is the subset of a country record the viewer shows.
type Country struct {
	Name       string
	Population *int64
	Area       *float64
	Capital    string
	// Currency is "CODE (Name)" for the first currency listed.
	Currency string
}

// MarketData is a copy of the latest proxied values. Nil pointers mean no
// successful fetch yet.
type MarketData struct {
	BTCUSD       *float64
	BTCUpdatedAt time.Time
	EURUSD       *float64
	EURUSDDate   string
	France       Country
}

// Markets holds the latest values from the proxy routes. A failed refresh
// keeps the previous value.
type Markets struct {
	mu   sync.Mutex
	data MarketData
}

func NewMarkets() *Markets {
	return &Markets{data: MarketData{France: Country{Name: defaultCountry}}}
}

func (m *Markets) Snapshot() MarketData {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data
}

func (m *Markets) apply(name string, body []byte, now time.Time) error {
	switch name {
	case ProxyBTC:
		price, err := decodeBTC(body)
		if err != nil {
			return err
		}
		m.mu.Lock()
		m.data.BTCUSD = &price
		m.data.BTCUpdatedAt = now
		m.mu.Unlock()
	case ProxyEURUSD:
		rate, date, err := decodeEURUSD(body)
		if err != nil {
			return err
		}
		m.mu.Lock()
		m.data.EURUSD = &rate
		m.data.EURUSDDate = date
		m.mu.Unlock()
	case ProxyFrance:
		country, err := decodeCountry(body)
		if err != nil {
			return err
		}
		m.mu.Lock()
		m.data.France = country
		m.mu.Unlock()
	default:
		return fmt.Errorf("unknown proxy %q", name)
	}
	return nil
}

// FetchProxy returns the raw body served by /api/proxy/{name}, retried like
// the stats snapshot.
func (c *Connection) FetchProxy(ctx context.Context, name string) ([]byte, error) {
	body, err := retry.Do(ctx, c.clock, c.fetchPolicy(ctx, name), classifySnapshotError,
		func(ctx context.Context) ([]byte, error) {
			return c.get(ctx, proxyPathPrefix+name)
		})
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", name, err)
	}
	return body, nil
}

// PollMarkets refreshes every proxy once right away and then on its own
// period until ctx is done. intervals overrides DefaultMarketIntervals.
func (c *Connection) PollMarkets(ctx context.Context, markets *Markets, intervals map[string]time.Duration) {
	periods := maps.Clone(DefaultMarketIntervals)
	for name, d := range intervals {
		if d > 0 {
			periods[name] = d
		}
	}

	var wg sync.WaitGroup
	for _, name := range slices.Sorted(maps.Keys(periods)) {
		wg.Add(1)
		go func(name string, every time.Duration) {
			defer wg.Done()
			c.pollMarket(ctx, markets, name, every)
		}(name, periods[name])
	}
	wg.Wait()
}

func (c *Connection) pollMarket(ctx context.Context, markets *Markets, name string, every time.Duration) {
	ticker := c.clock.NewTicker(every)
	defer ticker.Stop()

	for {
		c.refreshMarket(ctx, markets, name)
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
		}
	}
}

func (c *Connection) refreshMarket(ctx context.Context, markets *Markets, name string) {
	body, err := c.FetchProxy(ctx, name)
	if err != nil {
		if ctx.Err() == nil {
			slog.WarnContext(ctx, "Market refresh failed", "proxy", name, "error", err)
		}
		return
	}
	if err := markets.apply(name, body, c.clock.Now()); err != nil {
		slog.WarnContext(ctx, "Dropping malformed market data", "proxy", name, "error", err)
	}
}

func decodeBTC(body []byte) (float64, error) {
	var payload struct {
		Bitcoin struct {
			USD *float64 `json:"usd"`
		} `json:"bitcoin"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return 0, fmt.Errorf("decode btc: %w", err)
	}
	if payload.Bitcoin.USD == nil {
		return 0, fmt.Errorf("decode btc: %w: bitcoin.usd", errMissingField)
	}
	return *payload.Bitcoin.USD, nil
}

func decodeEURUSD(body []byte) (float64, string, error) {
	var payload struct {
		Date  string             `json:"date"`
		Rates map[string]float64 `json:"rates"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return 0, "", fmt.Errorf("decode eurusd: %w", err)
	}
	for _, key := range []string{"USD", "usd"} {
		if rate, ok := payload.Rates[key]; ok {
			return rate, payload.Date, nil
		}
	}
	return 0, "", fmt.Errorf("decode eurusd: %w: rates.USD", errMissingField)
}

type restCountry struct {
	Name struct {
		Common   string `json:"common"`
		Official string `json:"official"`
	} `json:"name"`
	Population *int64          `json:"population"`
	Area       *float64        `json:"area"`
	Capital    json.RawMessage `json:"capital"`
	Currencies map[string]struct {
		Name string `json:"name"`
	} `json:"currencies"`
}

// decodeCountry accepts a single record or a list, using the first entry.
func decodeCountry(body []byte) (Country, error) {
	var record restCountry
	var list []restCountry
	if err := json.Unmarshal(body, &list); err == nil {
		if len(list) == 0 {
			return Country{}, fmt.Errorf("decode country: %w: empty list", errMissingField)
		}
		record = list[0]
	} else if err := json.Unmarshal(body, &record); err != nil {
		return Country{}, fmt.Errorf("decode country: %w", err)
	}

	c := Country{
		Name:       record.Name.Common,
		Population: record.Population,
		Area:       record.Area,
		Capital:    firstCapital(record.Capital),
	}
	if c.Name == "" {
		c.Name = record.Name.Official
	}
	if c.Name == "" {
		c.Name = defaultCountry
	}

	if len(record.Currencies) > 0 {
		code := slices.Sorted(maps.Keys(record.Currencies))[0]
		c.Currency = code
		if label := record.Currencies[code].Name; label != "" {
			c.Currency += " (" + label + ")"
		}
	}
	return c, nil
}

func firstCapital(raw json.RawMessage) string {
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		if len(list) > 0 {
			return list[0]
		}
		return ""
	}
	s, _ := scalarString(raw)
	return s
}
