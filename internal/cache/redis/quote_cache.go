package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

// quoteTTL bounds how long a mirrored quote survives without a refresh, so a
// dead venue's last quote disappears from external monitors on its own.
const quoteTTL = 30 * time.Second

// QuoteCache implements domain.QuoteCache. Each quote lives in a hash at
// "quote:{venue}:{symbol}"; a set at "quotes:{symbol}" indexes which venues
// currently have a mirrored quote for the symbol.
type QuoteCache struct {
	rdb *redis.Client
}

// NewQuoteCache creates a QuoteCache backed by the given Client.
func NewQuoteCache(c *Client) *QuoteCache {
	return &QuoteCache{rdb: c.Underlying()}
}

func quoteKey(venue, symbol string) string {
	return "quote:" + venue + ":" + symbol
}

func venueIndexKey(symbol string) string {
	return "quotes:" + symbol
}

// SetQuote mirrors one normalized quote. The hash write, the venue index, and
// both TTLs go out in a single pipeline.
func (qc *QuoteCache) SetQuote(ctx context.Context, q domain.Quote) error {
	key := quoteKey(q.Venue, q.Symbol)
	fields := map[string]interface{}{
		"bid_price": strconv.FormatFloat(q.BidPrice, 'f', -1, 64),
		"bid_size":  strconv.FormatFloat(q.BidSize, 'f', -1, 64),
		"ask_price": strconv.FormatFloat(q.AskPrice, 'f', -1, 64),
		"ask_size":  strconv.FormatFloat(q.AskSize, 'f', -1, 64),
		"ts":        strconv.FormatInt(q.ObservedAt.UnixNano(), 10),
	}

	pipe := qc.rdb.Pipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, quoteTTL)
	pipe.SAdd(ctx, venueIndexKey(q.Symbol), q.Venue)
	pipe.Expire(ctx, venueIndexKey(q.Symbol), quoteTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set quote %s/%s: %w", q.Venue, q.Symbol, err)
	}
	return nil
}

// GetQuote retrieves the mirrored quote for one (venue, symbol). It returns
// domain.ErrNotFound when no quote is mirrored.
func (qc *QuoteCache) GetQuote(ctx context.Context, venue, symbol string) (domain.Quote, error) {
	vals, err := qc.rdb.HGetAll(ctx, quoteKey(venue, symbol)).Result()
	if err != nil {
		return domain.Quote{}, fmt.Errorf("redis: get quote %s/%s: %w", venue, symbol, err)
	}
	if len(vals) == 0 {
		return domain.Quote{}, domain.ErrNotFound
	}
	return parseQuote(venue, symbol, vals)
}

// GetVenueQuotes retrieves every venue's mirrored quote for a symbol using the
// venue index and a pipeline. Venues whose hash expired between the index read
// and the pipeline are omitted.
func (qc *QuoteCache) GetVenueQuotes(ctx context.Context, symbol string) ([]domain.Quote, error) {
	venues, err := qc.rdb.SMembers(ctx, venueIndexKey(symbol)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: venue index %s: %w", symbol, err)
	}
	if len(venues) == 0 {
		return nil, nil
	}

	pipe := qc.rdb.Pipeline()
	cmds := make(map[string]*redis.MapStringStringCmd, len(venues))
	for _, v := range venues {
		cmds[v] = pipe.HGetAll(ctx, quoteKey(v, symbol))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: venue quotes pipeline %s: %w", symbol, err)
	}

	quotes := make([]domain.Quote, 0, len(venues))
	for v, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil || len(vals) == 0 {
			continue
		}
		q, err := parseQuote(v, symbol, vals)
		if err != nil {
			continue
		}
		quotes = append(quotes, q)
	}
	return quotes, nil
}

func parseQuote(venue, symbol string, vals map[string]string) (domain.Quote, error) {
	f := func(field string) (float64, error) {
		s, ok := vals[field]
		if !ok {
			return 0, domain.ErrNotFound
		}
		return strconv.ParseFloat(s, 64)
	}

	q := domain.Quote{Venue: venue, Symbol: symbol}
	var err error
	if q.BidPrice, err = f("bid_price"); err != nil {
		return domain.Quote{}, fmt.Errorf("redis: parse bid_price %s/%s: %w", venue, symbol, err)
	}
	if q.BidSize, err = f("bid_size"); err != nil {
		return domain.Quote{}, fmt.Errorf("redis: parse bid_size %s/%s: %w", venue, symbol, err)
	}
	if q.AskPrice, err = f("ask_price"); err != nil {
		return domain.Quote{}, fmt.Errorf("redis: parse ask_price %s/%s: %w", venue, symbol, err)
	}
	if q.AskSize, err = f("ask_size"); err != nil {
		return domain.Quote{}, fmt.Errorf("redis: parse ask_size %s/%s: %w", venue, symbol, err)
	}

	tsStr, ok := vals["ts"]
	if !ok {
		return domain.Quote{}, domain.ErrNotFound
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("redis: parse ts %s/%s: %w", venue, symbol, err)
	}
	q.ObservedAt = time.Unix(0, tsNano)
	return q, nil
}

// Compile-time interface check.
var _ domain.QuoteCache = (*QuoteCache)(nil)
