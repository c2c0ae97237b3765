// Package stream connects to a venue's WebSocket market data endpoint and
// turns its JSON tick messages into raw ticks for the consolidated book. One
// Feed owns one connection; it reconnects with exponential backoff and
// restores its subscription after every reconnect.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// handshakeTimeout bounds the initial dial.
	handshakeTimeout = 15 * time.Second

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff.
	maxReconnectDelay = 60 * time.Second
)

// subscribeCommand is the subscription request sent after connecting.
type subscribeCommand struct {
	Type    string   `json:"type"`
	Symbols []string `json:"symbols"`
}

// tickMessage is the venue's quote message.
type tickMessage struct {
	Type      string  `json:"type"`
	Symbol    string  `json:"symbol"`
	BidPrice  float64 `json:"bid_price"`
	BidSize   float64 `json:"bid_size"`
	AskPrice  float64 `json:"ask_price"`
	AskSize   float64 `json:"ask_size"`
	Timestamp int64   `json:"ts"` // microseconds since epoch
}

// Feed streams quotes for one venue over WebSocket, implementing domain.Feed.
type Feed struct {
	venue  string
	wsURL  string
	logger *slog.Logger
}

// NewFeed creates a feed for the given venue and WebSocket URL.
func NewFeed(venue, wsURL string, logger *slog.Logger) *Feed {
	return &Feed{
		venue:  venue,
		wsURL:  wsURL,
		logger: logger.With(slog.String("component", "stream_feed"), slog.String("venue", venue)),
	}
}

// Venue returns the venue identifier.
func (f *Feed) Venue() string { return f.venue }

// Subscribe starts the connection manager goroutine and returns the tick
// channel. The channel closes when ctx is cancelled; disconnects in between
// are handled by reconnecting, not by closing the channel.
func (f *Feed) Subscribe(ctx context.Context, symbols []string) (<-chan domain.RawTick, error) {
	if len(symbols) == 0 {
		return nil, fmt.Errorf("stream: no symbols to subscribe")
	}
	out := make(chan domain.RawTick, 256)
	go f.run(ctx, symbols, out)
	return out, nil
}

// run dials, subscribes, and pumps ticks until ctx is cancelled, reconnecting
// with exponential backoff after every connection failure.
func (f *Feed) run(ctx context.Context, symbols []string, out chan<- domain.RawTick) {
	defer close(out)

	delay := reconnectDelay
	for {
		if ctx.Err() != nil {
			return
		}
		err := f.runConnection(ctx, symbols, out)
		if ctx.Err() != nil {
			return
		}
		f.logger.Warn("ws disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("delay", delay),
		)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// runConnection owns one connection: dial, subscribe, read until error.
func (f *Feed) runConnection(ctx context.Context, symbols []string, out chan<- domain.RawTick) error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return fmt.Errorf("stream: connect %s: %w", f.venue, err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	cmd := subscribeCommand{Type: "subscribe", Symbols: symbols}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(cmd); err != nil {
		return fmt.Errorf("stream: subscribe %s: %w", f.venue, err)
	}
	f.logger.Info("ws subscribed", slog.Int("symbols", len(symbols)))

	// Close the connection when ctx ends so the blocked read returns.
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-connCtx.Done()
		conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		conn.Close()
	}()
	go f.pingLoop(connCtx, conn)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("stream: read %s: %w", f.venue, domain.ErrWSDisconnect)
		}
		tick, ok := f.parseTick(raw)
		if !ok {
			continue
		}
		select {
		case out <- tick:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// pingLoop keeps the connection alive until connCtx ends or a write fails.
func (f *Feed) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// parseTick decodes one message. Non-tick and unparseable messages are
// dropped here; semantic validation happens in the normalizer.
func (f *Feed) parseTick(raw []byte) (domain.RawTick, bool) {
	var msg tickMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		f.logger.Debug("unparseable message dropped", slog.String("error", err.Error()))
		return domain.RawTick{}, false
	}
	if msg.Type != "tick" && msg.Type != "" {
		return domain.RawTick{}, false
	}
	return domain.RawTick{
		Venue:     f.venue,
		Symbol:    msg.Symbol,
		BidPrice:  msg.BidPrice,
		BidSize:   msg.BidSize,
		AskPrice:  msg.AskPrice,
		AskSize:   msg.AskSize,
		Timestamp: time.UnixMicro(msg.Timestamp),
	}, true
}

var _ domain.Feed = (*Feed)(nil)
