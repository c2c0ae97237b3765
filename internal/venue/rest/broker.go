// Package rest implements the order-entry side of a venue over its HTTP API:
// submit, poll, cancel. One Broker per venue.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

// Config holds the venue's order API parameters.
type Config struct {
	Venue   string
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Broker implements domain.Broker against a venue's REST order API.
type Broker struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

// NewBroker creates a broker for one venue.
func NewBroker(cfg Config, logger *slog.Logger) *Broker {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Broker{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		logger: logger.With(slog.String("component", "rest_broker"), slog.String("venue", cfg.Venue)),
	}
}

type submitRequest struct {
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"`
	Quantity   float64 `json:"quantity"`
	LimitPrice float64 `json:"limit_price"`
}

type submitResponse struct {
	OrderID string `json:"order_id"`
}

type statusResponse struct {
	State        string  `json:"state"`
	FilledQty    float64 `json:"filled_qty"`
	AvgFillPrice float64 `json:"avg_fill_price"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SubmitOrder places a marketable limit order. Venue rejections come back as
// a BrokerError; transport failures come back as plain errors.
func (b *Broker) SubmitOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderHandle, error) {
	body, err := json.Marshal(submitRequest{
		Symbol:     req.Symbol,
		Side:       string(req.Side),
		Quantity:   req.Quantity,
		LimitPrice: req.LimitPrice,
	})
	if err != nil {
		return domain.OrderHandle{}, fmt.Errorf("rest: marshal order: %w", err)
	}

	var resp submitResponse
	if err := b.do(ctx, http.MethodPost, "/orders", bytes.NewReader(body), &resp); err != nil {
		return domain.OrderHandle{}, err
	}
	if resp.OrderID == "" {
		return domain.OrderHandle{}, fmt.Errorf("rest: %s returned empty order id", b.cfg.Venue)
	}

	b.logger.Debug("order submitted",
		slog.String("order_id", resp.OrderID),
		slog.String("symbol", req.Symbol),
		slog.String("side", string(req.Side)),
	)
	return domain.OrderHandle{Venue: b.cfg.Venue, OrderID: resp.OrderID}, nil
}

// PollFillStatus fetches the order's current state.
func (b *Broker) PollFillStatus(ctx context.Context, h domain.OrderHandle) (domain.FillStatus, error) {
	var resp statusResponse
	if err := b.do(ctx, http.MethodGet, "/orders/"+h.OrderID, nil, &resp); err != nil {
		return domain.FillStatus{}, err
	}
	return domain.FillStatus{
		State:        domain.LegState(resp.State),
		FilledQty:    resp.FilledQty,
		AvgFillPrice: resp.AvgFillPrice,
	}, nil
}

// Cancel requests cancellation. Cancelling an already-terminal order is
// treated as success; the caller discovers the final state on its next poll.
func (b *Broker) Cancel(ctx context.Context, h domain.OrderHandle) error {
	err := b.do(ctx, http.MethodDelete, "/orders/"+h.OrderID, nil, nil)
	var berr *domain.BrokerError
	if errors.As(err, &berr) && berr.Code == "order_terminal" {
		return nil
	}
	return err
}

// do executes one API call, decoding into out when it is non-nil.
func (b *Broker) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, b.cfg.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("rest: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if b.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.cfg.APIKey)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("rest: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return b.apiError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("rest: decode %s %s: %w", method, path, err)
	}
	return nil
}

// apiError turns a non-2xx response into a BrokerError. Rate limits and
// server errors are retryable; everything else is a hard venue rejection.
func (b *Broker) apiError(resp *http.Response) error {
	var body errorResponse
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	_ = json.Unmarshal(raw, &body)

	code := body.Code
	if code == "" {
		code = fmt.Sprintf("http_%d", resp.StatusCode)
	}
	msg := body.Message
	if msg == "" {
		msg = string(raw)
	}
	return &domain.BrokerError{
		Venue:     b.cfg.Venue,
		Code:      code,
		Message:   msg,
		Retryable: resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500,
	}
}

var _ domain.Broker = (*Broker)(nil)
