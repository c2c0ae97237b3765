package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

// Leg roles within one execution row.
const (
	legRoleBuy    = "buy"
	legRoleSell   = "sell"
	legRoleUnwind = "unwind"
)

// OutcomeStore implements domain.OutcomeStore using PostgreSQL. The
// transaction header lives in executions; its two or three legs live in
// execution_legs keyed by (opportunity_id, role).
type OutcomeStore struct {
	pool *pgxpool.Pool
}

// NewOutcomeStore creates a store backed by the given connection pool.
func NewOutcomeStore(pool *pgxpool.Pool) *OutcomeStore {
	return &OutcomeStore{pool: pool}
}

// Record persists one terminal execution transaction and its legs atomically.
func (s *OutcomeStore) Record(ctx context.Context, tx domain.ExecutionTransaction) error {
	dbtx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin record %s: %w", tx.OpportunityID, err)
	}
	defer dbtx.Rollback(ctx)

	const insertExec = `
		INSERT INTO executions (
			opportunity_id, symbol, state, realized_pnl, started_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := dbtx.Exec(ctx, insertExec,
		tx.OpportunityID, tx.Symbol, string(tx.State), tx.RealizedPnL,
		tx.StartedAt, tx.CompletedAt,
	); err != nil {
		return fmt.Errorf("postgres: insert execution %s: %w", tx.OpportunityID, err)
	}

	if err := insertLeg(ctx, dbtx, tx.OpportunityID, legRoleBuy, tx.BuyLeg); err != nil {
		return err
	}
	if err := insertLeg(ctx, dbtx, tx.OpportunityID, legRoleSell, tx.SellLeg); err != nil {
		return err
	}
	if tx.UnwindLeg != nil {
		if err := insertLeg(ctx, dbtx, tx.OpportunityID, legRoleUnwind, *tx.UnwindLeg); err != nil {
			return err
		}
	}

	if err := dbtx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit record %s: %w", tx.OpportunityID, err)
	}
	return nil
}

func insertLeg(ctx context.Context, dbtx pgx.Tx, oppID, role string, leg domain.Leg) error {
	const query = `
		INSERT INTO execution_legs (
			opportunity_id, role, order_id, venue, symbol, side,
			quantity, limit_price, state, filled_qty, avg_fill_price,
			submitted_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	if _, err := dbtx.Exec(ctx, query,
		oppID, role, leg.OrderID, leg.Venue, leg.Symbol, string(leg.Side),
		leg.Quantity, leg.LimitPrice, string(leg.State), leg.FilledQty, leg.AvgFillPrice,
		timePtr(leg.SubmittedAt), timePtr(leg.CompletedAt),
	); err != nil {
		return fmt.Errorf("postgres: insert %s leg %s: %w", role, oppID, err)
	}
	return nil
}

// GetByOpportunity loads one execution with its legs. It returns
// domain.ErrNotFound when no execution was recorded for the opportunity.
func (s *OutcomeStore) GetByOpportunity(ctx context.Context, opportunityID string) (domain.ExecutionTransaction, error) {
	const query = `
		SELECT opportunity_id, symbol, state, realized_pnl, started_at, completed_at
		FROM executions WHERE opportunity_id = $1`

	var tx domain.ExecutionTransaction
	var state string
	err := s.pool.QueryRow(ctx, query, opportunityID).Scan(
		&tx.OpportunityID, &tx.Symbol, &state, &tx.RealizedPnL,
		&tx.StartedAt, &tx.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ExecutionTransaction{}, domain.ErrNotFound
		}
		return domain.ExecutionTransaction{}, fmt.Errorf("postgres: get execution %s: %w", opportunityID, err)
	}
	tx.State = domain.TxState(state)

	byID := map[string]*domain.ExecutionTransaction{opportunityID: &tx}
	if err := s.loadLegs(ctx, byID, []string{opportunityID}); err != nil {
		return domain.ExecutionTransaction{}, err
	}
	return tx, nil
}

// ListRecent returns the most recently completed executions with their legs.
func (s *OutcomeStore) ListRecent(ctx context.Context, limit int) ([]domain.ExecutionTransaction, error) {
	query := `
		SELECT opportunity_id, symbol, state, realized_pnl, started_at, completed_at
		FROM executions ORDER BY completed_at DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}
	return s.queryExecutions(ctx, query, args...)
}

// ListCompletedBefore returns executions completed before cutoff, oldest
// first, bounded by limit. The archiver drains aged rows through it.
func (s *OutcomeStore) ListCompletedBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.ExecutionTransaction, error) {
	query := `
		SELECT opportunity_id, symbol, state, realized_pnl, started_at, completed_at
		FROM executions WHERE completed_at < $1 ORDER BY completed_at ASC`
	args := []any{cutoff}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}
	return s.queryExecutions(ctx, query, args...)
}

// SumRealizedPnL totals realized profit across executions completed at or
// after since.
func (s *OutcomeStore) SumRealizedPnL(ctx context.Context, since time.Time) (float64, error) {
	const query = `
		SELECT COALESCE(SUM(realized_pnl), 0)
		FROM executions WHERE completed_at >= $1`

	var sum float64
	if err := s.pool.QueryRow(ctx, query, since).Scan(&sum); err != nil {
		return 0, fmt.Errorf("postgres: sum realized pnl: %w", err)
	}
	return sum, nil
}

func (s *OutcomeStore) queryExecutions(ctx context.Context, query string, args ...any) ([]domain.ExecutionTransaction, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query executions: %w", err)
	}
	defer rows.Close()

	var txs []domain.ExecutionTransaction
	var ids []string
	for rows.Next() {
		var tx domain.ExecutionTransaction
		var state string
		if err := rows.Scan(
			&tx.OpportunityID, &tx.Symbol, &state, &tx.RealizedPnL,
			&tx.StartedAt, &tx.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan execution: %w", err)
		}
		tx.State = domain.TxState(state)
		txs = append(txs, tx)
		ids = append(ids, tx.OpportunityID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: query executions rows: %w", err)
	}
	if len(txs) == 0 {
		return nil, nil
	}

	byID := make(map[string]*domain.ExecutionTransaction, len(txs))
	for i := range txs {
		byID[txs[i].OpportunityID] = &txs[i]
	}
	if err := s.loadLegs(ctx, byID, ids); err != nil {
		return nil, err
	}
	return txs, nil
}

// loadLegs attaches legs to their transactions in one query.
func (s *OutcomeStore) loadLegs(ctx context.Context, byID map[string]*domain.ExecutionTransaction, ids []string) error {
	const query = `
		SELECT opportunity_id, role, order_id, venue, symbol, side,
			quantity, limit_price, state, filled_qty, avg_fill_price,
			submitted_at, completed_at
		FROM execution_legs WHERE opportunity_id = ANY($1)`

	rows, err := s.pool.Query(ctx, query, ids)
	if err != nil {
		return fmt.Errorf("postgres: query execution legs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var oppID, role, side, state string
		var leg domain.Leg
		var submittedAt, completedAt *time.Time
		if err := rows.Scan(
			&oppID, &role, &leg.OrderID, &leg.Venue, &leg.Symbol, &side,
			&leg.Quantity, &leg.LimitPrice, &state, &leg.FilledQty, &leg.AvgFillPrice,
			&submittedAt, &completedAt,
		); err != nil {
			return fmt.Errorf("postgres: scan execution leg: %w", err)
		}
		leg.Side = domain.OrderSide(side)
		leg.State = domain.LegState(state)
		if submittedAt != nil {
			leg.SubmittedAt = *submittedAt
		}
		if completedAt != nil {
			leg.CompletedAt = *completedAt
		}

		tx, ok := byID[oppID]
		if !ok {
			continue
		}
		switch role {
		case legRoleBuy:
			tx.BuyLeg = leg
		case legRoleSell:
			tx.SellLeg = leg
		case legRoleUnwind:
			l := leg
			tx.UnwindLeg = &l
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("postgres: query execution legs rows: %w", err)
	}
	return nil
}

// timePtr maps the zero time to NULL.
func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// Compile-time interface check.
var _ domain.OutcomeStore = (*OutcomeStore)(nil)
