package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// OpportunityStore persists detected opportunities and their fate.
type OpportunityStore interface {
	Insert(ctx context.Context, opp Opportunity) error
	MarkAuthorized(ctx context.Context, id string) error
	MarkDenied(ctx context.Context, id string, reason DenialReason) error
	ListRecent(ctx context.Context, limit int) ([]Opportunity, error)
}

// OutcomeStore durably records terminal execution transactions with enough
// detail (both leg identifiers, prices, quantities, timestamps) to reconstruct
// the financial outcome independently.
type OutcomeStore interface {
	Record(ctx context.Context, tx ExecutionTransaction) error
	GetByOpportunity(ctx context.Context, opportunityID string) (ExecutionTransaction, error)
	ListRecent(ctx context.Context, limit int) ([]ExecutionTransaction, error)
	ListCompletedBefore(ctx context.Context, cutoff time.Time, limit int) ([]ExecutionTransaction, error)
	SumRealizedPnL(ctx context.Context, since time.Time) (float64, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log of engine events.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
