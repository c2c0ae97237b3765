package domain

import "time"

// TxState is the execution transaction state. Cross-venue two-leg atomicity is
// unattainable, so the transaction is a saga: LegsSubmitted can resolve to
// BothFilled, BothFailed, or OneFilled, and OneFilled always passes through
// Unwinding before reaching a terminal state.
type TxState string

const (
	TxAuthorized    TxState = "authorized"
	TxLegsSubmitted TxState = "legs_submitted"
	TxBothFilled    TxState = "both_filled"
	TxOneFilled     TxState = "one_filled"
	TxBothFailed    TxState = "both_failed"
	TxUnwinding     TxState = "unwinding"
	TxUnwound       TxState = "unwound"
	TxUnwindFailed  TxState = "unwind_failed"
)

// Terminal reports whether the transaction has reached its final state.
func (s TxState) Terminal() bool {
	switch s {
	case TxBothFilled, TxBothFailed, TxUnwound, TxUnwindFailed:
		return true
	default:
		return false
	}
}

// ExecutionTransaction owns the pair of legs for one authorized opportunity,
// from authorization until both legs are terminal and any unwind completed.
type ExecutionTransaction struct {
	OpportunityID string
	Symbol        string
	BuyLeg        Leg
	SellLeg       Leg
	UnwindLeg     *Leg
	State         TxState
	RealizedPnL   float64
	StartedAt     time.Time
	CompletedAt   time.Time
}

// Position is live inventory at one venue, mutated only by confirmed fills.
type Position struct {
	Symbol      string
	Venue       string
	Quantity    float64
	AverageCost float64
}
