package domain

import "time"

// ReservationState tracks the lifecycle of a capital reservation.
type ReservationState string

const (
	ReservationHeld     ReservationState = "held"
	ReservationReleased ReservationState = "released"
)

// Reservation is a commitment of capital against the configured limits, held
// for the lifetime of one execution attempt. Exactly one Reservation exists
// per executed opportunity; the sum of CapitalCommitted across held
// reservations for a symbol never exceeds the per-symbol limit.
type Reservation struct {
	OpportunityID    string
	Symbol           string
	Quantity         float64
	CapitalCommitted float64
	State            ReservationState
	CreatedAt        time.Time
}

// DenialReason classifies why an authorization was refused.
type DenialReason string

const (
	DenialExpired             DenialReason = "expired"
	DenialLimitExceeded       DenialReason = "limit_exceeded"
	DenialInsufficientCapital DenialReason = "insufficient_capital"
)

// Denial is the non-error refusal returned by Ledger.Authorize. The caller
// drops the opportunity; a denial is never propagated as an error.
type Denial struct {
	OpportunityID string
	Reason        DenialReason
	Detail        string
}
