// Package exec drives the two-leg execution protocol: parallel leg
// submission, fill tracking, and the compensating unwind on partial failure.
package exec

import (
	"fmt"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

// TxEvent is an input to the transaction state machine.
type TxEvent string

const (
	EvExpired       TxEvent = "expired"
	EvLegsSubmitted TxEvent = "legs_submitted"
	EvBothFilled    TxEvent = "both_filled"
	EvOneFilled     TxEvent = "one_filled"
	EvBothFailed    TxEvent = "both_failed"
	EvUnwindStart   TxEvent = "unwind_start"
	EvUnwindFilled  TxEvent = "unwind_filled"
	EvUnwindTimeout TxEvent = "unwind_timeout"
)

type transition struct {
	from domain.TxState
	ev   TxEvent
}

// legal enumerates every permitted (state, event) -> state edge. Everything
// else is a protocol violation.
var legal = map[transition]domain.TxState{
	{domain.TxAuthorized, EvExpired}:       domain.TxBothFailed,
	{domain.TxAuthorized, EvLegsSubmitted}: domain.TxLegsSubmitted,
	{domain.TxLegsSubmitted, EvBothFilled}: domain.TxBothFilled,
	{domain.TxLegsSubmitted, EvOneFilled}:  domain.TxOneFilled,
	{domain.TxLegsSubmitted, EvBothFailed}: domain.TxBothFailed,
	{domain.TxOneFilled, EvUnwindStart}:    domain.TxUnwinding,
	{domain.TxUnwinding, EvUnwindFilled}:   domain.TxUnwound,
	{domain.TxUnwinding, EvUnwindTimeout}:  domain.TxUnwindFailed,
}

// Apply is the pure transition function: (current state, event) -> new state.
// It returns an error on any edge not in the legal set, so protocol bugs
// surface immediately instead of corrupting transaction state.
func Apply(state domain.TxState, ev TxEvent) (domain.TxState, error) {
	next, ok := legal[transition{state, ev}]
	if !ok {
		return state, fmt.Errorf("exec: illegal transition %s + %s", state, ev)
	}
	return next, nil
}
