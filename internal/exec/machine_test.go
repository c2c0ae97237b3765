package exec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

func TestApply_LegalTransitions(t *testing.T) {
	cases := []struct {
		from domain.TxState
		ev   TxEvent
		to   domain.TxState
	}{
		{domain.TxAuthorized, EvExpired, domain.TxBothFailed},
		{domain.TxAuthorized, EvLegsSubmitted, domain.TxLegsSubmitted},
		{domain.TxLegsSubmitted, EvBothFilled, domain.TxBothFilled},
		{domain.TxLegsSubmitted, EvOneFilled, domain.TxOneFilled},
		{domain.TxLegsSubmitted, EvBothFailed, domain.TxBothFailed},
		{domain.TxOneFilled, EvUnwindStart, domain.TxUnwinding},
		{domain.TxUnwinding, EvUnwindFilled, domain.TxUnwound},
		{domain.TxUnwinding, EvUnwindTimeout, domain.TxUnwindFailed},
	}
	for _, tc := range cases {
		next, err := Apply(tc.from, tc.ev)
		require.NoError(t, err, "%s + %s", tc.from, tc.ev)
		assert.Equal(t, tc.to, next)
	}
}

func TestApply_IllegalTransitions(t *testing.T) {
	cases := []struct {
		from domain.TxState
		ev   TxEvent
	}{
		{domain.TxAuthorized, EvBothFilled},
		{domain.TxAuthorized, EvUnwindStart},
		{domain.TxBothFilled, EvLegsSubmitted},
		{domain.TxBothFailed, EvUnwindStart},
		{domain.TxOneFilled, EvBothFilled},
		{domain.TxUnwound, EvUnwindTimeout},
		{domain.TxUnwindFailed, EvUnwindFilled},
		{domain.TxLegsSubmitted, EvLegsSubmitted},
		// Once legs are out, expiry no longer applies; the legs decide.
		{domain.TxLegsSubmitted, EvExpired},
	}
	for _, tc := range cases {
		next, err := Apply(tc.from, tc.ev)
		require.Error(t, err, "%s + %s", tc.from, tc.ev)
		// The state is returned unchanged so the caller can log and halt.
		assert.Equal(t, tc.from, next)
	}
}

func TestTxState_Terminal(t *testing.T) {
	terminal := []domain.TxState{domain.TxBothFilled, domain.TxBothFailed, domain.TxUnwound, domain.TxUnwindFailed}
	for _, s := range terminal {
		assert.True(t, s.Terminal(), string(s))
	}
	live := []domain.TxState{domain.TxAuthorized, domain.TxLegsSubmitted, domain.TxOneFilled, domain.TxUnwinding}
	for _, s := range live {
		assert.False(t, s.Terminal(), string(s))
	}
}
