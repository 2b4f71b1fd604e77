package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithdrawalStatus_CanTransition(t *testing.T) {
	cases := []struct {
		from    WithdrawalStatus
		to      WithdrawalStatus
		allowed bool
	}{
		{WithdrawalPending, WithdrawalApproved, true},
		{WithdrawalPending, WithdrawalRejected, true},
		{WithdrawalPending, WithdrawalCompleted, true}, // fast-track payout
		{WithdrawalPending, WithdrawalCancelled, true},
		{WithdrawalApproved, WithdrawalCompleted, true},
		{WithdrawalApproved, WithdrawalRejected, true},
		{WithdrawalApproved, WithdrawalCancelled, false},
		{WithdrawalApproved, WithdrawalPending, false},
		{WithdrawalRejected, WithdrawalApproved, false},
		{WithdrawalCompleted, WithdrawalRejected, false},
		{WithdrawalCancelled, WithdrawalApproved, false},
	}

	for _, c := range cases {
		assert.Equal(t, c.allowed, c.from.CanTransition(c.to), "%s -> %s", c.from, c.to)
	}
}

func TestWithdrawalStatus_Terminal(t *testing.T) {
	assert.False(t, WithdrawalPending.Terminal())
	assert.False(t, WithdrawalApproved.Terminal())
	assert.True(t, WithdrawalRejected.Terminal())
	assert.True(t, WithdrawalCompleted.Terminal())
	assert.True(t, WithdrawalCancelled.Terminal())
}

func TestWithdrawalRequest_MaskedCard(t *testing.T) {
	w := WithdrawalRequest{CardNumber: "2200123412341234"}
	assert.Equal(t, "****1234", w.MaskedCard())

	short := WithdrawalRequest{CardNumber: "12"}
	assert.Equal(t, "****", short.MaskedCard())
}
