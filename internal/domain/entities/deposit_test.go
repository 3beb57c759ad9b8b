package entities

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validDeposit() Deposit {
	return Deposit{
		Chain:              "bitcoin",
		SourceAddress:      "bc1qsender",
		DestinationAccount: "0x" + strings.Repeat("ab", 32),
		Amount:             decimal.RequireFromString("0.5"),
		TxReference:        "f4184fc596403b9d638783cf57adfe4c75c605f6356fbc91338530e9831e9e16:0",
		ObservedHeight:     800_000,
		Status:             DepositStatusPending,
	}
}

func TestDepositStatusTransitions(t *testing.T) {
	cases := []struct {
		from    DepositStatus
		to      DepositStatus
		allowed bool
	}{
		{DepositStatusPending, DepositStatusConfirmed, true},
		{DepositStatusConfirmed, DepositStatusEmitted, true},
		{DepositStatusPending, DepositStatusEmitted, false},
		{DepositStatusConfirmed, DepositStatusPending, false},
		{DepositStatusEmitted, DepositStatusPending, false},
		{DepositStatusEmitted, DepositStatusConfirmed, false},
		{DepositStatus("bogus"), DepositStatusConfirmed, false},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.allowed, tc.from.CanTransitionTo(tc.to),
			"%s -> %s", tc.from, tc.to)
	}

	assert.True(t, DepositStatusEmitted.IsTerminal())
	assert.False(t, DepositStatusPending.IsTerminal())
	assert.False(t, DepositStatusConfirmed.IsTerminal())
}

func TestDepositLifecycle(t *testing.T) {
	d := validDeposit()

	require.NoError(t, d.MarkConfirmed())
	assert.Equal(t, DepositStatusConfirmed, d.Status)

	// Confirming twice is an idempotent no-op.
	require.NoError(t, d.MarkConfirmed())

	hash := "0x" + strings.Repeat("cd", 32)
	require.NoError(t, d.MarkEmitted(hash))
	assert.Equal(t, DepositStatusEmitted, d.Status)
	assert.Equal(t, hash, d.MessageHash)
	require.NotNil(t, d.EmittedAt)

	// Emitted deposits are immutable.
	assert.Error(t, d.MarkConfirmed())
	assert.Error(t, d.MarkEmitted(hash))
}

func TestDepositCannotEmitBeforeConfirmation(t *testing.T) {
	d := validDeposit()
	err := d.MarkEmitted("0x" + strings.Repeat("cd", 32))
	assert.Error(t, err)
	assert.Equal(t, DepositStatusPending, d.Status)
}

func TestDepositObserveConfirmationsNeverDecreases(t *testing.T) {
	d := validDeposit()

	d.ObserveConfirmations(4)
	assert.Equal(t, uint64(4), d.Confirmations)

	// A lagging node reporting a shallower depth must not roll it back.
	d.ObserveConfirmations(2)
	assert.Equal(t, uint64(4), d.Confirmations)

	d.ObserveConfirmations(9)
	assert.Equal(t, uint64(9), d.Confirmations)
}

func TestDepositKey(t *testing.T) {
	d := validDeposit()
	assert.Equal(t, "bitcoin:"+d.TxReference, d.Key())
	assert.Equal(t, d.Key(), DepositKey(d.Chain, d.TxReference))
	assert.NotEqual(t, d.Key(), DepositKey("ethereum", d.TxReference))
}

func TestDepositValidate(t *testing.T) {
	d := validDeposit()
	require.NoError(t, d.Validate())

	missingChain := validDeposit()
	missingChain.Chain = ""
	assert.Error(t, missingChain.Validate())

	missingTx := validDeposit()
	missingTx.TxReference = ""
	assert.Error(t, missingTx.Validate())

	missingAccount := validDeposit()
	missingAccount.DestinationAccount = ""
	assert.Error(t, missingAccount.Validate())

	zeroAmount := validDeposit()
	zeroAmount.Amount = decimal.Zero
	assert.Error(t, zeroAmount.Validate())

	negativeAmount := validDeposit()
	negativeAmount.Amount = decimal.RequireFromString("-1")
	assert.Error(t, negativeAmount.Validate())

	badStatus := validDeposit()
	badStatus.Status = DepositStatus("settled")
	assert.Error(t, badStatus.Validate())
}
