package entities

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRelayJob() RelayJob {
	return RelayJob{
		MessageHash:       "0x" + strings.Repeat("ef", 32),
		DestinationDomain: 1,
		Status:            RelayStatusNotSubmitted,
	}
}

func TestRelayStatusTransitions(t *testing.T) {
	cases := []struct {
		from    RelayStatus
		to      RelayStatus
		allowed bool
	}{
		{RelayStatusNotSubmitted, RelayStatusInFlight, true},
		{RelayStatusInFlight, RelayStatusFinalized, true},
		{RelayStatusInFlight, RelayStatusFailed, true},
		// The sweeper releases stalled in-flight jobs back to the queue.
		{RelayStatusInFlight, RelayStatusNotSubmitted, true},
		{RelayStatusFailed, RelayStatusNotSubmitted, true},
		{RelayStatusNotSubmitted, RelayStatusFinalized, false},
		{RelayStatusNotSubmitted, RelayStatusFailed, false},
		{RelayStatusFinalized, RelayStatusNotSubmitted, false},
		{RelayStatusFinalized, RelayStatusInFlight, false},
		{RelayStatusFailed, RelayStatusFinalized, false},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.allowed, tc.from.CanTransitionTo(tc.to),
			"%s -> %s", tc.from, tc.to)
	}

	assert.True(t, RelayStatusFinalized.IsTerminal())
	assert.False(t, RelayStatusFailed.IsTerminal())
}

func TestRelayJobHappyPath(t *testing.T) {
	j := newRelayJob()

	require.NoError(t, j.MarkInFlight("relayer-account", 12))
	assert.Equal(t, RelayStatusInFlight, j.Status)
	assert.Equal(t, "relayer-account", j.Account)
	assert.Equal(t, uint64(12), j.Nonce)
	assert.Equal(t, 1, j.AttemptCount)

	require.NoError(t, j.MarkFinalized("0xfinaltx"))
	assert.Equal(t, RelayStatusFinalized, j.Status)
	assert.Equal(t, "0xfinaltx", j.TxReference)
	require.NotNil(t, j.FinalizedAt)
	assert.Empty(t, j.LastError)

	// Finalized jobs reject every further transition.
	assert.Error(t, j.MarkInFlight("relayer-account", 13))
	assert.Error(t, j.MarkFailed("late failure"))
	assert.Error(t, j.Requeue())
}

func TestRelayJobRetryCycle(t *testing.T) {
	j := newRelayJob()

	require.NoError(t, j.MarkInFlight("relayer-account", 12))
	require.NoError(t, j.MarkFailed("node rejected tx"))
	assert.Equal(t, RelayStatusFailed, j.Status)
	assert.Equal(t, "node rejected tx", j.LastError)

	// Operator requeue puts the job back into rotation.
	require.NoError(t, j.Requeue())
	assert.Equal(t, RelayStatusNotSubmitted, j.Status)

	require.NoError(t, j.MarkInFlight("relayer-account", 13))
	assert.Equal(t, 2, j.AttemptCount)
	assert.Equal(t, uint64(13), j.Nonce)

	// Finalizing clears the stale error from the failed attempt.
	require.NoError(t, j.MarkFinalized("0xtx2"))
	assert.Empty(t, j.LastError)
}

func TestRelayJobSweeperRequeue(t *testing.T) {
	j := newRelayJob()
	require.NoError(t, j.MarkInFlight("relayer-account", 5))

	require.NoError(t, j.Requeue())
	assert.Equal(t, RelayStatusNotSubmitted, j.Status)
	// Attempt count survives the requeue so retry budgets still apply.
	assert.Equal(t, 1, j.AttemptCount)
}

func TestRelayJobValidate(t *testing.T) {
	j := newRelayJob()
	require.NoError(t, j.Validate())

	badHash := newRelayJob()
	badHash.MessageHash = "0x123"
	assert.Error(t, badHash.Validate())

	badStatus := newRelayJob()
	badStatus.Status = RelayStatus("dispatched")
	assert.Error(t, badStatus.Validate())

	negativeAttempts := newRelayJob()
	negativeAttempts.AttemptCount = -1
	assert.Error(t, negativeAttempts.Validate())
}

func TestChainFamilyDefaults(t *testing.T) {
	for family := range ValidChainFamilies {
		depth, ok := DefaultConfirmations[family]
		require.True(t, ok, "family %s has no default confirmation depth", family)
		assert.Greater(t, depth, uint64(0))
	}

	assert.False(t, ChainFamily("cosmos").IsValid())
	assert.True(t, ChainFamilyEVM.IsValid())
}
