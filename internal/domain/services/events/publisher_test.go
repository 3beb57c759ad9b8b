package events

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/etrid/flarebridge/internal/domain/entities"
)

func TestDisabledPublisherIsNoOp(t *testing.T) {
	p := NewPublisher(Config{Enabled: false}, zap.NewNop())
	assert.Nil(t, p.writer)

	// Publishing through a disabled publisher must not panic or block.
	deposit := &entities.Deposit{Chain: "bitcoin", TxReference: "0xtx", Amount: decimal.NewFromInt(1)}
	p.DepositConfirmed(context.Background(), deposit)
	p.DepositEmitted(context.Background(), deposit)
	p.RelayFinalized(context.Background(), &entities.RelayJob{MessageHash: "0xabc"})

	assert.NoError(t, p.Close())
}

func TestEnabledWithoutBrokersStaysDisabled(t *testing.T) {
	p := NewPublisher(Config{Enabled: true, Brokers: nil, Topic: "bridge-events"}, zap.NewNop())
	assert.Nil(t, p.writer)

	p.RelayFinalized(context.Background(), &entities.RelayJob{MessageHash: "0xabc"})
	assert.NoError(t, p.Close())
}

func TestEnabledPublisherBuildsWriter(t *testing.T) {
	p := NewPublisher(Config{
		Enabled: true,
		Brokers: []string{"localhost:9092"},
		Topic:   "bridge-events",
	}, zap.NewNop())

	assert.NotNil(t, p.writer)
	assert.Equal(t, "bridge-events", p.topic)
	assert.NoError(t, p.Close())
}
