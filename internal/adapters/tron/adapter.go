package tron

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/etrid/flarebridge/internal/adapters/chain"
	"github.com/etrid/flarebridge/internal/domain/entities"
)

const (
	defaultPollInterval  = 3 * time.Second
	defaultMaxBlockBatch = 20
)

// Adapter observes deposits on a Tron-style chain by polling the
// full-node JSON API for new blocks and scanning their transfer
// contracts for payments into the bridge collection address.
type Adapter struct {
	config          Config
	client          *Client
	recipientFormat entities.RecipientFormat
	logger          *zap.Logger

	mu          sync.Mutex
	lastScanned uint64
}

// Ensure Adapter implements the chain adapter interface
var _ chain.Adapter = (*Adapter)(nil)

// NewAdapter creates a Tron chain adapter
func NewAdapter(config Config, recipientFormat entities.RecipientFormat, logger *zap.Logger) (*Adapter, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("tron adapter: base URL is required")
	}
	if config.BridgeAddress == "" {
		return nil, fmt.Errorf("tron adapter: bridge address is required")
	}
	if config.PollInterval == 0 {
		config.PollInterval = defaultPollInterval
	}
	if config.MaxBlockBatch == 0 {
		config.MaxBlockBatch = defaultMaxBlockBatch
	}

	return &Adapter{
		config:          config,
		client:          NewClient(config, logger),
		recipientFormat: recipientFormat,
		logger:          logger,
	}, nil
}

func (a *Adapter) Chain() string {
	return a.config.ChainName
}

func (a *Adapter) Family() entities.ChainFamily {
	return entities.ChainFamilyTron
}

// Head returns the current block height of the chain
func (a *Adapter) Head(ctx context.Context) (uint64, error) {
	block, err := a.client.GetNowBlock(ctx)
	if err != nil {
		return 0, err
	}
	return block.BlockHeader.RawData.Number, nil
}

// Confirmations returns the confirmation depth of a block observed at
// the given height, counting the containing block as one confirmation.
func (a *Adapter) Confirmations(ctx context.Context, observedHeight uint64) (uint64, error) {
	head, err := a.Head(ctx)
	if err != nil {
		return 0, err
	}
	return chain.Depth(head, observedHeight), nil
}

// ParseRecipient decodes a transfer memo into a destination account
func (a *Adapter) ParseRecipient(payload []byte) ([32]byte, error) {
	return chain.DecodeRecipient(a.recipientFormat, payload)
}

// Subscribe polls for new blocks and emits an observation for every
// successful transfer into the bridge address. It blocks until the
// context is cancelled or a poll fails; the caller owns reconnection.
func (a *Adapter) Subscribe(ctx context.Context, out chan<- chain.Observation) error {
	head, err := a.Head(ctx)
	if err != nil {
		return fmt.Errorf("initial head fetch: %w", err)
	}

	a.mu.Lock()
	if a.lastScanned == 0 {
		a.lastScanned = head
	}
	a.mu.Unlock()

	ticker := time.NewTicker(a.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := a.scanOnce(ctx, out); err != nil {
				return err
			}
		}
	}
}

func (a *Adapter) scanOnce(ctx context.Context, out chan<- chain.Observation) error {
	head, err := a.Head(ctx)
	if err != nil {
		return fmt.Errorf("head fetch: %w", err)
	}

	a.mu.Lock()
	from := a.lastScanned + 1
	a.mu.Unlock()

	if head < from {
		return nil
	}

	to := head
	if to-from+1 > a.config.MaxBlockBatch {
		to = from + a.config.MaxBlockBatch - 1
	}

	for num := from; num <= to; num++ {
		block, err := a.client.GetBlockByNum(ctx, num)
		if err != nil {
			return fmt.Errorf("scan block %d: %w", num, err)
		}
		a.emitBlockDeposits(ctx, block, num, out)

		a.mu.Lock()
		a.lastScanned = num
		a.mu.Unlock()
	}
	return nil
}

func (a *Adapter) emitBlockDeposits(ctx context.Context, block *Block, height uint64, out chan<- chain.Observation) {
	for _, tx := range block.Transactions {
		if !tx.Succeeded() {
			continue
		}
		for _, contract := range tx.RawData.Contract {
			if contract.Type != "TransferContract" {
				continue
			}
			value := contract.Parameter.Value
			if !strings.EqualFold(value.ToAddress, a.config.BridgeAddress) {
				continue
			}
			if value.Amount <= 0 {
				continue
			}

			memo, err := hex.DecodeString(tx.RawData.Data)
			if err != nil {
				// Malformed memos still surface downstream so the
				// monitor can count the drop.
				memo = nil
			}

			obs := chain.Observation{
				Chain:            a.config.ChainName,
				TxReference:      tx.TxID,
				SourceAddress:    value.OwnerAddress,
				RecipientPayload: memo,
				Amount:           big.NewInt(value.Amount),
				Height:           height,
			}

			select {
			case out <- obs:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (a *Adapter) Close() error {
	return nil
}
