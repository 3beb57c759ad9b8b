// Package evm observes deposits on EVM chains through an execution
// layer JSON-RPC node. Two deposit shapes are supported: native value
// transfers into the bridge address with the destination account in
// the transaction calldata, and ERC20 transfers into the bridge
// address with the destination account appended to the standard
// transfer calldata.
package evm

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/etrid/flarebridge/internal/adapters/chain"
	"github.com/etrid/flarebridge/internal/domain/entities"
)

const (
	defaultPollInterval  = 5 * time.Second
	defaultMaxBlockBatch = 50

	// selector (4) + to (32) + amount (32)
	erc20TransferArgsLen = 68
)

var transferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// Config represents EVM node configuration
type Config struct {
	ChainName     string
	RPCURL        string
	BridgeAddress string
	TokenAddress  string
	PollInterval  time.Duration
	MaxBlockBatch uint64
}

// Adapter polls an EVM node for new blocks and scans them for deposits
// into the bridge address.
type Adapter struct {
	config          Config
	client          *ethclient.Client
	bridgeAddress   common.Address
	tokenAddress    common.Address
	erc20Mode       bool
	recipientFormat entities.RecipientFormat
	logger          *zap.Logger

	mu          sync.Mutex
	chainID     *big.Int
	lastScanned uint64
}

// Ensure Adapter implements the chain adapter interface
var _ chain.Adapter = (*Adapter)(nil)

// NewAdapter creates an EVM chain adapter
func NewAdapter(config Config, recipientFormat entities.RecipientFormat, logger *zap.Logger) (*Adapter, error) {
	if config.RPCURL == "" {
		return nil, fmt.Errorf("evm adapter: RPC URL is required")
	}
	if !common.IsHexAddress(config.BridgeAddress) {
		return nil, fmt.Errorf("evm adapter: invalid bridge address %q", config.BridgeAddress)
	}
	if config.TokenAddress != "" && !common.IsHexAddress(config.TokenAddress) {
		return nil, fmt.Errorf("evm adapter: invalid token address %q", config.TokenAddress)
	}
	if config.PollInterval == 0 {
		config.PollInterval = defaultPollInterval
	}
	if config.MaxBlockBatch == 0 {
		config.MaxBlockBatch = defaultMaxBlockBatch
	}

	client, err := ethclient.Dial(config.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("evm adapter: dial %s: %w", config.RPCURL, err)
	}

	return &Adapter{
		config:          config,
		client:          client,
		bridgeAddress:   common.HexToAddress(config.BridgeAddress),
		tokenAddress:    common.HexToAddress(config.TokenAddress),
		erc20Mode:       config.TokenAddress != "",
		recipientFormat: recipientFormat,
		logger:          logger,
	}, nil
}

func (a *Adapter) Chain() string {
	return a.config.ChainName
}

func (a *Adapter) Family() entities.ChainFamily {
	return entities.ChainFamilyEVM
}

// Head returns the current block number
func (a *Adapter) Head(ctx context.Context) (uint64, error) {
	return a.client.BlockNumber(ctx)
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

// ParseRecipient decodes a calldata payload into a destination account
func (a *Adapter) ParseRecipient(payload []byte) ([32]byte, error) {
	return chain.DecodeRecipient(a.recipientFormat, payload)
}

// Subscribe polls for new blocks and emits an observation for every
// deposit into the bridge address. It blocks until the context is
// cancelled or a poll fails; the caller owns reconnection.
func (a *Adapter) Subscribe(ctx context.Context, out chan<- chain.Observation) error {
	chainID, err := a.client.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("chain ID fetch: %w", err)
	}
	head, err := a.Head(ctx)
	if err != nil {
		return fmt.Errorf("initial head fetch: %w", err)
	}

	a.mu.Lock()
	a.chainID = chainID
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

	if a.erc20Mode {
		err = a.scanTokenTransfers(ctx, from, to, out)
	} else {
		err = a.scanNativeTransfers(ctx, from, to, out)
	}
	if err != nil {
		return err
	}

	a.mu.Lock()
	a.lastScanned = to
	a.mu.Unlock()
	return nil
}

// scanTokenTransfers filters ERC20 Transfer events paying the bridge
// address and reads the destination account from each transaction's
// calldata beyond the standard transfer arguments.
func (a *Adapter) scanTokenTransfers(ctx context.Context, from, to uint64, out chan<- chain.Observation) error {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{a.tokenAddress},
		Topics: [][]common.Hash{
			{transferTopic},
			nil,
			{common.BytesToHash(a.bridgeAddress.Bytes())},
		},
	}

	logs, err := a.client.FilterLogs(ctx, query)
	if err != nil {
		return fmt.Errorf("filter logs [%d,%d]: %w", from, to, err)
	}

	// A transaction may carry several matching transfers; fold them
	// into one deposit per transaction hash.
	type deposit struct {
		txHash common.Hash
		sender common.Address
		amount *big.Int
		height uint64
	}
	var ordered []*deposit
	byTx := make(map[common.Hash]*deposit)

	for _, lg := range logs {
		if len(lg.Topics) < 3 || lg.Removed {
			continue
		}
		amount := new(big.Int).SetBytes(lg.Data)
		if amount.Sign() <= 0 {
			continue
		}
		if d, ok := byTx[lg.TxHash]; ok {
			d.amount.Add(d.amount, amount)
			continue
		}
		d := &deposit{
			txHash: lg.TxHash,
			sender: common.BytesToAddress(lg.Topics[1].Bytes()),
			amount: amount,
			height: lg.BlockNumber,
		}
		byTx[lg.TxHash] = d
		ordered = append(ordered, d)
	}

	for _, d := range ordered {
		tx, _, err := a.client.TransactionByHash(ctx, d.txHash)
		if err != nil {
			return fmt.Errorf("fetch transaction %s: %w", d.txHash.Hex(), err)
		}
		var payload []byte
		if data := tx.Data(); len(data) > erc20TransferArgsLen {
			payload = data[erc20TransferArgsLen:]
		}

		obs := chain.Observation{
			Chain:            a.config.ChainName,
			TxReference:      d.txHash.Hex(),
			SourceAddress:    d.sender.Hex(),
			RecipientPayload: payload,
			Amount:           d.amount,
			Height:           d.height,
		}
		select {
		case out <- obs:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// scanNativeTransfers walks full blocks looking for value transfers
// into the bridge address, with the destination account in calldata.
func (a *Adapter) scanNativeTransfers(ctx context.Context, from, to uint64, out chan<- chain.Observation) error {
	a.mu.Lock()
	signer := types.LatestSignerForChainID(a.chainID)
	a.mu.Unlock()

	for height := from; height <= to; height++ {
		block, err := a.client.BlockByNumber(ctx, new(big.Int).SetUint64(height))
		if err != nil {
			return fmt.Errorf("fetch block %d: %w", height, err)
		}

		for _, tx := range block.Transactions() {
			if tx.To() == nil || *tx.To() != a.bridgeAddress || tx.Value().Sign() <= 0 {
				continue
			}
			sender, err := types.Sender(signer, tx)
			if err != nil {
				a.logger.Debug("sender recovery failed",
					zap.String("tx", tx.Hash().Hex()),
					zap.Error(err))
				continue
			}

			obs := chain.Observation{
				Chain:            a.config.ChainName,
				TxReference:      tx.Hash().Hex(),
				SourceAddress:    sender.Hex(),
				RecipientPayload: tx.Data(),
				Amount:           tx.Value(),
				Height:           height,
			}
			select {
			case out <- obs:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}

func (a *Adapter) Close() error {
	a.client.Close()
	return nil
}
