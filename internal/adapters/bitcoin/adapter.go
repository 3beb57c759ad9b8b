// Package bitcoin observes deposits on UTXO chains through a btcd or
// bitcoind compatible JSON-RPC node. A deposit is any transaction
// output paying the bridge collection address; the destination account
// rides in the transaction's OP_RETURN output.
package bitcoin

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/txscript"
	"go.uber.org/zap"

	"github.com/etrid/flarebridge/internal/adapters/chain"
	"github.com/etrid/flarebridge/internal/domain/entities"
)

const (
	defaultPollInterval  = 30 * time.Second
	defaultMaxBlockBatch = 10
)

// Config represents Bitcoin RPC node configuration
type Config struct {
	ChainName     string
	Host          string
	User          string
	Pass          string
	DisableTLS    bool
	BridgeAddress string
	PollInterval  time.Duration
	MaxBlockBatch uint64
}

// Adapter polls a Bitcoin node for new blocks and scans their outputs
// for payments into the bridge collection address.
type Adapter struct {
	config          Config
	client          *rpcclient.Client
	recipientFormat entities.RecipientFormat
	logger          *zap.Logger

	mu          sync.Mutex
	lastScanned uint64
}

// Ensure Adapter implements the chain adapter interface
var _ chain.Adapter = (*Adapter)(nil)

// NewAdapter creates a Bitcoin chain adapter connected over HTTP POST
func NewAdapter(config Config, recipientFormat entities.RecipientFormat, logger *zap.Logger) (*Adapter, error) {
	if config.Host == "" {
		return nil, fmt.Errorf("bitcoin adapter: host is required")
	}
	if config.BridgeAddress == "" {
		return nil, fmt.Errorf("bitcoin adapter: bridge address is required")
	}
	if config.PollInterval == 0 {
		config.PollInterval = defaultPollInterval
	}
	if config.MaxBlockBatch == 0 {
		config.MaxBlockBatch = defaultMaxBlockBatch
	}

	client, err := rpcclient.New(&rpcclient.ConnConfig{
		Host:         config.Host,
		User:         config.User,
		Pass:         config.Pass,
		HTTPPostMode: true,
		DisableTLS:   config.DisableTLS,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("bitcoin adapter: create RPC client: %w", err)
	}

	return &Adapter{
		config:          config,
		client:          client,
		recipientFormat: recipientFormat,
		logger:          logger,
	}, nil
}

func (a *Adapter) Chain() string {
	return a.config.ChainName
}

func (a *Adapter) Family() entities.ChainFamily {
	return entities.ChainFamilyUTXO
}

// Head returns the current block height
func (a *Adapter) Head(_ context.Context) (uint64, error) {
	count, err := a.client.GetBlockCount()
	if err != nil {
		return 0, fmt.Errorf("get block count: %w", err)
	}
	return uint64(count), nil
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

// ParseRecipient decodes an OP_RETURN payload into a destination account
func (a *Adapter) ParseRecipient(payload []byte) ([32]byte, error) {
	return chain.DecodeRecipient(a.recipientFormat, payload)
}

// Subscribe polls for new blocks and emits an observation for every
// output paying the bridge address. It blocks until the context is
// cancelled or a poll fails; the caller owns reconnection.
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

	for height := from; height <= to; height++ {
		hash, err := a.client.GetBlockHash(int64(height))
		if err != nil {
			return fmt.Errorf("get block hash %d: %w", height, err)
		}
		block, err := a.client.GetBlockVerboseTx(hash)
		if err != nil {
			return fmt.Errorf("get block %d: %w", height, err)
		}
		if err := a.emitBlockDeposits(ctx, block, out); err != nil {
			return err
		}

		a.mu.Lock()
		a.lastScanned = height
		a.mu.Unlock()
	}
	return nil
}

func (a *Adapter) emitBlockDeposits(ctx context.Context, block *btcjson.GetBlockVerboseTxResult, out chan<- chain.Observation) error {
	for i := range block.Tx {
		tx := &block.Tx[i]
		memo := extractOpReturn(tx)

		for _, vout := range tx.Vout {
			if !paysAddress(&vout.ScriptPubKey, a.config.BridgeAddress) {
				continue
			}
			amount, err := btcutil.NewAmount(vout.Value)
			if err != nil || amount <= 0 {
				continue
			}

			obs := chain.Observation{
				Chain:            a.config.ChainName,
				TxReference:      fmt.Sprintf("%s:%d", tx.Txid, vout.N),
				SourceAddress:    a.lookupSourceAddress(tx),
				RecipientPayload: memo,
				Amount:           big.NewInt(int64(amount)),
				Height:           uint64(block.Height),
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

// lookupSourceAddress resolves the first input's previous output
// address. Failures degrade to an empty source rather than dropping the
// deposit, since refunds are handled off path.
func (a *Adapter) lookupSourceAddress(tx *btcjson.TxRawResult) string {
	if len(tx.Vin) == 0 || tx.Vin[0].IsCoinBase() {
		return ""
	}
	vin := tx.Vin[0]

	prevHash, err := chainhash.NewHashFromStr(vin.Txid)
	if err != nil {
		return ""
	}
	prev, err := a.client.GetRawTransactionVerbose(prevHash)
	if err != nil {
		a.logger.Debug("previous output lookup failed",
			zap.String("txid", vin.Txid),
			zap.Error(err))
		return ""
	}
	if int(vin.Vout) >= len(prev.Vout) {
		return ""
	}
	return firstAddress(&prev.Vout[vin.Vout].ScriptPubKey)
}

// extractOpReturn returns the data pushed by the transaction's null
// data output, or nil when the transaction carries none.
func extractOpReturn(tx *btcjson.TxRawResult) []byte {
	for _, vout := range tx.Vout {
		if vout.ScriptPubKey.Type != "nulldata" {
			continue
		}
		script, err := hex.DecodeString(vout.ScriptPubKey.Hex)
		if err != nil {
			continue
		}
		pushed, err := txscript.PushedData(script)
		if err != nil || len(pushed) == 0 {
			continue
		}
		return pushed[0]
	}
	return nil
}

func paysAddress(spk *btcjson.ScriptPubKeyResult, address string) bool {
	if spk.Address == address {
		return true
	}
	for _, addr := range spk.Addresses {
		if addr == address {
			return true
		}
	}
	return false
}

func firstAddress(spk *btcjson.ScriptPubKeyResult) string {
	if spk.Address != "" {
		return spk.Address
	}
	if len(spk.Addresses) > 0 {
		return spk.Addresses[0]
	}
	return ""
}

func (a *Adapter) Close() error {
	a.client.Shutdown()
	return nil
}
