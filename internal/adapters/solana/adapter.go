package solana

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/etrid/flarebridge/internal/adapters/chain"
	"github.com/etrid/flarebridge/internal/domain/entities"
)

const (
	defaultPollInterval = 2 * time.Second
	defaultBatchLimit   = 100
	defaultMemoPrefix   = "etrid:"
)

// signature list memos arrive as "[<len>] <text>"
var memoLengthPrefix = regexp.MustCompile(`^\[\d+\] `)

// Adapter observes deposits on a Solana-style chain by polling
// signatures that touch the bridge collection account and inspecting
// each transaction for system transfers into it. The recipient rides in
// a memo instruction carrying a fixed prefix.
type Adapter struct {
	config          Config
	client          *Client
	recipientFormat entities.RecipientFormat
	logger          *zap.Logger

	mu      sync.Mutex
	lastSig string
}

// Ensure Adapter implements the chain adapter interface
var _ chain.Adapter = (*Adapter)(nil)

// NewAdapter creates a Solana chain adapter
func NewAdapter(config Config, recipientFormat entities.RecipientFormat, logger *zap.Logger) (*Adapter, error) {
	if config.RPCURL == "" {
		return nil, fmt.Errorf("solana adapter: RPC URL is required")
	}
	if config.BridgeAddress == "" {
		return nil, fmt.Errorf("solana adapter: bridge address is required")
	}
	if config.PollInterval == 0 {
		config.PollInterval = defaultPollInterval
	}
	if config.BatchLimit == 0 {
		config.BatchLimit = defaultBatchLimit
	}
	if config.MemoPrefix == "" {
		config.MemoPrefix = defaultMemoPrefix
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
	return entities.ChainFamilySolana
}

// Head returns the current slot
func (a *Adapter) Head(ctx context.Context) (uint64, error) {
	return a.client.GetSlot(ctx)
}

// Confirmations returns the slot depth of an observation, counting the
// containing slot as one confirmation.
func (a *Adapter) Confirmations(ctx context.Context, observedHeight uint64) (uint64, error) {
	head, err := a.Head(ctx)
	if err != nil {
		return 0, err
	}
	return chain.Depth(head, observedHeight), nil
}

// ParseRecipient strips the memo prefix and decodes the remainder into
// a destination account.
func (a *Adapter) ParseRecipient(payload []byte) ([32]byte, error) {
	text := strings.TrimSpace(string(payload))
	if !strings.HasPrefix(text, a.config.MemoPrefix) {
		return [32]byte{}, fmt.Errorf("memo missing %q prefix", a.config.MemoPrefix)
	}
	text = strings.TrimPrefix(text, a.config.MemoPrefix)
	return chain.DecodeRecipient(a.recipientFormat, []byte(text))
}

// Subscribe polls for new signatures and emits an observation for every
// successful transfer into the bridge address. It blocks until the
// context is cancelled or a poll fails; the caller owns reconnection.
func (a *Adapter) Subscribe(ctx context.Context, out chan<- chain.Observation) error {
	if err := a.initCursor(ctx); err != nil {
		return fmt.Errorf("initial cursor fetch: %w", err)
	}

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

// initCursor anchors the scan at the newest existing signature so a
// fresh subscription does not replay history.
func (a *Adapter) initCursor(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.lastSig != "" {
		return nil
	}

	sigs, err := a.client.GetSignaturesForAddress(ctx, a.config.BridgeAddress, "", 1)
	if err != nil {
		return err
	}
	if len(sigs) > 0 {
		a.lastSig = sigs[0].Signature
	}
	return nil
}

func (a *Adapter) scanOnce(ctx context.Context, out chan<- chain.Observation) error {
	a.mu.Lock()
	cursor := a.lastSig
	a.mu.Unlock()

	sigs, err := a.client.GetSignaturesForAddress(ctx, a.config.BridgeAddress, cursor, a.config.BatchLimit)
	if err != nil {
		return err
	}
	if len(sigs) == 0 {
		return nil
	}

	// Results arrive newest first; process in chain order.
	for i := len(sigs) - 1; i >= 0; i-- {
		info := sigs[i]
		if !info.Failed() {
			if err := a.emitTransaction(ctx, info, out); err != nil {
				return err
			}
		}

		a.mu.Lock()
		a.lastSig = info.Signature
		a.mu.Unlock()
	}
	return nil
}

func (a *Adapter) emitTransaction(ctx context.Context, info SignatureInfo, out chan<- chain.Observation) error {
	tx, err := a.client.GetTransaction(ctx, info.Signature)
	if err != nil {
		return fmt.Errorf("fetch transaction %s: %w", info.Signature, err)
	}
	if tx.Meta != nil && len(tx.Meta.Err) > 0 && string(tx.Meta.Err) != "null" {
		return nil
	}

	amount := new(big.Int)
	source := ""
	memo := ""
	for _, inst := range tx.Transaction.Message.Instructions {
		switch inst.Program {
		case "system":
			var transfer systemTransfer
			if err := json.Unmarshal(inst.Parsed, &transfer); err != nil {
				continue
			}
			if transfer.Type != "transfer" || transfer.Info.Destination != a.config.BridgeAddress {
				continue
			}
			amount.Add(amount, new(big.Int).SetUint64(transfer.Info.Lamports))
			if source == "" {
				source = transfer.Info.Source
			}
		case "spl-memo":
			var text string
			if err := json.Unmarshal(inst.Parsed, &text); err == nil {
				memo = text
			}
		}
	}

	if amount.Sign() == 0 {
		return nil
	}
	if memo == "" && info.Memo != "" {
		memo = memoLengthPrefix.ReplaceAllString(info.Memo, "")
	}

	obs := chain.Observation{
		Chain:            a.config.ChainName,
		TxReference:      info.Signature,
		SourceAddress:    source,
		RecipientPayload: []byte(memo),
		Amount:           amount,
		Height:           tx.Slot,
	}

	select {
	case out <- obs:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (a *Adapter) Close() error {
	return nil
}
