// Package xrp observes deposits on XRP-style chains over the node's
// websocket streaming API. The adapter subscribes to the ledger stream
// for head tracking and to the bridge account stream for payments; the
// destination account rides in a transaction memo.
package xrp

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/etrid/flarebridge/internal/adapters/chain"
	"github.com/etrid/flarebridge/internal/domain/entities"
)

const (
	defaultHandshakeTimeout = 15 * time.Second

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	subscribeID = 1
	backfillID  = 2
)

// Adapter consumes the validated transaction stream for the bridge
// account. On reconnect it backfills from the last ledger it saw so
// deposits validated during the gap are replayed.
type Adapter struct {
	config          Config
	recipientFormat entities.RecipientFormat
	logger          *zap.Logger

	lastLedger atomic.Uint64

	mu   sync.Mutex
	conn *websocket.Conn
}

// Ensure Adapter implements the chain adapter interface
var _ chain.Adapter = (*Adapter)(nil)

// NewAdapter creates an XRP chain adapter
func NewAdapter(config Config, recipientFormat entities.RecipientFormat, logger *zap.Logger) (*Adapter, error) {
	if config.WSURL == "" {
		return nil, fmt.Errorf("xrp adapter: websocket URL is required")
	}
	if config.BridgeAddress == "" {
		return nil, fmt.Errorf("xrp adapter: bridge address is required")
	}
	if config.HandshakeTimeout == 0 {
		config.HandshakeTimeout = defaultHandshakeTimeout
	}

	return &Adapter{
		config:          config,
		recipientFormat: recipientFormat,
		logger:          logger,
	}, nil
}

func (a *Adapter) Chain() string {
	return a.config.ChainName
}

func (a *Adapter) Family() entities.ChainFamily {
	return entities.ChainFamilyXRP
}

// Head returns the last closed ledger index seen on the stream
func (a *Adapter) Head(_ context.Context) (uint64, error) {
	head := a.lastLedger.Load()
	if head == 0 {
		return 0, fmt.Errorf("no ledger observed yet")
	}
	return head, nil
}

// Confirmations returns the ledger depth of an observation, counting
// the containing ledger as one confirmation.
func (a *Adapter) Confirmations(ctx context.Context, observedHeight uint64) (uint64, error) {
	head, err := a.Head(ctx)
	if err != nil {
		return 0, err
	}
	return chain.Depth(head, observedHeight), nil
}

// ParseRecipient decodes a hex memo payload into a destination account
func (a *Adapter) ParseRecipient(payload []byte) ([32]byte, error) {
	return chain.DecodeRecipient(a.recipientFormat, payload)
}

// Subscribe connects to the websocket API, subscribes to the ledger and
// bridge account streams, and emits an observation for every validated
// payment into the bridge address. It blocks until the context is
// cancelled or the connection is lost; the caller owns reconnection.
func (a *Adapter) Subscribe(ctx context.Context, out chan<- chain.Observation) error {
	dialer := websocket.Dialer{HandshakeTimeout: a.config.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, a.config.WSURL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", a.config.WSURL, err)
	}

	a.mu.Lock()
	a.conn = conn
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		a.conn = nil
		a.mu.Unlock()
		conn.Close()
	}()

	if err := a.writeJSON(conn, subscribeCommand{
		ID:       subscribeID,
		Command:  "subscribe",
		Streams:  []string{"ledger"},
		Accounts: []string{a.config.BridgeAddress},
	}); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	// Replay payments validated while we were disconnected.
	if since := a.lastLedger.Load(); since > 0 {
		if err := a.writeJSON(conn, accountTxCommand{
			ID:             backfillID,
			Command:        "account_tx",
			Account:        a.config.BridgeAddress,
			LedgerIndexMin: int64(since),
			LedgerIndexMax: -1,
		}); err != nil {
			return fmt.Errorf("backfill request: %w", err)
		}
	}

	done := make(chan struct{})
	defer close(done)
	go a.keepAlive(ctx, conn, done)

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read: %w", err)
		}

		var msg wsMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			a.logger.Warn("unparseable stream frame", zap.Error(err))
			continue
		}
		if err := a.handleMessage(ctx, &msg, out); err != nil {
			return err
		}
	}
}

// keepAlive pings the node and closes the connection when the context
// ends, which unblocks the read loop.
func (a *Adapter) keepAlive(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.Close()
				return
			}
		case <-ctx.Done():
			conn.Close()
			return
		case <-done:
			return
		}
	}
}

func (a *Adapter) handleMessage(ctx context.Context, msg *wsMessage, out chan<- chain.Observation) error {
	switch msg.Type {
	case "ledgerClosed":
		if msg.LedgerIndex > 0 {
			a.lastLedger.Store(msg.LedgerIndex)
		}
		return nil

	case "response":
		if msg.Status != "success" {
			return fmt.Errorf("command %d failed: %s", msg.ID, msg.ErrorMessage)
		}
		switch msg.ID {
		case subscribeID:
			var result subscribeResult
			if json.Unmarshal(msg.Result, &result) == nil && result.LedgerIndex > 0 {
				a.lastLedger.Store(result.LedgerIndex)
			}
		case backfillID:
			return a.emitBackfill(ctx, msg.Result, out)
		}
		return nil

	case "transaction":
		if !msg.Validated || msg.EngineResult != "tesSUCCESS" {
			return nil
		}
		var tx transaction
		if err := json.Unmarshal(msg.Transaction, &tx); err != nil {
			a.logger.Warn("unparseable transaction frame", zap.Error(err))
			return nil
		}
		return a.emitPayment(ctx, &tx, msg.LedgerIndex, out)

	default:
		return nil
	}
}

func (a *Adapter) emitBackfill(ctx context.Context, raw json.RawMessage, out chan<- chain.Observation) error {
	var result accountTxResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return fmt.Errorf("unmarshal backfill: %w", err)
	}
	for _, entry := range result.Transactions {
		if !entry.Validated || entry.Meta.TransactionResult != "tesSUCCESS" {
			continue
		}
		var tx transaction
		if err := json.Unmarshal(entry.Tx, &tx); err != nil {
			continue
		}
		if err := a.emitPayment(ctx, &tx, tx.LedgerIndex, out); err != nil {
			return err
		}
	}
	return nil
}

func (a *Adapter) emitPayment(ctx context.Context, tx *transaction, ledgerIndex uint64, out chan<- chain.Observation) error {
	if tx.TransactionType != "Payment" || tx.Destination != a.config.BridgeAddress {
		return nil
	}
	amount, ok := parseDrops(tx.Amount)
	if !ok {
		// Issued currency payments are not bridge deposits.
		return nil
	}
	if ledgerIndex == 0 {
		ledgerIndex = tx.LedgerIndex
	}

	obs := chain.Observation{
		Chain:            a.config.ChainName,
		TxReference:      tx.Hash,
		SourceAddress:    tx.Account,
		RecipientPayload: firstMemo(tx.Memos),
		Amount:           amount,
		Height:           ledgerIndex,
	}

	select {
	case out <- obs:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (a *Adapter) writeJSON(conn *websocket.Conn, v interface{}) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn != nil {
		return a.conn.Close()
	}
	return nil
}

// parseDrops reads a native payment amount, which arrives as a decimal
// string of drops
func parseDrops(raw json.RawMessage) (*big.Int, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, false
	}
	amount, ok := new(big.Int).SetString(s, 10)
	if !ok || amount.Sign() <= 0 {
		return nil, false
	}
	return amount, true
}

// firstMemo hex-decodes the first memo payload, or returns nil when the
// transaction carries none
func firstMemo(memos []memoWrapper) []byte {
	for _, m := range memos {
		if m.Memo.MemoData == "" {
			continue
		}
		data, err := hex.DecodeString(m.Memo.MemoData)
		if err != nil {
			continue
		}
		return data
	}
	return nil
}
