package xrp

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/etrid/flarebridge/internal/adapters/chain"
	"github.com/etrid/flarebridge/internal/domain/entities"
)

const testBridgeAccount = "rBridgeVault1111111111111111111111"

var testUpgrader = websocket.Upgrader{}

// setupTestStream upgrades the connection, acks the subscribe command,
// replays the given frames, then holds the socket open until the client
// goes away.
func setupTestStream(t *testing.T, frames []interface{}) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var cmd subscribeCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}
		assert.Equal(t, "subscribe", cmd.Command)
		assert.Equal(t, []string{"ledger"}, cmd.Streams)
		assert.Equal(t, []string{testBridgeAccount}, cmd.Accounts)

		ack := map[string]interface{}{
			"id":     subscribeID,
			"type":   "response",
			"status": "success",
			"result": map[string]interface{}{"ledger_index": 7305000},
		}
		if err := conn.WriteJSON(ack); err != nil {
			return
		}
		for _, frame := range frames {
			if err := conn.WriteJSON(frame); err != nil {
				return
			}
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func newTestAdapter(t *testing.T, url string) *Adapter {
	t.Helper()
	adapter, err := NewAdapter(Config{
		ChainName:     "xrp",
		WSURL:         url,
		BridgeAddress: testBridgeAccount,
	}, entities.RecipientFormatHex32, zap.NewNop())
	require.NoError(t, err)
	return adapter
}

func TestSubscribeEmitsValidatedPayments(t *testing.T) {
	memoText := "0x" + strings.Repeat("ef", 32)
	memoHex := strings.ToUpper(hex.EncodeToString([]byte(memoText)))

	frames := []interface{}{
		map[string]interface{}{"type": "ledgerClosed", "ledger_index": 7305001},
		// Not validated yet: must be ignored.
		map[string]interface{}{
			"type":          "transaction",
			"validated":     false,
			"engine_result": "tesSUCCESS",
			"ledger_index":  7305002,
			"transaction": map[string]interface{}{
				"TransactionType": "Payment",
				"Account":         "rSenderSeen",
				"Destination":     testBridgeAccount,
				"Amount":          "1",
				"hash":            "IGNORED",
			},
		},
		map[string]interface{}{
			"type":          "transaction",
			"validated":     true,
			"engine_result": "tesSUCCESS",
			"ledger_index":  7305002,
			"transaction": map[string]interface{}{
				"TransactionType": "Payment",
				"Account":         "rSender111111111111111111111111111",
				"Destination":     testBridgeAccount,
				"Amount":          "2500000",
				"hash":            "A1B2C3D4",
				"Memos": []map[string]interface{}{
					{"Memo": map[string]interface{}{"MemoData": memoHex}},
				},
			},
		},
	}

	server := setupTestStream(t, frames)
	defer server.Close()

	adapter := newTestAdapter(t, wsURL(server))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := make(chan chain.Observation, 4)
	errCh := make(chan error, 1)
	go func() {
		errCh <- adapter.Subscribe(ctx, out)
	}()

	var obs chain.Observation
	select {
	case obs = <-out:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for observation")
	}

	assert.Equal(t, "xrp", obs.Chain)
	assert.Equal(t, "A1B2C3D4", obs.TxReference)
	assert.Equal(t, "rSender111111111111111111111111111", obs.SourceAddress)
	assert.Equal(t, []byte(memoText), obs.RecipientPayload)
	assert.Equal(t, big.NewInt(2_500_000), obs.Amount)
	assert.Equal(t, uint64(7305002), obs.Height)

	head, err := adapter.Head(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(7305001), head)

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(3 * time.Second):
		t.Fatal("subscribe did not stop on cancel")
	}
}

func TestHeadBeforeFirstLedger(t *testing.T) {
	adapter := newTestAdapter(t, "ws://localhost:1")
	_, err := adapter.Head(context.Background())
	assert.Error(t, err)
}

func TestParseDrops(t *testing.T) {
	amount, ok := parseDrops(json.RawMessage(`"2500000"`))
	require.True(t, ok)
	assert.Equal(t, big.NewInt(2_500_000), amount)

	// Issued currencies arrive as objects and are not bridge deposits.
	_, ok = parseDrops(json.RawMessage(`{"currency":"USD","value":"10"}`))
	assert.False(t, ok)

	_, ok = parseDrops(json.RawMessage(`"0"`))
	assert.False(t, ok)

	_, ok = parseDrops(json.RawMessage(`"not-a-number"`))
	assert.False(t, ok)
}

func TestFirstMemo(t *testing.T) {
	memo := firstMemo([]memoWrapper{
		{Memo: memoFields{MemoData: ""}},
		{Memo: memoFields{MemoData: "6574726964"}},
	})
	assert.Equal(t, []byte("etrid"), memo)

	assert.Nil(t, firstMemo(nil))
	assert.Nil(t, firstMemo([]memoWrapper{{Memo: memoFields{MemoData: "zz"}}}))
}
