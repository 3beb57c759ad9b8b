package solana

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/etrid/flarebridge/internal/adapters/chain"
	"github.com/etrid/flarebridge/internal/domain/entities"
)

const testBridgeAccount = "BridgeVau1t11111111111111111111111111111111"

type rpcHandler func(params []json.RawMessage) (interface{}, *RPCError)

func setupTestNode(t *testing.T, handlers map[string]rpcHandler) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     int               `json:"id"`
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		handler, ok := handlers[req.Method]
		if !ok {
			t.Errorf("unexpected RPC method %s", req.Method)
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		result, rpcErr := handler(req.Params)
		resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
		if rpcErr != nil {
			resp["error"] = rpcErr
		} else {
			resp["result"] = result
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
}

func newTestAdapter(t *testing.T, rpcURL string) *Adapter {
	t.Helper()
	adapter, err := NewAdapter(Config{
		ChainName:     "solana",
		RPCURL:        rpcURL,
		BridgeAddress: testBridgeAccount,
		PollInterval:  10 * time.Millisecond,
	}, entities.RecipientFormatBase58, zap.NewNop())
	require.NoError(t, err)
	return adapter
}

func TestAdapterHead(t *testing.T) {
	server := setupTestNode(t, map[string]rpcHandler{
		"getSlot": func([]json.RawMessage) (interface{}, *RPCError) { return 31250, nil },
	})
	defer server.Close()

	adapter := newTestAdapter(t, server.URL)
	head, err := adapter.Head(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(31250), head)

	depth, err := adapter.Confirmations(context.Background(), 31220)
	require.NoError(t, err)
	assert.Equal(t, uint64(31), depth)
}

func TestScanEmitsBridgeTransfers(t *testing.T) {
	var recipient [32]byte
	for i := range recipient {
		recipient[i] = byte(i)
	}
	memo := "etrid:" + base58.Encode(recipient[:])

	transferParsed, _ := json.Marshal(map[string]interface{}{
		"type": "transfer",
		"info": map[string]interface{}{
			"source":      "Payer1111111111111111111111111111111111111",
			"destination": testBridgeAccount,
			"lamports":    5_000_000,
		},
	})
	memoParsed, _ := json.Marshal(memo)

	handlers := map[string]rpcHandler{
		"getSignaturesForAddress": func(params []json.RawMessage) (interface{}, *RPCError) {
			var opts signaturesOptions
			require.NoError(t, json.Unmarshal(params[1], &opts))
			if opts.Until == "" {
				return []SignatureInfo{{Signature: "sigCursor", Slot: 90}}, nil
			}
			assert.Equal(t, "sigCursor", opts.Until)
			return []SignatureInfo{
				{Signature: "sigDeposit", Slot: 120},
				{Signature: "sigFailed", Slot: 115, Err: json.RawMessage(`{"InstructionError":[0,"Custom"]}`)},
			}, nil
		},
		"getTransaction": func(params []json.RawMessage) (interface{}, *RPCError) {
			var sig string
			require.NoError(t, json.Unmarshal(params[0], &sig))
			assert.Equal(t, "sigDeposit", sig)
			return TransactionResult{
				Slot: 120,
				Transaction: ParsedTransaction{Message: ParsedMessage{Instructions: []ParsedInstruction{
					{Program: "system", Parsed: transferParsed},
					{Program: "spl-memo", Parsed: memoParsed},
				}}},
			}, nil
		},
	}

	server := setupTestNode(t, handlers)
	defer server.Close()

	adapter := newTestAdapter(t, server.URL)
	require.NoError(t, adapter.initCursor(context.Background()))

	adapter.mu.Lock()
	assert.Equal(t, "sigCursor", adapter.lastSig)
	adapter.mu.Unlock()

	out := make(chan chain.Observation, 4)
	require.NoError(t, adapter.scanOnce(context.Background(), out))

	require.Len(t, out, 1)
	obs := <-out
	assert.Equal(t, "solana", obs.Chain)
	assert.Equal(t, "sigDeposit", obs.TxReference)
	assert.Equal(t, "Payer1111111111111111111111111111111111111", obs.SourceAddress)
	assert.Equal(t, []byte(memo), obs.RecipientPayload)
	assert.Equal(t, big.NewInt(5_000_000), obs.Amount)
	assert.Equal(t, uint64(120), obs.Height)

	// Cursor lands on the newest signature regardless of outcome.
	adapter.mu.Lock()
	assert.Equal(t, "sigDeposit", adapter.lastSig)
	adapter.mu.Unlock()

	account, err := adapter.ParseRecipient(obs.RecipientPayload)
	require.NoError(t, err)
	assert.Equal(t, recipient, account)
}

func TestParseRecipientRequiresPrefix(t *testing.T) {
	server := setupTestNode(t, nil)
	defer server.Close()

	adapter := newTestAdapter(t, server.URL)

	var account [32]byte
	account[0] = 0xde

	_, err := adapter.ParseRecipient([]byte(base58.Encode(account[:])))
	assert.Error(t, err)

	got, err := adapter.ParseRecipient([]byte("etrid:" + base58.Encode(account[:])))
	require.NoError(t, err)
	assert.Equal(t, account, got)
}

func TestClientSurfacesRPCError(t *testing.T) {
	server := setupTestNode(t, map[string]rpcHandler{
		"getSlot": func([]json.RawMessage) (interface{}, *RPCError) {
			return nil, &RPCError{Code: -32005, Message: "node is behind"}
		},
	})
	defer server.Close()

	client := NewClient(Config{RPCURL: server.URL}, zap.NewNop())
	_, err := client.GetSlot(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "node is behind")
}

func TestSignatureInfoFailed(t *testing.T) {
	assert.False(t, (&SignatureInfo{}).Failed())
	assert.False(t, (&SignatureInfo{Err: json.RawMessage("null")}).Failed())
	assert.True(t, (&SignatureInfo{Err: json.RawMessage(`{"InstructionError":[0,1]}`)}).Failed())
}
