package solana

import (
	"encoding/json"
	"time"
)

// Config represents Solana RPC client configuration
type Config struct {
	ChainName     string
	RPCURL        string
	BridgeAddress string
	MemoPrefix    string
	Commitment    string
	PollInterval  time.Duration
	BatchLimit    int
	Timeout       time.Duration
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
}

// RPCError is a JSON-RPC level failure returned by the node
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return e.Message
}

// SignatureInfo is one entry from getSignaturesForAddress
type SignatureInfo struct {
	Signature string          `json:"signature"`
	Slot      uint64          `json:"slot"`
	Err       json.RawMessage `json:"err"`
	Memo      string          `json:"memo"`
	BlockTime *int64          `json:"blockTime"`
}

// Failed reports whether the transaction errored on chain
func (s *SignatureInfo) Failed() bool {
	return len(s.Err) > 0 && string(s.Err) != "null"
}

// TransactionResult is the jsonParsed form of getTransaction
type TransactionResult struct {
	Slot        uint64             `json:"slot"`
	Meta        *TransactionMeta   `json:"meta"`
	Transaction ParsedTransaction  `json:"transaction"`
}

type TransactionMeta struct {
	Err json.RawMessage `json:"err"`
}

type ParsedTransaction struct {
	Message ParsedMessage `json:"message"`
}

type ParsedMessage struct {
	Instructions []ParsedInstruction `json:"instructions"`
}

// ParsedInstruction is a single instruction in jsonParsed encoding.
// Parsed holds a program-specific object for recognized programs and a
// bare string for the memo program.
type ParsedInstruction struct {
	Program   string          `json:"program"`
	ProgramID string          `json:"programId"`
	Parsed    json.RawMessage `json:"parsed"`
}

type systemTransfer struct {
	Type string `json:"type"`
	Info struct {
		Source      string `json:"source"`
		Destination string `json:"destination"`
		Lamports    uint64 `json:"lamports"`
	} `json:"info"`
}

type signaturesOptions struct {
	Until      string `json:"until,omitempty"`
	Limit      int    `json:"limit,omitempty"`
	Commitment string `json:"commitment,omitempty"`
}

type transactionOptions struct {
	Encoding                       string `json:"encoding"`
	Commitment                     string `json:"commitment,omitempty"`
	MaxSupportedTransactionVersion int    `json:"maxSupportedTransactionVersion"`
}

type commitmentOption struct {
	Commitment string `json:"commitment,omitempty"`
}
