package xrp

import (
	"encoding/json"
	"time"
)

// Config represents XRP websocket node configuration
type Config struct {
	ChainName        string
	WSURL            string
	BridgeAddress    string
	HandshakeTimeout time.Duration
}

// wsMessage is the envelope for every server-pushed frame
type wsMessage struct {
	Type         string          `json:"type"`
	ID           int             `json:"id,omitempty"`
	Status       string          `json:"status,omitempty"`
	LedgerIndex  uint64          `json:"ledger_index,omitempty"`
	Validated    bool            `json:"validated,omitempty"`
	EngineResult string          `json:"engine_result,omitempty"`
	Transaction  json.RawMessage `json:"transaction,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

// transaction holds the fields we consume from a Payment. Amount stays
// raw because native payments encode it as a drops string while issued
// currencies use an object.
type transaction struct {
	TransactionType string          `json:"TransactionType"`
	Account         string          `json:"Account"`
	Destination     string          `json:"Destination"`
	Amount          json.RawMessage `json:"Amount"`
	Hash            string          `json:"hash"`
	LedgerIndex     uint64          `json:"ledger_index,omitempty"`
	Memos           []memoWrapper   `json:"Memos,omitempty"`
}

type memoWrapper struct {
	Memo memoFields `json:"Memo"`
}

type memoFields struct {
	MemoData string `json:"MemoData"`
}

type subscribeCommand struct {
	ID       int      `json:"id"`
	Command  string   `json:"command"`
	Streams  []string `json:"streams,omitempty"`
	Accounts []string `json:"accounts,omitempty"`
}

type accountTxCommand struct {
	ID             int    `json:"id"`
	Command        string `json:"command"`
	Account        string `json:"account"`
	LedgerIndexMin int64  `json:"ledger_index_min"`
	LedgerIndexMax int64  `json:"ledger_index_max"`
}

type subscribeResult struct {
	LedgerIndex uint64 `json:"ledger_index"`
}

type accountTxResult struct {
	Transactions []accountTxEntry `json:"transactions"`
}

type accountTxEntry struct {
	Tx        json.RawMessage `json:"tx"`
	Validated bool            `json:"validated"`
	Meta      struct {
		TransactionResult string `json:"TransactionResult"`
	} `json:"meta"`
}
