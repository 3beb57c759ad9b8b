package tron

import "time"

// Config represents Tron full-node client configuration
type Config struct {
	ChainName     string
	BaseURL       string
	APIKey        string
	BridgeAddress string
	PollInterval  time.Duration
	MaxBlockBatch uint64
	Timeout       time.Duration
}

// Block represents a Tron block returned by getnowblock / getblockbynum
type Block struct {
	BlockID      string        `json:"blockID"`
	BlockHeader  BlockHeader   `json:"block_header"`
	Transactions []Transaction `json:"transactions"`
}

// BlockHeader holds the raw header fields we consume
type BlockHeader struct {
	RawData BlockHeaderRaw `json:"raw_data"`
}

type BlockHeaderRaw struct {
	Number    uint64 `json:"number"`
	Timestamp int64  `json:"timestamp"`
}

// Transaction represents a Tron transaction inside a block
type Transaction struct {
	TxID    string               `json:"txID"`
	Ret     []TransactionRet     `json:"ret"`
	RawData TransactionRawData   `json:"raw_data"`
}

type TransactionRet struct {
	ContractRet string `json:"contractRet"`
}

type TransactionRawData struct {
	// Data carries the hex-encoded transfer memo when present.
	Data     string     `json:"data"`
	Contract []Contract `json:"contract"`
}

// Contract is a single operation within a transaction. Plain value
// transfers use type TransferContract.
type Contract struct {
	Type      string            `json:"type"`
	Parameter ContractParameter `json:"parameter"`
}

type ContractParameter struct {
	Value ContractValue `json:"value"`
}

type ContractValue struct {
	Amount       int64  `json:"amount"`
	OwnerAddress string `json:"owner_address"`
	ToAddress    string `json:"to_address"`
}

// Succeeded reports whether the transaction executed without a contract failure.
func (t *Transaction) Succeeded() bool {
	if len(t.Ret) == 0 {
		return true
	}
	return t.Ret[0].ContractRet == "" || t.Ret[0].ContractRet == "SUCCESS"
}

type blockByNumRequest struct {
	Num uint64 `json:"num"`
}
