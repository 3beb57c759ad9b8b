// Package evm dispatches attested messages to an EVM chain by calling
// the receiver contract's receiveMessage function and waiting for the
// transaction to reach the configured confirmation depth.
package evm

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/etrid/flarebridge/internal/adapters/destination"
	apperrors "github.com/etrid/flarebridge/internal/domain/errors"
	"github.com/etrid/flarebridge/pkg/crypto"
)

const receiverABI = `[
	{"type":"function","name":"receiveMessage","stateMutability":"nonpayable","inputs":[{"name":"message","type":"bytes"},{"name":"attestation","type":"bytes"}],"outputs":[{"name":"success","type":"bool"}]},
	{"type":"function","name":"relayed","stateMutability":"view","inputs":[{"name":"messageHash","type":"bytes32"}],"outputs":[{"name":"","type":"bool"}]}
]`

const (
	defaultPollInterval      = 3 * time.Second
	defaultConfirmationDepth = 12
	defaultFinalityTimeout   = 3 * time.Minute
	connectTimeout           = 15 * time.Second
)

// Config represents EVM destination configuration
type Config struct {
	Domain            uint32
	RPCURL            string
	ContractAddress   string
	PrivateKey        string
	GasLimit          uint64
	ConfirmationDepth uint64
	PollInterval      time.Duration
	FinalityTimeout   time.Duration
}

// Dispatcher submits receiveMessage transactions to the receiver contract
type Dispatcher struct {
	config     Config
	client     *ethclient.Client
	contract   common.Address
	receiver   abi.ABI
	key        *ecdsa.PrivateKey
	signerAddr common.Address
	signer     types.Signer
	logger     *zap.Logger
}

// Ensure Dispatcher implements the destination interface
var _ destination.Dispatcher = (*Dispatcher)(nil)

// NewDispatcher connects to the node and prepares the signing identity
func NewDispatcher(config Config, logger *zap.Logger) (*Dispatcher, error) {
	if config.RPCURL == "" {
		return nil, fmt.Errorf("evm dispatcher: RPC URL is required")
	}
	if !common.IsHexAddress(config.ContractAddress) {
		return nil, fmt.Errorf("evm dispatcher: invalid contract address %q", config.ContractAddress)
	}
	if config.PollInterval == 0 {
		config.PollInterval = defaultPollInterval
	}
	if config.ConfirmationDepth == 0 {
		config.ConfirmationDepth = defaultConfirmationDepth
	}
	if config.FinalityTimeout == 0 {
		config.FinalityTimeout = defaultFinalityTimeout
	}

	key, err := crypto.ParsePrivateKey(config.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("evm dispatcher: parse private key: %w", err)
	}

	receiver, err := abi.JSON(strings.NewReader(receiverABI))
	if err != nil {
		return nil, fmt.Errorf("evm dispatcher: parse receiver ABI: %w", err)
	}

	client, err := ethclient.Dial(config.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("evm dispatcher: dial %s: %w", config.RPCURL, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("evm dispatcher: fetch chain ID: %w", err)
	}

	signerAddr := ethcrypto.PubkeyToAddress(key.PublicKey)
	logger.Info("evm dispatcher connected",
		zap.Uint32("domain", config.Domain),
		zap.String("signer", signerAddr.Hex()),
		zap.String("chain_id", chainID.String()))

	return &Dispatcher{
		config:     config,
		client:     client,
		contract:   common.HexToAddress(config.ContractAddress),
		receiver:   receiver,
		key:        key,
		signerAddr: signerAddr,
		signer:     types.LatestSignerForChainID(chainID),
		logger:     logger,
	}, nil
}

func (d *Dispatcher) Domain() uint32 {
	return d.config.Domain
}

func (d *Dispatcher) SignerAccount() string {
	return d.signerAddr.Hex()
}

// PendingNonce reads the signer's next nonce including pending transactions
func (d *Dispatcher) PendingNonce(ctx context.Context) (uint64, error) {
	nonce, err := d.client.PendingNonceAt(ctx, d.signerAddr)
	if err != nil {
		return 0, fmt.Errorf("pending nonce: %w", err)
	}
	return nonce, nil
}

// AlreadyRelayed queries the receiver contract's relayed map
func (d *Dispatcher) AlreadyRelayed(ctx context.Context, messageHash string) (bool, error) {
	digest, err := crypto.DecodeDigestHex(messageHash)
	if err != nil {
		return false, fmt.Errorf("decode message hash: %w", err)
	}

	calldata, err := d.receiver.Pack("relayed", digest)
	if err != nil {
		return false, fmt.Errorf("pack relayed call: %w", err)
	}
	raw, err := d.client.CallContract(ctx, ethereum.CallMsg{To: &d.contract, Data: calldata}, nil)
	if err != nil {
		return false, fmt.Errorf("call relayed: %w", err)
	}

	out, err := d.receiver.Unpack("relayed", raw)
	if err != nil {
		return false, fmt.Errorf("unpack relayed result: %w", err)
	}
	relayed, ok := out[0].(bool)
	if !ok {
		return false, fmt.Errorf("unexpected relayed result type %T", out[0])
	}
	return relayed, nil
}

// Dispatch signs and sends the receiveMessage transaction, then waits
// for the configured confirmation depth.
func (d *Dispatcher) Dispatch(ctx context.Context, req destination.Request) (*destination.Receipt, error) {
	calldata, err := d.receiver.Pack("receiveMessage", req.Message, req.Signatures)
	if err != nil {
		return nil, apperrors.DeterministicRejectionError(d.config.Domain, fmt.Sprintf("pack calldata: %v", err))
	}

	gasPrice, err := d.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, apperrors.TransientDispatchError(d.config.Domain, fmt.Errorf("suggest gas price: %w", err))
	}

	gasLimit := d.config.GasLimit
	if gasLimit == 0 {
		gasLimit, err = d.client.EstimateGas(ctx, ethereum.CallMsg{
			From: d.signerAddr,
			To:   &d.contract,
			Data: calldata,
		})
		if err != nil {
			return nil, d.classifySendError(ctx, req.MessageHash, fmt.Errorf("estimate gas: %w", err))
		}
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    req.Nonce,
		GasPrice: gasPrice,
		Gas:      gasLimit,
		To:       &d.contract,
		Value:    big.NewInt(0),
		Data:     calldata,
	})
	signed, err := types.SignTx(tx, d.signer, d.key)
	if err != nil {
		return nil, apperrors.DeterministicRejectionError(d.config.Domain, fmt.Sprintf("sign transaction: %v", err))
	}

	if err := d.client.SendTransaction(ctx, signed); err != nil {
		return nil, d.classifySendError(ctx, req.MessageHash, err)
	}

	d.logger.Info("relay transaction sent",
		zap.String("message_hash", req.MessageHash),
		zap.String("tx", signed.Hash().Hex()),
		zap.Uint64("nonce", req.Nonce))

	return d.waitFinalized(ctx, signed.Hash(), req.MessageHash)
}

func (d *Dispatcher) waitFinalized(ctx context.Context, txHash common.Hash, messageHash string) (*destination.Receipt, error) {
	deadline := time.NewTimer(d.config.FinalityTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(d.config.PollInterval)
	defer ticker.Stop()

	var included *types.Receipt
	for {
		select {
		case <-ticker.C:
			if included == nil {
				receipt, err := d.client.TransactionReceipt(ctx, txHash)
				if err != nil {
					if !errors.Is(err, ethereum.NotFound) {
						d.logger.Debug("receipt poll failed", zap.String("tx", txHash.Hex()), zap.Error(err))
					}
					continue
				}
				if receipt.Status == types.ReceiptStatusFailed {
					if relayed, cerr := d.AlreadyRelayed(ctx, messageHash); cerr == nil && relayed {
						return nil, apperrors.AlreadyRelayedError(messageHash)
					}
					return nil, apperrors.DeterministicRejectionError(d.config.Domain, "execution reverted on chain")
				}
				included = receipt
			}

			head, err := d.client.BlockNumber(ctx)
			if err != nil {
				continue
			}
			if head+1 >= included.BlockNumber.Uint64()+d.config.ConfirmationDepth {
				d.logger.Info("relay transaction finalized",
					zap.String("message_hash", messageHash),
					zap.String("tx", txHash.Hex()),
					zap.Uint64("block", included.BlockNumber.Uint64()))
				return &destination.Receipt{TxReference: txHash.Hex(), FinalizedAt: time.Now().UTC()}, nil
			}

		case <-deadline.C:
			return nil, apperrors.TransientDispatchError(d.config.Domain, fmt.Errorf("finality timeout after %s", d.config.FinalityTimeout))
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// classifySendError maps node rejections onto domain errors. Reverts
// are deterministic; nonce and pool races are worth retrying.
func (d *Dispatcher) classifySendError(ctx context.Context, messageHash string, err error) error {
	if reason := revertReason(err); reason != "" {
		if relayed, cerr := d.AlreadyRelayed(ctx, messageHash); cerr == nil && relayed {
			return apperrors.AlreadyRelayedError(messageHash)
		}
		return apperrors.DeterministicRejectionError(d.config.Domain, fmt.Sprintf("execution reverted: %s", reason))
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "execution reverted"):
		if relayed, cerr := d.AlreadyRelayed(ctx, messageHash); cerr == nil && relayed {
			return apperrors.AlreadyRelayedError(messageHash)
		}
		return apperrors.DeterministicRejectionError(d.config.Domain, err.Error())
	default:
		return apperrors.TransientDispatchError(d.config.Domain, err)
	}
}

// revertReason extracts the ABI-encoded revert string when the node
// attaches error data
func revertReason(err error) string {
	type dataError interface {
		ErrorData() interface{}
	}
	var de dataError
	if !errors.As(err, &de) {
		return ""
	}
	encoded, ok := de.ErrorData().(string)
	if !ok {
		return ""
	}
	data := common.FromHex(encoded)
	if len(data) < 4 {
		return ""
	}
	reason, uerr := abi.UnpackRevert(data)
	if uerr != nil {
		return ""
	}
	return reason
}

func (d *Dispatcher) Close() error {
	d.client.Close()
	return nil
}
