// Package substrate dispatches attested messages to a Substrate chain
// by calling the bridge pallet's relay extrinsic. Finality comes from
// the author subscription; execution success is confirmed by reading
// the pallet's relayed-messages storage after finalization.
package substrate

import (
	"context"
	"fmt"
	"strings"
	"time"

	gsrpc "github.com/centrifuge/go-substrate-rpc-client/v4"
	"github.com/centrifuge/go-substrate-rpc-client/v4/signature"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types/codec"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"

	"github.com/etrid/flarebridge/internal/adapters/destination"
	apperrors "github.com/etrid/flarebridge/internal/domain/errors"
	"github.com/etrid/flarebridge/pkg/crypto"
)

const (
	defaultPallet          = "EtridBridge"
	defaultCall            = "relay_message"
	defaultRelayedMap      = "RelayedMessages"
	defaultSS58Prefix      = 42
	defaultFinalityTimeout = 2 * time.Minute
)

// Config represents Substrate destination configuration
type Config struct {
	Domain          uint32
	WSURL           string
	SignerSeed      string
	SS58Prefix      uint16
	Pallet          string
	Call            string
	RelayedMap      string
	FinalityTimeout time.Duration
}

// Dispatcher submits relay extrinsics to the bridge pallet
type Dispatcher struct {
	config         Config
	api            *gsrpc.SubstrateAPI
	meta           *types.Metadata
	signer         signature.KeyringPair
	genesisHash    types.Hash
	runtimeVersion *types.RuntimeVersion
	logger         *zap.Logger
}

// Ensure Dispatcher implements the destination interface
var _ destination.Dispatcher = (*Dispatcher)(nil)

// NewDispatcher connects to the node and loads chain metadata
func NewDispatcher(config Config, logger *zap.Logger) (*Dispatcher, error) {
	if config.WSURL == "" {
		return nil, fmt.Errorf("substrate dispatcher: websocket URL is required")
	}
	if config.SignerSeed == "" {
		return nil, fmt.Errorf("substrate dispatcher: signer seed is required")
	}
	if config.SS58Prefix == 0 {
		config.SS58Prefix = defaultSS58Prefix
	}
	if config.Pallet == "" {
		config.Pallet = defaultPallet
	}
	if config.Call == "" {
		config.Call = defaultCall
	}
	if config.RelayedMap == "" {
		config.RelayedMap = defaultRelayedMap
	}
	if config.FinalityTimeout == 0 {
		config.FinalityTimeout = defaultFinalityTimeout
	}

	api, err := gsrpc.NewSubstrateAPI(config.WSURL)
	if err != nil {
		return nil, fmt.Errorf("substrate dispatcher: connect %s: %w", config.WSURL, err)
	}

	meta, err := api.RPC.State.GetMetadataLatest()
	if err != nil {
		return nil, fmt.Errorf("substrate dispatcher: fetch metadata: %w", err)
	}
	genesisHash, err := api.RPC.Chain.GetBlockHash(0)
	if err != nil {
		return nil, fmt.Errorf("substrate dispatcher: fetch genesis hash: %w", err)
	}
	runtimeVersion, err := api.RPC.State.GetRuntimeVersionLatest()
	if err != nil {
		return nil, fmt.Errorf("substrate dispatcher: fetch runtime version: %w", err)
	}

	signer, err := signature.KeyringPairFromSecret(config.SignerSeed, config.SS58Prefix)
	if err != nil {
		return nil, fmt.Errorf("substrate dispatcher: derive signer: %w", err)
	}

	logger.Info("substrate dispatcher connected",
		zap.Uint32("domain", config.Domain),
		zap.String("signer", signer.Address),
		zap.Uint32("spec_version", uint32(runtimeVersion.SpecVersion)))

	return &Dispatcher{
		config:         config,
		api:            api,
		meta:           meta,
		signer:         signer,
		genesisHash:    genesisHash,
		runtimeVersion: runtimeVersion,
		logger:         logger,
	}, nil
}

func (d *Dispatcher) Domain() uint32 {
	return d.config.Domain
}

func (d *Dispatcher) SignerAccount() string {
	return d.signer.Address
}

// PendingNonce reads the signer's account nonce from chain state
func (d *Dispatcher) PendingNonce(ctx context.Context) (uint64, error) {
	key, err := types.CreateStorageKey(d.meta, "System", "Account", d.signer.PublicKey)
	if err != nil {
		return 0, fmt.Errorf("create account storage key: %w", err)
	}

	var info types.AccountInfo
	ok, err := d.api.RPC.State.GetStorageLatest(key, &info)
	if err != nil {
		return 0, fmt.Errorf("read account info: %w", err)
	}
	if !ok {
		return 0, nil
	}
	return uint64(info.Nonce), nil
}

// AlreadyRelayed reads the pallet's relayed-messages map
func (d *Dispatcher) AlreadyRelayed(ctx context.Context, messageHash string) (bool, error) {
	digest, err := crypto.DecodeDigestHex(messageHash)
	if err != nil {
		return false, fmt.Errorf("decode message hash: %w", err)
	}

	key, err := types.CreateStorageKey(d.meta, d.config.Pallet, d.config.RelayedMap, digest[:])
	if err != nil {
		return false, fmt.Errorf("create relayed storage key: %w", err)
	}

	var relayed types.Bool
	ok, err := d.api.RPC.State.GetStorageLatest(key, &relayed)
	if err != nil {
		return false, fmt.Errorf("read relayed flag: %w", err)
	}
	return ok && bool(relayed), nil
}

// Dispatch signs and submits the relay extrinsic, then waits for
// finalization and confirms execution through pallet storage.
func (d *Dispatcher) Dispatch(ctx context.Context, req destination.Request) (*destination.Receipt, error) {
	call, err := types.NewCall(d.meta,
		fmt.Sprintf("%s.%s", d.config.Pallet, d.config.Call),
		types.NewBytes(req.Message),
		types.NewBytes(req.Signatures))
	if err != nil {
		return nil, apperrors.DeterministicRejectionError(d.config.Domain, fmt.Sprintf("build call: %v", err))
	}

	ext := types.NewExtrinsic(call)
	opts := types.SignatureOptions{
		BlockHash:          d.genesisHash,
		Era:                types.ExtrinsicEra{IsMortalEra: false},
		GenesisHash:        d.genesisHash,
		Nonce:              types.NewUCompactFromUInt(req.Nonce),
		SpecVersion:        d.runtimeVersion.SpecVersion,
		TransactionVersion: d.runtimeVersion.TransactionVersion,
		Tip:                types.NewUCompactFromUInt(0),
	}
	if err := ext.Sign(d.signer, opts); err != nil {
		return nil, apperrors.DeterministicRejectionError(d.config.Domain, fmt.Sprintf("sign extrinsic: %v", err))
	}

	encoded, err := codec.Encode(ext)
	if err != nil {
		return nil, apperrors.DeterministicRejectionError(d.config.Domain, fmt.Sprintf("encode extrinsic: %v", err))
	}
	extHash := blake2b.Sum256(encoded)
	txRef := fmt.Sprintf("%#x", extHash)

	sub, err := d.api.RPC.Author.SubmitAndWatchExtrinsic(ext)
	if err != nil {
		return nil, d.classifySubmitError(ctx, req.MessageHash, err)
	}
	defer sub.Unsubscribe()

	d.logger.Info("relay extrinsic submitted",
		zap.String("message_hash", req.MessageHash),
		zap.String("tx", txRef),
		zap.Uint64("nonce", req.Nonce))

	timeout := time.NewTimer(d.config.FinalityTimeout)
	defer timeout.Stop()

	for {
		select {
		case status, ok := <-sub.Chan():
			if !ok {
				return nil, apperrors.TransientDispatchError(d.config.Domain, fmt.Errorf("status stream closed"))
			}
			receipt, done, err := d.handleStatus(ctx, req, txRef, status)
			if done {
				return receipt, err
			}
		case err := <-sub.Err():
			return nil, apperrors.TransientDispatchError(d.config.Domain, fmt.Errorf("subscription: %w", err))
		case <-timeout.C:
			return nil, apperrors.TransientDispatchError(d.config.Domain, fmt.Errorf("finality timeout after %s", d.config.FinalityTimeout))
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (d *Dispatcher) handleStatus(ctx context.Context, req destination.Request, txRef string, status types.ExtrinsicStatus) (*destination.Receipt, bool, error) {
	switch {
	case status.IsFinalized:
		relayed, err := d.AlreadyRelayed(ctx, req.MessageHash)
		if err != nil {
			return nil, true, apperrors.TransientDispatchError(d.config.Domain, fmt.Errorf("verify execution: %w", err))
		}
		if !relayed {
			// Finalized but the pallet never recorded the message, so
			// the call failed in execution.
			return nil, true, apperrors.DeterministicRejectionError(d.config.Domain, "extrinsic finalized without recording the message")
		}
		d.logger.Info("relay extrinsic finalized",
			zap.String("message_hash", req.MessageHash),
			zap.String("tx", txRef),
			zap.String("block", status.AsFinalized.Hex()))
		return &destination.Receipt{TxReference: txRef, FinalizedAt: time.Now().UTC()}, true, nil

	case status.IsDropped:
		return nil, true, apperrors.TransientDispatchError(d.config.Domain, fmt.Errorf("extrinsic dropped from pool"))
	case status.IsUsurped:
		return nil, true, apperrors.TransientDispatchError(d.config.Domain, fmt.Errorf("extrinsic usurped by nonce %d", req.Nonce))
	case status.IsInvalid:
		return nil, true, apperrors.TransientDispatchError(d.config.Domain, fmt.Errorf("extrinsic reported invalid"))
	case status.IsFinalityTimeout:
		return nil, true, apperrors.TransientDispatchError(d.config.Domain, fmt.Errorf("node finality timeout"))
	case status.IsInBlock:
		d.logger.Debug("relay extrinsic in block",
			zap.String("message_hash", req.MessageHash),
			zap.String("block", status.AsInBlock.Hex()))
	}
	return nil, false, nil
}

// classifySubmitError maps author RPC rejections onto domain errors.
// Pallet-level rejections surface as custom invalid-transaction errors;
// nonce races surface as outdated or low-priority errors.
func (d *Dispatcher) classifySubmitError(ctx context.Context, messageHash string, err error) error {
	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "outdated") ||
		strings.Contains(msg, "priority is too low") ||
		strings.Contains(msg, "already imported"):
		return apperrors.TransientDispatchError(d.config.Domain, err)

	case strings.Contains(msg, "custom error") ||
		strings.Contains(msg, "bad proof") ||
		strings.Contains(msg, "bad signature"):
		if relayed, checkErr := d.AlreadyRelayed(ctx, messageHash); checkErr == nil && relayed {
			return apperrors.AlreadyRelayedError(messageHash)
		}
		return apperrors.DeterministicRejectionError(d.config.Domain, err.Error())

	default:
		return apperrors.TransientDispatchError(d.config.Domain, err)
	}
}

func (d *Dispatcher) Close() error {
	return nil
}
