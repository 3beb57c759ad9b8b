package chain

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/base58"
	"golang.org/x/crypto/blake2b"

	"github.com/etrid/flarebridge/internal/domain/entities"
)

// ss58Prefix is the context string hashed into every SS58 checksum
var ss58Prefix = []byte("SS58PRE")

// DecodeRecipient decodes a memo payload into the canonical 32-byte
// destination account using the chain-declared format. Payloads that do not
// decode exactly are rejected; the caller drops the event rather than
// emitting a deposit with a bad recipient.
func DecodeRecipient(format entities.RecipientFormat, payload []byte) ([32]byte, error) {
	var account [32]byte

	switch format {
	case entities.RecipientFormatRaw32:
		if len(payload) != 32 {
			return account, fmt.Errorf("raw recipient must be 32 bytes, got %d", len(payload))
		}
		copy(account[:], payload)
		return account, nil

	case entities.RecipientFormatHex32:
		text := normalizePayloadText(payload)
		text = strings.TrimPrefix(text, "0x")
		if len(text) != 64 {
			return account, fmt.Errorf("hex recipient must be 64 characters, got %d", len(text))
		}
		raw, err := hex.DecodeString(text)
		if err != nil {
			return account, fmt.Errorf("failed to decode hex recipient: %w", err)
		}
		copy(account[:], raw)
		return account, nil

	case entities.RecipientFormatBase58:
		text := normalizePayloadText(payload)
		raw := base58.Decode(text)
		if len(raw) != 32 {
			return account, fmt.Errorf("base58 recipient must decode to 32 bytes, got %d", len(raw))
		}
		copy(account[:], raw)
		return account, nil

	case entities.RecipientFormatSS58:
		text := normalizePayloadText(payload)
		raw, err := decodeSS58(text)
		if err != nil {
			return account, err
		}
		copy(account[:], raw)
		return account, nil

	default:
		return account, fmt.Errorf("unsupported recipient format: %s", format)
	}
}

// normalizePayloadText treats the payload as text, trimming whitespace and
// NUL padding some chains append to fixed-width memo fields.
func normalizePayloadText(payload []byte) string {
	return strings.TrimSpace(string(bytes.Trim(payload, "\x00")))
}

// decodeSS58 extracts the 32-byte public key from an SS58 address with a
// single-byte network prefix, verifying the blake2b checksum.
func decodeSS58(address string) ([]byte, error) {
	raw := base58.Decode(address)
	if len(raw) != 35 {
		return nil, fmt.Errorf("ss58 address must decode to 35 bytes, got %d", len(raw))
	}

	body := raw[:33]
	checksum := raw[33:]

	hasher, err := blake2b.New512(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build checksum hasher: %w", err)
	}
	hasher.Write(ss58Prefix)
	hasher.Write(body)
	digest := hasher.Sum(nil)

	if !bytes.Equal(checksum, digest[:2]) {
		return nil, fmt.Errorf("ss58 checksum mismatch")
	}
	return body[1:], nil
}

// EncodeAccountHex renders a canonical account as a 0x-prefixed hex string
func EncodeAccountHex(account [32]byte) string {
	return "0x" + hex.EncodeToString(account[:])
}
