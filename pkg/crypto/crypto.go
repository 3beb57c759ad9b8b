// Package crypto provides the signature primitives shared by the attestation
// aggregator and the destination dispatchers. Attester signatures are 65-byte
// secp256k1 recoverable signatures [R || S || V] over a 32-byte message
// digest, with V carried as 27/28 on the wire.
package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// SignatureLength is the wire size of a recoverable signature
const SignatureLength = 65

// ParsePrivateKey decodes a hex-encoded secp256k1 private key
func ParsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	key, err := ethcrypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return key, nil
}

// AddressFromPrivateKey derives the 0x-hex signer address for a key
func AddressFromPrivateKey(key *ecdsa.PrivateKey) string {
	return strings.ToLower(ethcrypto.PubkeyToAddress(key.PublicKey).Hex())
}

// AddressFromPublicKeyHex derives the 0x-hex signer address from a
// hex-encoded secp256k1 public key, compressed or uncompressed.
func AddressFromPublicKeyHex(hexKey string) (string, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return "", fmt.Errorf("failed to decode public key hex: %w", err)
	}

	var pubKey *ecdsa.PublicKey
	switch len(raw) {
	case 65:
		pubKey, err = ethcrypto.UnmarshalPubkey(raw)
	case 33:
		pubKey, err = ethcrypto.DecompressPubkey(raw)
	default:
		return "", fmt.Errorf("public key must be 33 or 65 bytes, got %d", len(raw))
	}
	if err != nil {
		return "", fmt.Errorf("failed to parse public key: %w", err)
	}
	return strings.ToLower(ethcrypto.PubkeyToAddress(*pubKey).Hex()), nil
}

// Sign produces a recoverable signature over the digest with V in 27/28 form
func Sign(digest [32]byte, key *ecdsa.PrivateKey) ([]byte, error) {
	sig, err := ethcrypto.Sign(digest[:], key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign digest: %w", err)
	}
	if sig[64] == 0 || sig[64] == 1 {
		sig[64] += 27
	}
	return sig, nil
}

// RecoverSigner recovers the 0x-hex address that produced the signature.
// Both V conventions (0/1 and 27/28) are accepted.
func RecoverSigner(digest [32]byte, signature []byte) (string, error) {
	if len(signature) != SignatureLength {
		return "", fmt.Errorf("signature must be %d bytes, got %d", SignatureLength, len(signature))
	}

	sig := make([]byte, SignatureLength)
	copy(sig, signature)
	if sig[64] == 27 || sig[64] == 28 {
		sig[64] -= 27
	}
	if sig[64] != 0 && sig[64] != 1 {
		return "", fmt.Errorf("invalid recovery id: %d", signature[64])
	}

	pubKey, err := ethcrypto.SigToPub(digest[:], sig)
	if err != nil {
		return "", fmt.Errorf("failed to recover public key: %w", err)
	}
	return strings.ToLower(ethcrypto.PubkeyToAddress(*pubKey).Hex()), nil
}

// VerifySignature checks that the signature over the digest was produced by
// the expected 0x-hex address.
func VerifySignature(digest [32]byte, signature []byte, address string) error {
	recovered, err := RecoverSigner(digest, signature)
	if err != nil {
		return err
	}
	if !strings.EqualFold(recovered, address) {
		return fmt.Errorf("signature recovered %s, expected %s", recovered, address)
	}
	return nil
}

// DecodeSignatureHex parses a 0x-hex signature string into bytes
func DecodeSignatureHex(s string) ([]byte, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to decode signature hex: %w", err)
	}
	if len(raw) != SignatureLength {
		return nil, fmt.Errorf("signature must be %d bytes, got %d", SignatureLength, len(raw))
	}
	return raw, nil
}

// DecodeDigestHex parses a 0x-hex 32-byte digest string
func DecodeDigestHex(s string) ([32]byte, error) {
	var digest [32]byte
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return digest, fmt.Errorf("failed to decode digest hex: %w", err)
	}
	if len(raw) != 32 {
		return digest, fmt.Errorf("digest must be 32 bytes, got %d", len(raw))
	}
	copy(digest[:], raw)
	return digest, nil
}
