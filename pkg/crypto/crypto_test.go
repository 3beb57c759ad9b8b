package crypto

import (
	"encoding/hex"
	"strings"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDigest() [32]byte {
	var d [32]byte
	copy(d[:], ethcrypto.Keccak256([]byte("bridge message")))
	return d
}

func TestParsePrivateKey(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	keyHex := hex.EncodeToString(ethcrypto.FromECDSA(key))

	parsed, err := ParsePrivateKey(keyHex)
	require.NoError(t, err)
	assert.Equal(t, AddressFromPrivateKey(key), AddressFromPrivateKey(parsed))

	// 0x prefix is accepted too.
	parsed, err = ParsePrivateKey("0x" + keyHex)
	require.NoError(t, err)
	assert.Equal(t, AddressFromPrivateKey(key), AddressFromPrivateKey(parsed))

	_, err = ParsePrivateKey("zz")
	assert.Error(t, err)
}

func TestSignRecoverRoundTrip(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	digest := testDigest()

	sig, err := Sign(digest, key)
	require.NoError(t, err)
	require.Len(t, sig, SignatureLength)

	// V travels as 27/28.
	assert.Contains(t, []byte{27, 28}, sig[64])

	recovered, err := RecoverSigner(digest, sig)
	require.NoError(t, err)
	assert.Equal(t, AddressFromPrivateKey(key), recovered)
}

func TestRecoverSignerAcceptsBothVConventions(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	digest := testDigest()

	sig, err := Sign(digest, key)
	require.NoError(t, err)

	legacy := make([]byte, SignatureLength)
	copy(legacy, sig)
	legacy[64] -= 27

	fromWire, err := RecoverSigner(digest, sig)
	require.NoError(t, err)
	fromLegacy, err := RecoverSigner(digest, legacy)
	require.NoError(t, err)
	assert.Equal(t, fromWire, fromLegacy)
}

func TestRecoverSignerRejectsMalformedSignatures(t *testing.T) {
	digest := testDigest()

	_, err := RecoverSigner(digest, make([]byte, 64))
	assert.Error(t, err)

	bad := make([]byte, SignatureLength)
	bad[64] = 9
	_, err = RecoverSigner(digest, bad)
	assert.Error(t, err)
}

func TestVerifySignature(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	digest := testDigest()

	sig, err := Sign(digest, key)
	require.NoError(t, err)

	addr := AddressFromPrivateKey(key)
	require.NoError(t, VerifySignature(digest, sig, addr))
	require.NoError(t, VerifySignature(digest, sig, strings.ToUpper(addr)))

	other, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	assert.Error(t, VerifySignature(digest, sig, AddressFromPrivateKey(other)))

	// A different digest recovers a different signer.
	var wrongDigest [32]byte
	wrongDigest[0] = 0xff
	assert.Error(t, VerifySignature(wrongDigest, sig, addr))
}

func TestAddressFromPublicKeyHex(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	want := AddressFromPrivateKey(key)

	uncompressed := hex.EncodeToString(ethcrypto.FromECDSAPub(&key.PublicKey))
	got, err := AddressFromPublicKeyHex(uncompressed)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	compressed := hex.EncodeToString(ethcrypto.CompressPubkey(&key.PublicKey))
	got, err = AddressFromPublicKeyHex("0x" + compressed)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = AddressFromPublicKeyHex("0x0102")
	assert.Error(t, err)

	_, err = AddressFromPublicKeyHex("not-hex")
	assert.Error(t, err)
}

func TestDecodeSignatureHex(t *testing.T) {
	raw := strings.Repeat("1b", SignatureLength)

	sig, err := DecodeSignatureHex("0x" + raw)
	require.NoError(t, err)
	assert.Len(t, sig, SignatureLength)

	sig, err = DecodeSignatureHex(" " + raw + "\n")
	require.NoError(t, err)
	assert.Len(t, sig, SignatureLength)

	_, err = DecodeSignatureHex("0x" + raw[:126])
	assert.Error(t, err)

	_, err = DecodeSignatureHex("0x" + strings.Repeat("zz", SignatureLength))
	assert.Error(t, err)
}

func TestDecodeDigestHex(t *testing.T) {
	raw := strings.Repeat("cd", 32)

	digest, err := DecodeDigestHex("0x" + raw)
	require.NoError(t, err)
	assert.Equal(t, byte(0xcd), digest[0])

	_, err = DecodeDigestHex("0x" + raw[:62])
	assert.Error(t, err)

	_, err = DecodeDigestHex("")
	assert.Error(t, err)
}
