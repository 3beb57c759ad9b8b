package entities

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/big"

	solsha3 "github.com/miguelmota/go-solidity-sha3"
)

// MessageLength is the fixed size of an encoded bridge message:
// 4 (source domain) + 4 (destination domain) + 8 (nonce) +
// 32 (recipient) + 32 (amount).
const MessageLength = 80

// Message is the canonical cross-chain payload constructed from an emitted
// deposit and relayed to a destination ledger. Its hash is what attesters
// sign, so the encoding must be identical across every relayer instance.
type Message struct {
	SourceDomain      uint32
	DestinationDomain uint32
	Nonce             uint64
	Recipient         [32]byte
	Amount            *big.Int
}

// Encode packs the message into its fixed 80-byte wire form
func (m Message) Encode() []byte {
	buf := make([]byte, MessageLength)
	binary.BigEndian.PutUint32(buf[0:4], m.SourceDomain)
	binary.BigEndian.PutUint32(buf[4:8], m.DestinationDomain)
	binary.BigEndian.PutUint64(buf[8:16], m.Nonce)
	copy(buf[16:48], m.Recipient[:])
	m.Amount.FillBytes(buf[48:80])
	return buf
}

// DecodeMessage unpacks an 80-byte wire message
func DecodeMessage(data []byte) (Message, error) {
	if len(data) != MessageLength {
		return Message{}, fmt.Errorf("message must be %d bytes, got %d", MessageLength, len(data))
	}
	var m Message
	m.SourceDomain = binary.BigEndian.Uint32(data[0:4])
	m.DestinationDomain = binary.BigEndian.Uint32(data[4:8])
	m.Nonce = binary.BigEndian.Uint64(data[8:16])
	copy(m.Recipient[:], data[16:48])
	m.Amount = new(big.Int).SetBytes(data[48:80])
	return m, nil
}

// Hash computes the canonical keccak digest every attester signs
func (m Message) Hash() [32]byte {
	digest := solsha3.SoliditySHA3(
		// types
		[]string{"uint32", "uint32", "uint64", "bytes32", "uint256"},
		// values
		[]interface{}{
			m.SourceDomain,
			m.DestinationDomain,
			m.Nonce,
			m.Recipient,
			m.Amount,
		},
	)
	var out [32]byte
	copy(out[:], digest)
	return out
}

// HashHex returns the canonical message hash as a 0x-prefixed hex string
func (m Message) HashHex() string {
	h := m.Hash()
	return "0x" + hex.EncodeToString(h[:])
}

// RecipientHex returns the recipient account as a 0x-prefixed hex string
func (m Message) RecipientHex() string {
	return "0x" + hex.EncodeToString(m.Recipient[:])
}
