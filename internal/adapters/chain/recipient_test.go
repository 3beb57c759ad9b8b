package chain

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/etrid/flarebridge/internal/domain/entities"
)

func TestDecodeRecipientRaw32(t *testing.T) {
	var want [32]byte
	for i := range want {
		want[i] = byte(i + 1)
	}

	got, err := DecodeRecipient(entities.RecipientFormatRaw32, want[:])
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = DecodeRecipient(entities.RecipientFormatRaw32, want[:31])
	assert.Error(t, err)

	_, err = DecodeRecipient(entities.RecipientFormatRaw32, append(want[:], 0xff))
	assert.Error(t, err)
}

func TestDecodeRecipientHex32(t *testing.T) {
	raw := strings.Repeat("ab", 32)
	var want [32]byte
	decoded, err := hex.DecodeString(raw)
	require.NoError(t, err)
	copy(want[:], decoded)

	cases := []struct {
		name    string
		payload string
		wantErr bool
	}{
		{name: "with 0x prefix", payload: "0x" + raw},
		{name: "without prefix", payload: raw},
		{name: "uppercase", payload: "0x" + strings.ToUpper(raw)},
		{name: "surrounding whitespace", payload: "  0x" + raw + "\n"},
		{name: "too short", payload: "0x" + raw[:62], wantErr: true},
		{name: "not hex", payload: "0x" + strings.Repeat("zz", 32), wantErr: true},
		{name: "empty", payload: "", wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := DecodeRecipient(entities.RecipientFormatHex32, []byte(tc.payload))
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestDecodeRecipientHex32TrimsNulPadding(t *testing.T) {
	raw := strings.Repeat("cd", 32)
	payload := append([]byte("0x"+raw), 0x00, 0x00)

	got, err := DecodeRecipient(entities.RecipientFormatHex32, payload)
	require.NoError(t, err)

	decoded, _ := hex.DecodeString(raw)
	assert.Equal(t, decoded, got[:])
}

func TestDecodeRecipientBase58(t *testing.T) {
	var want [32]byte
	for i := range want {
		want[i] = byte(255 - i)
	}
	encoded := base58.Encode(want[:])

	got, err := DecodeRecipient(entities.RecipientFormatBase58, []byte(encoded))
	require.NoError(t, err)
	assert.Equal(t, want, got)

	// The system program address is thirty-two zero bytes.
	got, err = DecodeRecipient(entities.RecipientFormatBase58, []byte(strings.Repeat("1", 32)))
	require.NoError(t, err)
	assert.Equal(t, [32]byte{}, got)

	_, err = DecodeRecipient(entities.RecipientFormatBase58, []byte(base58.Encode(want[:16])))
	assert.Error(t, err)

	_, err = DecodeRecipient(entities.RecipientFormatBase58, []byte("0OIl"))
	assert.Error(t, err)
}

func TestDecodeRecipientSS58(t *testing.T) {
	// Well-known development account on the generic substrate prefix.
	const address = "5GrwvaEF5zXb26Fz9rcQpDWS57CtERHpNehXCPcNoHGKutQY"
	const pubkeyHex = "d43593c715fdd31c61141abd04a99fd6822c8558854ccde39a5684e7a56da27d"

	want, err := hex.DecodeString(pubkeyHex)
	require.NoError(t, err)

	got, err := DecodeRecipient(entities.RecipientFormatSS58, []byte(address))
	require.NoError(t, err)
	assert.Equal(t, want, got[:])

	// Corrupting the tail breaks the embedded checksum.
	bad := address[:len(address)-1] + "X"
	_, err = DecodeRecipient(entities.RecipientFormatSS58, []byte(bad))
	assert.Error(t, err)

	_, err = DecodeRecipient(entities.RecipientFormatSS58, []byte(""))
	assert.Error(t, err)
}

func TestDecodeRecipientUnknownFormat(t *testing.T) {
	_, err := DecodeRecipient(entities.RecipientFormat("utf8"), []byte("anything"))
	assert.Error(t, err)
}

func TestDepth(t *testing.T) {
	cases := []struct {
		name     string
		head     uint64
		observed uint64
		want     uint64
	}{
		{name: "same block", head: 100, observed: 100, want: 1},
		{name: "one behind", head: 101, observed: 100, want: 2},
		{name: "deep", head: 150, observed: 100, want: 51},
		{name: "head behind observation", head: 99, observed: 100, want: 0},
		{name: "zero head", head: 0, observed: 0, want: 1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Depth(tc.head, tc.observed))
		})
	}
}
