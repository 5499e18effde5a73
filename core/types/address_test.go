package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseAddressRoundTrip(t *testing.T) {
	addr, err := ParseAddress("0x00000000000000000000000000000000000000a1")
	require.NoError(t, err)
	require.Equal(t, "0x00000000000000000000000000000000000000a1", addr.String())

	bare, err := ParseAddress("00000000000000000000000000000000000000a1")
	require.NoError(t, err)
	require.Equal(t, addr, bare)
}

func TestParseAddressRejectsBadInput(t *testing.T) {
	for _, input := range []string{"", "0x1234", "zz", "0x" + string(make([]byte, 40))} {
		_, err := ParseAddress(input)
		require.Error(t, err, "input %q", input)
	}
}

func TestBytesToAddressAlignment(t *testing.T) {
	addr := BytesToAddress([]byte{0x01})
	require.Equal(t, byte(0x01), addr[AddressLength-1])
	require.True(t, BytesToAddress(nil).IsZero())
}

func TestAddressJSON(t *testing.T) {
	addr := Address{0x0a}
	encoded, err := json.Marshal(addr)
	require.NoError(t, err)

	var decoded Address
	require.NoError(t, json.Unmarshal(encoded, &decoded))
	require.Equal(t, addr, decoded)
}
