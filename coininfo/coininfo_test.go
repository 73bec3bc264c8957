package coininfo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHDKeyIDs(t *testing.T) {
	assert.Equal(t, [4]byte{0x04, 0x88, 0xad, 0xe4}, NetworkMainnet.HDKeyID(true))
	assert.Equal(t, [4]byte{0x04, 0x88, 0xb2, 0x1e}, NetworkMainnet.HDKeyID(false))
	assert.Equal(t, [4]byte{0x04, 0x35, 0x83, 0x94}, NetworkTestnet.HDKeyID(true))
	assert.Equal(t, [4]byte{0x04, 0x35, 0x87, 0xcf}, NetworkTestnet.HDKeyID(false))
}

func TestNetworkForKeyID(t *testing.T) {
	net, private, ok := NetworkForKeyID([4]byte{0x04, 0x88, 0xad, 0xe4})
	require.True(t, ok)
	assert.Equal(t, NetworkMainnet, net)
	assert.True(t, private)

	net, private, ok = NetworkForKeyID([4]byte{0x04, 0x35, 0x87, 0xcf})
	require.True(t, ok)
	assert.Equal(t, NetworkTestnet, net)
	assert.False(t, private)

	_, _, ok = NetworkForKeyID([4]byte{0xde, 0xad, 0xbe, 0xef})
	assert.False(t, ok)
}

func TestDefault(t *testing.T) {
	assert.True(t, Default().IsDefault())
	assert.False(t, Info{Network: NetworkTestnet}.IsDefault())
	assert.False(t, Info{Asset: 60}.IsDefault())
}

func TestCBORRoundTrip(t *testing.T) {
	for _, info := range []Info{
		Default(),
		{Asset: AssetBTC, Network: NetworkTestnet},
		{Asset: 60, Network: NetworkMainnet},
	} {
		enc, err := info.TaggedCBOR()
		require.NoError(t, err)
		got, err := DecodeTaggedCBOR(enc)
		require.NoError(t, err)
		assert.Equal(t, info, got)
	}
}

func TestDefaultIsElided(t *testing.T) {
	enc, err := Default().TaggedCBOR()
	require.NoError(t, err)
	// tag(305) wrapping an empty map.
	assert.Equal(t, []byte{0xd9, 0x01, 0x31, 0xa0}, enc)
}

func TestDecodeRejectsUnknownKeys(t *testing.T) {
	// tag(305) {3: 0}
	_, err := DecodeTaggedCBOR([]byte{0xd9, 0x01, 0x31, 0xa1, 0x03, 0x00})
	assert.ErrorIs(t, err, ErrInvalidFormat)
}
