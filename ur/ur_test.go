package ur

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	payloads := [][]byte{
		{0x00},
		{0xa2, 0x01, 0x01, 0x02, 0x41, 0xff},
		make([]byte, 100),
	}
	for _, payload := range payloads {
		s := Encode("crypto-hdkey", payload)
		assert.True(t, strings.HasPrefix(s, "ur:crypto-hdkey/"))
		assert.Equal(t, s, strings.ToLower(s))

		typ, got, err := Decode(s)
		require.NoError(t, err)
		assert.Equal(t, "crypto-hdkey", typ)
		assert.Equal(t, payload, got)
	}
}

func TestDecodeIsCaseInsensitive(t *testing.T) {
	s := Encode("crypto-account", []byte{0x01, 0x02})
	typ, payload, err := Decode(strings.ToUpper(s))
	require.NoError(t, err)
	assert.Equal(t, "crypto-account", typ)
	assert.Equal(t, []byte{0x01, 0x02}, payload)
}

func TestDecodeRejects(t *testing.T) {
	good := Encode("crypto-hdkey", []byte{0x01, 0x02, 0x03})

	for _, s := range []string{
		"",
		"crypto-hdkey/aeae",
		"ur:crypto-hdkey",
		"ur:/aeaeaeae",
		"ur:crypto-hdkey/",
		"ur:crypto-hdkey/abc",       // odd length
		"ur:crypto-hdkey/qqqqqqqqqq", // not bytewords
		good + "/extra",              // multi-part
	} {
		_, _, err := Decode(s)
		assert.ErrorIs(t, err, ErrInvalidUR, "input %q", s)
	}

	// A zeroed checksum does not match.
	tampered := good[:len(good)-8] + "aeaeaeae"
	_, _, err := Decode(tampered)
	assert.ErrorIs(t, err, ErrChecksum)
}

func TestDecodeTyped(t *testing.T) {
	s := Encode("crypto-hdkey", []byte{0x05})
	_, err := DecodeTyped(s, "crypto-account")
	assert.ErrorIs(t, err, ErrWrongType)

	payload, err := DecodeTyped(s, "crypto-hdkey")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x05}, payload)
}
