// Package coininfo describes the asset and network a key is intended
// for, and selects the BIP32 serialization version bytes for it.
package coininfo

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/fxamacker/cbor/v2"
)

// Tag is the registered CBOR tag for a use-info structure.
const Tag = 305

// Asset is a SLIP-44 style coin type.
type Asset uint32

const (
	// AssetBTC is the Bitcoin coin type.
	AssetBTC Asset = 0
)

// Network selects between the Bitcoin main and test networks.
type Network uint32

const (
	NetworkMainnet Network = 0
	NetworkTestnet Network = 1
)

// Params returns the chain parameters for the network.
func (n Network) Params() *chaincfg.Params {
	if n == NetworkTestnet {
		return &chaincfg.TestNet3Params
	}
	return &chaincfg.MainNetParams
}

// HDKeyID returns the BIP32 serialization version bytes for the
// network, for a private or public extended key.
func (n Network) HDKeyID(private bool) [4]byte {
	params := n.Params()
	if private {
		return params.HDPrivateKeyID
	}
	return params.HDPublicKeyID
}

// NetworkForKeyID maps BIP32 version bytes back to their network and
// key privacy. It reports false for unknown version bytes.
func NetworkForKeyID(id [4]byte) (net Network, private bool, ok bool) {
	for _, n := range []Network{NetworkMainnet, NetworkTestnet} {
		switch id {
		case n.Params().HDPrivateKeyID:
			return n, true, true
		case n.Params().HDPublicKeyID:
			return n, false, true
		}
	}
	return 0, false, false
}

// Info pairs the asset a key controls with the network it lives on.
// The zero value is the default (btc, mainnet) and is elided from
// encoded forms.
type Info struct {
	Asset   Asset
	Network Network
}

// Default returns the (btc, mainnet) sentinel.
func Default() Info {
	return Info{Asset: AssetBTC, Network: NetworkMainnet}
}

// IsDefault reports whether the info equals the default sentinel.
func (i Info) IsDefault() bool {
	return i == Default()
}

var (
	// ErrInvalidFormat is returned when a use-info structure violates
	// its schema.
	ErrInvalidFormat = errors.New("coininfo: invalid format")
)

const (
	keyAsset   = 1
	keyNetwork = 2
)

var encMode = func() cbor.EncMode {
	em, err := cbor.EncOptions{Sort: cbor.SortCanonical}.EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

var decMode = func() cbor.DecMode {
	dm, err := cbor.DecOptions{DupMapKey: cbor.DupMapKeyEnforcedAPF}.DecMode()
	if err != nil {
		panic(err)
	}
	return dm
}()

// TaggedCBOR encodes the info as a tagged map with non-default fields
// only.
func (i Info) TaggedCBOR() ([]byte, error) {
	m := make(map[int]any)
	if i.Asset != AssetBTC {
		m[keyAsset] = uint32(i.Asset)
	}
	if i.Network != NetworkMainnet {
		m[keyNetwork] = uint32(i.Network)
	}
	content, err := encMode.Marshal(m)
	if err != nil {
		return nil, err
	}
	return encMode.Marshal(cbor.RawTag{Number: Tag, Content: content})
}

// DecodeTaggedCBOR decodes a tagged use-info structure, rejecting
// unknown map keys.
func DecodeTaggedCBOR(data []byte) (Info, error) {
	var tag cbor.RawTag
	if err := decMode.Unmarshal(data, &tag); err != nil {
		return Info{}, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	if tag.Number != Tag {
		return Info{}, fmt.Errorf("%w: unexpected tag %d", ErrInvalidFormat, tag.Number)
	}
	return decodeMap(tag.Content)
}

func decodeMap(data []byte) (Info, error) {
	var m map[uint64]cbor.RawMessage
	if err := decMode.Unmarshal(data, &m); err != nil {
		return Info{}, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	info := Default()
	for k, v := range m {
		var val uint32
		if err := decMode.Unmarshal(v, &val); err != nil {
			return Info{}, fmt.Errorf("%w: key %d: %v", ErrInvalidFormat, k, err)
		}
		switch k {
		case keyAsset:
			info.Asset = Asset(val)
		case keyNetwork:
			info.Network = Network(val)
		default:
			return Info{}, fmt.Errorf("%w: unknown key %d", ErrInvalidFormat, k)
		}
	}
	return info, nil
}
