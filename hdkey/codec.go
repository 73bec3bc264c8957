package hdkey

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/seedhammer/bc-hdkey/coininfo"
	"github.com/seedhammer/bc-hdkey/keypath"
	"github.com/seedhammer/bc-hdkey/ur"
)

// Tag is the registered CBOR tag for an extended key.
const Tag = 303

// URType is the uniform-resource type label for an extended key.
const URType = "crypto-hdkey"

const (
	keyIsMaster  = 1
	keyIsPrivate = 2
	keyKeyData   = 3
	keyChainCode = 4
	keyUseInfo   = 5
	keyParent    = 6
	keyChildren  = 7
	keyParentFP  = 8
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

// CBOR encodes the key as a map with ascending integer keys. Default
// use info, empty paths and absent fields are elided.
func (k HDKey) CBOR() ([]byte, error) {
	m := make(map[int]any)
	if k.Master {
		m[keyIsMaster] = true
	}
	if k.IsPrivate() && !k.Master {
		m[keyIsPrivate] = true
	}
	m[keyKeyData] = k.KeyData[:]
	if k.IsDerivable() {
		m[keyChainCode] = k.ChainCode
	}
	if !k.UseInfo.IsDefault() {
		raw, err := k.UseInfo.TaggedCBOR()
		if err != nil {
			return nil, err
		}
		m[keyUseInfo] = cbor.RawMessage(raw)
	}
	if !k.Parent.IsEmpty() {
		raw, err := k.Parent.TaggedCBOR()
		if err != nil {
			return nil, err
		}
		m[keyParent] = cbor.RawMessage(raw)
	}
	if !k.Children.IsEmpty() {
		raw, err := k.Children.TaggedCBOR()
		if err != nil {
			return nil, err
		}
		m[keyChildren] = cbor.RawMessage(raw)
	}
	if k.ParentFingerprint != 0 {
		m[keyParentFP] = k.ParentFingerprint
	}
	return encMode.Marshal(m)
}

// TaggedCBOR encodes the key wrapped in its registered tag, for
// embedding in enclosing structures.
func (k HDKey) TaggedCBOR() ([]byte, error) {
	content, err := k.CBOR()
	if err != nil {
		return nil, err
	}
	return encMode.Marshal(cbor.RawTag{Number: Tag, Content: content})
}

// UR encodes the key as a crypto-hdkey uniform resource string. The
// type label stands in for the tag.
func (k HDKey) UR() (string, error) {
	content, err := k.CBOR()
	if err != nil {
		return "", err
	}
	return ur.Encode(URType, content), nil
}

// DecodeCBOR decodes an untagged key map, enforcing the schema:
// unknown keys, malformed lengths and a master key marked public are
// all rejected.
func DecodeCBOR(data []byte) (HDKey, error) {
	var m map[uint64]cbor.RawMessage
	if err := decMode.Unmarshal(data, &m); err != nil {
		return HDKey{}, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}

	var k HDKey
	sawKeyData := false
	sawIsPrivate := false
	isPrivate := false
	for key, raw := range m {
		switch key {
		case keyIsMaster:
			if err := decMode.Unmarshal(raw, &k.Master); err != nil {
				return HDKey{}, fmt.Errorf("%w: is-master: %v", ErrInvalidFormat, err)
			}
		case keyIsPrivate:
			if err := decMode.Unmarshal(raw, &isPrivate); err != nil {
				return HDKey{}, fmt.Errorf("%w: is-private: %v", ErrInvalidFormat, err)
			}
			sawIsPrivate = true
		case keyKeyData:
			var b []byte
			if err := decMode.Unmarshal(raw, &b); err != nil {
				return HDKey{}, fmt.Errorf("%w: key-data: %v", ErrInvalidFormat, err)
			}
			if len(b) != 33 {
				return HDKey{}, fmt.Errorf("%w: key-data length %d", ErrInvalidFormat, len(b))
			}
			copy(k.KeyData[:], b)
			sawKeyData = true
		case keyChainCode:
			var b []byte
			if err := decMode.Unmarshal(raw, &b); err != nil {
				return HDKey{}, fmt.Errorf("%w: chain-code: %v", ErrInvalidFormat, err)
			}
			if len(b) != 32 {
				return HDKey{}, fmt.Errorf("%w: chain-code length %d", ErrInvalidFormat, len(b))
			}
			k.ChainCode = b
		case keyUseInfo:
			info, err := coininfo.DecodeTaggedCBOR(raw)
			if err != nil {
				return HDKey{}, fmt.Errorf("%w: use-info: %v", ErrInvalidFormat, err)
			}
			k.UseInfo = info
		case keyParent:
			p, err := keypath.DecodeTaggedCBOR(raw)
			if err != nil {
				return HDKey{}, fmt.Errorf("%w: parent: %v", ErrInvalidFormat, err)
			}
			k.Parent = p
		case keyChildren:
			p, err := keypath.DecodeTaggedCBOR(raw)
			if err != nil {
				return HDKey{}, fmt.Errorf("%w: children: %v", ErrInvalidFormat, err)
			}
			k.Children = p
		case keyParentFP:
			var fp uint64
			if err := decMode.Unmarshal(raw, &fp); err != nil {
				return HDKey{}, fmt.Errorf("%w: parent-fingerprint: %v", ErrInvalidFormat, err)
			}
			if fp == 0 || fp > 0xffffffff {
				return HDKey{}, fmt.Errorf("%w: parent-fingerprint %d out of range", ErrInvalidFormat, fp)
			}
			k.ParentFingerprint = uint32(fp)
		default:
			return HDKey{}, fmt.Errorf("%w: unknown key %d", ErrInvalidFormat, key)
		}
	}
	if !sawKeyData {
		return HDKey{}, fmt.Errorf("%w: missing key-data", ErrInvalidFormat)
	}
	if !sawIsPrivate {
		// A master key is implicitly private.
		isPrivate = k.Master
	}
	if k.Master && !isPrivate {
		return HDKey{}, fmt.Errorf("%w: master key marked public", ErrInvalidFormat)
	}
	k.KeyType = KeyTypePublic
	if isPrivate {
		k.KeyType = KeyTypePrivate
	}
	return k, nil
}

// DecodeTaggedCBOR decodes a key wrapped in its registered tag.
func DecodeTaggedCBOR(data []byte) (HDKey, error) {
	var tag cbor.RawTag
	if err := decMode.Unmarshal(data, &tag); err != nil {
		return HDKey{}, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	if tag.Number != Tag {
		return HDKey{}, fmt.Errorf("%w: unexpected tag %d", ErrInvalidFormat, tag.Number)
	}
	return DecodeCBOR(tag.Content)
}

// DecodeUR decodes a crypto-hdkey uniform resource string.
func DecodeUR(s string) (HDKey, error) {
	payload, err := ur.DecodeTyped(s, URType)
	if err != nil {
		return HDKey{}, err
	}
	return DecodeCBOR(payload)
}

// IdentityDigestSource is the deterministic payload hashed into the
// key's identity digest: a canonical CBOR array of the key data, the
// chain code or null, the asset and the network. Provenance fields do
// not contribute.
func (k HDKey) IdentityDigestSource() ([]byte, error) {
	var chainCode any
	if k.IsDerivable() {
		chainCode = k.ChainCode
	}
	return encMode.Marshal([]any{
		k.KeyData[:],
		chainCode,
		uint32(k.UseInfo.Asset),
		uint32(k.UseInfo.Network),
	})
}
