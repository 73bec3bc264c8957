// Package account aggregates the output descriptors of a wallet
// account that share a master key fingerprint, and encodes them as a
// tagged crypto-account structure.
package account

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fxamacker/cbor/v2"

	"github.com/seedhammer/bc-hdkey/coininfo"
	"github.com/seedhammer/bc-hdkey/hdkey"
	"github.com/seedhammer/bc-hdkey/keypath"
	"github.com/seedhammer/bc-hdkey/ur"
)

// Tag is the registered CBOR tag for an account bundle.
const Tag = 311

// URType is the uniform-resource type label for an account bundle.
const URType = "crypto-account"

// Script expression tags wrapped around account-level keys.
const (
	TagSH       = 400
	TagWSH      = 401
	TagPKH      = 403
	TagWPKH     = 404
	TagTR       = 409
	TagCosigner = 410
)

var (
	// ErrNotMasterKey is returned when a bundle is requested of a key
	// that is not a master key.
	ErrNotMasterKey = errors.New("account: key is not a master key")

	// ErrInvalidFormat is returned when an encoded bundle violates
	// its schema.
	ErrInvalidFormat = errors.New("account: invalid format")
)

// OutputType selects one of the standard account script layouts.
type OutputType int

const (
	// PKH is legacy pay-to-pubkey-hash, BIP44.
	PKH OutputType = iota
	// SHWPKH is wrapped segwit single sig, BIP49.
	SHWPKH
	// WPKH is native segwit single sig, BIP84.
	WPKH
	// TR is taproot single sig, BIP86.
	TR
	// SHCosigner is a legacy multisig cosigner share, BIP45.
	SHCosigner
	// SHWSHCosigner is a wrapped segwit multisig cosigner share,
	// BIP48 script type 1'.
	SHWSHCosigner
	// WSHCosigner is a native segwit multisig cosigner share, BIP48
	// script type 2'.
	WSHCosigner
)

// StandardOutputTypes is the default set requested of New.
var StandardOutputTypes = []OutputType{
	PKH, SHWPKH, WPKH, TR, SHCosigner, SHWSHCosigner, WSHCosigner,
}

func (t OutputType) String() string {
	switch t {
	case PKH:
		return "pkh"
	case SHWPKH:
		return "sh-wpkh"
	case WPKH:
		return "wpkh"
	case TR:
		return "tr"
	case SHCosigner:
		return "sh-cosigner"
	case SHWSHCosigner:
		return "sh-wsh-cosigner"
	case WSHCosigner:
		return "wsh-cosigner"
	}
	return fmt.Sprintf("output-type(%d)", int(t))
}

// tags returns the script expression tag chain, outermost first.
func (t OutputType) tags() []uint64 {
	switch t {
	case PKH:
		return []uint64{TagPKH}
	case SHWPKH:
		return []uint64{TagSH, TagWPKH}
	case WPKH:
		return []uint64{TagWPKH}
	case TR:
		return []uint64{TagTR}
	case SHCosigner:
		return []uint64{TagSH, TagCosigner}
	case SHWSHCosigner:
		return []uint64{TagSH, TagWSH, TagCosigner}
	case WSHCosigner:
		return []uint64{TagWSH, TagCosigner}
	}
	return nil
}

// DescriptorTemplate returns the descriptor script template with @0
// standing in for the account key expression.
func (t OutputType) DescriptorTemplate() string {
	switch t {
	case PKH:
		return "pkh(@0)"
	case SHWPKH:
		return "sh(wpkh(@0))"
	case WPKH:
		return "wpkh(@0)"
	case TR:
		return "tr(@0)"
	case SHCosigner:
		return "sh(cosigner(@0))"
	case SHWSHCosigner:
		return "sh(wsh(cosigner(@0)))"
	case WSHCosigner:
		return "wsh(cosigner(@0))"
	}
	return "@0"
}

// derivationPath is the hardened account-level path of the output
// type.
func (t OutputType) derivationPath(network coininfo.Network, account uint32) keypath.Path {
	coin := uint32(0)
	if network == coininfo.NetworkTestnet {
		coin = 1
	}
	h := func(v uint32) keypath.Step { return keypath.NewStep(v, true) }
	switch t {
	case PKH:
		return keypath.New(h(44), h(coin), h(account))
	case SHWPKH:
		return keypath.New(h(49), h(coin), h(account))
	case WPKH:
		return keypath.New(h(84), h(coin), h(account))
	case TR:
		return keypath.New(h(86), h(coin), h(account))
	case SHCosigner:
		return keypath.New(h(45))
	case SHWSHCosigner:
		return keypath.New(h(48), h(coin), h(account), h(1))
	case WSHCosigner:
		return keypath.New(h(48), h(coin), h(account), h(2))
	}
	return keypath.Path{}
}

// Descriptor is an account-level output descriptor: a script layout
// wrapped around a derived public key.
type Descriptor struct {
	OutputType OutputType
	Key        hdkey.HDKey
}

// String renders the textual descriptor with the key origin in
// brackets.
func (d Descriptor) String() string {
	expr := d.Key.Description(true, false)
	return strings.ReplaceAll(d.OutputType.DescriptorTemplate(), "@0", expr)
}

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

// TaggedCBOR encodes the descriptor as the script expression tag
// chain wrapped around the tagged key.
func (d Descriptor) TaggedCBOR() ([]byte, error) {
	content, err := d.Key.TaggedCBOR()
	if err != nil {
		return nil, err
	}
	tags := d.OutputType.tags()
	for i := len(tags) - 1; i >= 0; i-- {
		content, err = encMode.Marshal(cbor.RawTag{Number: tags[i], Content: content})
		if err != nil {
			return nil, err
		}
	}
	return content, nil
}

// DecodeTaggedDescriptor peels the script expression tags off an
// encoded descriptor and matches them against the known output
// types.
func DecodeTaggedDescriptor(data []byte) (Descriptor, error) {
	var tags []uint64
	content := cbor.RawMessage(data)
	for {
		var tag cbor.RawTag
		if err := decMode.Unmarshal(content, &tag); err != nil {
			return Descriptor{}, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
		}
		if tag.Number == hdkey.Tag {
			break
		}
		tags = append(tags, tag.Number)
		content = tag.Content
	}
	ot, ok := outputTypeForTags(tags)
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: unknown script expression %v", ErrInvalidFormat, tags)
	}
	key, err := hdkey.DecodeTaggedCBOR(content)
	if err != nil {
		return Descriptor{}, err
	}
	return Descriptor{OutputType: ot, Key: key}, nil
}

func outputTypeForTags(tags []uint64) (OutputType, bool) {
	for _, t := range StandardOutputTypes {
		want := t.tags()
		if len(want) != len(tags) {
			continue
		}
		match := true
		for i := range want {
			if want[i] != tags[i] {
				match = false
				break
			}
		}
		if match {
			return t, true
		}
	}
	return 0, false
}

// AccountDescriptor derives the account-level public key of the
// output type from the master key and wraps it in the descriptor.
func AccountDescriptor(master hdkey.HDKey, t OutputType, network coininfo.Network, accountNum uint32) (Descriptor, error) {
	if !master.Master {
		return Descriptor{}, ErrNotMasterKey
	}
	pub := hdkey.KeyTypePublic
	key, err := hdkey.Derive(master, hdkey.DeriveOpts{
		KeyType: &pub,
		Path:    t.derivationPath(network, accountNum),
	})
	if err != nil {
		return Descriptor{}, err
	}
	return Descriptor{OutputType: t, Key: key}, nil
}

// Bundle collects the descriptors of one account, all rooted at the
// same master key.
type Bundle struct {
	MasterKey    hdkey.HDKey
	Network      coininfo.Network
	Account      uint32
	Descriptors  []Descriptor
	ByOutputType map[OutputType]Descriptor
}

// New derives a descriptor for every requested output type, or for
// the standard set when none are given. The key must be a master
// key.
func New(master hdkey.HDKey, network coininfo.Network, accountNum uint32, outputTypes []OutputType) (*Bundle, error) {
	if !master.Master {
		return nil, ErrNotMasterKey
	}
	if len(outputTypes) == 0 {
		outputTypes = StandardOutputTypes
	}
	b := &Bundle{
		MasterKey:    master,
		Network:      network,
		Account:      accountNum,
		ByOutputType: make(map[OutputType]Descriptor, len(outputTypes)),
	}
	for _, t := range outputTypes {
		d, err := AccountDescriptor(master, t, network, accountNum)
		if err != nil {
			return nil, fmt.Errorf("account: %v descriptor: %w", t, err)
		}
		b.Descriptors = append(b.Descriptors, d)
		b.ByOutputType[t] = d
	}
	return b, nil
}

const (
	keyMasterFingerprint = 1
	keyOutputDescriptors = 2
)

// CBOR encodes the bundle as a map of the master key fingerprint and
// the tagged descriptors.
func (b *Bundle) CBOR() ([]byte, error) {
	descriptors := make([]cbor.RawMessage, 0, len(b.Descriptors))
	for _, d := range b.Descriptors {
		raw, err := d.TaggedCBOR()
		if err != nil {
			return nil, err
		}
		descriptors = append(descriptors, raw)
	}
	return encMode.Marshal(map[int]any{
		keyMasterFingerprint: b.MasterKey.KeyFingerprint(),
		keyOutputDescriptors: descriptors,
	})
}

// TaggedCBOR encodes the bundle wrapped in its registered tag.
func (b *Bundle) TaggedCBOR() ([]byte, error) {
	content, err := b.CBOR()
	if err != nil {
		return nil, err
	}
	return encMode.Marshal(cbor.RawTag{Number: Tag, Content: content})
}

// UR encodes the bundle as a crypto-account uniform resource string.
func (b *Bundle) UR() (string, error) {
	content, err := b.CBOR()
	if err != nil {
		return "", err
	}
	return ur.Encode(URType, content), nil
}

// DecodeCBOR decodes an untagged bundle map into the master key
// fingerprint and the descriptor list.
func DecodeCBOR(data []byte) (masterFingerprint uint32, descriptors []Descriptor, err error) {
	var m map[uint64]cbor.RawMessage
	if err := decMode.Unmarshal(data, &m); err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	sawFingerprint := false
	for key, raw := range m {
		switch key {
		case keyMasterFingerprint:
			if err := decMode.Unmarshal(raw, &masterFingerprint); err != nil {
				return 0, nil, fmt.Errorf("%w: master-fingerprint: %v", ErrInvalidFormat, err)
			}
			sawFingerprint = true
		case keyOutputDescriptors:
			var items []cbor.RawMessage
			if err := decMode.Unmarshal(raw, &items); err != nil {
				return 0, nil, fmt.Errorf("%w: output-descriptors: %v", ErrInvalidFormat, err)
			}
			for _, item := range items {
				d, err := DecodeTaggedDescriptor(item)
				if err != nil {
					return 0, nil, err
				}
				descriptors = append(descriptors, d)
			}
		default:
			return 0, nil, fmt.Errorf("%w: unknown key %d", ErrInvalidFormat, key)
		}
	}
	if !sawFingerprint {
		return 0, nil, fmt.Errorf("%w: missing master-fingerprint", ErrInvalidFormat)
	}
	return masterFingerprint, descriptors, nil
}

// DecodeUR decodes a crypto-account uniform resource string.
func DecodeUR(s string) (uint32, []Descriptor, error) {
	payload, err := ur.DecodeTyped(s, URType)
	if err != nil {
		return 0, nil, err
	}
	return DecodeCBOR(payload)
}
