// Package bod implements the [bip-bod-descriptors] file format as an
// export and import surface for account output descriptors and their
// extended keys.
//
// [bip-bod-descriptors]: https://github.com/seedhammer/bips/blob/master/bip-bod-descriptors.mediawiki
package bod

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/btcsuite/btcutil/base58"

	"github.com/seedhammer/bc-hdkey/account"
	"github.com/seedhammer/bc-hdkey/hdkey"
	"github.com/seedhammer/bc-hdkey/keypath"
	"github.com/seedhammer/bc-hdkey/psbt"
)

const Magic = "bod\xff"

const (
	// The field type for the output descriptor.
	GLOBAL_OUTPUT_DESCRIPTOR psbt.KeyType = 0x00

	KEY_XPUB psbt.KeyType = 0x01
)

// OutputDescriptor is one descriptor with the extended keys the @i
// placeholders in its script refer to.
type OutputDescriptor struct {
	Name       string
	BirthBlock uint64
	Descriptor string
	Keys       []hdkey.HDKey
}

// FromBundle extracts one output type of an account bundle as a
// descriptor file entry. The script uses the @0 placeholder for the
// account key.
func FromBundle(b *account.Bundle, t account.OutputType, name string, birthBlock uint64) (OutputDescriptor, error) {
	d, ok := b.ByOutputType[t]
	if !ok {
		return OutputDescriptor{}, fmt.Errorf("bod: bundle has no %v descriptor", t)
	}
	return OutputDescriptor{
		Name:       name,
		BirthBlock: birthBlock,
		Descriptor: t.DescriptorTemplate(),
		Keys:       []hdkey.HDKey{d.Key},
	}, nil
}

type File struct {
	Global psbt.Map
	Key    psbt.Map
}

// Encode lays the descriptor out as its global and key maps.
func Encode(desc OutputDescriptor) (File, error) {
	key := new(bytes.Buffer)
	psbt.EncodeVarUInt(key, desc.BirthBlock)
	key.Write([]byte(desc.Name))

	f := File{
		Global: psbt.Map{
			{
				Type:  GLOBAL_OUTPUT_DESCRIPTOR,
				Key:   key.Bytes(),
				Value: []byte(desc.Descriptor),
			},
		},
	}

	// Write a map entry for each key: the serialized key, its master
	// fingerprint and its origin path.
	for _, k := range desc.Keys {
		mfp := k.OriginFingerprint()
		if mfp == 0 {
			mfp = k.KeyFingerprint()
		}
		var mfpAndPath []byte
		mfpAndPath = binary.BigEndian.AppendUint32(mfpAndPath, mfp)
		for _, s := range k.Parent.Steps {
			num, ok := s.ChildNum(nil)
			if !ok {
				return File{}, fmt.Errorf("bod: key path %v contains a wildcard", k.Parent)
			}
			mfpAndPath = binary.LittleEndian.AppendUint32(mfpAndPath, num)
		}
		f.Key = append(f.Key, psbt.Entry{
			Type:  KEY_XPUB,
			Key:   base58.Decode(k.Base58()),
			Value: mfpAndPath,
		})
	}

	return f, nil
}

// Export serializes the descriptor as a complete BOD file.
func Export(desc OutputDescriptor) ([]byte, error) {
	f, err := Encode(desc)
	if err != nil {
		return nil, err
	}
	buf := new(bytes.Buffer)
	psbt.Encode(Magic, buf, []psbt.Map{f.Global, f.Key})
	return buf.Bytes(), nil
}

// Decode reassembles a descriptor from its file maps.
func Decode(f File) (OutputDescriptor, error) {
	var desc OutputDescriptor
	e, ok := f.Global.Get(GLOBAL_OUTPUT_DESCRIPTOR)
	if !ok {
		return OutputDescriptor{}, errors.New("bod: missing output descriptor entry")
	}
	bb, n, err := psbt.DecodeVarUInt(e.Key)
	if err != nil {
		return OutputDescriptor{}, err
	}
	desc.BirthBlock = bb
	desc.Name = string(e.Key[n:])
	if !utf8.ValidString(desc.Name) {
		return OutputDescriptor{}, fmt.Errorf("bod: invalid descriptor name: %q", desc.Name)
	}
	desc.Descriptor = string(e.Value)

	for _, e := range f.Key {
		if e.Type != KEY_XPUB {
			continue
		}
		k, err := decodeXPub(e)
		if err != nil {
			return OutputDescriptor{}, fmt.Errorf("bod: invalid key at index %d: %w", len(desc.Keys), err)
		}
		desc.Keys = append(desc.Keys, k)
	}
	return desc, nil
}

// Import parses a complete BOD file.
func Import(data []byte) (OutputDescriptor, error) {
	maps, _, err := psbt.Decode(Magic, data)
	if err != nil {
		return OutputDescriptor{}, err
	}
	if len(maps) < 2 {
		return OutputDescriptor{}, io.ErrUnexpectedEOF
	}
	return Decode(File{Global: maps[0], Key: maps[1]})
}

func decodeXPub(e psbt.Entry) (hdkey.HDKey, error) {
	val := e.Value
	if len(val) < 4 || len(val)%4 != 0 {
		return hdkey.HDKey{}, io.ErrUnexpectedEOF
	}
	mfp := binary.BigEndian.Uint32(val)
	val = val[4:]
	path := keypath.Path{Origin: keypath.OriginFingerprint(mfp)}
	for len(val) > 0 {
		num := binary.LittleEndian.Uint32(val)
		val = val[4:]
		path.Steps = append(path.Steps, keypath.StepFromChildNum(num))
	}
	return hdkey.FromBase58(base58.Encode(e.Key), hdkey.FromBase58Opts{
		Parent: &path,
	})
}
