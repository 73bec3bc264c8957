// Package hdkey represents BIP32 extended keys together with their
// full provenance: the origin they were derived from, the path taken,
// and the path their descendants are intended to follow.
package hdkey

import (
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/seedhammer/bc-hdkey/bip32"
	"github.com/seedhammer/bc-hdkey/coininfo"
	"github.com/seedhammer/bc-hdkey/keypath"
)

var (
	// ErrInvalidSeed is returned when the seed entropy is rejected.
	// Callers may retry with fresh entropy.
	ErrInvalidSeed = errors.New("hdkey: invalid seed")

	// ErrInvalidBase58 is returned when a serialized extended key
	// cannot be parsed.
	ErrInvalidBase58 = errors.New("hdkey: invalid base58 extended key")

	// ErrDerivePrivateFromPublic is returned when a private key is
	// requested of a public key.
	ErrDerivePrivateFromPublic = errors.New("hdkey: cannot derive a private key from a public key")

	// ErrDeriveHardenedFromPublic is returned when a hardened step is
	// requested of a public key and no private key provider can
	// supply the private counterpart.
	ErrDeriveHardenedFromPublic = errors.New("hdkey: cannot derive a hardened key from a public key")

	// ErrNotDerivable is returned when the parent lacks a chain code.
	ErrNotDerivable = errors.New("hdkey: key is not derivable")

	// ErrInspecificStep is returned when a wildcard step lacks a
	// substitution.
	ErrInspecificStep = errors.New("hdkey: cannot derive from an unresolved wildcard step")

	// ErrInvalidDepth is returned when rebasing a path prefix would
	// underflow.
	ErrInvalidDepth = errors.New("hdkey: invalid depth")

	// ErrUnknownDerivation is returned when the key arithmetic fails
	// for an otherwise valid input.
	ErrUnknownDerivation = errors.New("hdkey: derivation failed")

	// ErrInvalidFormat is returned when an encoded key violates its
	// schema.
	ErrInvalidFormat = errors.New("hdkey: invalid format")
)

// KeyType distinguishes private from public keys.
type KeyType int

const (
	KeyTypePrivate KeyType = iota
	KeyTypePublic
)

// IsPrivate reports whether the type is the private one.
func (t KeyType) IsPrivate() bool {
	return t == KeyTypePrivate
}

// HDKey is an extended key with provenance. It is a value type:
// derivation and projection return new keys and never mutate the
// receiver.
type HDKey struct {
	// Master is set on keys derived directly from a seed. A master
	// key is always private, has no parent fingerprint and a parent
	// path with no steps, rooted at its own fingerprint at depth 0.
	Master bool

	KeyType KeyType

	// KeyData is 0x00 followed by the 32-byte scalar for private
	// keys, or a SEC1 compressed point for public keys.
	KeyData [33]byte

	// ChainCode is 32 bytes when the key can act as a derivation
	// parent, nil otherwise.
	ChainCode []byte

	UseInfo coininfo.Info

	// Parent locates this key relative to its origin. The empty path
	// means the provenance is unknown.
	Parent keypath.Path

	// Children is the intended template for descendants and may
	// contain wildcards.
	Children keypath.Path

	// ParentFingerprint is the leading four bytes of HASH160 of the
	// parent's public key, zero when absent.
	ParentFingerprint uint32
}

// FromSeed derives the master key of a BIP39 seed.
func FromSeed(seed []byte, info coininfo.Info) (HDKey, error) {
	master, err := bip32.NewMaster(seed, info.Network)
	if err != nil {
		return HDKey{}, fmt.Errorf("%w: %v", ErrInvalidSeed, err)
	}
	defer master.Zero()
	fp := master.Fingerprint()
	k := HDKey{
		Master:    true,
		KeyType:   KeyTypePrivate,
		KeyData:   master.Key,
		ChainCode: append([]byte(nil), master.ChainCode[:]...),
		UseInfo:   info,
		Parent: keypath.Path{
			Origin: keypath.OriginFingerprint(binary.BigEndian.Uint32(fp[:])),
			Depth:  keypath.DepthPtr(0),
		},
	}
	return k, nil
}

// FromBase58Opts carries the optional provenance for FromBase58.
type FromBase58Opts struct {
	// UseInfo defaults to (btc, network-of-the-key).
	UseInfo *coininfo.Info

	// Parent, when supplied, is authoritative and must be a complete
	// path; otherwise a path is synthesized from the key's own depth
	// and fingerprint, with one step for its child number unless the
	// key is at depth 0.
	Parent *keypath.Path

	Children *keypath.Path

	// OriginFingerprint overrides the origin of the synthesized
	// parent path.
	OriginFingerprint uint32
}

// FromBase58 parses a base58check extended key.
func FromBase58(s string, opts FromBase58Opts) (HDKey, error) {
	ext, err := bip32.Parse(s)
	if err != nil {
		return HDKey{}, fmt.Errorf("%w: %v", ErrInvalidBase58, err)
	}
	defer ext.Zero()
	return fromExtKey(ext, opts.UseInfo, opts.Parent, opts.Children, opts.OriginFingerprint)
}

// FromExtKeyOpts carries the optional provenance for FromExtKey.
type FromExtKeyOpts struct {
	UseInfo  *coininfo.Info
	Parent   *keypath.Path
	Children *keypath.Path
}

// FromExtKey builds a key from raw extended-key material.
func FromExtKey(ext *bip32.ExtKey, opts FromExtKeyOpts) (HDKey, error) {
	return fromExtKey(ext, opts.UseInfo, opts.Parent, opts.Children, 0)
}

func fromExtKey(ext *bip32.ExtKey, info *coininfo.Info, parent, children *keypath.Path, originFP uint32) (HDKey, error) {
	useInfo := coininfo.Info{Asset: coininfo.AssetBTC}
	if net, ok := ext.Network(); ok {
		useInfo.Network = net
	}
	if info != nil {
		useInfo = *info
	}

	isMaster := ext.IsMaster()
	if parent != nil {
		isMaster = parent.IsMaster()
	}
	isMaster = isMaster && ext.IsPrivate()

	var parentPath keypath.Path
	if parent != nil {
		parentPath = *parent
	} else {
		origin := originFP
		if origin == 0 {
			fp := ext.Fingerprint()
			origin = binary.BigEndian.Uint32(fp[:])
		}
		parentPath = keypath.Path{
			Origin: keypath.OriginFingerprint(origin),
			Depth:  keypath.DepthPtr(ext.Depth),
		}
		if ext.Depth != 0 {
			parentPath.Steps = []keypath.Step{keypath.StepFromChildNum(ext.ChildNum)}
		}
	}

	var parentFP uint32
	if !isMaster {
		parentFP = binary.BigEndian.Uint32(ext.ParentFP[:])
	}

	keyType := KeyTypePublic
	if ext.IsPrivate() {
		keyType = KeyTypePrivate
	}

	k := HDKey{
		Master:            isMaster,
		KeyType:           keyType,
		KeyData:           ext.Key,
		ChainCode:         append([]byte(nil), ext.ChainCode[:]...),
		UseInfo:           useInfo,
		Parent:            parentPath,
		ParentFingerprint: parentFP,
	}
	if children != nil {
		k.Children = *children
	}
	return k, nil
}

// ProjectOpts selects the target key type and provenance for Project.
type ProjectOpts struct {
	// KeyType defaults to the source key's type.
	KeyType *KeyType

	// Derivable defaults to true; false clears the chain code so the
	// projection cannot act as a derivation parent.
	Derivable *bool

	Parent   *keypath.Path
	Children *keypath.Path
}

// Project re-types a key, optionally replacing its provenance and
// clearing its derivability. Projecting a public key to a private one
// fails with ErrDerivePrivateFromPublic.
func Project(key HDKey, opts ProjectOpts) (HDKey, error) {
	target := key.KeyType
	if opts.KeyType != nil {
		target = *opts.KeyType
	}
	if target.IsPrivate() && !key.IsPrivate() {
		return HDKey{}, ErrDerivePrivateFromPublic
	}

	keyData := key.KeyData
	if key.IsPrivate() && !target.IsPrivate() {
		priv, _ := btcec.PrivKeyFromBytes(key.KeyData[1:])
		copy(keyData[:], priv.PubKey().SerializeCompressed())
	}

	var chainCode []byte
	if len(key.ChainCode) > 0 && (opts.Derivable == nil || *opts.Derivable) {
		chainCode = append([]byte(nil), key.ChainCode...)
	}

	out := HDKey{
		Master:            key.Master && target.IsPrivate(),
		KeyType:           target,
		KeyData:           keyData,
		ChainCode:         chainCode,
		UseInfo:           key.UseInfo,
		Parent:            key.Parent,
		Children:          key.Children,
		ParentFingerprint: key.ParentFingerprint,
	}
	if opts.Parent != nil {
		out.Parent = *opts.Parent
	}
	if opts.Children != nil {
		out.Children = *opts.Children
	}
	return out, nil
}

// IsPrivate reports whether the key material is private.
func (k HDKey) IsPrivate() bool {
	return k.KeyType.IsPrivate()
}

// IsDerivable reports whether the key can act as a derivation parent.
func (k HDKey) IsDerivable() bool {
	return len(k.ChainCode) == 32
}

// RequiresWildcard reports whether the children template contains a
// wildcard needing substitution.
func (k HDKey) RequiresWildcard() bool {
	return k.Children.HasWildcard()
}

// Public returns the public projection of the key. The projection is
// idempotent and never fails.
func (k HDKey) Public() HDKey {
	pub := KeyTypePublic
	out, _ := Project(k, ProjectOpts{KeyType: &pub})
	return out
}

// ExtKey reconstitutes the kernel-level extended key. The depth is
// the parent path's effective depth, the child number comes from the
// last parent step, and the version bytes follow the key type and
// network.
func (k HDKey) ExtKey() *bip32.ExtKey {
	ext := &bip32.ExtKey{
		Version: k.UseInfo.Network.HDKeyID(k.IsPrivate()),
		Key:     k.KeyData,
	}
	if d := k.Parent.EffectiveDepth(); d > 255 {
		ext.Depth = 255
	} else {
		ext.Depth = uint8(d)
	}
	if n := len(k.Parent.Steps); n > 0 {
		if num, ok := k.Parent.Steps[n-1].ChildNum(nil); ok {
			ext.ChildNum = num
		}
	}
	copy(ext.ChainCode[:], k.ChainCode)
	binary.BigEndian.PutUint32(ext.ParentFP[:], k.ParentFingerprint)
	return ext
}

// KeyFingerprintData returns the leading four bytes of HASH160 of the
// public key.
func (k HDKey) KeyFingerprintData() [4]byte {
	return k.ExtKey().Fingerprint()
}

// KeyFingerprint returns the fingerprint as a big-endian integer.
func (k HDKey) KeyFingerprint() uint32 {
	fp := k.KeyFingerprintData()
	return binary.BigEndian.Uint32(fp[:])
}

// OriginFingerprint is the fingerprint the parent path is rooted at,
// propagated rather than recomputed. Zero when unknown.
func (k HDKey) OriginFingerprint() uint32 {
	return k.Parent.OriginFingerprint()
}

// Base58Private serializes the private form, reporting false for
// public keys.
func (k HDKey) Base58Private() (string, bool) {
	if !k.IsPrivate() {
		return "", false
	}
	return k.ExtKey().String(), true
}

// Base58Public serializes the public form.
func (k HDKey) Base58Public() (string, bool) {
	return k.Public().ExtKey().String(), true
}

// Base58 serializes the private form when available, the public form
// otherwise.
func (k HDKey) Base58() string {
	if s, ok := k.Base58Private(); ok {
		return s
	}
	if s, ok := k.Base58Public(); ok {
		return s
	}
	return "invalid"
}

// ECPublicKey returns the SEC1 compressed public key.
func (k HDKey) ECPublicKey() [33]byte {
	return k.Public().KeyData
}

// ECPrivateKey returns the 32-byte private scalar, reporting false
// for public keys.
func (k HDKey) ECPrivateKey() ([32]byte, bool) {
	var scalar [32]byte
	if !k.IsPrivate() {
		return scalar, false
	}
	copy(scalar[:], k.KeyData[1:])
	return scalar, true
}

// Description renders the key as [parent]base58/children, eliding the
// parent and children segments when empty or not requested.
func (k HDKey) Description(withParent, withChildren bool) string {
	var b strings.Builder
	if withParent && !k.Parent.IsEmpty() {
		b.WriteByte('[')
		b.WriteString(k.Parent.String())
		b.WriteByte(']')
	}
	b.WriteString(k.Base58())
	if withChildren && len(k.Children.Steps) > 0 {
		b.WriteByte('/')
		b.WriteString(k.Children.String())
	}
	return b.String()
}

// FullDescription renders the key with both its parent and children
// segments.
func (k HDKey) FullDescription() string {
	return k.Description(true, true)
}

func (k HDKey) String() string {
	return k.Base58()
}

// Equal reports field-by-field equality. The key material and chain
// code are compared in constant time.
func (k HDKey) Equal(other HDKey) bool {
	if subtle.ConstantTimeCompare(k.KeyData[:], other.KeyData[:]) != 1 {
		return false
	}
	if len(k.ChainCode) != len(other.ChainCode) {
		return false
	}
	if len(k.ChainCode) > 0 && subtle.ConstantTimeCompare(k.ChainCode, other.ChainCode) != 1 {
		return false
	}
	return k.Master == other.Master &&
		k.KeyType == other.KeyType &&
		k.UseInfo == other.UseInfo &&
		k.Parent.Equal(other.Parent) &&
		k.Children.Equal(other.Children) &&
		k.ParentFingerprint == other.ParentFingerprint
}
