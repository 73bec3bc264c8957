// Package bip32 implements the extended-key arithmetic of BIP32:
// master key generation, hardened and non-hardened child derivation,
// and the 78-byte base58check serialized form.
package bip32

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcutil/base58"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"golang.org/x/crypto/ripemd160"

	"github.com/seedhammer/bc-hdkey/coininfo"
)

const (
	// HardenedKeyStart is the first hardened child index. 2^31.
	HardenedKeyStart = 0x80000000

	// MinSeedBytes and MaxSeedBytes bound the seed lengths accepted
	// by NewMaster, per BIP32.
	MinSeedBytes = 16
	MaxSeedBytes = 64

	serializedKeyLen = 78
	checksumLen      = 4
)

// masterHMACKey is the HMAC-SHA512 key used to derive the master key
// from a seed.
var masterHMACKey = []byte("Bitcoin seed")

var (
	// ErrInvalidSeed is returned when a seed has an unusable length or
	// maps to an invalid secret scalar.
	ErrInvalidSeed = errors.New("bip32: invalid seed")

	// ErrInvalidKeyData is returned when a serialized extended key
	// cannot be parsed.
	ErrInvalidKeyData = errors.New("bip32: invalid extended key")

	// ErrDeriveHardenedFromPublic is returned when a hardened child is
	// requested of a public key.
	ErrDeriveHardenedFromPublic = errors.New("bip32: cannot derive a hardened key from a public key")

	// ErrDerivePrivateFromPublic is returned when a private child is
	// requested of a public key.
	ErrDerivePrivateFromPublic = errors.New("bip32: cannot derive a private key from a public key")

	// ErrInvalidChild is returned when a derived child key falls
	// outside the valid scalar or point range. Callers should retry
	// with the next index.
	ErrInvalidChild = errors.New("bip32: invalid child key")
)

// ExtKey is a BIP32 extended key: the key material together with the
// metadata of the serialized form. Key holds 0x00 followed by the
// 32-byte scalar for a private key, or a SEC1 compressed point for a
// public key.
type ExtKey struct {
	Version   [4]byte
	Depth     uint8
	ParentFP  [4]byte
	ChildNum  uint32
	ChainCode [32]byte
	Key       [33]byte
}

// NewMaster derives the master extended key of a seed.
func NewMaster(seed []byte, net coininfo.Network) (*ExtKey, error) {
	if len(seed) < MinSeedBytes || len(seed) > MaxSeedBytes {
		return nil, fmt.Errorf("%w: seed length %d out of range [%d, %d]",
			ErrInvalidSeed, len(seed), MinSeedBytes, MaxSeedBytes)
	}
	il, ir := hmac512(masterHMACKey[:], seed)
	var scalar btcec.ModNScalar
	if overflow := scalar.SetByteSlice(il); overflow || scalar.IsZero() {
		return nil, fmt.Errorf("%w: unusable entropy", ErrInvalidSeed)
	}
	k := &ExtKey{Version: net.HDKeyID(true)}
	copy(k.Key[1:], il)
	copy(k.ChainCode[:], ir)
	return k, nil
}

// IsPrivate reports whether the key material is a private scalar.
func (k *ExtKey) IsPrivate() bool {
	return k.Key[0] == 0x00
}

// IsMaster reports whether the key sits at the root of its tree.
func (k *ExtKey) IsMaster() bool {
	return k.Depth == 0 && k.ParentFP == [4]byte{} && k.ChildNum == 0
}

// Network returns the network encoded in the version bytes.
func (k *ExtKey) Network() (coininfo.Network, bool) {
	net, _, ok := coininfo.NetworkForKeyID(k.Version)
	return net, ok
}

// PubKeyBytes returns the SEC1 compressed public key, computing it
// from the private scalar when necessary.
func (k *ExtKey) PubKeyBytes() [33]byte {
	if !k.IsPrivate() {
		return k.Key
	}
	var pub [33]byte
	priv, _ := btcec.PrivKeyFromBytes(k.Key[1:])
	copy(pub[:], priv.PubKey().SerializeCompressed())
	return pub
}

// Public returns the public projection of the key. Public keys are
// returned as a copy.
func (k *ExtKey) Public() *ExtKey {
	pub := *k
	pub.Key = k.PubKeyBytes()
	if net, ok := k.Network(); ok {
		pub.Version = net.HDKeyID(false)
	}
	return &pub
}

// Fingerprint returns the leading four bytes of HASH160 of the public
// key.
func (k *ExtKey) Fingerprint() [4]byte {
	var fp [4]byte
	pub := k.PubKeyBytes()
	h := Hash160(pub[:])
	copy(fp[:], h[:4])
	return fp
}

// Child derives the child key at the packed index i, hardened when
// i >= HardenedKeyStart. wantPrivate selects the type of the derived
// key; a private child can only be derived from a private parent.
func (k *ExtKey) Child(i uint32, wantPrivate bool) (*ExtKey, error) {
	hardened := i >= HardenedKeyStart
	if !k.IsPrivate() {
		if wantPrivate {
			return nil, ErrDerivePrivateFromPublic
		}
		if hardened {
			return nil, ErrDeriveHardenedFromPublic
		}
	}

	// CKD input: the parent key material followed by the child index.
	var data [37]byte
	if hardened {
		copy(data[:33], k.Key[:])
	} else {
		pub := k.PubKeyBytes()
		copy(data[:33], pub[:])
	}
	binary.BigEndian.PutUint32(data[33:], i)
	il, ir := hmac512(k.ChainCode[:], data[:])

	var ilScalar btcec.ModNScalar
	if overflow := ilScalar.SetByteSlice(il); overflow {
		return nil, ErrInvalidChild
	}

	child := &ExtKey{
		Depth:    k.Depth + 1,
		ParentFP: k.Fingerprint(),
		ChildNum: i,
	}
	copy(child.ChainCode[:], ir)

	net, _ := k.Network()
	if k.IsPrivate() {
		// ki = (IL + kpar) mod n.
		var parentScalar btcec.ModNScalar
		parentScalar.SetByteSlice(k.Key[1:])
		ilScalar.Add(&parentScalar)
		if ilScalar.IsZero() {
			return nil, ErrInvalidChild
		}
		b := ilScalar.Bytes()
		copy(child.Key[1:], b[:])
		child.Version = net.HDKeyID(true)
		if !wantPrivate {
			return child.Public(), nil
		}
		return child, nil
	}

	// Ki = point(IL) + Kpar.
	var ilPoint secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(&ilScalar, &ilPoint)
	parentPub, err := btcec.ParsePubKey(k.Key[:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeyData, err)
	}
	var parentPoint, childPoint secp256k1.JacobianPoint
	parentPub.AsJacobian(&parentPoint)
	secp256k1.AddNonConst(&ilPoint, &parentPoint, &childPoint)
	if (childPoint.X.IsZero() && childPoint.Y.IsZero()) || childPoint.Z.IsZero() {
		return nil, ErrInvalidChild
	}
	childPoint.ToAffine()
	childPub := secp256k1.NewPublicKey(&childPoint.X, &childPoint.Y)
	copy(child.Key[:], childPub.SerializeCompressed())
	child.Version = net.HDKeyID(false)
	return child, nil
}

// String serializes the key in the base58check extended-key form.
// version || depth || parent fingerprint || child number || chain
// code || key material, followed by a 4-byte double-SHA256 checksum.
func (k *ExtKey) String() string {
	buf := make([]byte, 0, serializedKeyLen+checksumLen)
	buf = append(buf, k.Version[:]...)
	buf = append(buf, k.Depth)
	buf = append(buf, k.ParentFP[:]...)
	buf = binary.BigEndian.AppendUint32(buf, k.ChildNum)
	buf = append(buf, k.ChainCode[:]...)
	buf = append(buf, k.Key[:]...)
	sum := doubleSHA256(buf)
	buf = append(buf, sum[:checksumLen]...)
	return base58.Encode(buf)
}

// Parse decodes a base58check extended key, validating the checksum,
// the version bytes and the key material.
func Parse(s string) (*ExtKey, error) {
	raw := base58.Decode(s)
	if len(raw) != serializedKeyLen+checksumLen {
		return nil, fmt.Errorf("%w: bad length %d", ErrInvalidKeyData, len(raw))
	}
	payload, checksum := raw[:serializedKeyLen], raw[serializedKeyLen:]
	sum := doubleSHA256(payload)
	if !bytes.Equal(sum[:checksumLen], checksum) {
		return nil, fmt.Errorf("%w: bad checksum", ErrInvalidKeyData)
	}

	k := new(ExtKey)
	copy(k.Version[:], payload[:4])
	k.Depth = payload[4]
	copy(k.ParentFP[:], payload[5:9])
	k.ChildNum = binary.BigEndian.Uint32(payload[9:13])
	copy(k.ChainCode[:], payload[13:45])
	copy(k.Key[:], payload[45:78])

	_, private, ok := coininfo.NetworkForKeyID(k.Version)
	if !ok {
		return nil, fmt.Errorf("%w: unknown version %x", ErrInvalidKeyData, k.Version)
	}
	if private {
		if k.Key[0] != 0x00 {
			return nil, fmt.Errorf("%w: malformed private key material", ErrInvalidKeyData)
		}
		var scalar btcec.ModNScalar
		if overflow := scalar.SetByteSlice(k.Key[1:]); overflow || scalar.IsZero() {
			return nil, fmt.Errorf("%w: private key out of range", ErrInvalidKeyData)
		}
	} else {
		if _, err := btcec.ParsePubKey(k.Key[:]); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidKeyData, err)
		}
	}
	return k, nil
}

// Zero clears the key material and chain code.
func (k *ExtKey) Zero() {
	for i := range k.Key {
		k.Key[i] = 0
	}
	for i := range k.ChainCode {
		k.ChainCode[i] = 0
	}
}

// Hash160 computes RIPEMD160(SHA256(data)).
func Hash160(data []byte) [20]byte {
	var out [20]byte
	sum := sha256.Sum256(data)
	h := ripemd160.New()
	h.Write(sum[:])
	copy(out[:], h.Sum(nil))
	return out
}

func doubleSHA256(data []byte) [32]byte {
	first := sha256.Sum256(data)
	return sha256.Sum256(first[:])
}

func hmac512(key, data []byte) (il, ir []byte) {
	mac := hmac.New(sha512.New, key)
	mac.Write(data)
	sum := mac.Sum(nil)
	return sum[:32], sum[32:]
}
