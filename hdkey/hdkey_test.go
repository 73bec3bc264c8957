package hdkey

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bip39 "github.com/vulpemventures/go-bip39"

	"github.com/seedhammer/bc-hdkey/coininfo"
	"github.com/seedhammer/bc-hdkey/keypath"
)

const testMnemonic = "fly mule excess resource treat plunge nose soda reflect adult ramp planet"

func testMaster(t *testing.T) HDKey {
	t.Helper()
	seed := bip39.NewSeed(testMnemonic, "")
	master, err := FromSeed(seed, coininfo.Default())
	require.NoError(t, err)
	return master
}

func mustParse(t *testing.T, s string) keypath.Path {
	t.Helper()
	p, err := keypath.Parse(s)
	require.NoError(t, err)
	return p
}

func TestMasterFromSeed(t *testing.T) {
	master := testMaster(t)

	assert.True(t, master.Master)
	assert.True(t, master.IsPrivate())
	assert.True(t, master.IsDerivable())
	assert.Len(t, master.ChainCode, 32)
	assert.Zero(t, master.ParentFingerprint)
	assert.Empty(t, master.Parent.Steps)
	assert.Equal(t, 0, master.Parent.EffectiveDepth())
	assert.NotZero(t, master.KeyFingerprint())
	assert.Equal(t, master.KeyFingerprint(), master.OriginFingerprint())

	// Round-tripping through base58 preserves the key material.
	again, err := FromBase58(master.Base58(), FromBase58Opts{})
	require.NoError(t, err)
	assert.True(t, again.Master)
	assert.Equal(t, master.KeyData, again.KeyData)
	assert.Equal(t, master.ChainCode, again.ChainCode)
	assert.Equal(t, master.KeyFingerprint(), again.KeyFingerprint())
}

func TestFromSeedRejectsShortSeeds(t *testing.T) {
	_, err := FromSeed([]byte{0x01}, coininfo.Default())
	require.ErrorIs(t, err, ErrInvalidSeed)
}

func TestPathDerivation(t *testing.T) {
	master := testMaster(t)
	path := mustParse(t, "48'/0'/0'/2'")

	key, err := Derive(master, DeriveOpts{Path: path})
	require.NoError(t, err)

	assert.False(t, key.Master)
	assert.True(t, key.IsPrivate())
	assert.Equal(t, 4, key.Parent.EffectiveDepth())
	assert.Equal(t, uint8(4), key.ExtKey().Depth)
	require.Len(t, key.Parent.Steps, 4)
	for i, want := range path.Steps {
		assert.Equal(t, want, key.Parent.Steps[i])
	}
	assert.Equal(t, master.KeyFingerprint(), key.OriginFingerprint())

	// The parent fingerprint is the fingerprint of the key one level
	// up.
	up, err := Derive(master, DeriveOpts{Path: mustParse(t, "48'/0'/0'")})
	require.NoError(t, err)
	assert.Equal(t, up.KeyFingerprint(), key.ParentFingerprint)
}

func TestPublicHardenedRejection(t *testing.T) {
	master := testMaster(t)
	key, err := Derive(master, DeriveOpts{Path: mustParse(t, "48'/0'/0'/2'")})
	require.NoError(t, err)
	pub := key.Public()

	// Non-hardened derivation of a public key succeeds without a
	// provider.
	child, err := Derive(pub, DeriveOpts{Path: mustParse(t, "0/0")})
	require.NoError(t, err)
	assert.False(t, child.IsPrivate())

	// A hardened step requires the private counterpart.
	_, err = Derive(pub, DeriveOpts{Path: mustParse(t, "0'")})
	require.ErrorIs(t, err, ErrDeriveHardenedFromPublic)

	// A provider that cannot help does not either.
	failing := func(HDKey) (HDKey, bool) { return HDKey{}, false }
	_, err = Derive(pub, DeriveOpts{Path: mustParse(t, "0'"), PrivateKeyProvider: failing})
	require.ErrorIs(t, err, ErrDeriveHardenedFromPublic)

	// One that can unlocks hardened derivation.
	provider := func(HDKey) (HDKey, bool) { return key, true }
	hardened, err := Derive(pub, DeriveOpts{Path: mustParse(t, "0'"), PrivateKeyProvider: provider})
	require.NoError(t, err)
	viaPrivate, err := Derive(key, DeriveOpts{Path: mustParse(t, "0'")})
	require.NoError(t, err)
	assert.Equal(t, viaPrivate.Public().KeyData, hardened.KeyData)
}

func TestWildcardSubstitution(t *testing.T) {
	master := testMaster(t)
	template := mustParse(t, "0/*")

	_, err := Derive(master, DeriveOpts{Path: template})
	require.ErrorIs(t, err, ErrInspecificStep)

	sub := uint32(7)
	derived, err := Derive(master, DeriveOpts{Path: template, Wildcard: &sub})
	require.NoError(t, err)

	concrete, err := Derive(master, DeriveOpts{Path: mustParse(t, "0/7")})
	require.NoError(t, err)
	assert.True(t, derived.Equal(concrete))
}

func TestDeriveStepWildcard(t *testing.T) {
	master := testMaster(t)

	_, err := DeriveStep(master, keypath.WildcardStep(false), nil, nil)
	require.ErrorIs(t, err, ErrInspecificStep)

	sub := uint32(7)
	derived, err := DeriveStep(master, keypath.WildcardStep(false), nil, &sub)
	require.NoError(t, err)
	concrete, err := DeriveStep(master, keypath.NewStep(7, false), nil, nil)
	require.NoError(t, err)
	assert.True(t, derived.Equal(concrete))
}

func TestDerivePrivateFromPublic(t *testing.T) {
	master := testMaster(t)
	pub := master.Public()
	priv := KeyTypePrivate

	_, err := Derive(pub, DeriveOpts{KeyType: &priv, Path: mustParse(t, "0")})
	require.ErrorIs(t, err, ErrDerivePrivateFromPublic)

	_, err = Project(pub, ProjectOpts{KeyType: &priv})
	require.ErrorIs(t, err, ErrDerivePrivateFromPublic)
}

func TestNonDerivable(t *testing.T) {
	master := testMaster(t)
	derivable := false
	frozen, err := Project(master, ProjectOpts{Derivable: &derivable})
	require.NoError(t, err)
	assert.False(t, frozen.IsDerivable())

	_, err = Derive(frozen, DeriveOpts{Path: mustParse(t, "0")})
	require.ErrorIs(t, err, ErrNotDerivable)
}

func TestPublicProjectionIdempotent(t *testing.T) {
	master := testMaster(t)
	pub := master.Public()

	assert.False(t, pub.IsPrivate())
	assert.False(t, pub.Master)
	assert.True(t, pub.Public().Equal(pub))

	// The public key data is the compressed point of the private
	// scalar.
	assert.Equal(t, pub.KeyData, master.ECPublicKey())
	_, ok := pub.ECPrivateKey()
	assert.False(t, ok)
	scalar, ok := master.ECPrivateKey()
	require.True(t, ok)
	assert.Equal(t, master.KeyData[1:], scalar[:])
}

func TestDerivationComposition(t *testing.T) {
	master := testMaster(t)
	p1 := mustParse(t, "1/2")
	p2 := mustParse(t, "3")

	first, err := Derive(master, DeriveOpts{Path: p1})
	require.NoError(t, err)
	composed, err := Derive(first, DeriveOpts{Path: p2})
	require.NoError(t, err)

	direct, err := Derive(master, DeriveOpts{Path: p1.Join(p2)})
	require.NoError(t, err)
	assert.True(t, composed.Equal(direct))
}

func TestZeroStepDerivationRetypes(t *testing.T) {
	master := testMaster(t)
	pubType := KeyTypePublic
	pub, err := Derive(master, DeriveOpts{KeyType: &pubType})
	require.NoError(t, err)
	assert.True(t, pub.Equal(master.Public()))
}

func TestRebaseOntoParent(t *testing.T) {
	master := testMaster(t)
	account, err := Derive(master, DeriveOpts{Path: mustParse(t, "84'/0'/0'")})
	require.NoError(t, err)

	// A full path rooted at the origin is rebased by dropping the
	// steps the parent has already taken.
	full := keypath.Path{
		Steps: append(mustParse(t, "84'/0'/0'").Steps, keypath.NewStep(0, false), keypath.NewStep(5, false)),
		Origin: keypath.OriginFingerprint(master.KeyFingerprint()),
	}
	leaf, err := Derive(account, DeriveOpts{Path: full})
	require.NoError(t, err)

	direct, err := Derive(master, DeriveOpts{Path: mustParse(t, "84'/0'/0'/0/5")})
	require.NoError(t, err)
	assert.Equal(t, direct.KeyData, leaf.KeyData)

	// A rooted path shorter than the parent's depth cannot be
	// rebased.
	short := keypath.Path{
		Steps:  []keypath.Step{keypath.NewStep(84, true)},
		Origin: keypath.OriginFingerprint(master.KeyFingerprint()),
	}
	_, err = Derive(account, DeriveOpts{Path: short})
	require.ErrorIs(t, err, ErrInvalidDepth)
}

func TestBase58RoundTrip(t *testing.T) {
	for _, s := range []string{
		"xprv9s21ZrQH143K3QTDL4LXw2F7HEK3wJUD2nW2nRk4stbPy6cq3jPPqjiChkVvvNKmPGJxWUtg6LnF5kejMRNNU3TGtRBeJgk33yuGBxrMPHi",
		"xpub661MyMwAqRbcFtXgS5sYJABqqG9YLmC4Q1Rdap9gSE8NqtwybGhePY2gZ29ESFjqJoCu1Rupje8YtGqsefD265TMg7usUDFdp6W1EGMcet8",
		"xpub6FHa3pjLCk84BayeJxFW2SP4XRrFd1JYnxeLeU8EqN3vDfZmbqBqaGJAyiLjTAwm6ZLRQUMv1ZACTj37sR62cfN7fe5JnJ7dh8zL4fiyLHV",
		"xprvA2JDeKCSNNZky6uBCviVfJSKyQ1mDYahRjijr5idH2WwLsEd4Hsb2Tyh8RfQMuPh7f7RtyzTtdrbdqqsunu5Mm3wDvUAKRHSC34sJ7in334",
	} {
		key, err := FromBase58(s, FromBase58Opts{})
		require.NoError(t, err)
		assert.Equal(t, s, key.Base58())
	}

	_, err := FromBase58("garbage", FromBase58Opts{})
	require.ErrorIs(t, err, ErrInvalidBase58)
}

func TestFromBase58Provenance(t *testing.T) {
	// m/0H/1 from BIP32 test vector 1: depth 2, child number 1.
	const xprv = "xprv9wTYmMFdV23N2TdNG573QoEsfRrWKQgWeibmLntzniatZvR9BmLnvSxqu53Kw1UmYPxLgboyZQaXwTCg8MSY3H2EU4pWcQDnRnrVA1xe8fs"

	key, err := FromBase58(xprv, FromBase58Opts{})
	require.NoError(t, err)
	assert.False(t, key.Master)
	assert.NotZero(t, key.ParentFingerprint)
	// The synthesized parent path carries the child number and the
	// kernel depth.
	require.Len(t, key.Parent.Steps, 1)
	assert.Equal(t, keypath.NewStep(1, false), key.Parent.Steps[0])
	assert.Equal(t, 2, key.Parent.EffectiveDepth())
	assert.Equal(t, key.KeyFingerprint(), key.OriginFingerprint())

	// A caller-supplied parent path is authoritative.
	parent := mustParse(t, "37b5eed4/0'/1")
	key2, err := FromBase58(xprv, FromBase58Opts{Parent: &parent})
	require.NoError(t, err)
	assert.True(t, parent.Equal(key2.Parent))
	assert.Equal(t, uint32(0x37b5eed4), key2.OriginFingerprint())

	// An override replaces the synthesized origin fingerprint.
	key3, err := FromBase58(xprv, FromBase58Opts{OriginFingerprint: 0x01020304})
	require.NoError(t, err)
	assert.Equal(t, uint32(0x01020304), key3.OriginFingerprint())
}

func TestUseInfoFollowsVersionBytes(t *testing.T) {
	seed, err := hex.DecodeString("000102030405060708090a0b0c0d0e0f")
	require.NoError(t, err)
	master, err := FromSeed(seed, coininfo.Info{Network: coininfo.NetworkTestnet})
	require.NoError(t, err)

	parsed, err := FromBase58(master.Base58(), FromBase58Opts{})
	require.NoError(t, err)
	assert.Equal(t, coininfo.NetworkTestnet, parsed.UseInfo.Network)
}

func TestDescription(t *testing.T) {
	master := testMaster(t)
	children := mustParse(t, "0/*")
	key, err := Derive(master, DeriveOpts{Path: mustParse(t, "84'/0'/0'"), Children: &children})
	require.NoError(t, err)

	assert.Equal(t, key.Base58(), key.Description(false, false))
	assert.Equal(t, key.Base58(), key.String())

	full := key.FullDescription()
	assert.Contains(t, full, key.Base58())
	assert.Contains(t, full, "[")
	assert.Contains(t, full, "84'/0'/0'")
	assert.Contains(t, full, "/0/*")
	assert.True(t, key.RequiresWildcard())
}
