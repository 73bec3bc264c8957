package bod

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bip39 "github.com/vulpemventures/go-bip39"

	"github.com/seedhammer/bc-hdkey/account"
	"github.com/seedhammer/bc-hdkey/coininfo"
	"github.com/seedhammer/bc-hdkey/hdkey"
)

const testMnemonic = "fly mule excess resource treat plunge nose soda reflect adult ramp planet"

func testBundle(t *testing.T) *account.Bundle {
	t.Helper()
	seed := bip39.NewSeed(testMnemonic, "")
	master, err := hdkey.FromSeed(seed, coininfo.Default())
	require.NoError(t, err)
	b, err := account.New(master, coininfo.NetworkMainnet, 0, nil)
	require.NoError(t, err)
	return b
}

func TestExportImportRoundTrip(t *testing.T) {
	b := testBundle(t)
	desc, err := FromBundle(b, account.WSHCosigner, "Satoshi's Stash", 123456789012345)
	require.NoError(t, err)

	enc, err := Export(desc)
	require.NoError(t, err)
	got, err := Import(enc)
	require.NoError(t, err)

	assert.Equal(t, desc.Name, got.Name)
	assert.Equal(t, desc.BirthBlock, got.BirthBlock)
	assert.Equal(t, desc.Descriptor, got.Descriptor)
	require.Len(t, got.Keys, 1)

	want := b.ByOutputType[account.WSHCosigner].Key
	k := got.Keys[0]
	assert.Equal(t, want.Base58(), k.Base58())
	assert.Equal(t, want.OriginFingerprint(), k.OriginFingerprint())
	require.Len(t, k.Parent.Steps, len(want.Parent.Steps))
	for i := range want.Parent.Steps {
		assert.Equal(t, want.Parent.Steps[i], k.Parent.Steps[i])
	}
}

func TestFromBundleUnknownType(t *testing.T) {
	b := testBundle(t)
	small, err := account.New(b.MasterKey, coininfo.NetworkMainnet, 0, []account.OutputType{account.WPKH})
	require.NoError(t, err)
	_, err = FromBundle(small, account.TR, "x", 0)
	require.Error(t, err)
}

func TestImportRejects(t *testing.T) {
	_, err := Import([]byte("not a bod file"))
	require.Error(t, err)

	// Magic only, no maps.
	_, err = Import([]byte(Magic))
	require.Error(t, err)
}
