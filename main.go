// This program demonstrates deriving an account from a BIP39 seed
// and round-tripping its keys and descriptors through the
// crypto-hdkey and crypto-account uniform-resource encodings and the
// [bip-bod-descriptors] file format.
//
// [bip-bod-descriptors]: https://github.com/seedhammer/bips/blob/master/bip-bod-descriptors.mediawiki
package main

import (
	"fmt"

	bip39 "github.com/vulpemventures/go-bip39"

	"github.com/seedhammer/bc-hdkey/account"
	"github.com/seedhammer/bc-hdkey/bod"
	"github.com/seedhammer/bc-hdkey/coininfo"
	"github.com/seedhammer/bc-hdkey/hdkey"
)

func main() {
	const mnemonic = "fly mule excess resource treat plunge nose soda reflect adult ramp planet"
	seed := bip39.NewSeed(mnemonic, "")
	master, err := hdkey.FromSeed(seed, coininfo.Default())
	if err != nil {
		panic(err)
	}
	fmt.Printf("Master key fingerprint: %08x\n", master.KeyFingerprint())

	u, err := master.Public().UR()
	if err != nil {
		panic(err)
	}
	fmt.Printf("\nMaster public key as a uniform resource:\n%s\n", u)
	decoded, err := hdkey.DecodeUR(u)
	if err != nil {
		panic(err)
	}
	if !decoded.Equal(master.Public()) {
		panic("decoded master public key does not match")
	}

	bundle, err := account.New(master, coininfo.NetworkMainnet, 0, nil)
	if err != nil {
		panic(err)
	}
	fmt.Printf("\nAccount #0 descriptors:\n")
	for _, d := range bundle.Descriptors {
		fmt.Printf("%s\n", d)
	}
	au, err := bundle.UR()
	if err != nil {
		panic(err)
	}
	fmt.Printf("\nAccount as a uniform resource:\n%s\n", au)
	mfp, descriptors, err := account.DecodeUR(au)
	if err != nil {
		panic(err)
	}
	if mfp != bundle.MasterKey.KeyFingerprint() || len(descriptors) != len(bundle.Descriptors) {
		panic("decoded account does not match")
	}

	desc, err := bod.FromBundle(bundle, account.WSHCosigner, "Demo Account", 0)
	if err != nil {
		panic(err)
	}
	enc, err := bod.Export(desc)
	if err != nil {
		panic(err)
	}
	fmt.Printf("\nSerialized descriptor (length %d):\n%x\n", len(enc), enc)
	desc2, err := bod.Import(enc)
	if err != nil {
		panic(err)
	}
	fmt.Printf("\nDecoded descriptor:\n")
	fmt.Printf("Name: %s\n", desc2.Name)
	fmt.Printf("Descriptor: %s\n", desc2.Descriptor)
	for _, k := range desc2.Keys {
		fmt.Printf("xpub: %s\n", k.FullDescription())
	}
}
