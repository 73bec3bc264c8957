package hdkey

import (
	"errors"
	"fmt"

	"github.com/seedhammer/bc-hdkey/bip32"
	"github.com/seedhammer/bc-hdkey/keypath"
)

// PrivateKeyProvider resolves a public key to its private
// counterpart when hardened derivation is requested of a public key.
// It reports false when no private key is available.
type PrivateKeyProvider func(HDKey) (HDKey, bool)

// DeriveStep derives a single child. The step must resolve to a
// concrete child number: a wildcard step requires the substitution.
// keyType selects the type of the result and defaults to the
// parent's; requesting a private child of a public parent fails.
func DeriveStep(parent HDKey, step keypath.Step, keyType *KeyType, wildcard *uint32) (HDKey, error) {
	target := parent.KeyType
	if keyType != nil {
		target = *keyType
	}
	if target.IsPrivate() && !parent.IsPrivate() {
		return HDKey{}, ErrDerivePrivateFromPublic
	}
	if !parent.IsDerivable() {
		return HDKey{}, ErrNotDerivable
	}
	if step.Index.Wildcard && wildcard == nil {
		return HDKey{}, ErrInspecificStep
	}
	childNum, ok := step.ChildNum(wildcard)
	if !ok {
		return HDKey{}, fmt.Errorf("%w: unresolvable step %v", ErrUnknownDerivation, step)
	}

	ext := parent.ExtKey()
	defer ext.Zero()
	child, err := ext.Child(childNum, parent.IsPrivate())
	if err != nil {
		if errors.Is(err, bip32.ErrDeriveHardenedFromPublic) {
			return HDKey{}, ErrDeriveHardenedFromPublic
		}
		return HDKey{}, fmt.Errorf("%w: %v", ErrUnknownDerivation, err)
	}
	defer child.Zero()

	resolved, _ := step.Resolve(wildcard)
	parentPath := parent.Parent.Append(resolved)
	parentPath.Depth = keypath.DepthPtr(uint8(parent.Parent.EffectiveDepth() + 1))

	out := HDKey{
		KeyType:           parent.KeyType,
		KeyData:           child.Key,
		ChainCode:         append([]byte(nil), child.ChainCode[:]...),
		UseInfo:           parent.UseInfo,
		Parent:            parentPath,
		ParentFingerprint: parent.KeyFingerprint(),
	}
	if target == out.KeyType {
		return out, nil
	}
	return Project(out, ProjectOpts{KeyType: &target})
}

// DeriveOpts parameterizes a path derivation.
type DeriveOpts struct {
	// KeyType selects the type of the result, defaulting to the
	// parent's type.
	KeyType *KeyType

	// Path is the child derivation path. When it carries an origin it
	// is rebased onto the parent by dropping the steps the parent has
	// already taken.
	Path keypath.Path

	// Wildcard substitutes wildcard steps in Path.
	Wildcard *uint32

	// Derivable defaults to true; false clears the chain code of the
	// result.
	Derivable *bool

	// Children becomes the children template of the result.
	Children *keypath.Path

	// PrivateKeyProvider is consulted when the path contains hardened
	// steps and the parent is public.
	PrivateKeyProvider PrivateKeyProvider
}

// Derive walks a derivation path from the parent and projects the
// result to the requested key type. A zero-step path is legal and
// acts as an identity plus retyping.
func Derive(parent HDKey, opts DeriveOpts) (HDKey, error) {
	target := parent.KeyType
	if opts.KeyType != nil {
		target = *opts.KeyType
	}

	path := opts.Path
	if !path.Origin.IsNone() {
		rebased, ok := path.DropFirst(parent.Parent.EffectiveDepth())
		if !ok {
			return HDKey{}, fmt.Errorf("%w: path %v is shorter than the parent's depth",
				ErrInvalidDepth, opts.Path)
		}
		path = rebased
	}

	working := parent
	if !parent.IsPrivate() && path.IsHardened() {
		if opts.PrivateKeyProvider == nil {
			return HDKey{}, ErrDeriveHardenedFromPublic
		}
		priv, ok := opts.PrivateKeyProvider(parent)
		if !ok || !priv.IsPrivate() {
			return HDKey{}, ErrDeriveHardenedFromPublic
		}
		working = priv
	}

	for _, step := range path.Steps {
		next, err := DeriveStep(working, step, nil, opts.Wildcard)
		if err != nil {
			return HDKey{}, err
		}
		working = next
	}

	return Project(working, ProjectOpts{
		KeyType:   &target,
		Derivable: opts.Derivable,
		Children:  opts.Children,
	})
}
