package keypath

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Tag is the registered CBOR tag for a derivation path.
const Tag = 304

// ErrInvalidFormat is returned when an encoded path violates the
// schema.
var ErrInvalidFormat = errors.New("keypath: invalid format")

const (
	keyComponents = 1
	keyOrigin     = 2
	keyDepth      = 3
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

// TaggedCBOR encodes the path as a tagged map: a flat component array
// alternating index and hardened flag (a wildcard index encoded as an
// empty array), the origin fingerprint when present, and the explicit
// depth when set. Symbolic origins have no wire form and are elided.
func (p Path) TaggedCBOR() ([]byte, error) {
	components := make([]any, 0, 2*len(p.Steps))
	for _, s := range p.Steps {
		if s.Index.Wildcard {
			components = append(components, []any{})
		} else {
			components = append(components, s.Index.Value)
		}
		components = append(components, s.Hardened)
	}
	m := map[int]any{
		keyComponents: components,
	}
	if fp := p.Origin.Fingerprint; fp != 0 {
		m[keyOrigin] = fp
	}
	if p.Depth != nil {
		m[keyDepth] = *p.Depth
	}
	content, err := encMode.Marshal(m)
	if err != nil {
		return nil, err
	}
	return encMode.Marshal(cbor.RawTag{Number: Tag, Content: content})
}

// DecodeTaggedCBOR decodes a tagged derivation path, rejecting
// unknown map keys and malformed component arrays.
func DecodeTaggedCBOR(data []byte) (Path, error) {
	var tag cbor.RawTag
	if err := decMode.Unmarshal(data, &tag); err != nil {
		return Path{}, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	if tag.Number != Tag {
		return Path{}, fmt.Errorf("%w: unexpected tag %d", ErrInvalidFormat, tag.Number)
	}
	return decodeMap(tag.Content)
}

func decodeMap(data []byte) (Path, error) {
	var m map[uint64]cbor.RawMessage
	if err := decMode.Unmarshal(data, &m); err != nil {
		return Path{}, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	var p Path
	sawComponents := false
	for k, v := range m {
		switch k {
		case keyComponents:
			steps, err := decodeComponents(v)
			if err != nil {
				return Path{}, err
			}
			p.Steps = steps
			sawComponents = true
		case keyOrigin:
			var fp uint32
			if err := decMode.Unmarshal(v, &fp); err != nil {
				return Path{}, fmt.Errorf("%w: origin: %v", ErrInvalidFormat, err)
			}
			if fp == 0 {
				return Path{}, fmt.Errorf("%w: zero origin fingerprint", ErrInvalidFormat)
			}
			p.Origin = OriginFingerprint(fp)
		case keyDepth:
			var d uint8
			if err := decMode.Unmarshal(v, &d); err != nil {
				return Path{}, fmt.Errorf("%w: depth: %v", ErrInvalidFormat, err)
			}
			p.Depth = &d
		default:
			return Path{}, fmt.Errorf("%w: unknown key %d", ErrInvalidFormat, k)
		}
	}
	if !sawComponents {
		return Path{}, fmt.Errorf("%w: missing components", ErrInvalidFormat)
	}
	if p.Depth != nil && int(*p.Depth) < len(p.Steps) {
		return Path{}, fmt.Errorf("%w: depth %d below step count %d",
			ErrInvalidFormat, *p.Depth, len(p.Steps))
	}
	return p, nil
}

func decodeComponents(data cbor.RawMessage) ([]Step, error) {
	var items []cbor.RawMessage
	if err := decMode.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("%w: components: %v", ErrInvalidFormat, err)
	}
	if len(items)%2 != 0 {
		return nil, fmt.Errorf("%w: odd component count %d", ErrInvalidFormat, len(items))
	}
	var steps []Step
	for i := 0; i < len(items); i += 2 {
		var step Step
		var index uint32
		if err := decMode.Unmarshal(items[i], &index); err == nil {
			if index > MaxIndex {
				return nil, fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
			}
			step.Index.Value = index
		} else {
			var placeholder []cbor.RawMessage
			if err := decMode.Unmarshal(items[i], &placeholder); err != nil || len(placeholder) != 0 {
				return nil, fmt.Errorf("%w: bad component at %d", ErrInvalidFormat, i)
			}
			step.Index.Wildcard = true
		}
		if err := decMode.Unmarshal(items[i+1], &step.Hardened); err != nil {
			return nil, fmt.Errorf("%w: bad hardened flag at %d", ErrInvalidFormat, i+1)
		}
		steps = append(steps, step)
	}
	return steps, nil
}
