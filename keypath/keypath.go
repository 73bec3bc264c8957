// Package keypath models BIP32 derivation paths: child indices,
// hardened markers, wildcard template steps, and the origin a path is
// rooted at.
package keypath

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	// HardenedKeyStart is the first hardened child number. 2^31.
	HardenedKeyStart = 0x80000000

	// MaxIndex is the largest child index; the hardened bit lives
	// above it.
	MaxIndex = HardenedKeyStart - 1
)

var (
	// ErrInvalidPath is returned when a textual path cannot be parsed.
	ErrInvalidPath = errors.New("keypath: invalid derivation path")

	// ErrIndexOutOfRange is returned for child indices >= 2^31.
	ErrIndexOutOfRange = errors.New("keypath: child index out of range")
)

// ChildIndex is a single child index specification: either a concrete
// index below 2^31 or a wildcard placeholder that must be substituted
// before use.
type ChildIndex struct {
	Value    uint32
	Wildcard bool
}

// Step is one derivation step: an index specification plus the
// hardened marker.
type Step struct {
	Index    ChildIndex
	Hardened bool
}

// NewStep returns a concrete step. The value must be below 2^31.
func NewStep(value uint32, hardened bool) Step {
	return Step{Index: ChildIndex{Value: value}, Hardened: hardened}
}

// WildcardStep returns a template step requiring substitution.
func WildcardStep(hardened bool) Step {
	return Step{Index: ChildIndex{Wildcard: true}, Hardened: hardened}
}

// StepFromChildNum unpacks a packed BIP32 child number into a step.
func StepFromChildNum(n uint32) Step {
	if n >= HardenedKeyStart {
		return NewStep(n-HardenedKeyStart, true)
	}
	return NewStep(n, false)
}

// ChildNum resolves the step to its packed BIP32 child number,
// substituting sub for a wildcard. It reports false when the step is
// a wildcard and no substitution was supplied, or when the resolved
// index is out of range.
func (s Step) ChildNum(sub *uint32) (uint32, bool) {
	v := s.Index.Value
	if s.Index.Wildcard {
		if sub == nil {
			return 0, false
		}
		v = *sub
	}
	if v > MaxIndex {
		return 0, false
	}
	if s.Hardened {
		v |= HardenedKeyStart
	}
	return v, true
}

// Resolve returns the concrete step the substitution resolves this
// step to. Concrete steps are returned unchanged.
func (s Step) Resolve(sub *uint32) (Step, bool) {
	n, ok := s.ChildNum(sub)
	if !ok {
		return Step{}, false
	}
	return StepFromChildNum(n), true
}

// String renders the step in the canonical textual form, with ' for
// the hardened marker.
func (s Step) String() string {
	var b strings.Builder
	if s.Index.Wildcard {
		b.WriteByte('*')
	} else {
		b.WriteString(strconv.FormatUint(uint64(s.Index.Value), 10))
	}
	if s.Hardened {
		b.WriteByte('\'')
	}
	return b.String()
}

// Origin names where a path is rooted: the fingerprint of the source
// key, a symbolic name, or nothing. The zero value is no origin.
type Origin struct {
	Fingerprint uint32 // nonzero for a fingerprint origin
	Name        string // nonempty for a named origin
}

// OriginFingerprint returns a fingerprint origin.
func OriginFingerprint(fp uint32) Origin {
	return Origin{Fingerprint: fp}
}

// OriginName returns a symbolic origin.
func OriginName(name string) Origin {
	return Origin{Name: name}
}

// IsNone reports whether no origin is set.
func (o Origin) IsNone() bool {
	return o == Origin{}
}

// String renders the origin as it appears at the head of a textual
// path.
func (o Origin) String() string {
	switch {
	case o.Fingerprint != 0:
		return fmt.Sprintf("%08x", o.Fingerprint)
	case o.Name != "":
		return "@" + o.Name
	default:
		return ""
	}
}

// Path is an ordered sequence of derivation steps together with an
// optional origin and an optional explicit depth. The zero value is
// the empty path.
type Path struct {
	Steps  []Step
	Origin Origin

	// Depth is the depth of the located key below the origin master
	// key, counting the steps, when known. nil means unknown; the
	// effective depth is then the step count.
	Depth *uint8
}

// New returns a path over the given steps with no origin and unknown
// depth.
func New(steps ...Step) Path {
	return Path{Steps: steps}
}

// DepthPtr is a convenience for building paths with an explicit
// depth.
func DepthPtr(d uint8) *uint8 {
	return &d
}

// IsEmpty reports whether the path carries no information at all.
func (p Path) IsEmpty() bool {
	return len(p.Steps) == 0 && p.Origin.IsNone() && p.Depth == nil
}

// IsMaster reports whether the path locates a master key: no steps
// and no origin other than a fingerprint.
func (p Path) IsMaster() bool {
	return len(p.Steps) == 0 && p.Origin.Name == ""
}

// IsHardened reports whether any step is hardened.
func (p Path) IsHardened() bool {
	for _, s := range p.Steps {
		if s.Hardened {
			return true
		}
	}
	return false
}

// HasWildcard reports whether any step is a wildcard template.
func (p Path) HasWildcard() bool {
	for _, s := range p.Steps {
		if s.Index.Wildcard {
			return true
		}
	}
	return false
}

// EffectiveDepth is the explicit depth when set, the step count
// otherwise.
func (p Path) EffectiveDepth() int {
	if p.Depth != nil {
		return int(*p.Depth)
	}
	return len(p.Steps)
}

// OriginFingerprint returns the origin fingerprint, zero when the
// origin is absent or symbolic.
func (p Path) OriginFingerprint() uint32 {
	return p.Origin.Fingerprint
}

// Append returns a copy of the path with the step appended.
func (p Path) Append(s Step) Path {
	steps := make([]Step, 0, len(p.Steps)+1)
	steps = append(steps, p.Steps...)
	steps = append(steps, s)
	next := p
	next.Steps = steps
	return next
}

// Join returns the concatenation of two paths, keeping the receiver's
// origin and depth.
func (p Path) Join(q Path) Path {
	steps := make([]Step, 0, len(p.Steps)+len(q.Steps))
	steps = append(steps, p.Steps...)
	steps = append(steps, q.Steps...)
	next := p
	next.Steps = steps
	return next
}

// DropFirst removes the first n steps and clears the origin and
// depth. It reports false when the path has fewer than n steps.
func (p Path) DropFirst(n int) (Path, bool) {
	if len(p.Steps) < n {
		return Path{}, false
	}
	rest := make([]Step, len(p.Steps)-n)
	copy(rest, p.Steps[n:])
	return Path{Steps: rest}, true
}

// Equal reports structural equality of two paths.
func (p Path) Equal(q Path) bool {
	if len(p.Steps) != len(q.Steps) || p.Origin != q.Origin {
		return false
	}
	if (p.Depth == nil) != (q.Depth == nil) {
		return false
	}
	if p.Depth != nil && *p.Depth != *q.Depth {
		return false
	}
	for i := range p.Steps {
		if p.Steps[i] != q.Steps[i] {
			return false
		}
	}
	return true
}

// String renders the canonical textual form: the origin, if any,
// followed by the steps separated by slashes.
func (p Path) String() string {
	var parts []string
	if o := p.Origin.String(); o != "" {
		parts = append(parts, o)
	}
	for _, s := range p.Steps {
		parts = append(parts, s.String())
	}
	return strings.Join(parts, "/")
}

// Parse reads the textual form [origin/]step('/'step)*. A step is
// digits optionally followed by ' or h, or * optionally followed by
// ' or h. The origin is an 8-digit hex fingerprint or @name. A
// leading m/ is accepted and ignored.
func Parse(s string) (Path, error) {
	var p Path
	if s == "" || s == "m" {
		return p, nil
	}
	elems := strings.Split(s, "/")
	if strings.TrimSpace(elems[0]) == "m" {
		elems = elems[1:]
	}
	if len(elems) > 0 {
		if origin, ok, err := parseOrigin(elems[0]); err != nil {
			return Path{}, err
		} else if ok {
			p.Origin = origin
			elems = elems[1:]
		}
	}
	for _, elem := range elems {
		step, err := parseStep(elem)
		if err != nil {
			return Path{}, err
		}
		p.Steps = append(p.Steps, step)
	}
	return p, nil
}

func parseOrigin(elem string) (Origin, bool, error) {
	if strings.HasPrefix(elem, "@") {
		name := elem[1:]
		if name == "" {
			return Origin{}, false, fmt.Errorf("%w: empty origin name", ErrInvalidPath)
		}
		return OriginName(name), true, nil
	}
	if len(elem) == 8 {
		if fp, err := strconv.ParseUint(elem, 16, 32); err == nil {
			return OriginFingerprint(uint32(fp)), true, nil
		}
	}
	return Origin{}, false, nil
}

func parseStep(elem string) (Step, error) {
	elem = strings.TrimSpace(elem)
	if elem == "" {
		return Step{}, fmt.Errorf("%w: empty step", ErrInvalidPath)
	}
	hardened := false
	switch elem[len(elem)-1] {
	case '\'', 'h':
		hardened = true
		elem = elem[:len(elem)-1]
	}
	if elem == "*" {
		return WildcardStep(hardened), nil
	}
	v, err := strconv.ParseUint(elem, 10, 32)
	if err != nil {
		return Step{}, fmt.Errorf("%w: bad step %q", ErrInvalidPath, elem)
	}
	if v > MaxIndex {
		return Step{}, fmt.Errorf("%w: %d", ErrIndexOutOfRange, v)
	}
	return NewStep(uint32(v), hardened), nil
}
