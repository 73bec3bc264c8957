// Package ur implements the uniform-resource string transport for
// tagged-CBOR structures: a ur: scheme, a type label, and a payload
// in the minimal bytewords encoding with a CRC-32 checksum.
package ur

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"strings"
)

var (
	// ErrInvalidUR is returned when a string is not a well-formed
	// single-part UR.
	ErrInvalidUR = errors.New("ur: invalid uniform resource")

	// ErrChecksum is returned when the payload checksum does not
	// match.
	ErrChecksum = errors.New("ur: checksum mismatch")

	// ErrWrongType is returned by DecodeTyped when the type label is
	// not the expected one.
	ErrWrongType = errors.New("ur: unexpected type")
)

// The bytewords list: 256 four-letter words whose first and last
// letters are pairwise unique, indexed by byte value.
const wordList = "able acid also apex aqua arch atom aunt award back " +
	"bald balm barn belt beta bias blue body brag brew bulb buzz calm " +
	"cash cats chef city claw code cola cook cost crux curl cusp cyan " +
	"dark data days deli dice diet door down draw drop drum dull duty " +
	"each easy echo edge epic even exam exit eyes fact fair fern figs " +
	"film fish fizz flap flew flux foxy free frog fuel fund gala game " +
	"gear gems gift girl glow good gray grim guru gush gyro half hang " +
	"hard hawk heat help high hill holy hope horn huts iced idea idle " +
	"inch inky into iris iron item jade jazz join jolt jowl judo jugs " +
	"jump junk jury keep keno kept keys kick kiln king kite kiwi knob " +
	"lamb lava lazy leaf legs liar limp lion list logo loud love luau " +
	"luck lung main many math maze memo menu meow mild mint miss monk " +
	"nail navy need news next noon note numb obey oboe omit onyx open " +
	"oval owls paid part peck play plus poem pool pose puff puma purr " +
	"quad quiz race ramp real redo rich road rock roof ruby ruin runs " +
	"rust safe saga scar sets silk skew slot soap solo song stub surf " +
	"swan taco task taxi tent tied time tiny toil tomb toys trip tuna " +
	"twin ugly undo unit urge user vast very veto vial vibe view visa " +
	"void vows wall wand warm wasp wave waxy webs what when whiz wolf " +
	"work yank yawn yell yoga yurt zaps zero zest zinc zone zoom"

// minimal[i] is the two-letter minimal byteword for byte i.
var minimal [256]string

// byteForPair maps a minimal byteword back to its byte value.
var byteForPair map[string]byte

func init() {
	words := strings.Fields(wordList)
	if len(words) != 256 {
		panic(fmt.Sprintf("ur: bytewords list has %d entries", len(words)))
	}
	byteForPair = make(map[string]byte, 256)
	for i, w := range words {
		pair := string([]byte{w[0], w[3]})
		minimal[i] = pair
		byteForPair[pair] = byte(i)
	}
}

// Encode wraps a CBOR payload in a single-part UR string with the
// given type label.
func Encode(typ string, payload []byte) string {
	var b strings.Builder
	b.WriteString("ur:")
	b.WriteString(typ)
	b.WriteByte('/')
	body := make([]byte, 0, len(payload)+4)
	body = append(body, payload...)
	body = binary.BigEndian.AppendUint32(body, crc32.ChecksumIEEE(payload))
	for _, v := range body {
		b.WriteString(minimal[v])
	}
	return b.String()
}

// Decode parses a single-part UR string, returning the type label and
// the CBOR payload after verifying the checksum.
func Decode(s string) (typ string, payload []byte, err error) {
	lower := strings.ToLower(s)
	rest, ok := strings.CutPrefix(lower, "ur:")
	if !ok {
		return "", nil, fmt.Errorf("%w: missing ur scheme", ErrInvalidUR)
	}
	typ, body, ok := strings.Cut(rest, "/")
	if !ok || typ == "" || body == "" {
		return "", nil, fmt.Errorf("%w: missing type or payload", ErrInvalidUR)
	}
	if strings.Contains(body, "/") {
		return "", nil, fmt.Errorf("%w: multi-part resources are not supported", ErrInvalidUR)
	}
	if !validType(typ) {
		return "", nil, fmt.Errorf("%w: bad type %q", ErrInvalidUR, typ)
	}
	if len(body)%2 != 0 {
		return "", nil, fmt.Errorf("%w: odd payload length", ErrInvalidUR)
	}
	decoded := make([]byte, 0, len(body)/2)
	for i := 0; i < len(body); i += 2 {
		v, ok := byteForPair[body[i:i+2]]
		if !ok {
			return "", nil, fmt.Errorf("%w: bad byteword %q", ErrInvalidUR, body[i:i+2])
		}
		decoded = append(decoded, v)
	}
	if len(decoded) < 4 {
		return "", nil, fmt.Errorf("%w: payload too short", ErrInvalidUR)
	}
	payload, sum := decoded[:len(decoded)-4], decoded[len(decoded)-4:]
	if crc32.ChecksumIEEE(payload) != binary.BigEndian.Uint32(sum) {
		return "", nil, ErrChecksum
	}
	return typ, payload, nil
}

// DecodeTyped parses a single-part UR string and checks the type
// label.
func DecodeTyped(s, wantType string) ([]byte, error) {
	typ, payload, err := Decode(s)
	if err != nil {
		return nil, err
	}
	if typ != wantType {
		return nil, fmt.Errorf("%w: got %q, want %q", ErrWrongType, typ, wantType)
	}
	return payload, nil
}

func validType(typ string) bool {
	for i := 0; i < len(typ); i++ {
		c := typ[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= '0' && c <= '9':
		case c == '-':
		default:
			return false
		}
	}
	return true
}
