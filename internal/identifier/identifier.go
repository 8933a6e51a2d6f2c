// Package identifier decodes 128-bit identifiers stored as raw bytes and
// renders them in canonical uppercase hyphenated form.
package identifier

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Size is the length in bytes of a binary identifier.
const Size = 16

// ByteOrder selects how the 16 stored bytes map onto the textual groups.
type ByteOrder int

const (
	// Mixed stores the first three groups little-endian and the last two
	// as-is. This is the Microsoft GUID struct layout.
	Mixed ByteOrder = iota
	// RFC4122 stores all sixteen bytes in textual order.
	RFC4122
)

// String returns the config spelling of the byte order.
func (o ByteOrder) String() string {
	switch o {
	case Mixed:
		return "mixed"
	case RFC4122:
		return "rfc4122"
	default:
		return "unknown"
	}
}

// ParseByteOrder accepts "mixed" or "rfc4122" (case-insensitive). Empty means Mixed.
func ParseByteOrder(s string) (ByteOrder, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "mixed":
		return Mixed, nil
	case "rfc4122", "big-endian", "bigendian":
		return RFC4122, nil
	default:
		return Mixed, fmt.Errorf("unknown byte order %q", s)
	}
}

// ID is an identifier in textual byte order.
type ID uuid.UUID

// Zero is the all-zero identifier.
var Zero ID

// FromBytes decodes a 16-byte stored value using the given byte order.
func FromBytes(b []byte, order ByteOrder) (ID, error) {
	if len(b) != Size {
		return Zero, fmt.Errorf("identifier: expected %d bytes, got %d", Size, len(b))
	}
	var id ID
	copy(id[:], b)
	if order == Mixed {
		id[0], id[1], id[2], id[3] = b[3], b[2], b[1], b[0]
		id[4], id[5] = b[5], b[4]
		id[6], id[7] = b[7], b[6]
	}
	return id, nil
}

// Bytes encodes the identifier back into its stored form.
func (id ID) Bytes(order ByteOrder) []byte {
	out := make([]byte, Size)
	copy(out, id[:])
	if order == Mixed {
		out[0], out[1], out[2], out[3] = id[3], id[2], id[1], id[0]
		out[4], out[5] = id[5], id[4]
		out[6], out[7] = id[7], id[6]
	}
	return out
}

// IsZero reports whether every byte is zero.
func (id ID) IsZero() bool {
	return id == Zero
}

// String renders the canonical uppercase hyphenated form.
func (id ID) String() string {
	return strings.ToUpper(uuid.UUID(id).String())
}

// Parse reads any textual form google/uuid accepts: hyphenated, braced,
// urn-prefixed or 32 bare hex digits.
func Parse(s string) (ID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return Zero, err
	}
	return ID(u), nil
}

// IsText reports whether s parses as an identifier.
func IsText(s string) bool {
	return uuid.Validate(s) == nil
}

// New returns a random (version 4) identifier.
func New() ID {
	return ID(uuid.New())
}
