// Package convert maps raw identifier cells onto their canonical text form.
package convert

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mistakeknot/guidpatch/internal/identifier"
)

// ErrUnexpectedValue is returned for cells whose storage class cannot hold
// an identifier. It means the schema does not look like the mapping says,
// so callers abort instead of skipping the row.
var ErrUnexpectedValue = errors.New("unexpected identifier storage")

// Converter holds the byte order used to decode 16-byte values.
type Converter struct {
	Order identifier.ByteOrder
}

// Convert uses the default (mixed) byte order.
func Convert(v Value, notNull bool) (Value, error) {
	return Converter{}.Convert(v, notNull)
}

// Convert returns the canonical post-migration value for v.
//
//	null                 -> null
//	identifier text      -> upper-cased text
//	blob, 0 bytes        -> null
//	blob, 16 zero bytes  -> null, or the zero identifier text if notNull
//	blob, 16 bytes       -> canonical text
//	blob, other length   -> unchanged
func (c Converter) Convert(v Value, notNull bool) (Value, error) {
	switch v.Kind {
	case Null:
		return v, nil
	case Text:
		if !identifier.IsText(v.Text) {
			return Value{}, fmt.Errorf("%w: text %q is not an identifier", ErrUnexpectedValue, v.Text)
		}
		return TextValue(strings.ToUpper(v.Text)), nil
	case Blob:
		switch len(v.Blob) {
		case 0:
			return NullValue(), nil
		case identifier.Size:
			id, err := identifier.FromBytes(v.Blob, c.Order)
			if err != nil {
				return Value{}, err
			}
			if id.IsZero() && !notNull {
				return NullValue(), nil
			}
			return TextValue(id.String()), nil
		default:
			return v, nil
		}
	default:
		return Value{}, fmt.Errorf("%w: %s", ErrUnexpectedValue, v)
	}
}

// Row converts every listed column of row. Columns missing from row are
// ignored. The input map is not modified.
func (c Converter) Row(row map[string]Value, columns []string, notNull map[string]bool) (map[string]Value, error) {
	out := make(map[string]Value, len(columns))
	for _, col := range columns {
		raw, ok := row[col]
		if !ok {
			continue
		}
		conv, err := c.Convert(raw, notNull[col])
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", col, err)
		}
		out[col] = conv
	}
	return out, nil
}
