package convert

import (
	"bytes"
	"fmt"
)

// Kind is the storage class of a raw cell.
type Kind int

const (
	Null Kind = iota
	Text
	Blob
	Other
)

func (k Kind) String() string {
	switch k {
	case Null:
		return "null"
	case Text:
		return "text"
	case Blob:
		return "blob"
	default:
		return "other"
	}
}

// Value is a raw cell as read from the database.
type Value struct {
	Kind Kind
	Text string
	Blob []byte
	Raw  any // set only for Other
}

func NullValue() Value         { return Value{Kind: Null} }
func TextValue(s string) Value { return Value{Kind: Text, Text: s} }
func BlobValue(b []byte) Value { return Value{Kind: Blob, Blob: b} }
func OtherValue(v any) Value   { return Value{Kind: Other, Raw: v} }

// IsNull reports whether v is SQL NULL.
func (v Value) IsNull() bool { return v.Kind == Null }

// Equal compares kind and payload.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case Null:
		return true
	case Text:
		return v.Text == o.Text
	case Blob:
		return bytes.Equal(v.Blob, o.Blob)
	default:
		return fmt.Sprint(v.Raw) == fmt.Sprint(o.Raw)
	}
}

// FromDriver classifies a value scanned into an *any by database/sql.
func FromDriver(v any) Value {
	switch t := v.(type) {
	case nil:
		return NullValue()
	case string:
		return TextValue(t)
	case []byte:
		// database/sql reuses the buffer on the next Scan.
		b := make([]byte, len(t))
		copy(b, t)
		return BlobValue(b)
	default:
		return OtherValue(v)
	}
}

// Arg returns the value in a form suitable for a query argument.
func (v Value) Arg() any {
	switch v.Kind {
	case Null:
		return nil
	case Text:
		return v.Text
	case Blob:
		return v.Blob
	default:
		return v.Raw
	}
}

// String is used in log lines; blobs are shown as hex.
func (v Value) String() string {
	switch v.Kind {
	case Null:
		return "NULL"
	case Text:
		return v.Text
	case Blob:
		return fmt.Sprintf("x'%X'", v.Blob)
	default:
		return fmt.Sprintf("%v (%T)", v.Raw, v.Raw)
	}
}
