package identifier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromBytesMixedOrder(t *testing.T) {
	raw := []byte{
		0x33, 0x22, 0x11, 0x00,
		0x55, 0x44,
		0x77, 0x66,
		0x88, 0x99, 0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff,
	}
	id, err := FromBytes(raw, Mixed)
	require.NoError(t, err)
	assert.Equal(t, "00112233-4455-6677-8899-AABBCCDDEEFF", id.String())
	assert.Equal(t, raw, id.Bytes(Mixed))
}

func TestFromBytesRFC4122Order(t *testing.T) {
	raw := []byte{
		0x00, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77,
		0x88, 0x99, 0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff,
	}
	id, err := FromBytes(raw, RFC4122)
	require.NoError(t, err)
	assert.Equal(t, "00112233-4455-6677-8899-AABBCCDDEEFF", id.String())
	assert.Equal(t, raw, id.Bytes(RFC4122))
}

func TestFromBytesRejectsWrongLength(t *testing.T) {
	_, err := FromBytes(make([]byte, 15), Mixed)
	require.Error(t, err)
}

func TestZeroString(t *testing.T) {
	id, err := FromBytes(make([]byte, Size), Mixed)
	require.NoError(t, err)
	assert.True(t, id.IsZero())
	assert.Equal(t, "00000000-0000-0000-0000-000000000000", id.String())
}

func TestParseAcceptsCommonForms(t *testing.T) {
	for _, s := range []string{
		"00112233-4455-6677-8899-aabbccddeeff",
		"{00112233-4455-6677-8899-AABBCCDDEEFF}",
		"00112233445566778899aabbccddeeff",
		"urn:uuid:00112233-4455-6677-8899-aabbccddeeff",
	} {
		id, err := Parse(s)
		require.NoError(t, err, s)
		assert.Equal(t, "00112233-4455-6677-8899-AABBCCDDEEFF", id.String(), s)
		assert.True(t, IsText(s), s)
	}
	assert.False(t, IsText("not-an-id"))
	assert.False(t, IsText(""))
}

func TestParseByteOrder(t *testing.T) {
	o, err := ParseByteOrder("")
	require.NoError(t, err)
	assert.Equal(t, Mixed, o)

	o, err = ParseByteOrder("RFC4122")
	require.NoError(t, err)
	assert.Equal(t, RFC4122, o)
	assert.Equal(t, "rfc4122", o.String())

	_, err = ParseByteOrder("little")
	require.Error(t, err)
}

func TestNewRoundTripsThroughBytes(t *testing.T) {
	id := New()
	back, err := FromBytes(id.Bytes(Mixed), Mixed)
	require.NoError(t, err)
	assert.Equal(t, id, back)
}
