package quicvarint

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	for _, tc := range []struct {
		name string
		b    []byte
		val  uint64
		len  int
	}{
		{"1-byte minimum", []byte{0b00000000}, 0, 1},
		{"1-byte maximum", []byte{0b00111111}, maxVarInt1, 1},
		{"2-byte sample", []byte{0b01111011, 0xbd}, 15293, 2},
		{"2-byte maximum", []byte{0b01111111, 0xff}, maxVarInt2, 2},
		{"4-byte sample", []byte{0b10011101, 0x7f, 0x3e, 0x7d}, 494878333, 4},
		{"4-byte maximum", []byte{0b10111111, 0xff, 0xff, 0xff}, maxVarInt4, 4},
		{"8-byte sample", []byte{0b11000010, 0x19, 0x7c, 0x5e, 0xff, 0x14, 0xe8, 0x8c}, 151288809941952652, 8},
		{"8-byte maximum", []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}, maxVarInt8, 8},
	} {
		t.Run(tc.name, func(t *testing.T) {
			val, n, err := Parse(tc.b)
			require.NoError(t, err)
			assert.Equal(t, tc.val, val)
			assert.Equal(t, tc.len, n)

			// values in a non-minimal encoding still parse
			rval, err := Read(bytes.NewReader(tc.b))
			require.NoError(t, err)
			assert.Equal(t, tc.val, rval)
		})
	}
}

func TestParseErrors(t *testing.T) {
	_, _, err := Parse(nil)
	assert.Equal(t, io.EOF, err)
	// an 8-byte encoding cut short
	_, _, err = Parse([]byte{0b11000010, 0x19, 0x7c})
	assert.Equal(t, io.ErrUnexpectedEOF, err)
}

func TestAppend(t *testing.T) {
	for _, val := range []uint64{0, 37, maxVarInt1, maxVarInt1 + 1, 15293, maxVarInt2, maxVarInt2 + 1, 494878333, maxVarInt4, maxVarInt4 + 1, 151288809941952652, maxVarInt8} {
		b := Append(nil, val)
		require.Equal(t, Len(val), len(b))
		parsed, n, err := Parse(b)
		require.NoError(t, err)
		assert.Equal(t, val, parsed)
		assert.Equal(t, len(b), n)
	}
	assert.Panics(t, func() { Append(nil, maxVarInt8+1) })
}

func TestAppendWithLen(t *testing.T) {
	for _, tc := range []struct {
		val    uint64
		length int
	}{
		{25, 1}, {25, 2}, {25, 4}, {25, 8},
		{15293, 2}, {15293, 4}, {15293, 8},
		{494878333, 4}, {494878333, 8},
	} {
		b := AppendWithLen(nil, tc.val, tc.length)
		require.Equal(t, tc.length, len(b))
		parsed, n, err := Parse(b)
		require.NoError(t, err)
		assert.Equal(t, tc.val, parsed)
		assert.Equal(t, tc.length, n)
	}
	assert.Panics(t, func() { AppendWithLen(nil, 15293, 1) })
	assert.Panics(t, func() { AppendWithLen(nil, 25, 3) })
}

func TestLen(t *testing.T) {
	assert.Equal(t, 1, Len(0))
	assert.Equal(t, 1, Len(maxVarInt1))
	assert.Equal(t, 2, Len(maxVarInt1+1))
	assert.Equal(t, 2, Len(maxVarInt2))
	assert.Equal(t, 4, Len(maxVarInt2+1))
	assert.Equal(t, 4, Len(maxVarInt4))
	assert.Equal(t, 8, Len(maxVarInt4+1))
	assert.Equal(t, 8, Len(maxVarInt8))
	assert.Panics(t, func() { Len(maxVarInt8 + 1) })
}
