package osc

import (
	stderrors "errors"
	"math"
	"testing"
	"time"

	gosc "github.com/hypebeast/go-osc/osc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/oscbridge/errors"
)

func TestDecode_SynthFreq(t *testing.T) {
	b := []byte{
		'/', 's', 'y', 'n', 't', 'h', '/', 'f', 'r', 'e', 'q', 0,
		',', 'f', 0, 0,
		0x43, 0xdc, 0x00, 0x00, // 440.0
	}

	msg, err := Decode(b, "127.0.0.1", 57120)
	require.NoError(t, err)

	assert.Equal(t, "/synth/freq", msg.Address)
	assert.Equal(t, "f", msg.TypeTags)
	require.Len(t, msg.Arguments, 1)
	assert.Equal(t, Float32(440.0), msg.Arguments[0])
	assert.Equal(t, "127.0.0.1", msg.SourceAddress)
	assert.Equal(t, 57120, msg.SourcePort)
	assert.False(t, msg.ReceivedAt.IsZero())
}

func TestDecode_AllSupportedTypes(t *testing.T) {
	b := []byte{
		'/', 'm', 'i', 'x', 0, 0, 0, 0,
		',', 'i', 'f', 's', 'b', 0, 0, 0,
		0xff, 0xff, 0xff, 0xfe, // -2
		0x3f, 0x80, 0x00, 0x00, // 1.0
		'h', 'i', 0, 0,
		0, 0, 0, 3, 1, 2, 3, 0,
	}
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	msg, err := DecodeAt(b, "10.0.0.1", 9000, at)
	require.NoError(t, err)

	assert.Equal(t, "ifsb", msg.TypeTags)
	assert.Equal(t, []Argument{Int32(-2), Float32(1.0), String("hi"), Blob{1, 2, 3}}, msg.Arguments)
	assert.Equal(t, at, msg.ReceivedAt)
}

func TestDecode_NoArguments(t *testing.T) {
	msg, err := Decode([]byte{'/', 'p', 'i', 'n', 'g', 0, 0, 0, ',', 0, 0, 0}, "", 0)
	require.NoError(t, err)
	assert.Equal(t, "/ping", msg.Address)
	assert.Equal(t, "", msg.TypeTags)
	assert.Empty(t, msg.Arguments)
}

func TestDecode_UnknownTagsSkipped(t *testing.T) {
	b := []byte{
		'/', 'x', 0, 0,
		',', 'T', 'i', 'N', 0, 0, 0, 0,
		0, 0, 0, 7,
	}

	msg, err := Decode(b, "", 0)
	require.NoError(t, err)
	assert.Equal(t, "TiN", msg.TypeTags)
	assert.Equal(t, []Argument{Int32(7)}, msg.Arguments)
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name   string
		input  []byte
		reason DecodeReason
		offset int
	}{
		{"empty", nil, ReasonTooShort, 0},
		{"seven bytes", []byte("/abc\x00\x00\x00"), ReasonTooShort, 0},
		{"address unterminated", []byte("/abcdefgh"), ReasonAddressUnterminated, 0},
		{"address missing slash", []byte("abc\x00,\x00\x00\x00"), ReasonAddressMissingSlash, 0},
		{"missing comma", []byte("/abc\x00\x00\x00\x00i\x00\x00\x00"), ReasonTypeTagsMissingComma, 8},
		{"no type tag string", []byte("/abcdef\x00"), ReasonTypeTagsMissingComma, 8},
		{"type tags unterminated", []byte("/abc\x00\x00\x00\x00,iii"), ReasonTypeTagsUnterminated, 8},
		{"int truncated", []byte("/a\x00\x00,i\x00\x00\x00\x01"), ReasonArgumentTruncated, 8},
		{"float missing", []byte("/a\x00\x00,f\x00\x00"), ReasonArgumentTruncated, 8},
		{"string unterminated", []byte("/a\x00\x00,s\x00\x00abcd"), ReasonStringUnterminated, 8},
		{"string missing", []byte("/a\x00\x00,s\x00\x00"), ReasonStringUnterminated, 8},
		{"blob length missing", []byte("/a\x00\x00,b\x00\x00\x00\x00"), ReasonArgumentTruncated, 8},
		{"blob data truncated", []byte("/a\x00\x00,b\x00\x00\x00\x00\x00\x08abcd"), ReasonArgumentTruncated, 8},
		{"blob huge length", []byte("/a\x00\x00,b\x00\x00\xff\xff\xff\xff"), ReasonArgumentTruncated, 8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Decode(tt.input, "127.0.0.1", 1)
			require.Error(t, err)
			assert.Nil(t, msg)

			var de *DecodeError
			require.True(t, stderrors.As(err, &de))
			assert.Equal(t, tt.reason, de.Reason)
			assert.Equal(t, tt.offset, de.Offset)
			assert.ErrorIs(t, err, errors.ErrInvalidData)
		})
	}
}

func TestDecode_BlobDoesNotAliasInput(t *testing.T) {
	b := []byte("/a\x00\x00,b\x00\x00\x00\x00\x00\x02xy\x00\x00")
	msg, err := Decode(b, "", 0)
	require.NoError(t, err)

	b[12] = 'z'
	assert.Equal(t, Blob("xy"), msg.Arguments[0])
}

func TestDecode_InvalidUTF8Replaced(t *testing.T) {
	b := []byte("/a\x00\x00,s\x00\x00\xff\x00\x00\x00")
	msg, err := Decode(b, "", 0)
	require.NoError(t, err)
	assert.Equal(t, String("\uFFFD"), msg.Arguments[0])
}

// Packets built by an independent OSC implementation decode to the same values.
func TestDecode_Interop(t *testing.T) {
	m := gosc.NewMessage("/synth/osc/1")
	m.Append(int32(42))
	m.Append(float32(0.5))
	m.Append("saw")
	m.Append([]byte{9, 8, 7, 6, 5})
	m.Append(true)

	b, err := m.MarshalBinary()
	require.NoError(t, err)

	msg, err := Decode(b, "127.0.0.1", 8000)
	require.NoError(t, err)
	assert.Equal(t, "/synth/osc/1", msg.Address)
	assert.Equal(t, "ifsbT", msg.TypeTags)
	assert.Equal(t, []Argument{Int32(42), Float32(0.5), String("saw"), Blob{9, 8, 7, 6, 5}}, msg.Arguments)
}

func TestAlign4(t *testing.T) {
	for in, want := range map[int]int{0: 0, 1: 4, 3: 4, 4: 4, 5: 8, 12: 12} {
		assert.Equal(t, want, align4(in), "align4(%d)", in)
	}
}

func FuzzDecode(f *testing.F) {
	seeds := [][]byte{
		[]byte("/a\x00\x00,ifsb\x00\x00\x00"),
		[]byte("/synth/freq\x00,f\x00\x00\x43\xdc\x00\x00"),
		[]byte("/a\x00\x00,b\x00\x00\xff\xff\xff\xff"),
		[]byte("/x\x00\x00,TsN\x00\x00\x00\x00hello\x00\x00\x00"),
	}
	for _, s := range seeds {
		f.Add(s)
	}

	f.Fuzz(func(t *testing.T, data []byte) {
		msg, err := DecodeAt(data, "fuzz", 0, time.Unix(0, 0))
		if err != nil {
			var de *DecodeError
			if !stderrors.As(err, &de) {
				t.Fatalf("unexpected error type %T", err)
			}
			if de.Offset < 0 || de.Offset > len(data)+3 {
				t.Fatalf("offset %d outside input of %d bytes", de.Offset, len(data))
			}
			return
		}

		supported := 0
		for i := 0; i < len(msg.TypeTags); i++ {
			switch msg.TypeTags[i] {
			case TagInt32, TagFloat32, TagString, TagBlob:
				supported++
			}
		}
		if supported != len(msg.Arguments) {
			t.Fatalf("%d supported tags but %d arguments", supported, len(msg.Arguments))
		}

		// Re-encoding a decoded message must decode to the same arguments.
		encoded, err := msg.MarshalBinary()
		if err != nil {
			return // addresses or strings with invalid bytes for encoding
		}
		again, err := DecodeAt(encoded, "fuzz", 0, time.Unix(0, 0))
		if err != nil {
			t.Fatalf("re-decode failed: %v", err)
		}
		if len(again.Arguments) != len(msg.Arguments) {
			t.Fatalf("argument count changed: %d != %d", len(again.Arguments), len(msg.Arguments))
		}
		for i := range msg.Arguments {
			if f, ok := msg.Arguments[i].(Float32); ok && math.IsNaN(float64(f)) {
				continue
			}
			assert.Equal(t, msg.Arguments[i], again.Arguments[i])
		}
	})
}
