package osc

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/oscbridge/errors"
)

func TestEncode_RoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		address string
		args    []Argument
	}{
		{"no arguments", "/ping", nil},
		{"int", "/midi/note", []Argument{Int32(60)}},
		{"negative int", "/n", []Argument{Int32(math.MinInt32)}},
		{"float", "/synth/freq", []Argument{Float32(440.0)}},
		{"aligned string", "/s", []Argument{String("abc")}},
		{"string needing padding", "/s", []Argument{String("abcd")}},
		{"empty string", "/s", []Argument{String("")}},
		{"blob", "/data", []Argument{Blob{0xde, 0xad, 0xbe, 0xef, 0x01}}},
		{"empty blob", "/data", []Argument{Blob{}}},
		{"mixed", "/mixer/channel/1", []Argument{Int32(1), Float32(0.75), String("vocals"), Blob("raw")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := Encode(tt.address, tt.args...)
			require.NoError(t, err)
			assert.Zero(t, len(b)%4)

			msg, err := Decode(b, "", 0)
			require.NoError(t, err)
			assert.Equal(t, tt.address, msg.Address)

			tags := ""
			for _, a := range tt.args {
				tags += string(a.Tag())
			}
			assert.Equal(t, tags, msg.TypeTags)

			if len(tt.args) == 0 {
				assert.Empty(t, msg.Arguments)
				return
			}
			assert.Equal(t, tt.args, msg.Arguments)
		})
	}
}

func TestEncode_Invalid(t *testing.T) {
	_, err := Encode("no/slash")
	assert.True(t, errors.IsInvalid(err))

	_, err = Encode("/a\x00b")
	assert.True(t, errors.IsInvalid(err))

	_, err = Encode("/a", String("x\x00y"))
	assert.True(t, errors.IsInvalid(err))

	_, err = Encode("/a", nil)
	assert.True(t, errors.IsInvalid(err))
}

func TestMessage_MarshalBinary(t *testing.T) {
	msg := &Message{Address: "/a", TypeTags: "iT", Arguments: []Argument{Int32(5)}}
	b, err := msg.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, []byte("/a\x00\x00,i\x00\x00\x00\x00\x00\x05"), b)
}

func TestMessage_JSON(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	msg := &Message{
		ReceivedAt:    at,
		Address:       "/fx/reverb",
		TypeTags:      "ifsb",
		Arguments:     []Argument{Int32(3), Float32(0.25), String("hall"), Blob{1, 2}},
		SourceAddress: "127.0.0.1",
		SourcePort:    5000,
	}

	data, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"receivedAt": "2024-05-01T12:00:00Z",
		"address": "/fx/reverb",
		"typeTags": "ifsb",
		"arguments": [
			{"type": "i", "value": 3},
			{"type": "f", "value": 0.25},
			{"type": "s", "value": "hall"},
			{"type": "b", "value": "AQI="}
		],
		"sourceAddress": "127.0.0.1",
		"sourcePort": 5000
	}`, string(data))

	var decoded Message
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, msg.Arguments, decoded.Arguments)
	assert.Equal(t, msg.Address, decoded.Address)
	assert.True(t, at.Equal(decoded.ReceivedAt))
}

func TestFloat32_NonFiniteJSON(t *testing.T) {
	for _, f := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		data, err := json.Marshal(Float32(f))
		require.NoError(t, err)

		arg, err := UnmarshalArgument(data)
		require.NoError(t, err)
		got := float64(arg.(Float32))
		if math.IsNaN(f) {
			assert.True(t, math.IsNaN(got))
		} else {
			assert.Equal(t, f, got)
		}
	}
}

func TestUnmarshalArgument_Invalid(t *testing.T) {
	for _, in := range []string{
		`{"type":"x","value":1}`,
		`{"type":"","value":1}`,
		`{"type":"i","value":"one"}`,
		`{"type":"f","value":"fast"}`,
		`{"type":"b","value":"***"}`,
		`[]`,
	} {
		_, err := UnmarshalArgument([]byte(in))
		assert.Error(t, err, in)
	}
}
