package osc

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
)

// Type tags for the supported argument variants.
const (
	TagInt32   byte = 'i'
	TagFloat32 byte = 'f'
	TagString  byte = 's'
	TagBlob    byte = 'b'
)

// Argument is one typed OSC argument. The set of implementations is closed:
// Int32, Float32, String and Blob.
type Argument interface {
	// Tag returns the wire type tag of the argument.
	Tag() byte
	// Value returns the payload as a plain Go value.
	Value() any

	argument()
}

// Int32 is an 'i' argument.
type Int32 int32

// Float32 is an 'f' argument.
type Float32 float32

// String is an 's' argument.
type String string

// Blob is a 'b' argument.
type Blob []byte

func (Int32) Tag() byte   { return TagInt32 }
func (Float32) Tag() byte { return TagFloat32 }
func (String) Tag() byte  { return TagString }
func (Blob) Tag() byte    { return TagBlob }

func (a Int32) Value() any   { return int32(a) }
func (a Float32) Value() any { return float32(a) }
func (a String) Value() any  { return string(a) }
func (a Blob) Value() any    { return []byte(a) }

func (Int32) argument()   {}
func (Float32) argument() {}
func (String) argument()  {}
func (Blob) argument()    {}

// argumentJSON is the wire shape used for every argument: {"type":"i","value":1}.
type argumentJSON struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

func marshalArgument(tag byte, value any) ([]byte, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return json.Marshal(argumentJSON{Type: string(tag), Value: raw})
}

// MarshalJSON implements json.Marshaler.
func (a Int32) MarshalJSON() ([]byte, error) {
	return marshalArgument(TagInt32, int32(a))
}

// MarshalJSON implements json.Marshaler. Non-finite values are written as the
// strings "NaN", "+Inf" and "-Inf" because JSON has no representation for them.
func (a Float32) MarshalJSON() ([]byte, error) {
	f := float64(a)
	switch {
	case math.IsNaN(f):
		return marshalArgument(TagFloat32, "NaN")
	case math.IsInf(f, 1):
		return marshalArgument(TagFloat32, "+Inf")
	case math.IsInf(f, -1):
		return marshalArgument(TagFloat32, "-Inf")
	}
	return marshalArgument(TagFloat32, float32(a))
}

// MarshalJSON implements json.Marshaler.
func (a String) MarshalJSON() ([]byte, error) {
	return marshalArgument(TagString, string(a))
}

// MarshalJSON implements json.Marshaler. The payload is base64 encoded.
func (a Blob) MarshalJSON() ([]byte, error) {
	return marshalArgument(TagBlob, base64.StdEncoding.EncodeToString(a))
}

// UnmarshalArgument parses the JSON form produced by the MarshalJSON methods.
func UnmarshalArgument(data []byte) (Argument, error) {
	var aj argumentJSON
	if err := json.Unmarshal(data, &aj); err != nil {
		return nil, err
	}
	if len(aj.Type) != 1 {
		return nil, fmt.Errorf("invalid argument type %q", aj.Type)
	}

	switch aj.Type[0] {
	case TagInt32:
		var v int32
		if err := json.Unmarshal(aj.Value, &v); err != nil {
			return nil, err
		}
		return Int32(v), nil
	case TagFloat32:
		var s string
		if json.Unmarshal(aj.Value, &s) == nil {
			switch s {
			case "NaN":
				return Float32(math.NaN()), nil
			case "+Inf":
				return Float32(math.Inf(1)), nil
			case "-Inf":
				return Float32(math.Inf(-1)), nil
			}
			return nil, fmt.Errorf("invalid float value %q", s)
		}
		var v float32
		if err := json.Unmarshal(aj.Value, &v); err != nil {
			return nil, err
		}
		return Float32(v), nil
	case TagString:
		var v string
		if err := json.Unmarshal(aj.Value, &v); err != nil {
			return nil, err
		}
		return String(v), nil
	case TagBlob:
		var v string
		if err := json.Unmarshal(aj.Value, &v); err != nil {
			return nil, err
		}
		b, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return nil, err
		}
		return Blob(b), nil
	}
	return nil, fmt.Errorf("unsupported argument type %q", aj.Type)
}
