package osc

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/c360/oscbridge/errors"
)

// Encode builds the wire form of a message with the given address and
// arguments. The address must start with '/' and neither the address nor any
// string argument may contain a NUL byte.
func Encode(address string, args ...Argument) ([]byte, error) {
	if !strings.HasPrefix(address, "/") {
		return nil, errors.WrapInvalid(fmt.Errorf("address %q must start with '/'", address),
			"osc", "Encode", "address validation")
	}
	if strings.IndexByte(address, 0) >= 0 {
		return nil, errors.WrapInvalid(fmt.Errorf("address contains NUL"),
			"osc", "Encode", "address validation")
	}

	tags := make([]byte, 0, len(args)+1)
	tags = append(tags, ',')
	for i, arg := range args {
		if arg == nil {
			return nil, errors.WrapInvalid(fmt.Errorf("argument %d is nil", i),
				"osc", "Encode", "argument validation")
		}
		tags = append(tags, arg.Tag())
	}

	b := make([]byte, 0, align4(len(address)+1)+align4(len(tags)+1)+8*len(args))
	b = appendPaddedString(b, address)
	b = appendPaddedString(b, string(tags))

	for i, arg := range args {
		switch a := arg.(type) {
		case Int32:
			b = binary.BigEndian.AppendUint32(b, uint32(a))
		case Float32:
			b = binary.BigEndian.AppendUint32(b, math.Float32bits(float32(a)))
		case String:
			if strings.IndexByte(string(a), 0) >= 0 {
				return nil, errors.WrapInvalid(fmt.Errorf("string argument %d contains NUL", i),
					"osc", "Encode", "argument validation")
			}
			b = appendPaddedString(b, string(a))
		case Blob:
			b = binary.BigEndian.AppendUint32(b, uint32(len(a)))
			b = append(b, a...)
			b = appendPadding(b)
		}
	}

	return b, nil
}

func appendPaddedString(b []byte, s string) []byte {
	b = append(b, s...)
	b = append(b, 0)
	return appendPadding(b)
}

func appendPadding(b []byte) []byte {
	for len(b)%4 != 0 {
		b = append(b, 0)
	}
	return b
}
