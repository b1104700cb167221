package osc

import (
	"bytes"
	"encoding/binary"
	"math"
	"strings"
	"time"
)

// minPacketSize is the smallest possible message: "/\0\0\0" followed by ",\0\0\0".
const minPacketSize = 8

func align4(o int) int {
	return (o + 3) &^ 3
}

// Decode parses one OSC message received from sourceAddress:sourcePort.
// ReceivedAt is set to the current time.
func Decode(b []byte, sourceAddress string, sourcePort int) (*Message, error) {
	return DecodeAt(b, sourceAddress, sourcePort, time.Now())
}

// DecodeAt is Decode with an explicit receive time. The returned message does
// not alias b.
func DecodeAt(b []byte, sourceAddress string, sourcePort int, at time.Time) (*Message, error) {
	if len(b) < minPacketSize {
		return nil, &DecodeError{Reason: ReasonTooShort, Offset: 0}
	}

	end := bytes.IndexByte(b, 0)
	if end < 0 {
		return nil, &DecodeError{Reason: ReasonAddressUnterminated, Offset: 0}
	}
	if b[0] != '/' {
		return nil, &DecodeError{Reason: ReasonAddressMissingSlash, Offset: 0}
	}
	address := string(b[:end])
	o := align4(end + 1)

	if o >= len(b) || b[o] != ',' {
		return nil, &DecodeError{Reason: ReasonTypeTagsMissingComma, Offset: o}
	}
	tagEnd := bytes.IndexByte(b[o:], 0)
	if tagEnd < 0 {
		return nil, &DecodeError{Reason: ReasonTypeTagsUnterminated, Offset: o}
	}
	typeTags := string(b[o+1 : o+tagEnd])
	o = align4(o + tagEnd + 1)

	args := make([]Argument, 0, len(typeTags))
	for i := 0; i < len(typeTags); i++ {
		switch typeTags[i] {
		case TagInt32:
			if o+4 > len(b) {
				return nil, &DecodeError{Reason: ReasonArgumentTruncated, Offset: o}
			}
			args = append(args, Int32(int32(binary.BigEndian.Uint32(b[o:]))))
			o += 4

		case TagFloat32:
			if o+4 > len(b) {
				return nil, &DecodeError{Reason: ReasonArgumentTruncated, Offset: o}
			}
			args = append(args, Float32(math.Float32frombits(binary.BigEndian.Uint32(b[o:]))))
			o += 4

		case TagString:
			if o >= len(b) {
				return nil, &DecodeError{Reason: ReasonStringUnterminated, Offset: o}
			}
			n := bytes.IndexByte(b[o:], 0)
			if n < 0 {
				return nil, &DecodeError{Reason: ReasonStringUnterminated, Offset: o}
			}
			args = append(args, String(strings.ToValidUTF8(string(b[o:o+n]), "\uFFFD")))
			o = align4(o + n + 1)

		case TagBlob:
			if o+4 > len(b) {
				return nil, &DecodeError{Reason: ReasonArgumentTruncated, Offset: o}
			}
			n := binary.BigEndian.Uint32(b[o:])
			if uint64(n) > uint64(len(b)-o-4) {
				return nil, &DecodeError{Reason: ReasonArgumentTruncated, Offset: o}
			}
			start := o + 4
			data := make([]byte, n)
			copy(data, b[start:start+int(n)])
			args = append(args, Blob(data))
			o = align4(start + int(n))

		default:
			// Unsupported tag: no bytes consumed, no argument produced.
		}
	}

	return &Message{
		ReceivedAt:    at,
		Address:       address,
		TypeTags:      typeTags,
		Arguments:     args,
		SourceAddress: sourceAddress,
		SourcePort:    sourcePort,
	}, nil
}
