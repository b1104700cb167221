package osc

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/c360/oscbridge/errors"
)

// Message is a decoded OSC message. Messages returned by Decode are never
// modified afterwards and may be shared between goroutines.
type Message struct {
	ReceivedAt    time.Time  `json:"receivedAt"`
	Address       string     `json:"address"`
	TypeTags      string     `json:"typeTags"`
	Arguments     []Argument `json:"arguments"`
	SourceAddress string     `json:"sourceAddress"`
	SourcePort    int        `json:"sourcePort"`
}

// MarshalBinary encodes the message in OSC wire format. Only Arguments are
// encoded, so unsupported tags present in TypeTags are not reproduced.
func (m *Message) MarshalBinary() ([]byte, error) {
	return Encode(m.Address, m.Arguments...)
}

// UnmarshalJSON implements json.Unmarshaler for the JSON form of a message.
func (m *Message) UnmarshalJSON(data []byte) error {
	type alias Message
	var raw struct {
		alias
		Arguments []json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*m = Message(raw.alias)
	m.Arguments = make([]Argument, 0, len(raw.Arguments))
	for i, r := range raw.Arguments {
		arg, err := UnmarshalArgument(r)
		if err != nil {
			return fmt.Errorf("argument %d: %w", i, err)
		}
		m.Arguments = append(m.Arguments, arg)
	}
	return nil
}

// DecodeReason identifies why a datagram is not a valid OSC message.
type DecodeReason string

// Decode failure reasons.
const (
	ReasonTooShort             DecodeReason = "too_short"
	ReasonAddressUnterminated  DecodeReason = "address_unterminated"
	ReasonAddressMissingSlash  DecodeReason = "address_missing_slash"
	ReasonTypeTagsMissingComma DecodeReason = "typetags_missing_comma"
	ReasonTypeTagsUnterminated DecodeReason = "typetags_unterminated"
	ReasonArgumentTruncated    DecodeReason = "argument_truncated"
	ReasonStringUnterminated   DecodeReason = "string_unterminated"
)

// DecodeError reports a structural problem in a datagram. Offset is the byte
// position at which decoding failed.
type DecodeError struct {
	Reason DecodeReason
	Offset int
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("osc decode: %s at offset %d", e.Reason, e.Offset)
}

// Is reports DecodeError as a kind of errors.ErrInvalidData.
func (e *DecodeError) Is(target error) bool {
	return target == errors.ErrInvalidData
}
