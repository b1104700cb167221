package endpoint

import (
	"time"

	"github.com/c360/oscbridge/errors"
	"github.com/c360/oscbridge/osc"
)

// MessageEvent is emitted for every datagram accepted into the store.
type MessageEvent struct {
	EndpointID string       `json:"endpointId"`
	Message    *osc.Message `json:"message"`
}

// ErrorKind separates malformed datagrams from socket faults.
type ErrorKind string

// Error kinds.
const (
	ErrorKindDecode ErrorKind = "decode"
	ErrorKindSocket ErrorKind = "socket"
)

// ErrorEvent reports a decode failure or a socket fault. Decode failures never
// change the endpoint state.
type ErrorEvent struct {
	EndpointID     string      `json:"endpointId"`
	Kind           ErrorKind   `json:"kind"`
	Code           errors.Code `json:"code"`
	Reason         string      `json:"reason"`
	Err            error       `json:"-"`
	SuggestedPorts []int       `json:"suggestedPorts,omitempty"`
	At             time.Time   `json:"at"`
}

// StateEvent reports a lifecycle transition.
type StateEvent struct {
	EndpointID string    `json:"endpointId"`
	From       State     `json:"from"`
	To         State     `json:"to"`
	At         time.Time `json:"at"`
}
