package registry

import (
	"github.com/c360/oscbridge/endpoint"
)

// Subscriber receives the events of every registered endpoint. Callbacks run
// on the per-endpoint pump goroutine and must not block for long; a slow
// subscriber delays delivery for that endpoint only.
type Subscriber interface {
	OnMessage(ev endpoint.MessageEvent)
	OnError(ev endpoint.ErrorEvent)
	OnStateChange(ev endpoint.StateEvent)
}

// SubscriberFuncs adapts plain functions to Subscriber. Nil fields are skipped.
type SubscriberFuncs struct {
	Message func(endpoint.MessageEvent)
	Error   func(endpoint.ErrorEvent)
	State   func(endpoint.StateEvent)
}

var _ Subscriber = SubscriberFuncs{}

// OnMessage implements Subscriber.
func (f SubscriberFuncs) OnMessage(ev endpoint.MessageEvent) {
	if f.Message != nil {
		f.Message(ev)
	}
}

// OnError implements Subscriber.
func (f SubscriberFuncs) OnError(ev endpoint.ErrorEvent) {
	if f.Error != nil {
		f.Error(ev)
	}
}

// OnStateChange implements Subscriber.
func (f SubscriberFuncs) OnStateChange(ev endpoint.StateEvent) {
	if f.State != nil {
		f.State(ev)
	}
}
