package registry

import (
	"context"

	"github.com/c360/oscbridge/endpoint"
)

// pump forwards the events of one endpoint to the subscribers until ctx is
// cancelled, then delivers whatever is still buffered.
func (r *Registry) pump(ctx context.Context, ep *endpoint.Endpoint, done chan struct{}) {
	defer close(done)

	for {
		select {
		case ev := <-ep.Messages():
			r.dispatch(func(s Subscriber) { s.OnMessage(ev) })
		case ev := <-ep.Errors():
			r.dispatch(func(s Subscriber) { s.OnError(ev) })
		case ev := <-ep.StateChanges():
			r.core.SetActiveEndpoints(r.countActive())
			r.dispatch(func(s Subscriber) { s.OnStateChange(ev) })
		case <-ctx.Done():
			r.drain(ep)
			return
		}
	}
}

func (r *Registry) drain(ep *endpoint.Endpoint) {
	for {
		select {
		case ev := <-ep.Messages():
			r.dispatch(func(s Subscriber) { s.OnMessage(ev) })
		case ev := <-ep.Errors():
			r.dispatch(func(s Subscriber) { s.OnError(ev) })
		case ev := <-ep.StateChanges():
			r.dispatch(func(s Subscriber) { s.OnStateChange(ev) })
		default:
			return
		}
	}
}

// dispatch calls fn for every subscriber, isolating panics per subscriber.
func (r *Registry) dispatch(fn func(Subscriber)) {
	for _, s := range r.snapshotSubscribers() {
		func() {
			defer func() {
				if p := recover(); p != nil {
					r.logger.Error("Subscriber panicked", "panic", p)
				}
			}()
			fn(s)
		}()
	}
}
