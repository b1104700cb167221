// Package httppost provides a webhook output that POSTs received OSC messages
// to an HTTP endpoint.
//
// # Overview
//
// The output subscribes to the endpoint registry. Each accepted message event
// is encoded as JSON and appended to a bounded delivery queue; a single worker
// drains the queue and POSTs events in arrival order. When the webhook falls
// behind and the queue is full, the oldest pending event is dropped and
// counted in oscbridge_messages_forwarded_total{sink="webhook",status="failure"}.
//
// # Quick Start
//
//	out, err := httppost.NewOutput(httppost.Config{
//	    URL:            "https://api.example.com/osc",
//	    Headers:        map[string]string{"Authorization": "Bearer ${API_KEY}"},
//	    AddressPattern: "/synth/*",
//	}, httppost.Deps{Logger: logger, MetricsRegistry: metrics})
//	if err != nil {
//	    return err
//	}
//	if err := out.Start(ctx); err != nil {
//	    return err
//	}
//	unsubscribe := registry.Subscribe(out)
//	defer unsubscribe()
//	defer out.Stop(5 * time.Second)
//
// # Retry Logic
//
// Deliveries go through pkg/retry with exponential backoff starting at 100ms
// and capped at 2s. RetryCount is the number of retries after the first
// attempt.
//
// Retryable conditions:
//   - Network errors (connection refused, timeout)
//   - 5xx server errors
//   - 408 Request Timeout and 429 Too Many Requests
//
// Other 4xx responses fail immediately.
//
// # Payload
//
//	{
//	  "endpointId": "endpoint-1",
//	  "message": {
//	    "receivedAt": "2024-05-01T12:00:00Z",
//	    "address": "/synth/freq",
//	    "typeTags": "f",
//	    "arguments": [{"type": "f", "value": 440}],
//	    "sourceAddress": "127.0.0.1",
//	    "sourcePort": 50000
//	  }
//	}
package httppost
