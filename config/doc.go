// Package config loads and validates the oscbridge daemon configuration.
//
// Configuration comes from YAML or JSON files (chosen by extension) layered
// over Default, followed by environment overrides. Each layer only replaces
// the fields it sets, so a file that names a single section leaves every other
// section at its default.
//
// # Basic Usage
//
//	loader := config.NewLoader()
//	loader.AddLayer("/etc/oscbridge/oscbridge.yaml")
//	loader.AddLayer("oscbridge.local.json") // Overrides the first layer
//
//	cfg, err := loader.Load()
//	if err != nil {
//		return err
//	}
//
// # File Format
//
//	bind_host: 0.0.0.0
//	endpoints:
//	  - port: 8000
//	  - port: 8001
//	    capacity: 500
//	    address_filters: ["/synth/*"]
//	http:
//	  port: 8080
//	  rate_limit: 50
//	websocket:
//	  enabled: true
//	  path: /ws
//	metrics:
//	  port: 9090
//	nats:
//	  enabled: true
//	  url: nats://localhost:4222
//	  subject_prefix: osc
//	webhook:
//	  enabled: false
//	recorder:
//	  enabled: false
//	log:
//	  level: info
//	  format: json
//
// Durations are written as Go duration strings ("500ms", "2s") in both
// formats.
//
// # Environment Overrides
//
//	OSCBRIDGE_HTTP_PORT      http.port
//	OSCBRIDGE_METRICS_PORT   metrics.port
//	OSCBRIDGE_NATS_URL       nats.url (also enables NATS forwarding)
//	OSCBRIDGE_NATS_TOKEN     nats.token
//	OSCBRIDGE_BIND_HOST      bind_host
//	OSCBRIDGE_LOG_LEVEL      log.level
//
// # Thread-Safe Access
//
// SafeConfig holds a validated configuration behind an RWMutex. Get returns a
// deep copy so callers cannot mutate shared state.
//
// # Security
//
// Config files must be regular files with a .json, .yaml or .yml extension,
// no larger than 10MB. Relative paths may not escape the working directory
// and JSON nesting is limited to 100 levels.
package config
