// Package file provides a recorder output that writes received OSC messages
// to a file.
//
// # Overview
//
// The recorder subscribes to the endpoint registry and appends every accepted
// message to <directory>/<file_prefix>.<format>. Records are batched in
// memory and flushed when BufferSize records are pending, once a second, and
// on Stop.
//
// # Formats
//
//   - jsonl: one MessageEvent JSON object per line (default)
//   - json: indented MessageEvent objects separated by newlines
//   - osc: OSC packets in wire format, each preceded by its size as a
//     big-endian int32, the framing OSC 1.0 uses for stream transports
//
// Recordings in the osc format can be read back with ReadOSCRecording and
// replayed with `oscsend -replay <file>`.
//
// # Usage
//
//	rec, err := file.NewOutput(file.Config{
//	    Directory: "/var/lib/oscbridge",
//	    Format:    file.FormatOSC,
//	    Append:    true,
//	}, file.Deps{Logger: logger, MetricsRegistry: metrics})
//	if err != nil {
//	    return err
//	}
//	if err := rec.Start(ctx); err != nil {
//	    return err
//	}
//	unsubscribe := registry.Subscribe(rec)
//	defer unsubscribe()
//	defer rec.Stop(5 * time.Second)
package file
