// Package file provides a recorder output that writes received OSC messages to a file
package file

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/oscbridge/endpoint"
	"github.com/c360/oscbridge/errors"
	"github.com/c360/oscbridge/metric"
	"github.com/c360/oscbridge/osc"
	"github.com/c360/oscbridge/registry"
)

const sinkName = "file"

// Recording formats
const (
	FormatJSONL = "jsonl" // one MessageEvent per line
	FormatJSON  = "json"  // indented MessageEvent objects separated by newlines
	FormatOSC   = "osc"   // OSC packets, each preceded by its int32 big-endian size
)

// Config holds configuration for the file recorder
type Config struct {
	Directory  string `json:"directory"   yaml:"directory"`
	FilePrefix string `json:"file_prefix" yaml:"file_prefix"`
	Format     string `json:"format"      yaml:"format"`
	Append     bool   `json:"append"      yaml:"append"`
	BufferSize int    `json:"buffer_size" yaml:"buffer_size"`
	// EndpointID limits recording to one endpoint. Empty records all.
	EndpointID string `json:"endpoint_id" yaml:"endpoint_id"`
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Directory == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "directory is required")
	}

	validFormats := map[string]bool{FormatJSON: true, FormatJSONL: true, FormatOSC: true}
	if !validFormats[c.Format] {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"format must be one of: json, jsonl, osc")
	}

	if c.BufferSize < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"buffer_size cannot be negative")
	}

	return nil
}

// DefaultConfig returns default configuration for the file recorder
func DefaultConfig() Config {
	return Config{
		Directory:  "/tmp/oscbridge",
		FilePrefix: "recording",
		Format:     FormatJSONL,
		Append:     true,
		BufferSize: 100,
	}
}

// Deps holds the recorder dependencies
type Deps struct {
	Logger          *slog.Logger
	MetricsRegistry *metric.MetricsRegistry
}

// Output records message events to a file. It implements registry.Subscriber.
// Writes are batched and flushed when the batch fills, once a second, and on
// Stop.
type Output struct {
	config Config
	path   string
	logger *slog.Logger
	core   *metric.Metrics

	// File handling
	file   *os.File
	fileMu sync.Mutex

	// Buffer for batching writes
	buffer   [][]byte
	bufferMu sync.Mutex

	// Lifecycle management
	shutdown    chan struct{}
	running     atomic.Bool
	lifecycleMu sync.Mutex
	wg          sync.WaitGroup

	// Metrics
	messagesWritten atomic.Int64
	bytesWritten    atomic.Int64
	errors          atomic.Int64
}

var _ registry.Subscriber = (*Output)(nil)

// NewOutput creates a new file recorder from configuration
func NewOutput(cfg Config, deps Deps) (*Output, error) {
	if cfg.Format == "" {
		cfg.Format = FormatJSONL
	}
	if cfg.FilePrefix == "" {
		cfg.FilePrefix = DefaultConfig().FilePrefix
	}
	if cfg.BufferSize == 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	path := filepath.Join(cfg.Directory, fmt.Sprintf("%s.%s", cfg.FilePrefix, cfg.Format))
	return &Output{
		config: cfg,
		path:   path,
		logger: logger.With("component", "file-output", "path", path),
		core:   deps.MetricsRegistry.CoreMetrics(),
		buffer: make([][]byte, 0, cfg.BufferSize),
	}, nil
}

// Path returns the recording file path
func (f *Output) Path() string {
	return f.path
}

// Start creates the directory, opens the recording file and starts the flush loop
func (f *Output) Start(_ context.Context) error {
	f.lifecycleMu.Lock()
	defer f.lifecycleMu.Unlock()

	if f.running.Load() {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "Output", "Start", "check running state")
	}

	if err := os.MkdirAll(f.config.Directory, 0755); err != nil {
		return errors.WrapFatal(err, "Output", "Start", "create output directory")
	}

	flags := os.O_CREATE | os.O_WRONLY
	if f.config.Append {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}

	file, err := os.OpenFile(f.path, flags, 0644)
	if err != nil {
		return errors.WrapFatal(err, "Output", "Start", "open output file")
	}

	f.fileMu.Lock()
	f.file = file
	f.fileMu.Unlock()

	f.shutdown = make(chan struct{})
	f.wg.Add(1)
	go f.flushLoop()

	f.running.Store(true)
	f.logger.Info("File recorder started", "format", f.config.Format, "append", f.config.Append)
	return nil
}

// Stop flushes pending records and closes the file
func (f *Output) Stop(timeout time.Duration) error {
	f.lifecycleMu.Lock()
	defer f.lifecycleMu.Unlock()

	if !f.running.Load() {
		return nil
	}
	f.running.Store(false)

	close(f.shutdown)

	waitCh := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
	case <-time.After(timeout):
		return errors.WrapTransient(fmt.Errorf("shutdown timeout after %v", timeout), "Output", "Stop", "shutdown")
	}

	f.flush()

	f.fileMu.Lock()
	defer f.fileMu.Unlock()
	if f.file != nil {
		if err := f.file.Close(); err != nil {
			f.logger.Warn("Failed to close output file", "error", err)
		}
		f.file = nil
	}

	return nil
}

// OnMessage implements registry.Subscriber
func (f *Output) OnMessage(ev endpoint.MessageEvent) {
	if !f.running.Load() || ev.Message == nil {
		return
	}
	if f.config.EndpointID != "" && ev.EndpointID != f.config.EndpointID {
		return
	}

	record, err := f.encode(ev)
	if err != nil {
		f.errors.Add(1)
		f.core.RecordForwarded(sinkName, false)
		f.logger.Debug("Failed to encode record", "error", err)
		return
	}

	f.bufferMu.Lock()
	f.buffer = append(f.buffer, record)
	shouldFlush := len(f.buffer) >= f.config.BufferSize
	f.bufferMu.Unlock()

	if shouldFlush {
		f.flush()
	}
}

// OnError implements registry.Subscriber. Errors are not recorded.
func (f *Output) OnError(endpoint.ErrorEvent) {}

// OnStateChange implements registry.Subscriber. State changes are not recorded.
func (f *Output) OnStateChange(endpoint.StateEvent) {}

func (f *Output) encode(ev endpoint.MessageEvent) ([]byte, error) {
	switch f.config.Format {
	case FormatOSC:
		packet, err := ev.Message.MarshalBinary()
		if err != nil {
			return nil, err
		}
		record := make([]byte, 4, 4+len(packet))
		binary.BigEndian.PutUint32(record, uint32(len(packet)))
		return append(record, packet...), nil
	case FormatJSON:
		data, err := json.MarshalIndent(ev, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(data, '\n'), nil
	default:
		data, err := json.Marshal(ev)
		if err != nil {
			return nil, err
		}
		return append(data, '\n'), nil
	}
}

// flushLoop periodically flushes the buffer
func (f *Output) flushLoop() {
	defer f.wg.Done()

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-f.shutdown:
			return
		case <-ticker.C:
			f.flush()
		}
	}
}

// flush writes buffered records to file
func (f *Output) flush() {
	f.bufferMu.Lock()
	if len(f.buffer) == 0 {
		f.bufferMu.Unlock()
		return
	}
	records := f.buffer
	f.buffer = make([][]byte, 0, f.config.BufferSize)
	f.bufferMu.Unlock()

	f.fileMu.Lock()
	defer f.fileMu.Unlock()

	if f.file == nil {
		f.errors.Add(int64(len(records)))
		f.logger.Error("File handle is nil during flush", "records_lost", len(records))
		return
	}

	for _, record := range records {
		n, err := f.file.Write(record)
		if err != nil {
			f.errors.Add(1)
			f.core.RecordForwarded(sinkName, false)
			f.logger.Error("Failed to write record", "error", err)
			continue
		}
		f.messagesWritten.Add(1)
		f.bytesWritten.Add(int64(n))
		f.core.RecordForwarded(sinkName, true)
	}
}

// Stats returns written record, byte and error counts
func (f *Output) Stats() (written, bytes, errs int64) {
	return f.messagesWritten.Load(), f.bytesWritten.Load(), f.errors.Load()
}

// ReadOSCRecording reads a recording written in the osc format and returns
// the decoded messages in order.
func ReadOSCRecording(r io.Reader) ([]*osc.Message, error) {
	var messages []*osc.Message
	var size [4]byte
	for {
		if _, err := io.ReadFull(r, size[:]); err != nil {
			if err == io.EOF {
				return messages, nil
			}
			return messages, errors.WrapInvalid(err, "file", "ReadOSCRecording", "read record size")
		}

		packet := make([]byte, binary.BigEndian.Uint32(size[:]))
		if _, err := io.ReadFull(r, packet); err != nil {
			return messages, errors.WrapInvalid(err, "file", "ReadOSCRecording", "read record")
		}

		msg, err := osc.Decode(packet, "", 0)
		if err != nil {
			return messages, err
		}
		messages = append(messages, msg)
	}
}
