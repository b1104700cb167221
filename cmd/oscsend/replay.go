package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/c360/oscbridge/endpoint"
	"github.com/c360/oscbridge/osc"
	"github.com/c360/oscbridge/output/file"
)

// maxReplayGap caps the pause taken from recorded timestamps
const maxReplayGap = 2 * time.Second

// readRecording loads a recorder file. The format follows the extension:
// .osc is size-prefixed packets, anything else is one JSON event per line.
func readRecording(path string) ([]*osc.Message, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open recording: %w", err)
	}
	defer f.Close()

	if strings.EqualFold(filepath.Ext(path), "."+file.FormatOSC) {
		return file.ReadOSCRecording(f)
	}
	return readJSONLRecording(f)
}

func readJSONLRecording(r io.Reader) ([]*osc.Message, error) {
	var messages []*osc.Message
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var ev endpoint.MessageEvent
		if err := json.Unmarshal([]byte(text), &ev); err != nil {
			return messages, fmt.Errorf("line %d: %w", line, err)
		}
		if ev.Message == nil {
			return messages, fmt.Errorf("line %d: missing message", line)
		}
		messages = append(messages, ev.Message)
	}
	if err := scanner.Err(); err != nil {
		return messages, fmt.Errorf("read recording: %w", err)
	}
	return messages, nil
}

// replaySteps turns recorded messages into steps. With recordedTiming the
// pause before each message matches the recorded gap, capped at
// maxReplayGap; otherwise every message is followed by interval.
func replaySteps(messages []*osc.Message, interval time.Duration, recordedTiming bool) []step {
	steps := make([]step, 0, len(messages))
	for i, m := range messages {
		args := make([]any, 0, len(m.Arguments))
		for _, a := range m.Arguments {
			args = append(args, a.Value())
		}

		pause := interval
		if recordedTiming {
			pause = 0
			if i+1 < len(messages) {
				gap := messages[i+1].ReceivedAt.Sub(m.ReceivedAt)
				pause = min(max(gap, 0), maxReplayGap)
			}
		}
		steps = append(steps, step{Address: m.Address, Args: args, Pause: pause})
	}
	return steps
}
