package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"
	"time"

	gosc "github.com/hypebeast/go-osc/osc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/oscbridge/endpoint"
	"github.com/c360/oscbridge/osc"
)

type recordingSender struct {
	packets []*gosc.Message
	failAt  int
}

func (s *recordingSender) Send(p gosc.Packet) error {
	if s.failAt > 0 && len(s.packets)+1 == s.failAt {
		return errors.New("network down")
	}
	s.packets = append(s.packets, p.(*gosc.Message))
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestScenarios_DecodeWithBridgeCodec(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	for _, s := range scenarios {
		t.Run(s.Name, func(t *testing.T) {
			steps := s.Build(rng)
			require.NotEmpty(t, steps)
			for _, st := range steps {
				data, err := gosc.NewMessage(st.Address, st.Args...).MarshalBinary()
				require.NoError(t, err)
				msg, err := osc.Decode(data, "127.0.0.1", 9000)
				require.NoError(t, err, st.Address)
				assert.Equal(t, st.Address, msg.Address)
				assert.Len(t, msg.Arguments, len(st.Args))
			}
		})
	}
}

func TestScenarios_Shapes(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))

	midi, ok := findScenario("midi")
	require.True(t, ok)
	steps := midi.Build(rng)
	require.Len(t, steps, 8)
	assert.Equal(t, "/midi/note_on", steps[0].Address)
	assert.Equal(t, []any{int32(60), int32(100)}, steps[0].Args)
	assert.Equal(t, "/midi/note_off", steps[7].Address)

	burst, _ := findScenario("burst")
	assert.Len(t, burst.Build(rng), 100)

	blob, _ := findScenario("blob")
	b := blob.Build(rng)
	require.Len(t, b, 1)
	assert.Len(t, b[0].Args[0], 16)

	transport, _ := findScenario("transport")
	assert.Empty(t, transport.Build(rng)[0].Args)

	_, ok = findScenario("nope")
	assert.False(t, ok)
}

func TestPlan(t *testing.T) {
	t.Run("all expands in order", func(t *testing.T) {
		steps, err := plan(&cliFlags{scenarios: []string{"all"}, seed: 7})
		require.NoError(t, err)
		assert.Equal(t, "/test/int", steps[0].Address)
	})

	t.Run("same seed same values", func(t *testing.T) {
		a, err := plan(&cliFlags{scenarios: []string{"stress"}, seed: 42})
		require.NoError(t, err)
		b, err := plan(&cliFlags{scenarios: []string{"stress"}, seed: 42})
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})

	t.Run("continuous", func(t *testing.T) {
		steps, err := plan(&cliFlags{continuous: 2 * time.Second, rate: 10, seed: 1})
		require.NoError(t, err)
		assert.Len(t, steps, 20)
		assert.Equal(t, 100*time.Millisecond, steps[0].Pause)
	})

	t.Run("unknown scenario", func(t *testing.T) {
		_, err := plan(&cliFlags{scenarios: []string{"int", "bogus"}, seed: 1})
		assert.ErrorContains(t, err, "bogus")
	})
}

func TestParseFlags(t *testing.T) {
	f, err := parseFlags([]string{"-s", "int,float", "10.0.0.5", "9001"})
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5", f.host)
	assert.Equal(t, 9001, f.port)
	assert.Equal(t, []string{"int", "float"}, f.scenarios)
	assert.NotZero(t, f.seed)

	_, err = parseFlags([]string{"localhost", "notaport"})
	assert.Error(t, err)

	_, err = parseFlags([]string{"--port", "70000"})
	assert.Error(t, err)

	_, err = parseFlags([]string{"--continuous", "1s", "--rate", "0"})
	assert.Error(t, err)
}

func TestRunner_Send(t *testing.T) {
	out := &recordingSender{}
	r := &runner{out: out, logger: quietLogger(), noPause: true}

	steps := []step{
		msg("/a", time.Hour, int32(1)),
		msg("/b", time.Hour, "x"),
	}
	sent, err := r.send(context.Background(), steps)
	require.NoError(t, err)
	assert.Equal(t, 2, sent)
	require.Len(t, out.packets, 2)
	assert.Equal(t, "/b", out.packets[1].Address)
}

func TestRunner_StopsOnErrorAndCancel(t *testing.T) {
	out := &recordingSender{failAt: 2}
	r := &runner{out: out, logger: quietLogger(), noPause: true}
	sent, err := r.send(context.Background(), []step{msg("/a", 0), msg("/b", 0), msg("/c", 0)})
	assert.Equal(t, 1, sent)
	assert.ErrorContains(t, err, "/b")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r = &runner{out: &recordingSender{}, logger: quietLogger()}
	sent, err = r.send(ctx, []step{msg("/a", 0)})
	assert.Zero(t, sent)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReplay_JSONL(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	for i, addr := range []string{"/synth/freq", "/synth/amp", "/synth/gate"} {
		data, err := json.Marshal(endpoint.MessageEvent{
			EndpointID: "endpoint-1",
			Message: &osc.Message{
				ReceivedAt: base.Add(time.Duration(i*i) * time.Second),
				Address:    addr,
				TypeTags:   ",f",
				Arguments:  []osc.Argument{osc.Float32(0.5)},
			},
		})
		require.NoError(t, err)
		buf.Write(append(data, '\n'))
	}
	path := filepath.Join(t.TempDir(), "recording.jsonl")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))

	messages, err := readRecording(path)
	require.NoError(t, err)
	require.Len(t, messages, 3)

	timed := replaySteps(messages, time.Millisecond, true)
	assert.Equal(t, time.Second, timed[0].Pause)
	assert.Equal(t, maxReplayGap, timed[1].Pause, "a 3s gap is capped")
	assert.Zero(t, timed[2].Pause)
	assert.Equal(t, []any{float32(0.5)}, timed[0].Args)

	fixed := replaySteps(messages, 5*time.Millisecond, false)
	assert.Equal(t, 5*time.Millisecond, fixed[1].Pause)
}

func TestReplay_OSC(t *testing.T) {
	var buf bytes.Buffer
	for _, addr := range []string{"/a", "/b"} {
		packet, err := osc.Encode(addr, osc.Int32(1), osc.String("x"))
		require.NoError(t, err)
		require.NoError(t, binary.Write(&buf, binary.BigEndian, uint32(len(packet))))
		buf.Write(packet)
	}
	path := filepath.Join(t.TempDir(), "recording.osc")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))

	messages, err := readRecording(path)
	require.NoError(t, err)
	require.Len(t, messages, 2)

	steps := replaySteps(messages, 0, false)
	assert.Equal(t, "/b", steps[1].Address)
	assert.Equal(t, []any{int32(1), "x"}, steps[1].Args)
}

func TestReplay_BadLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{not json}\n"), 0o600))
	_, err := readRecording(path)
	assert.ErrorContains(t, err, "line 1")
}

func TestRun_List(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, run([]string{"--list"}, &buf))
	for _, s := range scenarios {
		assert.Contains(t, buf.String(), s.Name)
	}
}
