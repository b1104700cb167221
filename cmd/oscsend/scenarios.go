package main

import (
	"math"
	"math/rand/v2"
	"time"
)

// step is one message to send followed by an optional pause
type step struct {
	Address string
	Args    []any
	Pause   time.Duration
}

// scenario produces the steps of one test run. rng makes random values
// reproducible under a fixed seed.
type scenario struct {
	Name        string
	Description string
	Build       func(rng *rand.Rand) []step
}

func msg(address string, pause time.Duration, args ...any) step {
	return step{Address: address, Args: args, Pause: pause}
}

var randomAddresses = []string{
	"/synth/freq", "/synth/amp", "/effects/reverb",
	"/midi/note", "/transport/bpm", "/test/random",
	"/mixer/volume", "/filter/cutoff", "/lfo/rate",
}

// scenarios lists every scenario in the order "all" runs them
var scenarios = []scenario{
	{
		Name:        "int",
		Description: "single int32 argument",
		Build: func(*rand.Rand) []step {
			return []step{msg("/test/int", 0, int32(42))}
		},
	},
	{
		Name:        "float",
		Description: "single float32 argument",
		Build: func(*rand.Rand) []step {
			return []step{msg("/test/float", 0, float32(3.14159))}
		},
	},
	{
		Name:        "string",
		Description: "single string argument",
		Build: func(*rand.Rand) []step {
			return []step{msg("/test/string", 0, "hello world")}
		},
	},
	{
		Name:        "mixed",
		Description: "int, float and string in one message",
		Build: func(*rand.Rand) []step {
			return []step{msg("/test/mixed", 100*time.Millisecond, int32(440), float32(0.5), "note")}
		},
	},
	{
		Name:        "synth",
		Description: "synthesizer parameter changes",
		Build: func(*rand.Rand) []step {
			return []step{
				msg("/synth/freq", 0, float32(440)),
				msg("/synth/amp", 0, float32(0.8)),
				msg("/synth/filter", 0, float32(2000), float32(0.5)),
				msg("/synth/envelope", 100*time.Millisecond, float32(0.01), float32(0.3), float32(0.7), float32(1.2)),
			}
		},
	},
	{
		Name:        "effects",
		Description: "reverb, delay and chorus controls",
		Build: func(*rand.Rand) []step {
			return []step{
				msg("/effects/reverb/room", 0, float32(0.3)),
				msg("/effects/reverb/damp", 0, float32(0.5)),
				msg("/effects/delay/time", 0, float32(0.25)),
				msg("/effects/delay/feedback", 0, float32(0.4)),
				msg("/effects/chorus/rate", 0, float32(2)),
				msg("/effects/chorus/depth", 100*time.Millisecond, float32(0.3)),
			}
		},
	},
	{
		Name:        "midi",
		Description: "note on then note off for a C major chord",
		Build: func(*rand.Rand) []step {
			notes := []int32{60, 64, 67, 72}
			steps := make([]step, 0, 2*len(notes))
			for _, n := range notes {
				steps = append(steps, msg("/midi/note_on", 100*time.Millisecond, n, int32(100)))
			}
			for _, n := range notes {
				steps = append(steps, msg("/midi/note_off", 100*time.Millisecond, n, int32(0)))
			}
			return steps
		},
	},
	{
		Name:        "transport",
		Description: "play, tempo change and stop",
		Build: func(*rand.Rand) []step {
			return []step{
				msg("/transport/play", 500*time.Millisecond),
				msg("/transport/bpm", 500*time.Millisecond, int32(120)),
				msg("/transport/stop", 100*time.Millisecond),
			}
		},
	},
	{
		Name:        "sequence",
		Description: "ten chromatic steps",
		Build: func(*rand.Rand) []step {
			steps := make([]step, 0, 10)
			for i := range 10 {
				freq := 220 * math.Pow(2, float64(i)/12)
				steps = append(steps, msg("/sequence/step", 50*time.Millisecond, int32(i), float32(freq)))
			}
			return steps
		},
	},
	{
		Name:        "burst",
		Description: "100 messages at 100 per second",
		Build: func(*rand.Rand) []step {
			steps := make([]step, 0, 100)
			for i := range 100 {
				steps = append(steps, msg("/highfreq/data", 10*time.Millisecond, int32(i), float32(math.Sin(float64(i)*0.1))))
			}
			return steps
		},
	},
	{
		Name:        "patterns",
		Description: "addresses for exercising pattern filters",
		Build: func(rng *rand.Rand) []step {
			addresses := []string{
				"/instruments/piano/note",
				"/instruments/drums/kick",
				"/instruments/bass/note",
				"/mixer/channel1/volume",
				"/mixer/channel2/pan",
				"/master/volume",
			}
			steps := make([]step, 0, len(addresses))
			for _, a := range addresses {
				steps = append(steps, msg(a, 50*time.Millisecond, rng.Float32()))
			}
			return steps
		},
	},
	{
		Name:        "blob",
		Description: "16 random bytes as a blob",
		Build: func(rng *rand.Rand) []step {
			blob := make([]byte, 16)
			for i := range blob {
				blob[i] = byte(rng.IntN(256))
			}
			return []step{msg("/data/blob", 100*time.Millisecond, blob)}
		},
	},
	{
		Name:        "stress",
		Description: "50 random messages at 50 per second",
		Build: func(rng *rand.Rand) []step {
			return randomSteps(rng, 50, 20*time.Millisecond)
		},
	},
}

// randomSteps picks n random addresses, each with one float in [0, 1)
func randomSteps(rng *rand.Rand, n int, pause time.Duration) []step {
	steps := make([]step, 0, n)
	for range n {
		addr := randomAddresses[rng.IntN(len(randomAddresses))]
		steps = append(steps, msg(addr, pause, rng.Float32()))
	}
	return steps
}

func findScenario(name string) (scenario, bool) {
	for _, s := range scenarios {
		if s.Name == name {
			return s, true
		}
	}
	return scenario{}, false
}
