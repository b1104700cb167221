// Package main provides oscsend, a test sender that drives an oscbridge
// endpoint with canned OSC scenarios, random traffic or a replayed recording.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"os/signal"
	"slices"
	"strconv"
	"syscall"
	"time"

	gosc "github.com/hypebeast/go-osc/osc"
	"github.com/spf13/pflag"
)

const (
	appName = "oscsend"
	version = "0.1.0"
)

// sender delivers one OSC packet. *osc.Client from go-osc satisfies it.
type sender interface {
	Send(packet gosc.Packet) error
}

type cliFlags struct {
	host           string
	port           int
	scenarios      []string
	list           bool
	replay         string
	replayInterval time.Duration
	replayTiming   bool
	continuous     time.Duration
	rate           int
	noPause        bool
	seed           uint64
	verbose        bool
	showVersion    bool
}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	flags, err := parseFlags(args)
	if err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	if flags.showVersion {
		_, _ = fmt.Fprintf(stdout, "%s version %s\n", appName, version)
		return nil
	}
	if flags.list {
		printScenarios(stdout)
		return nil
	}

	level := slog.LevelInfo
	if flags.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stdout, &slog.HandlerOptions{Level: level}))

	steps, err := plan(flags)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	r := &runner{
		out:     gosc.NewClient(flags.host, flags.port),
		logger:  logger,
		noPause: flags.noPause,
	}

	logger.Info("Sending OSC messages", "host", flags.host, "port", flags.port, "messages", len(steps))
	start := time.Now()
	sent, err := r.send(ctx, steps)
	logger.Info("Done", "sent", sent, "duration", time.Since(start).Round(time.Millisecond))
	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func parseFlags(args []string) (*cliFlags, error) {
	f := &cliFlags{}
	fs := pflag.NewFlagSet(appName, pflag.ContinueOnError)

	fs.StringVar(&f.host, "host", "127.0.0.1", "Destination host")
	fs.IntVarP(&f.port, "port", "p", 8000, "Destination UDP port")
	fs.StringSliceVarP(&f.scenarios, "scenario", "s", []string{"all"}, "Scenarios to run, comma separated or repeated")
	fs.BoolVar(&f.list, "list", false, "List available scenarios")
	fs.StringVar(&f.replay, "replay", "", "Resend the messages of a recording (.jsonl or .osc)")
	fs.DurationVar(&f.replayInterval, "replay-interval", 10*time.Millisecond, "Pause between replayed messages")
	fs.BoolVar(&f.replayTiming, "replay-timing", false, "Reproduce the recorded gaps between messages (.jsonl only)")
	fs.DurationVar(&f.continuous, "continuous", 0, "Send random messages for this long instead of scenarios")
	fs.IntVar(&f.rate, "rate", 10, "Messages per second in continuous mode")
	fs.BoolVar(&f.noPause, "no-pause", false, "Send as fast as possible, ignoring scenario pauses")
	fs.Uint64Var(&f.seed, "seed", 0, "Seed for random values (0 picks one)")
	fs.BoolVarP(&f.verbose, "verbose", "V", false, "Log every message")
	fs.BoolVarP(&f.showVersion, "version", "v", false, "Show version information")

	fs.Usage = func() {
		_, _ = fmt.Fprintf(os.Stderr, "Usage: %s [options] [host] [port]\n\nOptions:\n", appName)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	// Positional host and port, as in "oscsend 10.0.0.5 9000"
	rest := fs.Args()
	if len(rest) > 2 {
		return nil, fmt.Errorf("unexpected arguments: %v", rest[2:])
	}
	if len(rest) > 0 {
		f.host = rest[0]
	}
	if len(rest) > 1 {
		p, err := strconv.Atoi(rest[1])
		if err != nil {
			return nil, fmt.Errorf("invalid port %q", rest[1])
		}
		f.port = p
	}

	if f.port < 1 || f.port > 65535 {
		return nil, fmt.Errorf("port must be between 1 and 65535")
	}
	if f.continuous > 0 && f.rate <= 0 {
		return nil, fmt.Errorf("rate must be positive")
	}
	if f.seed == 0 {
		f.seed = rand.Uint64()
	}
	return f, nil
}

// plan resolves the flags into the full list of steps to send
func plan(f *cliFlags) ([]step, error) {
	rng := rand.New(rand.NewPCG(f.seed, f.seed))

	switch {
	case f.replay != "":
		messages, err := readRecording(f.replay)
		if err != nil {
			return nil, err
		}
		return replaySteps(messages, f.replayInterval, f.replayTiming), nil
	case f.continuous > 0:
		interval := time.Second / time.Duration(f.rate)
		n := max(int(f.continuous/interval), 1)
		return randomSteps(rng, n, interval), nil
	}

	names := f.scenarios
	if slices.Contains(names, "all") {
		names = make([]string, 0, len(scenarios))
		for _, s := range scenarios {
			names = append(names, s.Name)
		}
	}

	var steps []step
	for _, name := range names {
		s, ok := findScenario(name)
		if !ok {
			return nil, fmt.Errorf("unknown scenario %q (use --list)", name)
		}
		steps = append(steps, s.Build(rng)...)
	}
	return steps, nil
}

func printScenarios(w io.Writer) {
	_, _ = fmt.Fprintln(w, "Available scenarios:")
	for _, s := range scenarios {
		_, _ = fmt.Fprintf(w, "  %-10s %s\n", s.Name, s.Description)
	}
	_, _ = fmt.Fprintf(w, "  %-10s %s\n", "all", "every scenario above, in order")
}

type runner struct {
	out     sender
	logger  *slog.Logger
	noPause bool
}

// send delivers steps in order and returns how many were sent. It stops at
// the first send error or when ctx is cancelled.
func (r *runner) send(ctx context.Context, steps []step) (int, error) {
	sent := 0
	for _, s := range steps {
		if err := ctx.Err(); err != nil {
			return sent, err
		}

		if err := r.out.Send(gosc.NewMessage(s.Address, s.Args...)); err != nil {
			return sent, fmt.Errorf("send %s: %w", s.Address, err)
		}
		sent++
		r.logger.Debug("Sent", "address", s.Address, "args", s.Args)

		if r.noPause || s.Pause <= 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return sent, ctx.Err()
		case <-time.After(s.Pause):
		}
	}
	return sent, nil
}
