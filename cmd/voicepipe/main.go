// voicepipe assembles streamed speech from a voice server into playable WAV
// files and submits recorded or uploaded audio for transcription.
//
// Usage:
//
//	voicepipe [flags] speak "text to say"
//	voicepipe [flags] transcribe recording.wav
//	voicepipe [flags] record
//	voicepipe [flags] serve
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/teslashibe/go-voicepipe/internal/config"
	"github.com/teslashibe/go-voicepipe/internal/log"
	"github.com/teslashibe/go-voicepipe/pkg/audioio"
)

type options struct {
	configPath string
	server     string
	addr       string
	backend    string
	out        string
	duration   time.Duration
	transcribe bool
	debug      bool
}

func main() {
	opts := parseFlags()
	os.Exit(execute(opts, flag.Args()))
}

// execute runs one command and returns the process exit code. Deferred
// cleanup runs before main exits.
func execute(opts options, args []string) int {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Configuration error: %v\n", err)
		return 2
	}
	applyFlags(cfg, opts)

	log.Init(cfg.Log.Level)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app := newApp(cfg)
	defer app.Close()

	if err := run(ctx, app, opts, args); err != nil {
		log.Error("command failed", "error", err)
		return 1
	}
	return 0
}

func parseFlags() options {
	var o options
	flag.StringVar(&o.configPath, "config", os.Getenv("VOICEPIPE_CONFIG"), "Path to YAML config file")
	flag.StringVar(&o.server, "server", "", "Voice server URL (overrides config)")
	flag.StringVar(&o.addr, "addr", "", "Listen address for serve (overrides config)")
	flag.StringVar(&o.backend, "backend", "", "Capture backend: auto, ffmpeg, mock")
	flag.StringVar(&o.out, "out", "", "Output WAV path for speak and record (\"-\" for stdout)")
	flag.DurationVar(&o.duration, "duration", 5*time.Second, "Recording length for record")
	flag.BoolVar(&o.transcribe, "transcribe", false, "Transcribe the recording after record")
	flag.BoolVar(&o.debug, "debug", false, "Enable verbose debug logging")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] speak|transcribe|record|serve [args]\n\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	return o
}

// applyFlags gives explicitly set flags precedence over file and environment.
func applyFlags(cfg *config.Config, o options) {
	if o.server != "" {
		cfg.Server.URL = o.server
	}
	if o.addr != "" {
		cfg.Web.Addr = o.addr
	}
	if o.backend != "" {
		cfg.Audio.Backend = audioio.Backend(o.backend)
	}
	if o.debug {
		cfg.Log.Level = "debug"
	}
}

func run(ctx context.Context, app *App, o options, args []string) error {
	if len(args) == 0 {
		flag.Usage()
		return fmt.Errorf("missing command")
	}

	switch cmd, rest := args[0], args[1:]; cmd {
	case "speak":
		if len(rest) == 0 {
			return fmt.Errorf("speak: missing text")
		}
		return app.Speak(ctx, strings.Join(rest, " "), o.out)
	case "transcribe":
		if len(rest) != 1 {
			return fmt.Errorf("transcribe: expected one file")
		}
		return app.TranscribeFile(ctx, rest[0])
	case "record":
		return app.Record(ctx, o.duration, o.out, o.transcribe)
	case "serve":
		return app.Serve(ctx)
	default:
		flag.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}
