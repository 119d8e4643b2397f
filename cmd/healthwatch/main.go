// Command healthwatch follows a vitals server over websocket and draws every
// actor's pools in the terminal.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/gdamore/tcell/v2"

	"vitals/server/internal/hudview"
	"vitals/server/internal/net/ws"
	"vitals/server/internal/replication"
	"vitals/server/internal/telemetry"
)

type config struct {
	URL       string        `env:"HEALTHWATCH_URL" envDefault:"ws://localhost:8080/ws"`
	Heartbeat time.Duration `env:"HEALTHWATCH_HEARTBEAT" envDefault:"2s"`
	LogPath   string        `env:"HEALTHWATCH_LOG"`
}

func parseConfig(fs *flag.FlagSet, args []string) (config, error) {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		return config{}, fmt.Errorf("parse env: %w", err)
	}
	fs.StringVar(&cfg.URL, "url", cfg.URL, "Websocket endpoint of the vitals server")
	fs.DurationVar(&cfg.Heartbeat, "heartbeat", cfg.Heartbeat, "Heartbeat interval, 0 disables")
	fs.StringVar(&cfg.LogPath, "log", cfg.LogPath, "Write diagnostics to this file instead of discarding them")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}
	return cfg, nil
}

func main() {
	cfg, err := parseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatalf("%v", err)
	}
}

func run(ctx context.Context, cfg config) error {
	// the terminal belongs to tcell, so diagnostics go to a file or nowhere
	var out io.Writer = io.Discard
	if cfg.LogPath != "" {
		f, err := os.OpenFile(cfg.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log: %w", err)
		}
		defer f.Close()
		out = f
	}
	logger := log.New(out, "[healthwatch] ", log.LstdFlags)

	redraw := make(chan struct{}, 1)
	notify := func() {
		select {
		case redraw <- struct{}{}:
		default:
		}
	}

	mirror := replication.NewMirror(nil)
	observer, err := ws.Dial(ctx, cfg.URL, mirror, ws.ObserverConfig{
		Logger:            telemetry.WrapLogger(logger),
		HeartbeatInterval: cfg.Heartbeat,
		OnUpdate:          notify,
	})
	if err != nil {
		return err
	}
	defer observer.Close()

	screen, err := tcell.NewScreen()
	if err != nil {
		return fmt.Errorf("create screen: %w", err)
	}
	if err := screen.Init(); err != nil {
		return fmt.Errorf("init screen: %w", err)
	}
	defer screen.Fini()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- observer.Run(ctx) }()

	keys := make(chan *tcell.EventKey, 1)
	go func() {
		for {
			switch ev := screen.PollEvent().(type) {
			case nil:
				return
			case *tcell.EventKey:
				keys <- ev
			case *tcell.EventResize:
				screen.Sync()
				notify()
			}
		}
	}()

	view := hudview.New(screen)
	draw := func() {
		view.Draw(mirror.Snapshots(), hudview.Status{
			Address:     cfg.URL,
			KeyframeSeq: observer.KeyframeSeq(),
			RTT:         observer.RTT(),
			Resyncs:     observer.Resyncs(),
		})
	}
	draw()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-runErr:
			return err
		case <-redraw:
			draw()
		case ev := <-keys:
			switch {
			case ev.Key() == tcell.KeyEscape, ev.Key() == tcell.KeyCtrlC, ev.Rune() == 'q':
				return nil
			case ev.Rune() == 'r':
				if err := observer.RequestKeyframe(0); err != nil {
					logger.Printf("keyframe request failed: %v", err)
				}
			}
		}
	}
}
