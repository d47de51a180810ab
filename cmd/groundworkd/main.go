package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	sd "github.com/coreos/go-systemd/v22/daemon"

	"groundwork/internal/app"
	"groundwork/pkg/work"
)

func main() {
	// Subprocess-worker children re-enter here; the hook runs them and exits.
	work.ProcMain()

	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./groundwork.yaml", "path to config yaml/json")
	flag.Parse()

	mode := flag.Arg(0)
	if mode == "" {
		mode = "ingest"
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
	if err := a.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		os.Exit(1)
	}
	_, _ = sd.SdNotify(false, sd.SdNotifyReady)

	switch mode {
	case "ingest":
		err = a.Ingest(ctx, os.Stdin)
	case "replay":
		err = a.Replay(ctx, os.Stdout)
	default:
		err = fmt.Errorf("unknown mode %q (use ingest or replay)", mode)
	}

	_, _ = sd.SdNotify(false, sd.SdNotifyStopping)
	a.Stop()
	if err != nil && ctx.Err() == nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}
