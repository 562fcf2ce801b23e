// Command locus is the desktop shell: it starts the locus-backend sidecar,
// supervises it and shows its status.
//
// Release builds for Windows should pass -ldflags "-H windowsgui" so no
// console window is opened next to the GUI.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"locus-desktop/internal/app"
	"locus-desktop/internal/config"
	"locus-desktop/internal/launcher"
	"locus-desktop/internal/logger"

	flag "github.com/spf13/pflag"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "dev"

const exitConfig = 2

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("locus", flag.ContinueOnError)
	flags := config.BindFlags(fs)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		return exitConfig
	}

	if flags.Version {
		fmt.Printf("%s %s\n", app.AppName, Version)
		return 0
	}

	cfg, err := config.Load(flags, os.LookupEnv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		return exitConfig
	}

	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		return exitConfig
	}
	log := logger.New(level, cfg.Log.JSON)
	log.Info("main", "locus starting", map[string]interface{}{"version": Version})

	application, err := app.NewApplication(cfg, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		return launcher.ExitCode(err)
	}

	if err := application.Run(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		return launcher.ExitCode(err)
	}

	log.Info("main", "locus terminated", nil)
	return 0
}
