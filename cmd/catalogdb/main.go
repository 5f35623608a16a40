package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/juju/errors"

	"media-catalog/internal/logging"
	"media-catalog/internal/startup"
)

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		if errors.Is(err, startup.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdin *os.File, stdout io.Writer) error {
	cfg, err := startup.LoadConfig(args, nil)
	if err != nil {
		return err
	}
	if cfg.Command == "" {
		printUsage(stdout)
		return errors.New("missing command")
	}
	if _, ok := commands[cfg.Command]; !ok {
		printUsage(stdout)
		return errors.NotFoundf("command %q", sanitizeCommand(cfg.Command))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	defer logging.Sync()

	a, err := newApp(cfg, stdin, stdout)
	if err != nil {
		return err
	}
	defer a.close()

	return a.runCommand(ctx, cfg.Command, cfg.Args)
}

// sanitizeCommand keeps only [a-zA-Z0-9_-] so user input cannot reach the
// terminal unfiltered.
func sanitizeCommand(cmd string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, cmd)
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Media catalog database tool")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Usage: catalogdb [flags] <command>")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  check            - Open the catalog and bring its schema up to date")
	fmt.Fprintln(w, "  status           - Show parameters, schema version and album roots")
	fmt.Fprintln(w, "  add-root <path>  - Register a directory as an album root")
	fmt.Fprintln(w, "  rescan           - Record the images below every album root")
	fmt.Fprintln(w, "  serve            - Rescan periodically and serve status and metrics")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Run with --help for the flags.")
}
