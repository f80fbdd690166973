// filehub is the command-line client for a filehub server. It uploads
// files and directory trees and inspects what the server stores.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/pflag"

	"filehub/internal/client"
)

const defaultServer = "http://localhost:8080"

// app carries what every subcommand needs.
type app struct {
	client *client.Client
	fs     afero.Fs
	out    io.Writer
	errOut io.Writer
}

type command struct {
	short string
	run   func(ctx context.Context, a *app, args []string) error
}

var commands = map[string]command{
	"upload":   {"upload files and directories", runUpload},
	"list":     {"list stored files, most recent first", runList},
	"search":   {"search stored files", runSearch},
	"stats":    {"show storage savings", runStats},
	"info":     {"show one file and its references", runInfo},
	"delete":   {"delete files", runDelete},
	"download": {"download stored content", runDownload},
}

var usages = map[string]string{
	"upload":   "upload [--hidden] [--max-size SIZE] <paths...>",
	"list":     "list",
	"search":   "search [--filename S] [--type S] [--min-size SIZE] [--max-size SIZE] [--date-range R] [--order F]",
	"stats":    "stats",
	"info":     "info <id>",
	"delete":   "delete <ids...>",
	"download": "download [-o PATH] <id>",
}

var commandOrder = []string{"upload", "list", "search", "stats", "info", "delete", "download"}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], afero.NewOsFs(), os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, fs afero.Fs, stdout, stderr io.Writer) error {
	server := os.Getenv("FILEHUB_SERVER")
	if server == "" {
		server = defaultServer
	}
	var timeout time.Duration

	flagSet := pflag.NewFlagSet("filehub", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.SetInterspersed(false)
	flagSet.StringVar(&server, "server", server, "server base URL (env FILEHUB_SERVER)")
	flagSet.DurationVar(&timeout, "timeout", 10*time.Minute, "per-request timeout, 0 for none")
	flagSet.Usage = func() { printUsage(stderr, flagSet) }

	if err := flagSet.Parse(args); err != nil {
		return err
	}

	rest := flagSet.Args()
	if len(rest) == 0 {
		printUsage(stderr, flagSet)
		return pflag.ErrHelp
	}

	cmd, ok := commands[rest[0]]
	if !ok {
		return fmt.Errorf("unknown command %q (run filehub --help)", rest[0])
	}

	a := &app{
		client: client.New(server, timeout),
		fs:     fs,
		out:    stdout,
		errOut: stderr,
	}
	return cmd.run(ctx, a, rest[1:])
}

func printUsage(w io.Writer, flagSet *pflag.FlagSet) {
	fmt.Fprintf(w, "Usage:\n  filehub [flags] <command> [args]\n\nCommands:\n")
	for _, name := range commandOrder {
		cmd := commands[name]
		fmt.Fprintf(w, "  %-10s %s\n", name, cmd.short)
	}
	fmt.Fprintf(w, "\nFlags:\n")
	flagSet.PrintDefaults()
}

// subFlags returns a flag set for one subcommand that reports usage on
// the same writer as the global one.
func subFlags(name string, out io.Writer) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(out)
	fs.Usage = func() {
		fmt.Fprintf(out, "Usage:\n  filehub %s\n", usages[name])
		fs.PrintDefaults()
	}
	return fs
}
