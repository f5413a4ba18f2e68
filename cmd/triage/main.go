// triage classifies a support message, answers it from documentation or
// files a ticket, and reports on the tickets filed so far.
//
// Usage:
//
//	triage [--config FILE] [--env-file FILE] <command> [flags]
//
// Commands:
//
//	ask [--thread ID] MESSAGE   run the workflow and print the resulting state
//	ticket --thread ID          file a ticket for a thread's last message
//	resume --thread ID          finish a thread's interrupted turn
//	tickets [--limit N]         recent tickets and counts by topic and priority
//	history --thread ID         checkpoints saved for a thread
//	threads                     threads with saved state
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	if err != nil {
		if !errors.Is(err, pflag.ErrHelp) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	var u *usageError
	if errors.As(err, &u) || errors.Is(err, pflag.ErrHelp) {
		return 2
	}
	return 1
}

// usageError marks a bad invocation.
type usageError struct{ msg string }

func (e *usageError) Error() string { return e.msg }

func usagef(format string, args ...any) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}

type globalFlags struct {
	configPath string
	envFile    string
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var g globalFlags
	fs := pflag.NewFlagSet("triage", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.SetInterspersed(false)
	fs.StringVarP(&g.configPath, "config", "c", os.Getenv("TRIAGE_CONFIG"), "YAML or JSON settings file")
	fs.StringVar(&g.envFile, "env-file", ".env", "dotenv file to load when present")
	fs.Usage = func() { printUsage(stderr, fs) }

	if err := fs.Parse(args); err != nil {
		return err
	}
	rest := fs.Args()
	if len(rest) == 0 {
		printUsage(stderr, fs)
		return usagef("missing command")
	}

	cmd, ok := commands[rest[0]]
	if !ok {
		return usagef("unknown command %q", rest[0])
	}
	return cmd(ctx, g, rest[1:], stdout, stderr)
}

type command func(ctx context.Context, g globalFlags, args []string, stdout, stderr io.Writer) error

var commands = map[string]command{
	"ask":     runAsk,
	"ticket":  runTicket,
	"resume":  runResume,
	"tickets": runTickets,
	"history": runHistory,
	"threads": runThreads,
}

func printUsage(w io.Writer, fs *pflag.FlagSet) {
	fmt.Fprint(w, `triage answers support questions or files tickets.

Usage:
  triage [flags] <command> [command flags]

Commands:
  ask [--thread ID] MESSAGE   run the workflow and print the resulting state
  ticket --thread ID          file a ticket for a thread's last message
  resume --thread ID          finish a thread's interrupted turn
  tickets [--limit N]         recent tickets and counts by topic and priority
  history --thread ID         checkpoints saved for a thread
  threads                     threads with saved state

Flags:
`)
	fs.SetOutput(w)
	fs.PrintDefaults()
}
