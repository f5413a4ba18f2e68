package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/pflag"

	"github.com/randalmurphal/triage/internal/app"
	"github.com/randalmurphal/triage/internal/config"
	"github.com/randalmurphal/triage/internal/tickets"
)

// open loads settings and wires the application. Logs go to stderr so
// stdout carries only JSON results.
func open(ctx context.Context, g globalFlags, stderr io.Writer) (*app.App, error) {
	s, err := config.Load(g.configPath, g.envFile)
	if err != nil {
		return nil, err
	}
	logger, err := app.NewLogger(s.Log, stderr)
	if err != nil {
		return nil, err
	}
	return app.New(ctx, s, logger)
}

func withApp(ctx context.Context, g globalFlags, stderr io.Writer, fn func(*app.App) error) (err error) {
	a, err := open(ctx, g, stderr)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(context.WithoutCancel(ctx)); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(a)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

func newFlagSet(name string, stderr io.Writer) *pflag.FlagSet {
	fs := pflag.NewFlagSet("triage "+name, pflag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func runAsk(ctx context.Context, g globalFlags, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("ask", stderr)
	thread := fs.StringP("thread", "t", "", "conversation thread to continue")
	if err := fs.Parse(args); err != nil {
		return err
	}
	message := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if message == "" {
		return usagef("ask: message is required")
	}

	return withApp(ctx, g, stderr, func(a *app.App) error {
		return writeJSON(stdout, a.Assistant.Invoke(ctx, message, *thread).Map())
	})
}

func runTicket(ctx context.Context, g globalFlags, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("ticket", stderr)
	thread := fs.StringP("thread", "t", "", "thread whose last message becomes the ticket")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *thread == "" {
		return usagef("ticket: --thread is required")
	}

	return withApp(ctx, g, stderr, func(a *app.App) error {
		s, err := a.Assistant.CreateTicketForThread(ctx, *thread)
		if err != nil {
			return err
		}
		return writeJSON(stdout, s.Map())
	})
}

func runResume(ctx context.Context, g globalFlags, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("resume", stderr)
	thread := fs.StringP("thread", "t", "", "thread whose interrupted turn to finish")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *thread == "" {
		return usagef("resume: --thread is required")
	}

	return withApp(ctx, g, stderr, func(a *app.App) error {
		s, err := a.Assistant.Resume(ctx, *thread)
		if err != nil {
			return err
		}
		return writeJSON(stdout, s.Map())
	})
}

type ticketReport struct {
	Tickets []tickets.Ticket `json:"tickets"`
	Summary tickets.Summary  `json:"summary"`
}

func runTickets(ctx context.Context, g globalFlags, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("tickets", stderr)
	limit := fs.IntP("limit", "n", 20, "maximum tickets to list")
	topic := fs.String("topic", "", "only tickets with this topic")
	priority := fs.String("priority", "", "only tickets with this priority")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit < 0 {
		return usagef("tickets: --limit must not be negative")
	}

	return withApp(ctx, g, stderr, func(a *app.App) error {
		list, err := a.Tickets.List(ctx, tickets.Filter{Topic: *topic, Priority: *priority, Limit: *limit})
		if err != nil {
			return fmt.Errorf("list tickets: %w", err)
		}
		summary, err := a.Tickets.Summary(ctx)
		if err != nil {
			return fmt.Errorf("summarize tickets: %w", err)
		}
		if list == nil {
			list = []tickets.Ticket{}
		}
		return writeJSON(stdout, ticketReport{Tickets: list, Summary: summary})
	})
}

func runHistory(ctx context.Context, g globalFlags, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("history", stderr)
	thread := fs.StringP("thread", "t", "", "thread to inspect")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *thread == "" {
		return usagef("history: --thread is required")
	}

	return withApp(ctx, g, stderr, func(a *app.App) error {
		infos, err := a.Assistant.History(*thread)
		if err != nil {
			return err
		}
		snapshot, err := a.Assistant.Snapshot(*thread)
		if err != nil {
			return err
		}
		return writeJSON(stdout, map[string]any{
			"thread_id":   *thread,
			"checkpoints": infos,
			"state":       snapshot.Map(),
		})
	})
}

func runThreads(ctx context.Context, g globalFlags, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("threads", stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}
	return withApp(ctx, g, stderr, func(a *app.App) error {
		threads, err := a.Assistant.Threads()
		if err != nil {
			return err
		}
		if threads == nil {
			threads = []string{}
		}
		return writeJSON(stdout, map[string]any{"threads": threads})
	})
}
