package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/JakeFAU/crawl-console/internal/jobs"
	"github.com/JakeFAU/crawl-console/internal/monitor"
)

// ErrRunFailed reports that the monitored job did not finish cleanly.
var ErrRunFailed = errors.New("job did not finish successfully")

type runOptions struct {
	configCode string
	full       bool
	activate   bool
	// watch is how often the terminal view is refreshed.
	watch time.Duration
}

func newRunCmd() *cobra.Command {
	opts := runOptions{}
	cmd := &cobra.Command{
		Use:   "run <config-code>",
		Short: "Start a crawl job and follow it in the terminal",
		Long: `Starts a crawl job for the configuration and prints each state change until
the job finishes or fails. Test runs are the default; --full starts a real run.
With --activate a finished test run activates the configuration.

Ctrl-C while the job is in flight asks for confirmation before closing; the job
itself keeps running on the backend either way.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), app.Config().CloseTimeout())
				defer cancel()
				_ = app.Close(closeCtx)
			}()

			opts.configCode = args[0]
			opts.watch = app.Config().PollInterval()

			interrupts := make(chan os.Signal, 1)
			signal.Notify(interrupts, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(interrupts)

			confirm := newTerminalConfirmer(cmd.InOrStdin(), cmd.OutOrStdout())
			return runMonitor(cmd.Context(), app.Registry(), app.Backend(), opts, interrupts, confirm, cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&opts.full, "full", false, "start a full run instead of a test run")
	cmd.Flags().BoolVar(&opts.activate, "activate", false, "activate the configuration when the test run finishes")
	return cmd
}

// runMonitor opens a monitor session for opts.configCode and follows it to a
// terminal state. A value on interrupts requests a user close; a declined close
// keeps following the job.
func runMonitor(
	ctx context.Context,
	registry *monitor.Registry,
	configs jobs.ConfigStore,
	opts runOptions,
	interrupts <-chan os.Signal,
	confirm monitor.Confirmer,
	out io.Writer,
) error {
	if opts.watch <= 0 {
		opts.watch = monitor.DefaultPollInterval
	}
	cfg, err := configs.GetConfig(ctx, opts.configCode)
	if err != nil {
		return fmt.Errorf("load configuration %q: %w", opts.configCode, err)
	}
	m, err := registry.Create()
	if err != nil {
		return fmt.Errorf("create monitor: %w", err)
	}
	defer func() { _ = registry.Remove(context.WithoutCancel(ctx), m.ID()) }()

	snap, err := m.Open(ctx, cfg, !opts.full)
	if err != nil {
		fmt.Fprintf(out, "%s\n", snap.View.Message)
		return fmt.Errorf("start job for %q: %w", opts.configCode, err)
	}
	fmt.Fprintf(out, "session %s: job %d for %s\n", snap.SessionID, jobID(snap), snap.ConfigCode)

	printer := &viewPrinter{out: out}
	printer.print(snap)

	ticker := time.NewTicker(opts.watch)
	defer ticker.Stop()
	for snap.Polling {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-interrupts:
			outcome, err := m.Close(ctx, true, confirm)
			if err != nil {
				return err
			}
			if outcome != monitor.CloseDeclined {
				fmt.Fprintln(out, "monitor closed; the job keeps running on the backend")
				return nil
			}
			fmt.Fprintln(out, "still monitoring")
		case <-ticker.C:
		}
		snap = m.Snapshot()
		if snap.Phase == monitor.PhaseIdle {
			return nil
		}
		printer.print(snap)
	}

	switch {
	case snap.View.State == monitor.StateFailed:
		printErrors(out, snap)
		return fmt.Errorf("%s: %w", opts.configCode, ErrRunFailed)
	case snap.View.Result == monitor.ResultError:
		return fmt.Errorf("%s: %s: %w", opts.configCode, snap.Err, ErrRunFailed)
	}

	if opts.activate {
		if !snap.CanActivate {
			fmt.Fprintln(out, "configuration is not eligible for activation")
			return nil
		}
		activation, err := m.Activate(ctx)
		if err != nil {
			fmt.Fprintln(out, m.Snapshot().Notice)
			return fmt.Errorf("activate %q: %w", opts.configCode, err)
		}
		fmt.Fprintf(out, "configuration %s activated at %s\n", activation.ConfigCode, activation.At.Format(time.RFC3339))
	}
	return nil
}

func jobID(snap monitor.Snapshot) int64 {
	if snap.Job == nil {
		return 0
	}
	return snap.Job.ID
}

// viewPrinter prints a line whenever the operator view changes.
type viewPrinter struct {
	out  io.Writer
	last monitor.View
	seen bool
}

func (p *viewPrinter) print(snap monitor.Snapshot) {
	view := snap.View
	if p.seen && view.State == p.last.State && view.Message == p.last.Message {
		return
	}
	p.seen = true
	p.last = view
	fmt.Fprintf(p.out, "[%s] %s\n", view.State, view.Message)
}

func printErrors(out io.Writer, snap monitor.Snapshot) {
	if snap.ErrorsFetchFailed {
		fmt.Fprintln(out, "job errors could not be loaded")
	}
	for _, e := range snap.Errors {
		fmt.Fprintf(out, "  - %s", e.Message)
		if e.Category != "" {
			fmt.Fprintf(out, " (%s)", e.Category)
		}
		fmt.Fprintln(out)
	}
}

// terminalConfirmer asks on the terminal. Without an interactive terminal every
// close is approved.
type terminalConfirmer struct {
	in          *bufio.Reader
	out         io.Writer
	interactive bool
}

func newTerminalConfirmer(in io.Reader, out io.Writer) *terminalConfirmer {
	interactive := false
	if f, ok := in.(*os.File); ok {
		interactive = term.IsTerminal(int(f.Fd()))
	}
	return &terminalConfirmer{in: bufio.NewReader(in), out: out, interactive: interactive}
}

func (c *terminalConfirmer) Confirm(_ context.Context, prompt string) bool {
	if !c.interactive {
		return true
	}
	fmt.Fprintf(c.out, "%s [y/N]: ", prompt)
	line, err := c.in.ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}
