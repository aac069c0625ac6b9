package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/neuronlabs/botregistry"
)

func createRunCommand(global *GlobalFlags, flags *RunFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Perform one registry run and exit with its status",
		Long: `Discover every executable in the bot directory, check it against its
integrity baseline, run it with the audit flag and log the result.

Exit codes: 0 all bots passed or were skipped; 1 a bot failed, crashed or timed
out, a baseline could not be saved, or the run was interrupted; 2 the bot
directory or the registry log was unavailable.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRegistry(cmd, global, flags)
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&flags.Dir, "dir", "", "bot directory")
	fs.StringSliceVar(&flags.Patterns, "pattern", nil, "only audit bots whose name matches (repeatable)")
	fs.DurationVar(&flags.Timeout, "timeout", 0, "per-bot audit timeout")
	fs.StringVar(&flags.LogPath, "log", "", "registry log file")
	fs.StringVar(&flags.LogFormat, "log-format", "", "registry log format: text or json")
	fs.StringVar(&flags.StoreDSN, "store", "", "integrity store DSN (sqlite path, sqlite://, postgres://, file://)")
	fs.IntVar(&flags.Concurrency, "concurrency", 1, "number of bots audited in parallel")
	fs.BoolVar(&flags.JSON, "json", false, "print the summary as JSON")
	return cmd
}

func runRegistry(cmd *cobra.Command, global *GlobalFlags, flags *RunFlags) error {
	c, err := loadConfig(global)
	if err != nil {
		return &exitError{code: botregistry.ExitRunError, err: err}
	}
	flags.apply(cmd, &c)

	// SIGINT/SIGTERM stop new audits; the one in flight still finishes
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r, err := botregistry.Open(ctx, c)
	if err != nil {
		return &exitError{code: botregistry.ExitRunError, err: err}
	}
	defer func() { _ = r.Close() }()

	sum, runErr := r.Run(ctx)
	out := cmd.OutOrStdout()
	if flags.JSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(sum); err != nil {
			return &exitError{code: botregistry.ExitRunError, err: err}
		}
	} else {
		_, _ = fmt.Fprintln(out, sum.String())
	}
	if code := sum.ExitCode(); code != botregistry.ExitOK {
		return &exitError{code: code, err: runErr}
	}
	return nil
}
