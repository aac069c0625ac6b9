package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/neuronlabs/botregistry/internal/auditlog"
)

func createLogCommand(global *GlobalFlags, flags *LogFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show per-bot results of a run from the registry log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := flags.File
			if path == "" {
				c, err := loadConfig(global)
				if err != nil {
					return err
				}
				path = c.Log.Path
			}
			entries, err := auditlog.ReadFile(path)
			if err != nil {
				return err
			}
			if flags.All {
				return printRuns(cmd, entries)
			}
			run := auditlog.FilterRun(entries, flags.Run)
			if len(run) == 0 {
				return fmt.Errorf("no entries for run %q in %s", flags.Run, path)
			}
			return printRun(cmd, run)
		},
	}
	cmd.Flags().StringVar(&flags.File, "file", "", "registry log file (defaults to log.path)")
	cmd.Flags().StringVar(&flags.Run, "run", "last", `run ID, or "last"`)
	cmd.Flags().BoolVar(&flags.All, "all", false, "list every run in the log")
	return cmd
}

func printRun(cmd *cobra.Command, entries []auditlog.Entry) error {
	out := cmd.OutOrStdout()
	drift := map[string]string{}
	for _, e := range entries {
		if e.Kind == auditlog.KindDigestDrift {
			drift[e.Bot] = e.PreviousDigest
		}
	}
	_, _ = fmt.Fprintf(out, "run %s\n", entries[0].RunID)
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "BOT\tSTATUS\tDURATION\tEXIT\tDRIFT\tERROR")
	for _, e := range entries {
		if e.Kind != auditlog.KindAuditResult {
			continue
		}
		d := "-"
		if prev, ok := drift[e.Bot]; ok {
			d = "was " + shortDigest(prev)
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%dms\t%d\t%s\t%s\n", e.Bot, e.Status, e.DurationMs, e.ExitCode, d, e.Error)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	for _, e := range entries {
		if e.Kind == auditlog.KindRunCompleted && e.Counts != nil {
			c := e.Counts
			_, _ = fmt.Fprintf(out, "%d discovered, %d passed, %d failed, %d error-timeout, %d error-crash, %d skipped-not-executable, %d drifted\n",
				c.Discovered, c.Passed, c.Failed, c.ErrorTimeout, c.ErrorCrash, c.SkippedNotExecutable, c.Drifted)
		}
	}
	return nil
}

func printRuns(cmd *cobra.Command, entries []auditlog.Entry) error {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "RUN\tSTARTED\tDISCOVERED\tPASSED\tFAILED\tERROR")
	started := map[string]string{}
	for _, e := range entries {
		switch e.Kind {
		case auditlog.KindRunStarted:
			started[e.RunID] = e.Time.UTC().Format("2006-01-02T15:04:05Z")
		case auditlog.KindRunCompleted:
			var disc, pass, fail int
			if c := e.Counts; c != nil {
				disc, pass, fail = c.Discovered, c.Passed, c.Failed+c.ErrorTimeout+c.ErrorCrash
			}
			_, _ = fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%s\n", e.RunID, started[e.RunID], disc, pass, fail, e.Error)
		}
	}
	return tw.Flush()
}

func shortDigest(d string) string {
	if len(d) > 12 {
		return d[:12]
	}
	return d
}
