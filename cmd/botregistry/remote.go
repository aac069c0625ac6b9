package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/neuronlabs/botregistry"
	"github.com/neuronlabs/botregistry/pkg/client"
)

func createRemoteCommand(flags *RemoteFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remote",
		Short: "Drive a running botregistry daemon over its HTTP API",
	}
	pf := cmd.PersistentFlags()
	pf.StringVar(&flags.URL, "api-url", "http://127.0.0.1:8080/api", "daemon API base URL")
	pf.StringVar(&flags.CACert, "ca-cert", "", "CA certificate trusted for an HTTPS daemon")
	pf.BoolVar(&flags.SkipVerify, "insecure", false, "skip TLS certificate verification")
	pf.DurationVar(&flags.Timeout, "timeout", 10*time.Second, "request timeout")
	pf.BoolVar(&flags.JSON, "json", false, "print JSON")

	run := &cobra.Command{
		Use:   "run",
		Short: "Trigger a run on the daemon; with --wait exit with the run's status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withClient(cmd, flags, func(ctx context.Context, cl *client.Client) error {
				sum, err := cl.TriggerRun(ctx, flags.Wait)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if !flags.Wait {
					_, _ = fmt.Fprintln(out, "run started")
					return nil
				}
				if err := printRemoteSummary(out, sum, flags.JSON); err != nil {
					return err
				}
				if sum.ExitCode != botregistry.ExitOK {
					var runErr error
					if sum.Error != "" {
						runErr = errors.New(sum.Error)
					}
					return &exitError{code: sum.ExitCode, err: runErr}
				}
				return nil
			})
		},
	}
	run.Flags().BoolVar(&flags.Wait, "wait", false, "block until the run completes")

	state := &cobra.Command{
		Use:   "state",
		Short: "Show the controller state and the last run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withClient(cmd, flags, func(ctx context.Context, cl *client.Client) error {
				st, err := cl.State(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if flags.JSON {
					return encodeJSON(out, st)
				}
				_, _ = fmt.Fprintf(out, "state: %s (index %d, running %t)\n", st.State, st.Index, st.Running)
				last, err := cl.LastRun(ctx)
				if errors.Is(err, client.ErrNotFound) {
					_, _ = fmt.Fprintln(out, "no run completed yet")
					return nil
				}
				if err != nil {
					return err
				}
				return printRemoteSummary(out, last, false)
			})
		},
	}

	bots := &cobra.Command{
		Use:   "bots",
		Short: "List the daemon's integrity baselines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withClient(cmd, flags, func(ctx context.Context, cl *client.Client) error {
				recs, err := cl.ListBots(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if flags.JSON {
					return encodeJSON(out, recs)
				}
				tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				_, _ = fmt.Fprintln(tw, "NAME\tDIGEST\tLAST AUDIT")
				for _, r := range recs {
					_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", r.Name, r.LastGoodDigest, r.LastAuditAt.UTC().Format(time.RFC3339))
				}
				return tw.Flush()
			})
		},
	}

	forget := &cobra.Command{
		Use:   "forget",
		Short: "Remove a bot's baseline on the daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withClient(cmd, flags, func(ctx context.Context, cl *client.Client) error {
				err := cl.ForgetBot(ctx, flags.Name)
				if errors.Is(err, client.ErrNotFound) {
					return &exitError{code: botregistry.ExitFailures, err: fmt.Errorf("no baseline for %q", flags.Name)}
				}
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "forgot %s\n", flags.Name)
				return nil
			})
		},
	}
	forget.Flags().StringVar(&flags.Name, "name", "", "bot name")
	_ = forget.MarkFlagRequired("name")

	cmd.AddCommand(run, state, bots, forget)
	return cmd
}

func withClient(cmd *cobra.Command, flags *RemoteFlags, fn func(context.Context, *client.Client) error) error {
	cfg := client.Config{BaseURL: flags.URL, Timeout: flags.Timeout}
	if flags.CACert != "" || flags.SkipVerify {
		cfg.TLS = &client.TLSClientConfig{CACert: flags.CACert, SkipVerify: flags.SkipVerify}
	}
	cl, err := client.New(cfg)
	if err != nil {
		return err
	}
	return fn(cmd.Context(), cl)
}

func printRemoteSummary(out io.Writer, s client.RunSummary, asJSON bool) error {
	if asJSON {
		return encodeJSON(out, s)
	}
	_, _ = fmt.Fprintf(out, "run %s: %d discovered, %d passed, %d failed, %d timed out, %d crashed, %d skipped, %d drifted\n",
		s.RunID, s.Discovered, s.Passed, s.Failed, s.ErrorTimeout, s.ErrorCrash, s.SkippedNotExecutable, s.Drifted)
	for _, o := range s.Outcomes {
		_, _ = fmt.Fprintf(out, "  %-24s %-24s %6dms exit=%d\n", o.Name, o.Status, o.DurationMs, o.ExitCode)
	}
	return nil
}

func encodeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
