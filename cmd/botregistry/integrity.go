package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/neuronlabs/botregistry"
	"github.com/neuronlabs/botregistry/internal/integrity"
	"github.com/neuronlabs/botregistry/internal/integrity/factory"
)

func createIntegrityCommand(global *GlobalFlags, flags *IntegrityFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "integrity",
		Short: "Inspect or edit integrity baselines",
	}
	cmd.PersistentFlags().StringVar(&flags.StoreDSN, "store", "", "integrity store DSN (overrides store.dsn)")

	list := &cobra.Command{
		Use:   "list",
		Short: "List baselines recorded at the last passing audit of each bot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, global, flags, func(ctx context.Context, s integrity.Store) error {
				recs, err := s.List(ctx)
				if err != nil {
					return err
				}
				return printRecords(cmd, recs, flags.JSON)
			})
		},
	}
	list.Flags().BoolVar(&flags.JSON, "json", false, "print records as JSON")

	forget := &cobra.Command{
		Use:   "forget",
		Short: "Remove a bot's baseline; its next audit starts without drift detection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, global, flags, func(ctx context.Context, s integrity.Store) error {
				err := s.Delete(ctx, flags.Name)
				if errors.Is(err, integrity.ErrNotFound) {
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

	cmd.AddCommand(list, forget)
	return cmd
}

func withStore(cmd *cobra.Command, global *GlobalFlags, flags *IntegrityFlags, fn func(context.Context, integrity.Store) error) error {
	c, err := loadConfig(global)
	if err != nil {
		return err
	}
	dsn := c.Store.DSN
	if flags.StoreDSN != "" {
		dsn = flags.StoreDSN
	}
	s, err := factory.NewFromDSN(dsn)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()
	ctx := cmd.Context()
	if err := s.EnsureSchema(ctx); err != nil {
		return err
	}
	return fn(ctx, s)
}

func printRecords(cmd *cobra.Command, recs []integrity.Record, asJSON bool) error {
	out := cmd.OutOrStdout()
	if asJSON {
		if recs == nil {
			recs = []integrity.Record{}
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(recs)
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "NAME\tDIGEST\tLAST AUDIT")
	for _, r := range recs {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", r.Name, r.LastGoodDigest, r.LastAuditAt.UTC().Format(time.RFC3339))
	}
	return tw.Flush()
}
