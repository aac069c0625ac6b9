package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/neuronlabs/botregistry/pkg/template"
)

func createTemplateCommand(flags *TemplateFlags) *cobra.Command {
	gen := template.NewGenerator()
	cmd := &cobra.Command{
		Use:   "template",
		Short: "Generate a bot skeleton or a starter config",
		Long: `Generate a starter file. Bot templates answer the audit flag and exit 0;
the config template lists every section with its defaults.

Examples:
  botregistry template --type shell --name sentry-bot --out ./bots
  botregistry template --type config --name ./bots > botregistry.toml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tmpl, err := gen.Generate(template.TemplateType(flags.Type), flags.Name)
			if err != nil {
				return err
			}
			if flags.Out == "" {
				_, err := fmt.Fprint(cmd.OutOrStdout(), tmpl.Body)
				return err
			}
			p, err := tmpl.WriteTo(flags.Out)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", p)
			return nil
		},
	}
	cmd.Flags().StringVar(&flags.Type, "type", string(template.TypeShell), fmt.Sprintf("template type %v", gen.GetSupportedTypes()))
	cmd.Flags().StringVar(&flags.Name, "name", "", "bot name, or the bot directory for the config template")
	cmd.Flags().StringVar(&flags.Out, "out", "", "directory to write into (default: stdout)")
	return cmd
}
