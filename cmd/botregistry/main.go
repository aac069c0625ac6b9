package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/neuronlabs/botregistry"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		os.Exit(reportError(err))
	}
}

// exitError carries a process exit code out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

// reportError prints err and returns the exit code it maps to.
func reportError(err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			_, _ = fmt.Fprintln(os.Stderr, "botregistry:", ee.err)
		}
		return ee.code
	}
	_, _ = fmt.Fprintln(os.Stderr, "botregistry:", err)
	return botregistry.ExitRunError
}

func buildRoot() *cobra.Command {
	global := &GlobalFlags{}
	root := &cobra.Command{
		Use:   "botregistry",
		Short: "Discover, fingerprint and audit executable bots",
		Long: `botregistry enumerates the executable bots in a directory, records a SHA-256
baseline for each, runs every bot with --audit and appends what happened to the
registry log. The exit code is non-zero when any bot fails, so a run can gate CI.

Examples:
  botregistry run --dir ./bots --log registry.log
  botregistry run --config botregistry.toml
  botregistry serve --config botregistry.toml
  botregistry log --run last
  botregistry integrity forget --name bot-a
  botregistry remote run --wait --api-url http://127.0.0.1:8080/api`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&global.ConfigPath, "config", "", "path to TOML config file (optional)")

	root.AddCommand(
		createRunCommand(global, &RunFlags{}),
		createServeCommand(global, &ServeFlags{}),
		createIntegrityCommand(global, &IntegrityFlags{}),
		createLogCommand(global, &LogFlags{}),
		createRemoteCommand(&RemoteFlags{}),
		createTemplateCommand(&TemplateFlags{}),
	)
	return root
}
