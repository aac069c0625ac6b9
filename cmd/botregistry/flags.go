package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/neuronlabs/botregistry"
)

// Flag structs decouple cobra from the command logic for testing.

type GlobalFlags struct {
	ConfigPath string
}

type RunFlags struct {
	Dir         string
	Patterns    []string
	Timeout     time.Duration
	LogPath     string
	LogFormat   string
	StoreDSN    string
	Concurrency int
	JSON        bool
}

type ServeFlags struct {
	Listen string
}

type IntegrityFlags struct {
	StoreDSN string
	Name     string
	JSON     bool
}

type RemoteFlags struct {
	URL        string
	CACert     string
	SkipVerify bool
	Timeout    time.Duration
	JSON       bool
	Wait       bool
	Name       string
}

type TemplateFlags struct {
	Type string
	Name string
	Out  string
}

type LogFlags struct {
	File string
	Run  string
	All  bool
}

func loadConfig(g *GlobalFlags) (botregistry.Config, error) {
	return botregistry.LoadConfig(g.ConfigPath)
}

// apply overrides config values with flags the user actually set.
func (f *RunFlags) apply(cmd *cobra.Command, c *botregistry.Config) {
	changed := func(name string) bool { return cmd.Flags().Changed(name) }
	if changed("dir") {
		c.Registry.Dir = f.Dir
	}
	if changed("pattern") {
		c.Registry.Patterns = f.Patterns
	}
	if changed("timeout") {
		c.Audit.Timeout = f.Timeout
	}
	if changed("log") {
		c.Log.Path = f.LogPath
	}
	if changed("log-format") {
		c.Log.Format = f.LogFormat
	}
	if changed("store") {
		c.Store.DSN = f.StoreDSN
	}
	if changed("concurrency") {
		c.Registry.Concurrency = f.Concurrency
	}
}
