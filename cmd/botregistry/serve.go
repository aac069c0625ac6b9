package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/neuronlabs/botregistry"
	"github.com/neuronlabs/botregistry/internal/scheduler"
	"github.com/neuronlabs/botregistry/internal/server"
	btls "github.com/neuronlabs/botregistry/internal/tls"
)

func createServeCommand(global *GlobalFlags, flags *ServeFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the registry as a daemon: scheduled runs and an HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd, global, flags)
		},
	}
	cmd.Flags().StringVar(&flags.Listen, "listen", "", "HTTP listen address (overrides server.listen)")
	return cmd
}

func serve(cmd *cobra.Command, global *GlobalFlags, flags *ServeFlags) error {
	c, err := loadConfig(global)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("listen") {
		c.Server.Listen = flags.Listen
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r, err := botregistry.Open(ctx, c)
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()
	log := r.Logger()

	metricsPath := ""
	if c.Metrics.Enabled {
		if err := botregistry.RegisterMetricsDefault(); err != nil {
			return err
		}
		metricsPath = c.Metrics.Path
	}
	tlsConfig, err := btls.Setup(c.Server.TLS)
	if err != nil {
		return fmt.Errorf("server tls: %w", err)
	}
	srv := server.NewServer(c.Server.Listen, r.Handler(ctx, c.Server.BasePath, metricsPath), tlsConfig, log)
	log.Info("HTTP API listening", "addr", c.Server.Listen, "base", c.Server.BasePath, "metrics", metricsPath, "tls", tlsConfig != nil)

	var sch *scheduler.Scheduler
	if c.Schedule.Every != "" {
		sch = scheduler.New(log)
		job := &scheduler.Job{
			Name:       "registry-run",
			Schedule:   c.Schedule.Every,
			Singleton:  true,
			RunOnStart: c.Schedule.RunOnStart,
			Run: func(ctx context.Context) error {
				_, err := r.Run(ctx)
				if errors.Is(err, botregistry.ErrRunInProgress) {
					// a run triggered over HTTP is already active
					return nil
				}
				return err
			},
		}
		if err := sch.Add(job); err != nil {
			return err
		}
		if err := sch.Start(ctx); err != nil {
			return err
		}
		log.Info("Scheduled runs enabled", "schedule", c.Schedule.Every)
	}

	<-ctx.Done()
	log.Info("Shutting down")
	if sch != nil {
		sch.Stop()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
