package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rzpsarthak13/offlinesync/internal/connectivity"
	"github.com/rzpsarthak13/offlinesync/internal/httpapi"
	"github.com/rzpsarthak13/offlinesync/internal/logging"
	"github.com/rzpsarthak13/offlinesync/internal/supervisor"
	"github.com/rzpsarthak13/offlinesync/internal/writeback"
	"github.com/rzpsarthak13/offlinesync/pkg/offlinesync"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the sync engine with its HTTP API",
		Long: `Run the sync engine until interrupted.

The engine probes connectivity, drains the mutation queue whenever the
remote is reachable, prunes expired records and serves the HTTP API on
server.listen_addr. Drain reports are published to Kafka when feed.enabled
is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), rootOpts)
		},
	}
}

func runServe(parent context.Context, rootOpts *RootOptions) error {
	cfg, err := loadConfig(rootOpts)
	if err != nil {
		return err
	}
	defer logging.Close()
	log := logging.Component("serve")

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var opts []offlinesync.Option
	if cfg.Feed.Enabled {
		feed, err := writeback.NewKafkaFeed(cfg.Feed.Kafka, cfg.Feed.Source)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to create drain report feed", err)
		}
		defer func() {
			if err := feed.Close(); err != nil {
				log.Warn().Err(err).Msg("Failed to close drain report feed")
			}
		}()
		opts = append(opts, offlinesync.WithObserver(feed))
	}

	s, err := openRemote(ctx, cfg, opts...)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(); err != nil {
			log.Warn().Err(err).Msg("Error during shutdown")
		}
	}()
	f := s.facade

	tree := supervisor.NewTree(nil, cfg.Supervisor)

	check := connectivity.Check(f.Remote().Ping)
	if cfg.Connectivity.ProbeURL != "" {
		check = connectivity.HTTPCheck(nil, cfg.Connectivity.ProbeURL)
	}
	tree.AddSyncService(connectivity.NewProber(f.Monitor(), check, cfg.Connectivity.ProbeInterval))
	tree.AddSyncService(supervisor.NewTickerService("drain-scheduler", cfg.Queue.DrainInterval,
		func(context.Context) error {
			f.DrainDue()
			return nil
		}))
	tree.AddSyncService(supervisor.NewTickerService("cache-cleanup", cfg.Cache.CleanupInterval,
		func(ctx context.Context) error {
			_, err := f.CleanExpired(ctx)
			return err
		}))
	tree.AddAPIService(supervisor.NewHTTPServerService(
		httpapi.NewHTTPServer(f, cfg.Server), cfg.Server.ShutdownTimeout))

	log.Info().
		Str("listen_addr", cfg.Server.ListenAddr).
		Str("store", cfg.Store.Type).
		Str("remote", cfg.Remote.Type).
		Bool("feed", cfg.Feed.Enabled).
		Msg("Sync engine started")

	err = tree.Serve(ctx)
	if unstopped, reportErr := tree.UnstoppedServiceReport(); reportErr == nil && len(unstopped) > 0 {
		for _, u := range unstopped {
			log.Warn().Str("service", u.Name).Msg("Service did not stop in time")
		}
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return WrapExitError(ExitFailure, "supervisor stopped", err)
	}
	log.Info().Msg("Sync engine stopped")
	return nil
}
