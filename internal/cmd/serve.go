package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jbacus/auxin/internal/cmd/cli"
	"github.com/jbacus/auxin/internal/lockservice"
)

func registerServeCmd(parent *cobra.Command, env *cli.Env) {
	var addr, dbPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the lock service",
		Long: `Run the central lock service. Lock state and the activity log are kept
in a sqlite database; expired locks are purged periodically.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := env.Config()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			if dbPath != "" {
				cfg.Server.DBPath = dbPath
			}
			logger, err := env.Logger(true)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			store, err := lockservice.Open(ctx, cfg.Server.ResolveDBPath(), lockservice.WithLogger(logger))
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			srv := lockservice.NewServer(store, logger, lockservice.ServerOptions{
				Addr:            cfg.Server.Addr,
				DefaultTimeout:  cfg.Lock.LockTimeout(),
				CleanupInterval: cfg.Server.CleanupInterval(),
			})

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return srv.ListenAndServe(gctx)
			})
			g.Go(func() error {
				n, err := store.Cleanup(gctx)
				if err != nil && !errors.Is(err, context.Canceled) {
					logger.Warn("startup lock cleanup failed", "error", err)
				} else if n > 0 {
					logger.Info("purged expired locks", "count", n)
				}
				return nil
			})
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	cmd.Flags().StringVar(&dbPath, "db", "", "sqlite database path (overrides server.db_path)")
	parent.AddCommand(cmd)
}
