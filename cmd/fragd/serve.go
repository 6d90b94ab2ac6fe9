package main

import (
	"context"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sheerbytes/fragd/internal/config"
	"github.com/sheerbytes/fragd/internal/logging"
	"github.com/sheerbytes/fragd/internal/metrics"
	"github.com/sheerbytes/fragd/internal/monitor"
	"github.com/sheerbytes/fragd/internal/registry"
	"github.com/sheerbytes/fragd/internal/server"
	"github.com/sheerbytes/fragd/internal/transfer"
)

func newServeCmd() *cobra.Command {
	var cfg *config.ServerConfig
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "receive files on a UDP port",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runServe(cmd.Context(), *cfg)
		},
	}
	cfg = config.BindServerFlags(cmd.Flags())
	return cmd
}

func runServe(ctx context.Context, cfg config.ServerConfig) error {
	logger := logging.New("fragd", cfg.LogLevel)

	policy, err := transfer.ParsePathPolicy(cfg.PathPolicy)
	if err != nil {
		return err
	}

	scope, closeScope := metrics.NewRootScope(logger, cfg.MetricsInterval)
	defer closeScope()
	m := metrics.New(scope)

	store := registry.NewStore(m.SessionsActive)
	hub := monitor.NewHub()

	srv := server.New(server.Config{
		Session: transfer.Options{
			Destination: transfer.Destination{
				Root:     cfg.Root,
				Policy:   policy,
				MkdirAll: cfg.MkdirAll,
			},
			Timeout:      cfg.Timeout,
			RetryBudget:  cfg.Retries,
			MaxFragments: cfg.MaxPackets,
			Logger:       logger,
			Observer:     m,
		},
		MaxSessions:    cfg.MaxSessions,
		HandshakeRate:  cfg.HandshakesPerSec,
		HandshakeBurst: cfg.HandshakeBurst,
		ReadBuffer:     cfg.ReadBuffer,
		WriteBuffer:    cfg.WriteBuffer,
		Logger:         logger,
		Reporter:       transfer.Reporters{m, hub},
		Store:          store,
		OnDrop:         m.HandshakeDropped,
	})

	logger.Info("starting",
		"version", version,
		"root", cfg.Root,
		"path_policy", string(policy),
		"timeout", cfg.Timeout,
		"retries", cfg.Retries,
		"max_sessions", cfg.MaxSessions,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(gctx, cfg.Addr)
	})
	if cfg.MonitorAddr != "" {
		mon := monitor.New(hub, store, logger)
		g.Go(func() error {
			return mon.ListenAndServe(gctx, cfg.MonitorAddr)
		})
	}
	err = g.Wait()
	logger.Info("stopped", "error", err)
	return err
}
