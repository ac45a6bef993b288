package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	qhttp "cvdrisk/http"
	"cvdrisk/monitoring"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the prediction web server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		httpCfg := cfg.HTTP
		if servePort != 0 {
			httpCfg.Port = servePort
		}
		return runServer(ctx, cfg, httpCfg, zap.L())
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// runServer blocks until ctx is cancelled or the listener fails.
func runServer(ctx context.Context, cfg *Config, httpCfg qhttp.ServerConfig, logger *zap.Logger) error {
	feed := monitoring.NewFeedHub(logger)
	a, err := newApp(cfg, logger, feed.Publish)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error("close audit sinks", zap.Error(err))
		}
	}()

	srv := qhttp.NewServer(httpCfg, qhttp.Services{
		Predictor: a.predictor,
		Logger:    logger,
		Store:     a.store,
		Metrics:   a.metrics,
		Feed:      feed,
		ModelErr:  a.modelErr,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		feed.Run(gctx)
		return nil
	})
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		return srv.Stop(context.Background())
	})
	return g.Wait()
}
