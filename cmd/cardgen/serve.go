package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goliatone/go-cardgen/internal/server"
	"github.com/goliatone/go-cardgen/pkg/attrstore"
	"github.com/goliatone/go-cardgen/pkg/config"
	"github.com/goliatone/go-cardgen/pkg/funcs"
	"github.com/goliatone/go-cardgen/pkg/orchestrator"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd(debug *bool) *cobra.Command {
	var (
		addr      string
		configDir string
		dataDir   string
		sanitize  bool
		watch     bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve section rendering over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := newLogger(*debug)
			if err != nil {
				return err
			}
			defer logger.Sync()

			registry := funcs.NewRegistry()
			store, err := config.Load(os.DirFS(configDir), registry)
			if err != nil {
				return err
			}

			orch, err := orchestrator.New(
				orchestrator.WithAttributeStore(attrstore.NewFileStore(os.DirFS(dataDir))),
				orchestrator.WithConfigStore(store),
				orchestrator.WithFunctions(registry),
				orchestrator.WithLogger(logger),
				sanitizeOption(sanitize),
			)
			if err != nil {
				return err
			}

			srv := server.New(orch, server.WithLogger(logger))

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if watch {
				go func() {
					if err := srv.WatchConfig(ctx, configDir); err != nil && !errors.Is(err, context.Canceled) {
						logger.Error("config watcher stopped", zap.Error(err))
					}
				}()
			}

			httpServer := &http.Server{
				Addr:              addr,
				Handler:           srv.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = httpServer.Shutdown(shutdownCtx)
			}()

			logger.Info("serving sections",
				zap.String("addr", addr),
				zap.String("config", configDir),
				zap.String("data", dataDir),
				zap.Bool("watch", watch))
			if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8000", "listen address")
	cmd.Flags().StringVar(&configDir, "config", "configs", "configuration directory (sections/ and cards/)")
	cmd.Flags().StringVar(&dataDir, "data", "mock_personstore", "attribute document directory")
	cmd.Flags().BoolVar(&sanitize, "sanitize", false, "strip HTML from rendered field values")
	cmd.Flags().BoolVar(&watch, "watch", true, "reload configuration on change")
	return cmd
}

func sanitizeOption(enabled bool) orchestrator.Option {
	if !enabled {
		return nil
	}
	return orchestrator.WithSanitizedOutput()
}
