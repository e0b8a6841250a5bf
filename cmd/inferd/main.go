package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"inferd/internal/config"
	"inferd/internal/engine"
	"inferd/internal/httpapi"
)

func main() {
	root := &cobra.Command{
		Use:   "inferd",
		Short: "Model-serving control plane",
	}
	root.AddCommand(serveCmd())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var (
		configPath string
		addr       string
		storePath  string
		cachePath  string
		debug      bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the serving daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger(debug)

			var cfg config.Config
			if configPath != "" {
				var err error
				cfg, err = config.Load(configPath)
				if err != nil {
					return err
				}
			}
			// Flags override file values.
			if addr != "" {
				cfg.Addr = addr
			}
			if storePath != "" {
				cfg.StorePath = storePath
			}
			if cachePath != "" {
				cfg.CachePath = cachePath
			}
			cfg.ApplyDefaults()
			if err := cfg.Validate(); err != nil {
				return err
			}

			svc, err := engine.NewService(cfg, log)
			if err != nil {
				return err
			}
			ctx := context.Background()
			if err := svc.Init(ctx, cfg); err != nil {
				return err
			}

			mux := httpapi.NewMux(svc, httpapi.Options{AllowedOrigins: cfg.AllowedOrigins}, log)
			srv := &http.Server{Addr: cfg.Addr, Handler: mux}

			errCh := make(chan error, 1)
			go func() {
				log.Info().Str("addr", cfg.Addr).Msg("inferd listening")
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					errCh <- err
				}
			}()

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
			select {
			case err := <-errCh:
				svc.Shutdown(ctx)
				return err
			case <-stop:
			}

			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Warn().Err(err).Msg("graceful shutdown error")
			}
			svc.Shutdown(shutdownCtx)
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file (yaml/json/toml)")
	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address, e.g. :8080")
	cmd.Flags().StringVar(&storePath, "store", "", "Path to the sqlite durable store")
	cmd.Flags().StringVar(&cachePath, "cache", "", "Path to the sqlite prediction cache")
	cmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging")
	return cmd
}

func newLogger(debug bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}
