// Package main provides the entry point for the Sonic Net backend server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/namandi6/sonic-wifi.net/internal/api"
	"github.com/namandi6/sonic-wifi.net/internal/auth"
	"github.com/namandi6/sonic-wifi.net/internal/config"
	"github.com/namandi6/sonic-wifi.net/internal/mikrotik"
	"github.com/namandi6/sonic-wifi.net/internal/order"
	"github.com/namandi6/sonic-wifi.net/internal/pesapal"
	"github.com/namandi6/sonic-wifi.net/internal/store"
	"github.com/namandi6/sonic-wifi.net/internal/sweeper"
	"github.com/namandi6/sonic-wifi.net/internal/voucher"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "sonicd",
		Short: "Sonic Net Wi-Fi voucher backend",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "directory containing config.yaml")

	root.AddCommand(serveCmd(), sweepCmd(), seedCmd(), hashPasswordCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// backend wires the full component graph from configuration.
type backend struct {
	store      *store.Store
	config     *config.Config
	reconciler *order.Reconciler
	sweeper    *sweeper.Sweeper
	handler    *api.Handler
	logger     *zap.Logger
}

func buildBackend(logger *zap.Logger) (*backend, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	var provisioner mikrotik.Provisioner = &mikrotik.Noop{}
	if cfg.MikroTik.Configured() {
		provisioner = mikrotik.NewClient(mikrotik.Config{
			BaseURL:  cfg.MikroTik.BaseURL,
			Username: cfg.MikroTik.Username,
			Password: cfg.MikroTik.Password,
		}, logger)
	} else {
		logger.Info("router not configured, provisioning disabled")
	}

	gateway := pesapal.NewClient(pesapal.Config{
		BaseURL:        cfg.Pesapal.BaseURL,
		ConsumerKey:    cfg.Pesapal.ConsumerKey,
		ConsumerSecret: cfg.Pesapal.ConsumerSecret,
		Currency:       cfg.Pesapal.Currency,
		Branch:         cfg.Pesapal.Branch,
	}, logger)

	issuer := voucher.NewIssuer(st, provisioner, voucher.Numeric{Length: cfg.CodeLength}, logger)

	reconciler := order.NewReconciler(st, gateway, issuer, order.Options{
		CallbackURL:       cfg.Pesapal.CallbackURL,
		IPNURL:            cfg.Pesapal.IPNURL,
		GatewayConfigured: cfg.Pesapal.Configured(),
	}, logger)

	sw := sweeper.New(st, provisioner, cfg.SweepInterval, logger)

	authService := auth.NewService(cfg.Admin.Username, cfg.Admin.PasswordHash, cfg.Admin.JWTSecret, cfg.Admin.TokenTTL)

	handler := api.NewHandler(st, reconciler, sw, authService, logger)

	return &backend{
		store:      st,
		config:     cfg,
		reconciler: reconciler,
		sweeper:    sw,
		handler:    handler,
		logger:     logger,
	}, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server and the expiry sweeper",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := zap.NewProduction()
			if err != nil {
				return err
			}
			defer logger.Sync()

			b, err := buildBackend(logger)
			if err != nil {
				return err
			}
			defer b.store.Close()

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			go b.sweeper.Run(ctx)

			srv := &http.Server{
				Addr:    b.config.ListenAddr,
				Handler: api.NewRouter(b.handler),
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("server listening", zap.String("addr", b.config.ListenAddr))
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					errCh <- err
				}
			}()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			select {
			case err := <-errCh:
				return err
			case sig := <-sigCh:
				logger.Info("shutting down", zap.String("signal", sig.String()))
			}

			cancel()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one expiry sweep and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := zap.NewProduction()
			if err != nil {
				return err
			}
			defer logger.Sync()

			b, err := buildBackend(logger)
			if err != nil {
				return err
			}
			defer b.store.Close()

			summary, err := b.sweeper.Sweep(cmd.Context(), time.Now().UTC())
			if err != nil {
				return err
			}

			fmt.Printf("expired %d vouchers, revoked %d router users\n", summary.Expired, summary.Revoked)
			return nil
		},
	}
}

func hashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password <password>",
		Short: "Produce a bcrypt hash for admin.password_hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := auth.HashPassword(args[0])
			if err != nil {
				return err
			}
			fmt.Println(hash)
			return nil
		},
	}
}
