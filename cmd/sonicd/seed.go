package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/namandi6/sonic-wifi.net/internal/config"
	"github.com/namandi6/sonic-wifi.net/internal/store"
)

// defaultPackages is the starter catalog, in UGX.
var defaultPackages = []store.Package{
	{Name: "Quick Browse", Price: 500, DurationHours: 1, SpeedMbps: 5, MaxDevices: 1},
	{Name: "Day Pass", Price: 1000, DurationHours: 24, SpeedMbps: 10, MaxDevices: 1, IsPopular: true},
	{Name: "Weekly Surf", Price: 5000, DurationHours: 168, SpeedMbps: 10, MaxDevices: 2},
	{Name: "Monthly Unlimited", Price: 15000, DurationHours: 720, SpeedMbps: 20, MaxDevices: 3},
}

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Insert the default package catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := zap.NewProduction()
			if err != nil {
				return err
			}
			defer logger.Sync()

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			st, err := store.Open(cfg.DatabasePath)
			if err != nil {
				return fmt.Errorf("failed to open database: %w", err)
			}
			defer st.Close()

			existing, err := st.ListActivePackages()
			if err != nil {
				return err
			}
			if len(existing) > 0 {
				fmt.Printf("catalog already has %d active packages, nothing to do\n", len(existing))
				return nil
			}

			for _, p := range defaultPackages {
				p.ID = uuid.New().String()
				p.IsActive = true
				p.CreatedAt = time.Now().UTC()
				if err := st.CreatePackage(&p); err != nil {
					return fmt.Errorf("failed to seed package %q: %w", p.Name, err)
				}
				logger.Info("package seeded", zap.String("name", p.Name), zap.Int64("price", p.Price))
			}

			fmt.Printf("seeded %d packages\n", len(defaultPackages))
			return nil
		},
	}
}
