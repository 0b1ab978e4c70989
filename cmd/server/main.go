package main

import (
	"fmt"
	"os"

	"github.com/sentinel/console/internal/config"
	"github.com/sentinel/console/internal/infrastructure/db"
	"github.com/sentinel/console/internal/infrastructure/logger"
	"github.com/spf13/cobra"
)

var configFile string

func main() {
	if err := buildCLI().Execute(); err != nil {
		os.Exit(1)
	}
}

func buildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "sentinel",
		Short:        "Homelab operations console",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path (default config/config.yaml if present)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, chat gateway and scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the state store schema and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate()
		},
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Load and validate the configuration and inventory",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate()
		},
	})

	return rootCmd
}

// loadConfig falls back to config/config.yaml, then ../config/config.yaml,
// and finally to defaults plus environment.
func loadConfig() (*config.Config, error) {
	path := configFile
	if path == "" {
		for _, candidate := range []string{"config/config.yaml", "../config/config.yaml"} {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func runMigrate() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	store, err := db.Open(cfg.Database, log)
	if err != nil {
		log.Errorw("migrate_failed", "error", err)
		return err
	}
	log.Infow("migrate_ok", "driver", cfg.Database.Driver)
	return store.Close()
}

func runValidate() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	inv, err := config.LoadInventory(cfg.InventoryPath)
	if err != nil {
		return err
	}
	fmt.Printf("config ok: %d containers, %d vms, %d proxmox nodes\n",
		len(inv.Containers), len(inv.VMs), len(inv.ProxmoxNodes))
	return nil
}
