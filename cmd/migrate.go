package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/cronmaster/internal/config"
	"github.com/nextlevelbuilder/cronmaster/internal/store/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		setupLogging(cfg.LogLevel)

		s, err := db.Open(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer s.Close()

		slog.Info("migrations applied", "database", cfg.DatabaseURL)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
