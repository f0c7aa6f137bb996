package cmd

import (
	"fmt"

	"avtranscribe/internal/store/primary"
	"avtranscribe/internal/store/sqlite"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:         "migrate",
	Short:       "Create or upgrade the job record schema",
	Annotations: map[string]string{skipAppAnnotation: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfigFromContext(cmd.Context())
		if err != nil {
			return err
		}

		switch cfg.Database.Driver {
		case "postgres":
			return primary.RunMigrations(cfg.Database.Primary.DSN)
		default:
			// the sqlite store creates its schema on open
			s, err := sqlite.NewStore(cfg.Database.SQLite.Path)
			if err != nil {
				return fmt.Errorf("open sqlite store: %w", err)
			}
			s.Close()
			log.WithField("path", cfg.Database.SQLite.Path).Info("Database schema is up to date")
			return nil
		}
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
