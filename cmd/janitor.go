package cmd

import (
	"fmt"

	"avtranscribe/internal/janitor"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var janitorCmd = &cobra.Command{
	Use:   "janitor",
	Short: "Manage the temp directory sweep",
}

var janitorRunCmd = &cobra.Command{
	Use:         "run",
	Short:       "Delete stale job files from the temp directory once",
	Annotations: map[string]string{skipAppAnnotation: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfigFromContext(cmd.Context())
		if err != nil {
			return err
		}
		j := janitor.New(janitor.Config{
			Dir:        cfg.Storage.TempDir,
			Retention:  cfg.Janitor.Retention,
			Extensions: cfg.Janitor.Extensions,
		})

		report, err := j.Sweep(cmd.Context())
		if err != nil {
			return fmt.Errorf("sweep %s: %w", cfg.Storage.TempDir, err)
		}
		fmt.Printf("Scanned %d files in %s, %d belong to jobs.\n", report.Scanned, cfg.Storage.TempDir, report.Matched)
		fmt.Printf("%s %d\n", color.GreenString("Removed:"), report.Removed)
		if report.Failed > 0 {
			fmt.Printf("%s %d\n", color.RedString("Failed:"), report.Failed)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(janitorCmd)
	janitorCmd.AddCommand(janitorRunCmd)
}
