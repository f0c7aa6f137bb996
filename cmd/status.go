package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"avtranscribe/internal/models"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show the status of a transcription job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		appInstance, err := GetAppFromContext(cmd.Context())
		if err != nil {
			return err
		}
		view, err := appInstance.TranscriptionService.GetStatus(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		if statusJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(view)
		}

		fmt.Printf("Job:      %s\n", view.TaskID)
		fmt.Printf("File:     %s\n", view.Filename)
		fmt.Printf("Status:   %s\n", colorState(view.State)(view.Status))
		fmt.Printf("Progress: %d%%\n", view.Progress)
		fmt.Printf("Retries:  %d\n", view.RetryCount)
		fmt.Printf("Updated:  %s\n", view.UpdatedAt.Format("2006-01-02 15:04:05"))
		if view.ErrorMessage != nil {
			fmt.Printf("Error:    %s\n", colorState(string(models.StateFailed))(*view.ErrorMessage))
		}
		if view.Text != nil {
			fmt.Printf("\n%s\n", *view.Text)
		}
		return nil
	},
}

func colorState(state string) func(a ...interface{}) string {
	switch models.State(state) {
	case models.StateDone:
		return color.New(color.FgGreen).SprintFunc()
	case models.StateFailed:
		return color.New(color.FgRed).SprintFunc()
	case models.StateRetrying:
		return color.New(color.FgYellow).SprintFunc()
	case models.StateProcessing:
		return color.New(color.FgCyan).SprintFunc()
	default:
		return fmt.Sprint
	}
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Print the status as JSON")
}
