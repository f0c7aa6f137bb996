package cmd

import (
	"fmt"
	"os"
	"strconv"

	"avtranscribe/internal/clix"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect transcription jobs",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent transcription jobs, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		appInstance, err := GetAppFromContext(cmd.Context())
		if err != nil {
			return err
		}
		page, err := clix.ParsePagination(cmd.Flags())
		if err != nil {
			return err
		}

		items, err := appInstance.TranscriptionService.ListJobs(cmd.Context(), page.Limit, page.Offset)
		if err != nil {
			return fmt.Errorf("failed to list jobs: %w", err)
		}
		if len(items) == 0 {
			fmt.Println("No transcription jobs found.")
			return nil
		}

		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"ID", "File", "Status", "Progress", "Retries", "Updated"})
		table.SetBorder(false)
		table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
		table.SetAlignment(tablewriter.ALIGN_LEFT)

		for _, v := range items {
			table.Append([]string{
				v.TaskID,
				truncate(v.Filename, 40),
				colorState(v.State)(v.Status),
				strconv.Itoa(v.Progress) + "%",
				strconv.Itoa(v.RetryCount),
				v.UpdatedAt.Format("2006-01-02 15:04"),
			})
		}
		table.Render()
		return nil
	},
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsListCmd)
	jobsListCmd.Flags().Int("limit", 20, "Maximum number of jobs to show")
	jobsListCmd.Flags().Int("offset", 0, "Number of jobs to skip")
}
