package cmd

import (
	"fmt"
	"io"
	"os"

	"avtranscribe/internal/clix"

	"github.com/spf13/cobra"
)

var resultOutput string

var resultCmd = &cobra.Command{
	Use:   "result <job-id>",
	Short: "Print or save the transcript of a finished job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		appInstance, err := GetAppFromContext(cmd.Context())
		if err != nil {
			return err
		}
		kind, err := clix.ParseResultKind(cmd.Flags())
		if err != nil {
			return err
		}

		path, err := appInstance.TranscriptionService.GetResult(cmd.Context(), args[0], kind)
		if err != nil {
			return err
		}
		src, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open result: %w", err)
		}
		defer src.Close()

		var dst io.Writer = cmd.OutOrStdout()
		if resultOutput != "" && resultOutput != "-" {
			f, err := os.Create(resultOutput)
			if err != nil {
				return fmt.Errorf("create output: %w", err)
			}
			defer f.Close()
			dst = f
		}
		if _, err := io.Copy(dst, src); err != nil {
			return fmt.Errorf("write result: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(resultCmd)
	resultCmd.Flags().String("format", "text", "Result kind: text or csv")
	resultCmd.Flags().StringVarP(&resultOutput, "output", "o", "", "Write to this file instead of stdout")
}
