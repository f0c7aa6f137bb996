package cmd

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"avtranscribe/internal/clix"
	"avtranscribe/internal/fileingest"
	"avtranscribe/internal/services"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var submitInPlace bool

type submitOptions struct {
	language string
	format   string
	inPlace  bool
}

var submitCmd = &cobra.Command{
	Use:   "submit <file-or-directory>",
	Short: "Queue media files for transcription",
	Long: `Queues a local audio or video file for transcription and prints the job id.
When given a directory, every media file below it is queued.

Each file is copied into storage.temp_dir first, like an HTTP upload, and the copy
is removed once the job finishes. With --in-place the worker reads the original file
instead; it must then be reachable from the worker host and is never deleted.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		appInstance, err := GetAppFromContext(cmd.Context())
		if err != nil {
			return err
		}
		root, err := filepath.Abs(args[0])
		if err != nil {
			return fmt.Errorf("resolve path: %w", err)
		}
		info, err := os.Stat(root)
		if err != nil {
			return fmt.Errorf("cannot read input: %w", err)
		}

		format, _ := cmd.Flags().GetString("format")
		opts := submitOptions{
			language: clix.ParseLanguage(cmd.Flags()),
			format:   format,
			inPlace:  submitInPlace,
		}
		svc := appInstance.TranscriptionService

		if !info.IsDir() {
			id, err := submitFile(cmd.Context(), svc, root, info.Size(), opts)
			if err != nil {
				if id != "" {
					fmt.Printf("Job %s recorded but could not be queued.\n", id)
				}
				return err
			}
			fmt.Printf("%s %s\n", color.GreenString("Queued"), id)
			return nil
		}

		files, err := fileingest.DiscoverMediaFiles(cmd.Context(), root)
		if err != nil {
			return fmt.Errorf("scan %s: %w", root, err)
		}
		if len(files) == 0 {
			fmt.Printf("No media files found in %s\n", root)
			return nil
		}
		var failed int
		for _, f := range files {
			id, err := submitFile(cmd.Context(), svc, f.Path, f.Size, opts)
			rel, _ := filepath.Rel(root, f.Path)
			if err != nil {
				failed++
				fmt.Printf("  - %s %s: %v\n", color.RedString("ERROR"), rel, err)
				continue
			}
			fmt.Printf("  - %s %s %s\n", color.GreenString("Queued"), id, rel)
		}
		fmt.Printf("Queued %d of %d files.\n", len(files)-failed, len(files))
		if failed > 0 {
			return fmt.Errorf("%d files could not be queued", failed)
		}
		return nil
	},
}

func submitFile(ctx context.Context, svc *services.TranscriptionService, path string, size int64, opts submitOptions) (string, error) {
	if opts.inPlace {
		return svc.Submit(ctx, services.SubmitParams{
			FilePath: path,
			Filename: filepath.Base(path),
			Language: opts.language,
			Format:   opts.format,
		})
	}
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return svc.SubmitUpload(ctx, services.UploadParams{
		Filename:    filepath.Base(path),
		ContentType: mime.TypeByExtension(filepath.Ext(path)),
		Size:        size,
		Body:        f,
		Language:    opts.language,
		Format:      opts.format,
	})
}

func init() {
	rootCmd.AddCommand(submitCmd)
	submitCmd.Flags().String("language", "auto", "Language hint (ISO code) or auto")
	submitCmd.Flags().String("format", "auto", "Container format hint")
	submitCmd.Flags().BoolVar(&submitInPlace, "in-place", false, "Transcribe the original file without copying it (the file is kept)")
}
