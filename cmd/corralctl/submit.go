package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/barnhand/corral/internal/models"
	"github.com/barnhand/corral/pkg/dto"
)

func newSubmitCmd() *cobra.Command {
	var req dto.SubmitRequest
	var noWait bool

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a chunk for processing and watch it run",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFromFlags(cmd)
			ctx := context.Background()

			var status dto.JobStatusResponse
			if err := client.doJSON(ctx, "POST", "/v1/chunks", req, &status); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "submitted chunk %s (job %s)\n", status.ChunkID, status.JobID)

			if noWait {
				return nil
			}
			return watchStatus(ctx, client, status.ChunkID, cmd)
		},
	}

	cmd.Flags().StringVar(&req.ChunkID, "chunk-id", "", "unique chunk identifier")
	cmd.Flags().StringVar(&req.StreamID, "stream-id", "", "stream this chunk belongs to")
	cmd.Flags().StringVar(&req.BarnID, "barn-id", "", "barn this stream belongs to")
	cmd.Flags().StringVar(&req.ChunkPath, "chunk-path", "", "path to the recorded chunk video")
	cmd.Flags().StringVar(&req.OutputVideoPath, "output-video", "", "path to write the rendered overlay video")
	cmd.Flags().StringVar(&req.OutputJSONPath, "output-json", "", "path to write the chunk summary JSON")
	cmd.Flags().Float64Var(&req.StartTime, "start-time", 0, "chunk start time offset in seconds")
	cmd.Flags().IntVar(&req.FrameInterval, "frame-interval", 1, "process every Nth frame")
	cmd.Flags().Float64Var(&req.Options.DetectionThreshold, "detection-threshold", 0, "override detection confidence threshold")
	cmd.Flags().Float64Var(&req.Options.AppearanceThreshold, "appearance-threshold", 0, "override appearance-match threshold")
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "return immediately after submission instead of polling status")

	for _, name := range []string{"chunk-id", "stream-id", "barn-id", "chunk-path", "output-video", "output-json"} {
		_ = cmd.MarkFlagRequired(name)
	}

	return cmd
}

// watchStatus polls GET /v1/chunks/:chunk_id/status once a second and
// renders the reported progress as a terminal progress bar, exiting once
// the job reaches a terminal state.
func watchStatus(ctx context.Context, client *apiClient, chunkID string, cmd *cobra.Command) error {
	bar := progressbar.NewOptions(100,
		progressbar.OptionSetDescription("processing"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionShowCount(),
	)

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		var status dto.JobStatusResponse
		if err := client.doJSON(ctx, "GET", "/v1/chunks/"+chunkID+"/status", nil, &status); err != nil {
			return err
		}
		_ = bar.Set(status.Progress)

		switch models.JobStatusValue(status.Status) {
		case models.JobCompleted:
			_ = bar.Finish()
			fmt.Fprintf(cmd.OutOrStdout(), "chunk %s completed\n", chunkID)
			return nil
		case models.JobFailed:
			_ = bar.Finish()
			return fmt.Errorf("chunk %s failed: %s", chunkID, status.Error)
		}
	}
	return nil
}
