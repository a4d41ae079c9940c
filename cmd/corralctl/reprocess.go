package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/barnhand/corral/internal/models"
	"github.com/barnhand/corral/pkg/dto"
)

func newReprocessCmd() *cobra.Command {
	var correctionsPath string

	cmd := &cobra.Command{
		Use:   "reprocess <chunk-id>",
		Short: "Apply corrections to a previously processed chunk (§4.7)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			chunkID := args[0]

			raw, err := os.ReadFile(correctionsPath)
			if err != nil {
				return fmt.Errorf("read corrections file: %w", err)
			}
			var corrections []models.Correction
			if err := json.Unmarshal(raw, &corrections); err != nil {
				return fmt.Errorf("parse corrections file: %w", err)
			}

			client := clientFromFlags(cmd)
			var result dto.ReprocessResultResponse
			body := dto.ReprocessRequest{Corrections: corrections}
			if err := client.doJSON(context.Background(), "POST", "/v1/chunks/"+chunkID+"/reprocess", body, &result); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "reprocessed chunk %s: %d frames rewritten, identities touched: %v\n",
				result.ChunkID, result.FramesRewritten, result.IdentitiesTouched)
			return nil
		},
	}

	cmd.Flags().StringVar(&correctionsPath, "corrections", "", "path to a JSON file containing a list of corrections")
	_ = cmd.MarkFlagRequired("corrections")

	return cmd
}
