package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/barnhand/corral/pkg/dto"
)

func newSnapshotCmd() *cobra.Command {
	var threshold float64

	cmd := &cobra.Command{
		Use:   "snapshot-detect <image-path>",
		Short: "Run one-off horse detection on a single image (§6, §13)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			imagePath := args[0]
			raw, err := os.ReadFile(imagePath)
			if err != nil {
				return fmt.Errorf("read image: %w", err)
			}

			client := clientFromFlags(cmd)
			path := "/v1/snapshot"
			if threshold > 0 {
				path += fmt.Sprintf("?confidence_threshold=%.3f", threshold)
			}

			result, err := client.postImage(context.Background(), path, raw)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "horses_detected=%t count=%d (%.1fms)\n",
				result.HorsesDetected, result.Count, result.ProcessingTimeMS)
			for _, d := range result.Detections {
				fmt.Fprintf(cmd.OutOrStdout(), "  bbox=(%.0f,%.0f,%.0f,%.0f) confidence=%.3f\n",
					d.BBox[0], d.BBox[1], d.BBox[2], d.BBox[3], d.Confidence)
			}
			return nil
		},
	}

	cmd.Flags().Float64Var(&threshold, "confidence-threshold", 0, "minimum detection confidence (default: server-configured)")

	return cmd
}

// postImage uploads raw image bytes to path and decodes a SnapshotResponse.
// Kept separate from doJSON since the request body here is a raw byte
// stream, not a JSON-encoded struct.
func (c *apiClient) postImage(ctx context.Context, path string, imageBytes []byte) (*dto.SnapshotResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(imageBytes))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request snapshot detect: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errBody struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(raw, &errBody)
		return nil, &apiError{StatusCode: resp.StatusCode, Message: errBody.Error}
	}

	var out dto.SnapshotResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}
