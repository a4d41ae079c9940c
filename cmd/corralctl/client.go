package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

// clientFromFlags builds an apiClient from the root command's persistent
// --server/--api-key flags, available to every subcommand.
func clientFromFlags(cmd *cobra.Command) *apiClient {
	server, _ := cmd.Flags().GetString("server")
	apiKey, _ := cmd.Flags().GetString("api-key")
	return newAPIClient(server, apiKey)
}

// apiError wraps a non-2xx HTTP response so exitCodeForError can map it to
// the §6 CLI exit code contract the same way corralerr.ExitCode maps the
// server's own sentinel errors — the CLI only sees the status code and the
// {"error": "..."} body, never the sentinel itself.
type apiError struct {
	StatusCode int
	Message    string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// exitCodeForError mirrors corralerr.ExitCode's mapping (§6), translated
// from HTTP status codes since the CLI talks to the server over HTTP
// rather than sharing the server's error sentinels in-process.
func exitCodeForError(err error) int {
	if err == nil {
		return 0
	}
	ae, ok := err.(*apiError)
	if !ok {
		return 5
	}
	switch ae.StatusCode {
	case http.StatusNotFound:
		return 3
	case http.StatusBadRequest:
		return 2
	case http.StatusGatewayTimeout, http.StatusRequestTimeout:
		return 4
	default:
		return 5
	}
}

type apiClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func newAPIClient(baseURL, apiKey string) *apiClient {
	return &apiClient{baseURL: baseURL, apiKey: apiKey, http: &http.Client{Timeout: 30 * time.Second}}
}

func (c *apiClient) doJSON(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errBody struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(raw, &errBody)
		return &apiError{StatusCode: resp.StatusCode, Message: errBody.Error}
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
