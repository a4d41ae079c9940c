// Command corralctl is the operator CLI for the §6 external interface:
// submit a chunk for processing, reprocess one with corrections, or run a
// one-off snapshot detection — all against a running corral API server.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:           "corralctl",
		Short:         "Operator CLI for the corral horse video-analytics pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().String("server", "http://localhost:8080", "corral API server base URL")
	root.PersistentFlags().String("api-key", os.Getenv("CORRAL_API_KEY"), "API key for the server")

	root.AddCommand(newSubmitCmd())
	root.AddCommand(newReprocessCmd())
	root.AddCommand(newSnapshotCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeForError(err))
	}
}
