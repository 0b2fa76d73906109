package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "qcachebench",
	Short: "qcachebench — exercise and inspect a kashvi-query QueryClient",
	Long:  "qcachebench hydrates a QueryClient against a persisted store and serves its cache metrics, the way an application would boot this library in production.",
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(prefetchCmd)
}
