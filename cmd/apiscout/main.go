package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "apiscout",
		Short: "Search and explore OpenAPI descriptions without loading whole documents",
	}
	root.AddCommand(serveCMD(), mcpCMD())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
