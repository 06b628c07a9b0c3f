package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/apiscout/apiscout/config"
	"github.com/apiscout/apiscout/internal/mcpserver"
	"github.com/apiscout/apiscout/internal/service"
)

func mcpCMD() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Run the stdio JSON-RPC (MCP) server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			// Logs go to stderr; stdout carries the protocol.
			logger := log.New(os.Stderr, "[MCP] ", log.LstdFlags)
			svc, err := service.New(cfg, logger, nil)
			if err != nil {
				return err
			}
			defer svc.Close()
			return mcpserver.NewServer(svc, logger).Serve(os.Stdin, os.Stdout)
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "config file (optional)")
	return cmd
}
