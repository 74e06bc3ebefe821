package main

import (
	"fmt"
	nethttp "net/http"

	"github.com/spf13/cobra"

	httpadapter "github.com/aretw0/transmute/pkg/adapters/http"
	"github.com/aretw0/transmute/pkg/adapters/mcp"

	"github.com/aretw0/transmute/internal/presentation/tui"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the engine over HTTP or MCP",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		eng, logger, err := engineFromFlags(cmd, cfg)
		if err != nil {
			return err
		}

		mode, _ := cmd.Flags().GetString("mode")
		port, _ := cmd.Flags().GetInt("port")

		switch mode {
		case "http":
			tui.PrintBanner()
			addr := fmt.Sprintf(":%d", port)
			logger.Info("HTTP server listening", "address", addr)
			return nethttp.ListenAndServe(addr, httpadapter.NewHandler(eng, logger))
		case "mcp":
			return mcp.NewServer(eng).ServeStdio()
		case "mcp-sse":
			return mcp.NewServer(eng).ServeSSE(cmd.Context(), port)
		default:
			return fmt.Errorf("unknown serve mode %q (use http, mcp or mcp-sse)", mode)
		}
	},
}

func init() {
	serveCmd.Flags().String("mode", "http", "Server mode: http, mcp or mcp-sse")
	serveCmd.Flags().IntP("port", "p", 8585, "Listen port for http / mcp-sse")
	rootCmd.AddCommand(serveCmd)
}
