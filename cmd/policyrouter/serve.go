package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/router-for-me/PolicyRouter/internal/app"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the policy router HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return app.RunServer(ctx, appConfig())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
