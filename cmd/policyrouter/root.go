package main

import (
	"github.com/router-for-me/PolicyRouter/internal/buildinfo"
	"github.com/router-for-me/PolicyRouter/internal/config"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "policyrouter",
	Short: "Pexip external policy router",
	Long: `Routes Pexip Infinity external policy requests to upstream policy servers or
answers them with canned responses, based on an ordered set of alias pattern rules.

The configuration file defaults to config.yaml and can be set with --config or
POLICY_ROUTER_CONFIG.`,
	Version:       buildinfo.Version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to the YAML configuration file")
}

func appConfig() config.AppConfig {
	return config.AppConfig{ConfigPath: configPath}
}
