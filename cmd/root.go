package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/webpilot/internal/config"
)

// Version is set at build time with -ldflags.
var Version = "dev"

var (
	cfgFile string
	verbose bool
)

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "webpilot",
		Short: "Drive a web browser with a language model",
		Long: `webpilot runs browser missions: a model reads the page, calls browser
tools and reports back when the mission is done.

Examples:
  webpilot run "Find the price of the first laptop on shop.example"
  webpilot run --remote "Open my inbox and count unread mails"
  webpilot batch -n 3 missions.txt
  webpilot serve`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default "+config.DefaultPath+", env WEBPILOT_CONFIG)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(runCmd())
	root.AddCommand(batchCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(historyCmd())
	root.AddCommand(configCmd())
	root.AddCommand(versionCmd())
	return root
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", formatAgentError(err))
		os.Exit(1)
	}
}

func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if v := os.Getenv("WEBPILOT_CONFIG"); v != "" {
		return v
	}
	return config.DefaultPath
}

// loadConfig loads the config and installs the default logger.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, err
	}
	setupLogging(cfg.Log, verbose)
	return cfg, nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("webpilot " + Version)
		},
	}
}
