package main

import (
	"fmt"
	"os"
	_ "time/tzdata"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// version is set at build time.
var version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "journal-api",
	Short: "Single-user daily task journal",
	Long: `journal-api serves a one-page daily journal: tasks grouped by the day
they were created, browsable backwards through a calendar.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to an optional YAML config file. Environment variables override it.")
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newInitStorageCmd())
	rootCmd.AddCommand(newTokenCmd())
	rootCmd.AddCommand(newVersionCmd())
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "journal-api version %s\n", version)
		},
	}
}

// configureLogging applies the level and formatter from cfg to the standard
// logrus logger and returns it.
func configureLogging(cfg *Config) *log.Logger {
	logger := log.StandardLogger()
	if cfg.Debug {
		logger.SetLevel(log.DebugLevel)
	}
	if cfg.LogFormat == "json" {
		logger.SetFormatter(&log.JSONFormatter{})
	}
	return logger
}

func main() {
	rootCmd.Version = version
	// Default to serve, matching how the function host starts the binary.
	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
