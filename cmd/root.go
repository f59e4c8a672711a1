package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/msgcode/msgcode/internal/config"
)

// Version is set at build time via -ldflags "-X github.com/msgcode/msgcode/cmd.Version=v1.0.0"
var Version = "dev"

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "msgcode",
	Short: "msgcode — conversational agent runtime over iMessage",
	Long:  "msgcode: a locally hosted agent runtime that turns a messaging surface into a multiplexed command console. Chats bind to workspaces; each workspace runs an agent tool loop or a tmux-hosted CLI client.",
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(runStart())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.config/msgcode/config.json or $MSGCODE_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging to stderr")

	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(startCmd())
	rootCmd.AddCommand(stopCmd())
	rootCmd.AddCommand(allstopCmd())
	rootCmd.AddCommand(doctorCmd())
	rootCmd.AddCommand(versionCmd())
}

func startCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "start [debug]",
		Short:     "Run the ingress loop in the foreground",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"debug"},
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) == 1 && args[0] == "debug" {
				verbose = true
			}
			os.Exit(runStart())
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("msgcode %s\n", Version)
		},
	}
}

func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if v := os.Getenv("MSGCODE_CONFIG"); v != "" {
		return v
	}
	return filepath.Join(config.Dir(), "config.json")
}

// Execute runs the root cobra command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
