package cmd

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/gradeloop/authkit/cmd/authctl/config"
	"github.com/gradeloop/authkit/internal/logging"
)

var (
	logger    zerolog.Logger
	verbosity string
)

var rootCmd = &cobra.Command{
	Use:   config.AppName,
	Short: "authctl is a CLI for the gradeloop IAM service",
	Long:  `A command-line interface for logging in to gradeloop, inspecting the current session and managing its lifecycle.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger = logging.New(verbosity, true)
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&config.CfgFile, "config", "",
		fmt.Sprintf("config file (default is $HOME/.gradeloop/%s.yaml)", config.AppName))
	rootCmd.PersistentFlags().StringVarP(&verbosity, "verbosity", "v", "warn", "log level (trace|debug|info|warn|error)")
	rootCmd.PersistentFlags().String("server", "", "IAM server endpoint (overrides the saved context)")

	rootCmd.AddCommand(loginCmd, logoutCmd, whoamiCmd, sessionCmd)
}
