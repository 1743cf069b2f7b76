package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mossy-p/roulette-signaling/internal/logging"
	"github.com/mossy-p/roulette-signaling/internal/ui"
)

var (
	flagServer   string
	flagToken    string
	flagLogLevel string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "roulette",
	Short: "Headless client for random audio/video calls",
	Long: `roulette talks to the matchmaking and signaling server: it searches for a
random partner, negotiates a WebRTC call, and can keep the call going as a
friend call. When the server cannot be reached it falls back to an offline
simulation with a synthetic partner.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init("development", flagLogLevel)
	},
}

// Execute runs the root command until it finishes or the process is
// interrupted.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		ui.PrintError(err.Error())
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagServer, "server", "", "Server URL (default $ROULETTE_SERVER or http://localhost:8080)")
	rootCmd.PersistentFlags().StringVar(&flagToken, "token", "", "JWT from the login endpoint (default $ROULETTE_TOKEN)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "warn", "Log level: debug, info, warn, error")
}
