package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var envDir string

var rootCmd = &cobra.Command{
	Use:   "revisionplanner",
	Short: "Spaced revision planner",
	Long: `revisionplanner schedules spaced revisions of completed study tasks and
emails each user a digest of the revisions due on their local day.

Settings come from a .env file in --env-dir and from the environment.`,
	SilenceUsage: true,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.PersistentFlags().StringVar(&envDir, "env-dir", ".", "directory holding the optional .env file")
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(remindCmd())
	rootCmd.AddCommand(dueCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(purgeTokensCmd())
	rootCmd.AddCommand(weeklyReportCmd())

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
