// Command overseer drives an autonomous coding agent toward completion of
// a declarative mission.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"overseer/internal/logging"
)

var (
	flagConfig   string
	flagStateDir string
)

func main() {
	root := &cobra.Command{
		Use:   "overseer",
		Short: "Mission orchestrator for autonomous coding agents",
		Long: "overseer iterates a plan-execute-validate loop between a planning\n" +
			"backend and a coding backend until a mission's definition of done\n" +
			"is satisfied.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// .env is optional; real env vars win.
			_ = godotenv.Load()
			cwd, err := os.Getwd()
			if err != nil {
				return err
			}
			return logging.Initialize(cwd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logging.CloseAll()
		},
	}

	root.PersistentFlags().StringVar(&flagConfig, "config", "", "path to overseer config file")
	root.PersistentFlags().StringVar(&flagStateDir, "state-dir", "", "session store directory (overrides config)")

	root.AddCommand(newRunCmd())
	root.AddCommand(newResumeCmd())
	root.AddCommand(newStatusCmd())
	root.AddCommand(newSessionsCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
