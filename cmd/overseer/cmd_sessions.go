package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"overseer/internal/mission"
)

func newResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume <mission-id>",
		Short: "Resume the active session for a mission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			// The mission document was persisted when the run started;
			// resuming never re-parses the YAML into a new identity.
			m, err := loadMissionRecord(cfg.StateDir, args[0])
			if err != nil {
				return err
			}

			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			active, err := st.FindActive(m.ID)
			if closeErr := st.Close(); closeErr != nil {
				return closeErr
			}
			if err != nil {
				return err
			}
			if active == nil {
				return fmt.Errorf("no active session for mission %s", m.ID)
			}
			fmt.Printf("Resuming %s\n", sessionSummary(active))
			// The orchestrator adopts the active session itself.
			return runMissions(cmd.Context(), cfg, []*mission.Mission{m})
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <session-id>",
		Short: "Show the persisted state of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			s, err := st.Load(args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(s)
		},
	}
}

func newSessionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List persisted sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			sessions, err := st.List()
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Println("No sessions.")
				return nil
			}
			for _, s := range sessions {
				fmt.Println(sessionSummary(s))
			}
			return nil
		},
	}
}
