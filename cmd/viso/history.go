package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ashureev/viso-labs/internal/progress"
	"github.com/spf13/cobra"
)

func newHistoryCmd() *cobra.Command {
	var learner string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List a learner's archived and active sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			practice, closeFn, err := openPractice()
			if err != nil {
				return err
			}
			defer closeFn()

			sessions, err := practice.History(cmd.Context(), learner)
			if err != nil {
				return fmt.Errorf("history: %w", err)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(sessions)
			}

			if len(sessions) == 0 {
				fmt.Fprintln(out, "No sessions found.")
				return nil
			}

			fmt.Fprintf(out, "%-4s %-38s %-14s %-9s %-9s %s\n", "#", "SESSION", "DIFFICULTY", "DETAILS", "ATTEMPTS", "STATE")
			fmt.Fprintln(out, strings.Repeat("-", 90))
			for i, s := range sessions {
				p := progress.Summarize(s)
				state := "open"
				if s.Completed {
					state = "completed"
				}
				fmt.Fprintf(out, "%-4d %-38s %-14s %-9s %-9s %s\n",
					i+1, s.ID, s.Difficulty,
					fmt.Sprintf("%d/%d", p.Identified, p.Total),
					fmt.Sprintf("%d/%d", s.AttemptCount, s.AttemptLimit),
					state)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&learner, "learner", "", "Learner ID")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print sessions as JSON (images included)")
	_ = cmd.MarkFlagRequired("learner")

	return cmd
}
