package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func newExportCmd() *cobra.Command {
	var learner string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a learner's session images or session log",
	}
	cmd.PersistentFlags().StringVar(&learner, "learner", "", "Learner ID")
	_ = cmd.MarkPersistentFlagRequired("learner")

	cmd.AddCommand(&cobra.Command{
		Use:   "images",
		Short: "Save every session image into a timestamped folder",
		RunE: func(cmd *cobra.Command, args []string) error {
			practice, closeFn, err := openPractice()
			if err != nil {
				return err
			}
			defer closeFn()

			report, err := practice.ExportImages(cmd.Context(), learner)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), report.Message)
			for _, f := range report.Failed {
				fmt.Fprintf(cmd.ErrOrStderr(), "  failed %s: %s\n", f.SessionID, f.Error)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "log",
		Short: "Save the session log as JSON with image data removed",
		RunE: func(cmd *cobra.Command, args []string) error {
			practice, closeFn, err := openPractice()
			if err != nil {
				return err
			}
			defer closeFn()

			report, err := practice.ExportLog(cmd.Context(), learner)
			if err != nil {
				return errors.New(report.Message)
			}
			fmt.Fprintln(cmd.OutOrStdout(), report.Message)
			return nil
		},
	})

	return cmd
}
