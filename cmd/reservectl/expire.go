package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func expireCmd() *cobra.Command {
	var (
		minutes int
		dryRun  bool
	)
	cmd := &cobra.Command{
		Use:   "expire-stale-pending",
		Short: "Cancel pending reservations whose payment never completed",
		RunE: func(cmd *cobra.Command, args []string) error {
			if minutes <= 0 {
				return fmt.Errorf("--minutes must be greater than zero")
			}
			a, _, err := build(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.Engine.ExpireStalePending(cmd.Context(), time.Duration(minutes)*time.Minute, dryRun)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if dryRun {
				fmt.Fprintf(out, "Would expire %d pending reservation(s) older than %d minute(s).\n", res.Matched, minutes)
				for _, id := range res.IDs {
					fmt.Fprintf(out, "  reservation %d\n", id)
				}
				return nil
			}
			fmt.Fprintf(out, "Expired %d of %d stale pending reservation(s).\n", res.Expired, res.Matched)
			return nil
		},
	}
	cmd.Flags().IntVar(&minutes, "minutes", 30, "Age in minutes after which a pending reservation is expired")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "List matching reservations without changing them")
	return cmd
}
