package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/iliyamo/studio-reservation/internal/model"
)

const dateLayout = "2006-01-02"

// window resolves the --from-date/--to-date/--days flags.  The to date
// defaults to from + days.
func window(fromFlag, toFlag string, days int, now time.Time) (time.Time, time.Time, error) {
	from := model.DateOf(now)
	if fromFlag != "" {
		t, err := time.Parse(dateLayout, fromFlag)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("--from-date must be YYYY-MM-DD")
		}
		from = t
	}
	if toFlag != "" {
		to, err := time.Parse(dateLayout, toFlag)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("--to-date must be YYYY-MM-DD")
		}
		if to.Before(from) {
			return time.Time{}, time.Time{}, fmt.Errorf("--to-date must be on or after --from-date")
		}
		return from, to, nil
	}
	if days <= 0 {
		return time.Time{}, time.Time{}, fmt.Errorf("--days must be greater than zero")
	}
	return from, from.AddDate(0, 0, days), nil
}

func generateCmd() *cobra.Command {
	var (
		fromDate, toDate string
		days             int
		dryRun           bool
	)
	cmd := &cobra.Command{
		Use:   "generate-occurrences",
		Short: "Materialise occurrences for every active recurrence spec",
		RunE: func(cmd *cobra.Command, args []string) error {
			from, to, err := window(fromDate, toDate, days, time.Now().UTC())
			if err != nil {
				return err
			}
			a, _, err := build(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			out, err := a.Generator.ExpandAll(cmd.Context(), from, to, dryRun)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			verb := "Created"
			if dryRun {
				verb = "Would create"
			}
			fmt.Fprintf(w, "%s %d occurrence(s) from %d spec(s) between %s and %s; %d already existed.\n",
				verb, out.Result.Created, out.Specs, from.Format(dateLayout), to.Format(dateLayout), out.Result.Skipped)
			for _, e := range out.Errors {
				fmt.Fprintf(w, "  failed: %v\n", e)
			}
			if len(out.Errors) > 0 {
				return fmt.Errorf("%d spec(s) failed", len(out.Errors))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&fromDate, "from-date", "", "Start date (inclusive), YYYY-MM-DD; defaults to today")
	cmd.Flags().StringVar(&toDate, "to-date", "", "End date (inclusive), YYYY-MM-DD; overrides --days")
	cmd.Flags().IntVar(&days, "days", 30, "Days ahead to generate when --to-date is not given")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Count what would be created without writing")
	return cmd
}
