package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/iliyamo/studio-reservation/internal/model"
	"github.com/iliyamo/studio-reservation/internal/repository"
)

type seeded struct {
	Resources, Specs, Plans int
}

// seed writes a small demo catalogue: two weekly classes, a one-off
// ticketed event and two membership plans.
func seed(ctx context.Context, store repository.Store, today time.Time) (seeded, error) {
	var out seeded
	err := store.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		classes := []struct {
			res  model.Resource
			days []model.Weekday
			at   string
		}{
			{model.Resource{Name: "Vinyasa Flow", Kind: model.KindSession, Category: "yoga", DefaultCapacity: 12, DefaultPrice: 1200, Active: true}, []model.Weekday{model.Mon, model.Wed}, "18:30"},
			{model.Resource{Name: "Reformer Pilates", Kind: model.KindSession, Category: "pilates", DefaultCapacity: 8, DefaultPrice: 1800, Active: true}, []model.Weekday{model.Tue, model.Thu, model.Sat}, "09:00"},
		}
		for _, c := range classes {
			r := c.res
			if err := tx.InsertResource(ctx, &r); err != nil {
				return err
			}
			start := model.MustTimeOfDay(c.at)
			spec := model.RecurrenceSpec{
				ResourceID: r.ID,
				Pattern:    model.PatternMultiWeekly,
				Days:       c.days,
				StartTime:  start,
				EndTime:    model.TimeOfDay{Hour: start.Hour + 1, Minute: start.Minute},
				StartDate:  today,
				Active:     true,
			}
			if err := tx.InsertRecurrenceSpec(ctx, &spec); err != nil {
				return err
			}
			out.Resources++
			out.Specs++
		}

		ev := model.Resource{Name: "Breathwork Workshop", Kind: model.KindEvent, Category: "workshop", DefaultCapacity: 30, DefaultPrice: 2500, Active: true}
		if err := tx.InsertResource(ctx, &ev); err != nil {
			return err
		}
		one := model.RecurrenceSpec{
			ResourceID: ev.ID,
			Pattern:    model.PatternOneOff,
			StartTime:  model.MustTimeOfDay("14:00"),
			EndTime:    model.MustTimeOfDay("16:00"),
			StartDate:  today.AddDate(0, 0, 14),
			Active:     true,
		}
		if err := tx.InsertRecurrenceSpec(ctx, &one); err != nil {
			return err
		}
		out.Resources++
		out.Specs++

		for _, p := range []model.MembershipPlan{
			{Name: "Ten Class Pass", PriceMinor: 9900, ClassCredits: 10, DurationDays: 90, Active: true},
			{Name: "Unlimited Month", PriceMinor: 12900, ClassCredits: 40, EventCredits: 2, DurationDays: 30, Active: true},
		} {
			if err := tx.InsertPlan(ctx, &p); err != nil {
				return err
			}
			out.Plans++
		}
		return nil
	})
	return out, err
}

func seedCmd() *cobra.Command {
	var generate int
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load a demo catalogue for local development",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, err := build(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			today := model.DateOf(time.Now().UTC())
			n, err := seed(cmd.Context(), a.Store, today)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d resource(s), %d recurrence spec(s), %d plan(s).\n", n.Resources, n.Specs, n.Plans)
			if generate > 0 {
				res, err := a.Generator.ExpandAll(cmd.Context(), today, today.AddDate(0, 0, generate), false)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Generated %d occurrence(s).\n", res.Result.Created)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&generate, "generate-days", 14, "Also generate occurrences this many days ahead; 0 skips")
	return cmd
}
