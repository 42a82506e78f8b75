package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/cdmtriage/internal/core"
)

func newSeedCmd(a *app) *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Generate synthetic events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if count < 1 || count > core.MaxSeedCount {
				return fmt.Errorf("--count must be between 1 and %d", core.MaxSeedCount)
			}
			n, err := a.service.Seed(ctx(cmd), count)
			if err != nil {
				return userError(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d events\n", n)
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", core.DefaultSeedCount, "Number of events to generate")
	return cmd
}

func newReclassifyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reclassify",
		Short: "Re-run lane assignment for every stored event",
		Long:  "Reclassify applies the active policy (see --policy) to every stored event and prints the resulting lane counts.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := a.service.ApplyPolicy(ctx(cmd), a.service.Policy())
			if err != nil {
				return userError(err)
			}
			events, err := a.service.ListEvents(ctx(cmd), nil)
			if err != nil {
				return userError(err)
			}
			counts := core.CountByLane(events)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "reclassified %d events\n", n)
			for _, lane := range core.Lanes() {
				fmt.Fprintf(out, "  %-12s %d\n", lane, counts[lane])
			}
			return nil
		},
	}
}

func newSimulateCmd(a *app) *cobra.Command {
	var (
		samples int
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "simulate EVENT_ID",
		Short: "Refine an event's collision probability by Monte Carlo sampling",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ev, res, err := a.service.Refine(ctx(cmd), args[0], samples)
			if err != nil {
				return userError(err)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				res.Points = nil
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(struct {
					Event      *core.Event            `json:"event"`
					Simulation *core.SimulationResult `json:"simulation"`
				}{ev, res})
			}

			fmt.Fprintf(out, "event %s (%s vs %s)\n", ev.ID, ev.Object1, ev.Object2)
			fmt.Fprintf(out, "  analytic pc: %s\n", core.FormatSci(ev.PcAnalytic))
			fmt.Fprintf(out, "  mc pc:       %s (%d samples)\n", core.FormatSci(res.PC), res.Samples)
			fmt.Fprintf(out, "  95%% ci:      [%s, %s]\n", core.FormatSci(res.CILower), core.FormatSci(res.CIUpper))
			fmt.Fprintf(out, "  lane:        %s\n", ev.Lane)
			return nil
		},
	}
	cmd.Flags().IntVarP(&samples, "samples", "s", 0, "Sample count (default SIM_DEFAULT_SAMPLES)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the refined event and summary as JSON")
	return cmd
}

func newListCmd(a *app) *cobra.Command {
	var (
		lanes  []string
		limit  int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var filter core.LaneFilter
			for _, name := range lanes {
				lane, err := core.ParseLane(strings.ToUpper(strings.TrimSpace(name)))
				if err != nil {
					return err
				}
				filter = append(filter, lane)
			}

			events, err := a.service.ListEvents(ctx(cmd), filter)
			if err != nil {
				return userError(err)
			}
			if limit > 0 && len(events) > limit {
				events = events[:limit]
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(events)
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tOBJECT1\tOBJECT2\tTCA\tMISS (m)\tPC\tPC MC\tLANE")
			for _, ev := range events {
				pcMC := "-"
				if ev.PcMC != nil {
					pcMC = core.FormatSci(*ev.PcMC)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					ev.ID, ev.Object1, ev.Object2,
					ev.TCA.Format("2006-01-02 15:04Z"),
					core.FormatDist(ev.MissDistance),
					core.FormatSci(ev.PcAnalytic),
					pcMC,
					ev.Lane,
				)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringSliceVar(&lanes, "lane", nil, "Only show these lanes (ANALYTIC_OK, MC_REQUIRED, ACTION_NOW)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum rows to print (0 for all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print events as JSON")
	return cmd
}

func newClearCmd(a *app) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every stored event",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("refusing to clear the event store without --yes")
			}
			if err := a.service.Clear(ctx(cmd)); err != nil {
				return userError(err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "event store cleared")
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm deletion")
	return cmd
}
