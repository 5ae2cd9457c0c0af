package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/awmpietro/golang-hierarchical-execution-engine/internal/app"
	"github.com/awmpietro/golang-hierarchical-execution-engine/internal/transport/rundto"
	"github.com/awmpietro/golang-hierarchical-execution-engine/internal/tree"
)

func (c *cli) runCmd() *cobra.Command {
	var (
		data      []float64
		treeFile  string
		profile   string
		threshold float64
		limit     float64
		asJSON    bool
		events    bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute a tree against a data vector",
		Long: `Runs the default five-stage pipeline, or the tree in --tree (JSON, or DOT
for .dot/.gv files), and prints the timeline and summary.

Example:
  hgp run --data 1,2,3 --tree pipeline.dot --profile conservative`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			rt, err := app.Bootstrap(cmd.Context(), cfg, c.logger)
			if err != nil {
				return err
			}
			defer rt.Close()

			req := app.RunRequest{Data: data, Profile: profile}
			if treeFile != "" {
				src, err := os.ReadFile(treeFile)
				if err != nil {
					return fmt.Errorf("read tree: %w", err)
				}
				if tree.FormatOf(treeFile) == tree.FormatDOT {
					req.TreeDOT = string(src)
				} else {
					req.Tree = src
				}
			}
			if cmd.Flags().Changed("global-threshold") {
				req.GlobalThreshold = &threshold
			}
			if cmd.Flags().Changed("cap") {
				req.CumulativeCap = &limit
			}

			res, err := rt.Service.Run(cmd.Context(), req)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(rundto.FromResult(res))
			}

			fmt.Fprintf(out, "run_id:   %s\n", res.RunID)
			fmt.Fprintf(out, "timeline: %s\n", res.Timeline)
			fmt.Fprintf(out, "output:   %v\n", []float64(res.Output))
			fmt.Fprintf(out, "state:    %s (blocked=%t)\n", res.State, res.Blocked)
			s := res.Summary
			fmt.Fprintf(out, "summary:  rules=%d blocks=%d cap_hits=%d depth=%d cumulative=%.4f duration=%.3fms\n",
				s.RulesExecuted, s.Blocks, s.CapHits, s.MaxDepth, s.CumulativeVelocity, s.DurationMS)
			if events {
				for _, ev := range res.Events {
					fmt.Fprintf(out, "  %-8s %-6s %-30s impact=%.4f threshold=%.4f cum=%.4f %s\n",
						ev.Event, ev.Type, ev.Path, ev.Impact, ev.Threshold, ev.Cumulative, ev.Note)
				}
			}
			return nil
		},
	}

	cmd.Flags().Float64SliceVar(&data, "data", nil, "Input vector, comma separated")
	_ = cmd.MarkFlagRequired("data")
	cmd.Flags().StringVar(&treeFile, "tree", "", "Tree definition file (JSON or DOT)")
	cmd.Flags().StringVar(&profile, "profile", "", "Velocity profile for layer thresholds")
	cmd.Flags().Float64Var(&threshold, "global-threshold", 0, "Global block threshold")
	cmd.Flags().Float64Var(&limit, "cap", 0, "Cumulative velocity cap")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full run response as JSON")
	cmd.Flags().BoolVar(&events, "events", false, "Print the event log")
	return cmd
}
