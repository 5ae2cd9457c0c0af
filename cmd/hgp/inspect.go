package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/awmpietro/golang-hierarchical-execution-engine/internal/engine"
	"github.com/awmpietro/golang-hierarchical-execution-engine/internal/rules"
	"github.com/awmpietro/golang-hierarchical-execution-engine/internal/sink"
	"github.com/awmpietro/golang-hierarchical-execution-engine/internal/tree"
	"github.com/awmpietro/golang-hierarchical-execution-engine/internal/velocity"
)

func (c *cli) profilesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "profiles",
		Short: "List velocity profiles and their layer thresholds",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := velocity.NewManager("", velocity.WithLogger(c.logger))
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprint(w, "LAYER")
			names := m.ProfileNames()
			for _, name := range names {
				fmt.Fprintf(w, "\t%s", name)
			}
			fmt.Fprintln(w)
			for _, l := range velocity.Layers() {
				fmt.Fprintf(w, "L%d %s", l.Layer, l.Name)
				for _, name := range names {
					p, _ := m.Lookup(name)
					fmt.Fprintf(w, "\t%.3f", p.Threshold(l.Layer))
				}
				fmt.Fprintln(w)
			}
			fmt.Fprint(w, "cap")
			for _, name := range names {
				p, _ := m.Lookup(name)
				fmt.Fprintf(w, "\t%.2f", p.CumulativeCap)
			}
			fmt.Fprintln(w)
			return w.Flush()
		},
	}
}

func (c *cli) rulesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rules",
		Short: "List the rule catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			specs := append(rules.DefaultSpecs(), cfg.Rules...)
			if _, err := rules.NewRegistry(cfg.Rules...); err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tKIND\tLAYER\tTHRESHOLD\tDESCRIPTION")
			for _, s := range specs {
				threshold := "-"
				if s.Threshold != nil {
					threshold = fmt.Sprintf("%.3f", *s.Threshold)
				}
				desc := s.Description
				if s.Kind == rules.KindExpr && desc == "" {
					desc = s.Expr
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", s.Name, s.Kind, s.Layer, threshold, desc)
			}
			return w.Flush()
		},
	}
}

func (c *cli) treeCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "tree",
		Short: "Validate a tree file and print it as JSON (default pipeline without --file)",
		RunE: func(cmd *cobra.Command, args []string) error {
			root := tree.Default()
			if file != "" {
				src, err := os.ReadFile(file)
				if err != nil {
					return fmt.Errorf("read tree: %w", err)
				}
				root, err = tree.Parse(tree.FormatOf(file), src)
				if err != nil {
					return err
				}
			}
			if err := engine.Validate(root, engine.DefaultConfig().MaxDepth); err != nil {
				return err
			}
			def, err := tree.Describe(root)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(def)
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "Tree definition file (JSON or DOT)")
	return cmd
}

func (c *cli) eventsCmd() *cobra.Command {
	var (
		dbPath string
		runID  string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show runs and events stored in the SQLite event database",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dbPath == "" {
				dbPath = os.Getenv("HGP_EVENT_DB")
			}
			if dbPath == "" {
				return fmt.Errorf("--db or HGP_EVENT_DB is required")
			}
			db, err := sink.OpenSQLite(cmd.Context(), dbPath, c.logger)
			if err != nil {
				return err
			}
			defer db.Close()

			out := cmd.OutOrStdout()
			if runID == "" {
				runs, err := db.Runs(cmd.Context(), limit)
				if err != nil {
					return err
				}
				for _, id := range runs {
					fmt.Fprintln(out, id)
				}
				return nil
			}

			evs, err := db.Events(cmd.Context(), runID)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(out)
			for _, ev := range evs {
				if err := enc.Encode(ev); err != nil {
					return err
				}
			}
			fmt.Fprintln(out, engine.RenderTimeline(evs))
			return nil
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite event database (or set HGP_EVENT_DB)")
	cmd.Flags().StringVar(&runID, "run", "", "Run id; lists recent runs when empty")
	cmd.Flags().IntVar(&limit, "limit", 20, "Number of runs to list")
	return cmd
}
