// Command hgp runs execution trees from the command line and inspects the
// rule catalog, velocity profiles and stored run events.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/awmpietro/golang-hierarchical-execution-engine/internal/config"
)

type cli struct {
	verbose   bool
	rulesFile string
	logger    *zap.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{logger: zap.NewNop()}

	root := &cobra.Command{
		Use:           "hgp",
		Short:         "Hierarchical execution engine with local failure containment",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := "warn"
			if c.verbose {
				level = "debug"
			}
			logger, err := config.NewLogger(level)
			if err != nil {
				return err
			}
			c.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = c.logger.Sync()
		},
	}
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "Enable verbose logging")
	root.PersistentFlags().StringVar(&c.rulesFile, "rules-file", "", "YAML rules file (or set HGP_RULES_FILE)")

	root.AddCommand(
		c.runCmd(),
		c.profilesCmd(),
		c.rulesCmd(),
		c.treeCmd(),
		c.eventsCmd(),
	)
	return root
}

// loadConfig applies --rules-file on top of the environment.
func (c *cli) loadConfig() (config.Runtime, error) {
	if c.rulesFile != "" {
		if err := os.Setenv("HGP_RULES_FILE", c.rulesFile); err != nil {
			return config.Runtime{}, err
		}
	}
	return config.Load()
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
