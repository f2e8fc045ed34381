package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nvandessel/episim/internal/config"
)

func newScenariosCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scenarios",
		Short: "List the configured scenarios",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			if jsonOut {
				type item struct {
					config.ScenarioConfig
					Seed        uint64 `json:"seed"`
					Description string `json:"description"`
				}
				items := make([]item, 0, len(cfg.Scenarios))
				for _, s := range cfg.Scenarios {
					items = append(items, item{
						ScenarioConfig: s,
						Seed:           config.SeedFor(cfg.Simulation.Seed, s.ID),
						Description:    s.Describe(),
					})
				}
				return writeJSON(cmd, map[string]any{"scenarios": items, "count": len(items)})
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%d scenarios, %d days each, population %d (group %s)\n\n",
				len(cfg.Scenarios), cfg.Simulation.Cycles, cfg.Group.Size, cfg.Group.ID)
			for _, s := range cfg.Scenarios {
				fmt.Fprintf(w, "  %-6s %-24s %s\n", s.ID, s.Name, s.Describe())
			}
			return nil
		},
	}
}
