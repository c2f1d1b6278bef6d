package cli

import (
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	epl "github.com/kahana-sysadmin/UnityEPL"
	"github.com/kahana-sysadmin/UnityEPL/internal/config"
)

func newExperimentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "experiments",
		Short: "List experiment configs and registered experiment classes",
		RunE: func(cmd *cobra.Command, args []string) error {
			fsys := afero.NewOsFs()
			settings, err := config.LoadSystem(fsys, runCfg.ConfigDir)
			if err != nil {
				return fmt.Errorf("load system config: %w", err)
			}

			names, err := settings.Strings("availableExperiments")
			if err != nil {
				return err
			}
			fmt.Printf("%-24s  %s\n", "CONFIG", "CLASS")
			fmt.Printf("%-24s  %s\n", "------", "-----")
			for _, name := range names {
				class := "?"
				if err := settings.LoadExperiment(fsys, runCfg.ConfigDir, name); err != nil {
					class = "invalid: " + err.Error()
				} else if c, err := settings.String("experimentClass"); err == nil {
					class = c
				}
				fmt.Printf("%-24s  %s\n", name, class)
			}

			fmt.Println()
			fmt.Println("Registered classes:")
			for _, c := range epl.Experiments() {
				fmt.Printf("  %s\n", c)
			}
			return nil
		},
	}
}
