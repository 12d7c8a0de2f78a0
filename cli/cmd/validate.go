package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"procflow/runtime"
)

var validateCmd = &cobra.Command{
	Use:   "validate [dir]",
	Short: "Load and validate process definition files",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := "processes"
		if len(args) == 1 {
			dir = args[0]
		}

		defs, err := runtime.LoadDefinitions(dir)
		if err != nil {
			return err
		}

		failed := 0
		for _, def := range defs {
			if err := def.Validate(); err != nil {
				failed++
				fmt.Printf("FAIL %s: %v\n", def.ID, err)
				continue
			}
			fmt.Printf("OK   %s (version %d, %d tasks)\n", def.ID, def.Version, len(def.TaskList))
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d definitions invalid", failed, len(defs))
		}
		return nil
	},
}
