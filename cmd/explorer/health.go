package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Probe the analytics endpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := buildRuntime(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer rt.Close()

		status := rt.executor.Health(cmd.Context())
		if err := printJSON(status); err != nil {
			return err
		}
		if !status.Healthy {
			return fmt.Errorf("analytics endpoint unhealthy")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
