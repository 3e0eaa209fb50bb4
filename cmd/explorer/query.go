package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var queryCmd = &cobra.Command{
	Use:   "query <sql>",
	Short: "Run a SQL query through the safety pipeline",
	Long:  "Validates the statement, injects the tenant filter, clamps the\nrow limit, and executes against the analytics database.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		caller, err := callerFromFlags()
		if err != nil {
			return err
		}

		rt, err := buildRuntime(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer rt.Close()

		result := rt.pipeline.Query(cmd.Context(), caller, args[0])
		if err := printJSON(result); err != nil {
			return err
		}
		if !result.OK {
			return fmt.Errorf("query failed: %s", result.Error.Kind)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(queryCmd)
}
