package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer a natural-language question",
	Long:  "Generates SQL from the question, then runs it through the same\nvalidation and tenant scoping as hand-written SQL.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		caller, err := callerFromFlags()
		if err != nil {
			return err
		}

		rt, err := buildRuntime(cmd.Context(), true)
		if err != nil {
			return err
		}
		defer rt.Close()

		result := rt.pipeline.Ask(cmd.Context(), caller, args[0])
		if err := printJSON(result); err != nil {
			return err
		}
		if !result.OK {
			return fmt.Errorf("ask failed: %s", result.Error.Kind)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(askCmd)
}
