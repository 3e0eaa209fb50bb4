package main

import (
	"github.com/spf13/cobra"

	"github.com/insano70/bcos-sub018/internal/authz"
	"github.com/insano70/bcos-sub018/internal/metadata"
)

var discoverCmd = &cobra.Command{
	Use:   "discover <schema>",
	Short: "Register analytics tables into the catalogue",
	Long:  "Scans one analytics schema and registers unseen tables in the\ncatalogue. New entries start inactive and never enter the allow-list\nuntil activated through a metadata edit.",
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

		discovery := metadata.NewDiscovery(
			metadata.NewPgScanner(rt.analyticsPool),
			metadata.NewPgStore(rt.cataloguePool),
			authz.NewEvaluator(),
		)

		report, err := discovery.Run(cmd.Context(), caller, args[0])
		if err != nil {
			return err
		}
		return printJSON(report)
	},
}

func init() {
	rootCmd.AddCommand(discoverCmd)
}
