package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/insano70/bcos-sub018/internal/metadata"
)

var (
	tablesSchema string
	tablesSearch string
	tablesLimit  int
)

var tablesCmd = &cobra.Command{
	Use:   "tables",
	Short: "Manage the table catalogue",
}

var tablesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List catalogue tables visible to the caller",
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

		tables, err := rt.metadata.ListTables(cmd.Context(), caller, metadata.TableFilter{
			Schema:     tablesSchema,
			NameSearch: tablesSearch,
			ActiveOnly: true,
			Limit:      tablesLimit,
		})
		if err != nil {
			return err
		}
		return printJSON(tables)
	},
}

var tablesDescribeCmd = &cobra.Command{
	Use:   "describe <table-id>",
	Short: "Show columns and documentation completeness for a table",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		caller, err := callerFromFlags()
		if err != nil {
			return err
		}

		var tableID int64
		if _, err := fmt.Sscanf(args[0], "%d", &tableID); err != nil {
			return fmt.Errorf("table-id must be an integer: %w", err)
		}

		rt, err := buildRuntime(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer rt.Close()

		tables, err := rt.metadata.ListTables(cmd.Context(), caller, metadata.TableFilter{ActiveOnly: false})
		if err != nil {
			return err
		}

		var table *metadata.TableMetadata
		for i := range tables {
			if tables[i].ID == tableID {
				table = &tables[i]
				break
			}
		}
		if table == nil {
			return fmt.Errorf("table %d not found in catalogue", tableID)
		}

		columns, err := rt.metadata.GetColumns(cmd.Context(), caller, tableID)
		if err != nil {
			return err
		}

		return printJSON(map[string]any{
			"table":        table,
			"columns":      columns,
			"completeness": metadata.Completeness(*table, columns),
		})
	},
}

func init() {
	tablesListCmd.Flags().StringVar(&tablesSchema, "schema", "", "filter by schema")
	tablesListCmd.Flags().StringVar(&tablesSearch, "search", "", "filter by name substring")
	tablesListCmd.Flags().IntVar(&tablesLimit, "limit", 0, "maximum tables to return")

	tablesCmd.AddCommand(tablesListCmd)
	tablesCmd.AddCommand(tablesDescribeCmd)
	rootCmd.AddCommand(tablesCmd)
}
