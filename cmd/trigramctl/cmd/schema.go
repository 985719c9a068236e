package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/trigram-search/internal/store"
	"github.com/Adithya-Monish-Kumar-K/trigram-search/pkg/config"
)

func newSchemaCmd() *cobra.Command {
	var table string

	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the record table DDL",
		Long: `Print the CREATE TABLE and GIN index statements for the record table
used when postgres.enabled is set.

Example:
  trigramctl schema --table teams | cockroach sql --insecure`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), store.DDL(table))
			return err
		},
	}

	cmd.Flags().StringVar(&table, "table", config.Default().Postgres.Table, "Table name")
	return cmd
}
