package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

func newSchemaCmd(appRef **App) *cobra.Command {
	root := &cobra.Command{Use: "schema", Short: "inspect the JSON Schemas registered under .codex/schemas"}
	root.AddCommand(newSchemaListCmd(appRef))
	return root
}

func newSchemaListCmd(appRef **App) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "list the schema names available to schema-guarded commands",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := *appRef
			entries, err := os.ReadDir(app.Layout.SchemaDir)
			if err != nil {
				return fail("schema list", err)
			}
			var names []string
			for _, e := range entries {
				if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
					continue
				}
				names = append(names, strings.TrimSuffix(filepath.Base(e.Name()), ".json"))
			}
			sort.Strings(names)
			if asJSON {
				return printJSON(cmd, names)
			}
			for _, n := range names {
				fmt.Fprintln(cmd.OutOrStdout(), n)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}
