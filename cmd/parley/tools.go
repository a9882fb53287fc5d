package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/go-go-golems/parley/pkg/tools"
)

func newToolsCommand() *cobra.Command {
	var withSchemas bool

	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the tools available to the chat command",
		RunE: func(cmd *cobra.Command, args []string) error {
			registry := tools.NewInMemoryRegistry()
			if err := registerDemoTools(registry); err != nil {
				return err
			}
			for _, def := range registry.ListTools() {
				fmt.Printf("%s - %s\n", def.Name, def.Description)
				if withSchemas && def.Parameters != nil {
					schema, err := json.MarshalIndent(def.Parameters, "  ", "  ")
					if err != nil {
						return err
					}
					fmt.Printf("  %s\n", schema)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&withSchemas, "schemas", false, "print parameter schemas")

	return cmd
}
