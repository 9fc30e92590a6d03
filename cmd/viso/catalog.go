package main

import (
	"fmt"
	"strings"

	"github.com/ashureev/viso-labs/internal/catalog"
	"github.com/spf13/cobra"
)

func newCatalogCmd() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Show the curriculum catalog: difficulty levels, autism levels and image styles",
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := catalog.Load(path)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Difficulties:  %s\n", strings.Join(cat.DifficultyNames(), ", "))
			fmt.Fprintf(out, "Autism levels: %s (default %s)\n", strings.Join(cat.AutismLevels(), ", "), cat.DefaultAutismLevel)
			fmt.Fprintf(out, "Image styles:  %s\n", strings.Join(cat.StyleNames(), ", "))
			return nil
		},
	}

	cmd.Flags().StringVar(&path, "file", envOr("CATALOG_PATH", ""), "Catalog YAML overriding the built-in one")

	return cmd
}
