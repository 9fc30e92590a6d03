// Package main is the operator CLI for VisoLabs practice data.
package main

import (
	"fmt"
	"os"

	"github.com/ashureev/viso-labs/internal/api"
	"github.com/ashureev/viso-labs/internal/store"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Global flags.
var (
	dbPath    string
	exportDir string
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "viso",
		Short: "Inspect and export VisoLabs practice history",
		Long: `viso reads the practice database used by the VisoLabs server.
It lists a learner's session history and writes the same image and
session log exports the web client offers.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&dbPath, "db", envOr("DB_PATH", "./data/viso.db"), "Path to the practice database")
	root.PersistentFlags().StringVar(&exportDir, "dir", envOr("EXPORT_DIR", "./data/exports"), "Directory for exports")

	root.AddCommand(newHistoryCmd())
	root.AddCommand(newExportCmd())
	root.AddCommand(newCatalogCmd())

	return root
}

func main() {
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// openPractice opens the database read-mostly: no generation collaborators
// are wired, so only history and export work.
func openPractice() (*api.Practice, func(), error) {
	if _, err := os.Stat(dbPath); err != nil {
		return nil, nil, fmt.Errorf("database %s: %w", dbPath, err)
	}
	repo, err := store.NewSQLite(dbPath)
	if err != nil {
		return nil, nil, err
	}
	practice := api.NewPractice(repo, nil, nil, api.PracticeConfig{ExportDir: exportDir})
	return practice, func() { _ = repo.Close() }, nil
}
