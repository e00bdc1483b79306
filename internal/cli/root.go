// Package cli implements routerctl, the operator command line for the router.
package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mrmushfiq/llm0-router/internal/routing"
	"github.com/mrmushfiq/llm0-router/internal/shared/database"
)

// NewRootCmd builds the routerctl command tree
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "routerctl",
		Short:         "Operate the llm0 tier router",
		Long:          "Inspect routing decisions, manage the database and report usage for the llm0 tier router",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().String("database", os.Getenv("DATABASE_URL"), "Database URL (postgres://... or sqlite://path)")
	root.PersistentFlags().String("catalog", os.Getenv("ROUTING_CATALOG_FILE"), "Routing catalog overlay (YAML)")
	root.PersistentFlags().String("timezone", envOr("BUDGET_TIMEZONE", "UTC"), "Time zone for daily budgets and reports")

	root.AddCommand(
		newMigrateCmd(),
		newRouteCmd(),
		newDefaultsCmd(),
		newUsageCmd(),
	)
	return root
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// openDatabase connects to the --database URL and applies migrations
func openDatabase(ctx context.Context, cmd *cobra.Command) (*database.DB, error) {
	url, _ := cmd.Flags().GetString("database")
	if url == "" {
		return nil, fmt.Errorf("no database configured: set --database or DATABASE_URL")
	}

	db, err := database.New(url)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func loadCatalog(cmd *cobra.Command) (*routing.Catalog, error) {
	path, _ := cmd.Flags().GetString("catalog")
	return routing.LoadCatalog(path)
}

func location(cmd *cobra.Command) (*time.Location, error) {
	name, _ := cmd.Flags().GetString("timezone")
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", name, err)
	}
	return loc, nil
}
