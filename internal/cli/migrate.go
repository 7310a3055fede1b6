package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nickcecere/ragchat/internal/migrate"
	"github.com/nickcecere/ragchat/internal/ui"
)

var migrateJSON bool

// migrateCmd groups the schema migration commands.
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run, preview or roll back vector schema migrations",
	Long: `Manage vector schema migrations. Migration 1 moves every legacy
per-document collection (doc_{user}_{doc}) into the owner's single
user_{user}_default collection.

A run that fails part way can be repeated; documents already moved are
skipped.

Examples:
  ragchat migrate status
  ragchat migrate dry-run
  ragchat migrate run
  ragchat migrate rollback`,
}

var migrateRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Apply every pending migration",
	RunE:  runMigrate,
}

var migrateDryRunCmd = &cobra.Command{
	Use:   "dry-run",
	Short: "Preview pending migrations without changing anything",
	RunE:  runMigrateDryRun,
}

var migrateRollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Roll back the most recently completed migration",
	RunE:  runMigrateRollback,
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show which migrations are applied",
	RunE:  runMigrateStatus,
}

func init() {
	migrateCmd.PersistentFlags().BoolVar(&migrateJSON, "json", false, "print results as JSON")
	migrateCmd.AddCommand(migrateRunCmd, migrateDryRunCmd, migrateRollbackCmd, migrateStatusCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	reports, runErr := a.Migrations.RunAll(ctx)
	if migrateJSON {
		if err := printJSON(reports); err != nil {
			return err
		}
		return runErr
	}

	if len(reports) == 0 && runErr == nil {
		fmt.Println(ui.Success.Render("Nothing to migrate."))
		return nil
	}
	for _, r := range reports {
		printReport(r)
	}
	return runErr
}

func runMigrateDryRun(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	previews, err := a.Migrations.DryRun(ctx)
	if err != nil {
		return err
	}
	if migrateJSON {
		return printJSON(previews)
	}

	if len(previews) == 0 {
		fmt.Println(ui.Success.Render("Nothing to migrate."))
		return nil
	}
	for _, p := range previews {
		fmt.Println(ui.Header.Render(fmt.Sprintf("%03d %s", p.Version, p.Name)))
		fmt.Println(ui.KeyValue("Users", fmt.Sprintf("%d of %d", p.Preview.UsersToProcess, p.Preview.TotalUsers)))
		fmt.Println(ui.KeyValue("Documents", fmt.Sprintf("%d of %d", p.Preview.DocumentsToMigrate, p.Preview.TotalDocuments)))
		fmt.Println(ui.KeyValue("Estimated chunks", p.Preview.EstimatedChunks))
		fmt.Println(ui.KeyValue("Collections to create", len(p.Preview.CollectionsToCreate)))
		for _, name := range p.Preview.CollectionsToCreate {
			fmt.Printf("    + %s\n", ui.Collection.Render(name))
		}
		fmt.Println(ui.KeyValue("Collections to delete", len(p.Preview.CollectionsToDelete)))
		for _, name := range p.Preview.CollectionsToDelete {
			fmt.Printf("    - %s\n", ui.Collection.Render(name))
		}
		fmt.Println()
	}
	return nil
}

func runMigrateRollback(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	report, runErr := a.Migrations.RollbackLast(ctx)
	if migrateJSON {
		if err := printJSON(report); err != nil {
			return err
		}
		return runErr
	}

	if report == nil {
		fmt.Println("No completed migration to roll back.")
		return runErr
	}
	printReport(*report)
	return runErr
}

func runMigrateStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	status := a.Migrations.Status()
	if migrateJSON {
		return printJSON(status)
	}
	printMigrationStatus(status)
	return nil
}

func printMigrationStatus(status migrate.StatusReport) {
	fmt.Println(ui.Header.Render(fmt.Sprintf("Migrations: %d of %d applied", status.Completed, status.Total)))
	for _, m := range status.Migrations {
		line := fmt.Sprintf("  %03d %-50s %s", m.Version, m.Name, ui.MigrationStatus(m.Status == migrate.StatusCompleted))
		if m.Status != migrate.StatusCompleted && m.Status != migrate.StatusPending {
			line += " " + ui.Warning.Render(string(m.Status))
		}
		if m.CompletedAt != nil {
			line += ui.Dim.Render(" " + m.CompletedAt.Local().Format("Jan 2, 2006 at 15:04"))
		}
		fmt.Println(line)
	}
}

func printReport(r migrate.Report) {
	style := ui.Success
	if r.Status != migrate.StatusCompleted && r.Status != migrate.StatusPending {
		style = ui.Error
	}
	fmt.Println(ui.Header.Render(fmt.Sprintf("%03d %s", r.Version, r.Name)) + " " + style.Render(string(r.Status)))
	fmt.Println(ui.KeyValue("Users", r.Summary.Users))
	fmt.Println(ui.KeyValue("Documents", r.Summary.Documents))
	fmt.Println(ui.KeyValue("Moved", r.Summary.Migrated))
	fmt.Println(ui.KeyValue("Skipped", r.Summary.Skipped))
	fmt.Println(ui.KeyValue("Vectors", r.Summary.Vectors))
	for _, e := range r.Summary.Errors {
		fmt.Println("  " + ui.Error.Render("✗ "+e))
	}
	if r.Error != "" {
		fmt.Println("  " + ui.Error.Render(r.Error))
	}
	fmt.Println()
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
