package db

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"strconv"
)

// ErrUsage is returned by RunMigrateCommand for a missing or unknown action.
var ErrUsage = errors.New("migrate: usage")

// RunMigrateCommand handles the 'migrate' subcommand. Status and help text
// are written to out.
func RunMigrateCommand(args []string, dbPath string, out io.Writer) error {
	if len(args) < 1 {
		PrintMigrateHelp(out)
		return ErrUsage
	}
	action := args[0]
	if action == "help" {
		PrintMigrateHelp(out)
		return nil
	}

	// Get migrations filesystem (uses embedded FS in production, local files in dev)
	migrationsFS, err := getMigrationsFS()
	if err != nil {
		return fmt.Errorf("migrations filesystem: %w", err)
	}

	// Open without applying the schema; migrations manage it.
	database, err := OpenDB(dbPath)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer database.Close()

	switch action {
	case "up":
		log.Printf("Running migrations...")
		if err := database.MigrateUp(migrationsFS); err != nil {
			return err
		}
		return printVersion(out, database, migrationsFS)

	case "down":
		log.Printf("Rolling back one migration...")
		if err := database.MigrateDown(migrationsFS); err != nil {
			return err
		}
		return printVersion(out, database, migrationsFS)

	case "status":
		return printStatus(out, database, migrationsFS)

	case "version", "force", "baseline":
		if len(args) < 2 {
			fmt.Fprintf(out, "Usage: waterextent migrate %s <version_number>\n", action)
			return ErrUsage
		}
		n, err := strconv.ParseUint(args[1], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid version number %q: %w", args[1], err)
		}
		switch action {
		case "version":
			log.Printf("Migrating to version %d...", n)
			err = database.MigrateTo(migrationsFS, uint(n))
		case "force":
			log.Printf("Forcing migration version to %d", n)
			err = database.MigrateForce(migrationsFS, int(n))
		default:
			err = database.BaselineAtVersion(uint(n))
		}
		if err != nil {
			return err
		}
		return printVersion(out, database, migrationsFS)

	default:
		fmt.Fprintf(out, "Unknown migrate action: %s\n\n", action)
		PrintMigrateHelp(out)
		return ErrUsage
	}
}

func printVersion(out io.Writer, database *DB, migrationsFS fs.FS) error {
	version, dirty, err := database.MigrateVersion(migrationsFS)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Current version: %d (dirty: %v)\n", version, dirty)
	return nil
}

func printStatus(out io.Writer, database *DB, migrationsFS fs.FS) error {
	st, err := database.GetMigrationStatus(migrationsFS)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "=== Migration Status ===")
	fmt.Fprintf(out, "Current version: %d\n", st.CurrentVersion)
	fmt.Fprintf(out, "Latest available: %d\n", st.LatestVersion)
	fmt.Fprintf(out, "Dirty: %v\n", st.Dirty)
	fmt.Fprintf(out, "Schema migrations table exists: %v\n", st.SchemaMigrationsExists)

	switch {
	case st.Dirty:
		fmt.Fprintln(out, "\nWARNING: Database is in a dirty state!")
		fmt.Fprintln(out, "A migration failed mid-execution. Inspect the database, then run:")
		fmt.Fprintln(out, "  waterextent migrate force <version>")
	case st.CurrentVersion < st.LatestVersion:
		fmt.Fprintf(out, "\nDatabase is %d version(s) behind. Run 'waterextent migrate up' to update.\n", st.LatestVersion-st.CurrentVersion)
	default:
		fmt.Fprintln(out, "\nDatabase is up to date.")
	}
	return nil
}

// PrintMigrateHelp displays the help message for the migrate command
func PrintMigrateHelp(out io.Writer) {
	fmt.Fprint(out, `Database Migration Commands

Usage: waterextent migrate [--db-path <path>] <command> [options]

Commands:
  up              Apply all pending migrations
  down            Rollback one migration
  status          Show current migration status and version
  version <N>     Migrate to specific version N
  force <N>       Force migration version to N (recovery only)
  baseline <N>    Set migration version to N without running migrations
  help            Show this help message

Examples:
  waterextent migrate up
  waterextent migrate status
  waterextent migrate version 1
  waterextent migrate force 1
`)
}
