package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cuemby/tasksync/pkg/storage"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		dataDir    string
		dryRun     bool
		backupPath string
	)

	cmd := &cobra.Command{
		Use:   "tasksync-migrate",
		Short: "Apply pending schema migrations to a task sync store",
		Long: `tasksync-migrate backs up a store's database file, then opens it through
the same migration path the core uses on every startup (pkg/storage.Open),
bringing it up to the latest schema version. Opening is the migration: this
command exists so an operator can take the backup and run the migrations
without also starting the core.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			dbPath := filepath.Join(dataDir, "tasksync.db")
			if _, err := os.Stat(dbPath); os.IsNotExist(err) {
				return fmt.Errorf("database not found at %s", dbPath)
			}

			fmt.Printf("database: %s\n", dbPath)
			fmt.Printf("dry run: %v\n", dryRun)

			if dryRun {
				fmt.Println("dry run: no changes made. Run without --dry-run to migrate.")
				return nil
			}

			backup := backupPath
			if backup == "" {
				backup = dbPath + ".backup"
			}

			fmt.Printf("creating backup: %s\n", backup)
			if err := copyFile(dbPath, backup); err != nil {
				return fmt.Errorf("create backup: %w", err)
			}
			fmt.Println("backup created")

			store, err := storage.Open(dbPath)
			if err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			defer store.Close()

			fmt.Println("migration complete")
			return nil
		},
	}

	cmd.Flags().StringVar(&dataDir, "data-dir", "/var/lib/tasksync", "task sync data directory")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the database path and exit without backing up or migrating")
	cmd.Flags().StringVar(&backupPath, "backup", "", "path to back up the database before migration (default: <data-dir>/tasksync.db.backup)")

	return cmd
}

// copyFile makes a plain byte-for-byte copy of the database file before any
// migration touches it. The core's own Store.Backup (VACUUM INTO) is for a
// still-open store; this tool runs before anything opens the store at all,
// so there's nothing to checkpoint around.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
