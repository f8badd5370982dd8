package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/internal/classifier"
	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/pkg/errors"
	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/pkg/logger"
)

// Migration represents a database schema migration
type Migration struct {
	Version int
	Name    string
	Up      func(*sql.Tx) error
}

var allMigrations = []Migration{
	{
		Version: 1,
		Name:    "initial_schema",
		Up:      migration001InitialSchema,
	},
	{
		Version: 2,
		Name:    "add_label_key",
		Up:      migration002AddLabelKey,
	},
}

// runMigrations applies every pending migration, each in its own transaction
func (s *Storage) runMigrations(ctx context.Context) error {
	if err := s.ensureMigrationsTable(ctx); err != nil {
		return errors.StorageError(errors.CodeMigrationFailed, "create schema_migrations", err)
	}

	applied, err := s.getAppliedMigrations(ctx)
	if err != nil {
		return errors.StorageError(errors.CodeMigrationFailed, "read schema_migrations", err)
	}

	for _, migration := range allMigrations {
		if applied[migration.Version] {
			continue
		}

		log := s.logger.WithFields(logger.Fields{"version": migration.Version, "name": migration.Name})
		log.Debug("Running migration")

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return errors.StorageError(errors.CodeMigrationFailed, migration.Name, err)
		}

		if err := migration.Up(tx); err != nil {
			_ = tx.Rollback()
			return errors.StorageError(errors.CodeMigrationFailed, migration.Name, err).
				WithContext("version", migration.Version)
		}

		if _, err := tx.Exec(`INSERT INTO schema_migrations (version, name) VALUES (?, ?)`,
			migration.Version, migration.Name); err != nil {
			_ = tx.Rollback()
			return errors.StorageError(errors.CodeMigrationFailed, migration.Name, err)
		}

		if err := tx.Commit(); err != nil {
			return errors.StorageError(errors.CodeMigrationFailed, migration.Name, err)
		}
		log.Info("Migration complete")
	}

	return nil
}

func (s *Storage) ensureMigrationsTable(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`)
	return err
}

func (s *Storage) getAppliedMigrations(ctx context.Context) (map[int]bool, error) {
	applied := make(map[int]bool)

	rows, err := s.db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}

	return applied, rows.Err()
}

// SchemaVersion returns the highest applied migration
func (s *Storage) SchemaVersion(ctx context.Context) (int, error) {
	var version sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_migrations`).Scan(&version); err != nil {
		return 0, errors.StorageError(errors.CodeQueryFailed, "schema version", err)
	}
	return int(version.Int64), nil
}

// Amounts are stored as decimal text so that they round-trip exactly.
func migration001InitialSchema(tx *sql.Tx) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			created_at TIMESTAMP NOT NULL,
			source TEXT,
			pool_limit INTEGER,
			pool_policy TEXT,
			groups_count INTEGER,
			failed_count INTEGER,
			duration_ms INTEGER
		)`,

		`CREATE TABLE IF NOT EXISTS group_results (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			source TEXT,
			period TEXT NOT NULL,
			segment TEXT NOT NULL,
			state TEXT NOT NULL,
			current_base TEXT NOT NULL,
			target TEXT,
			approximated_base TEXT NOT NULL,
			residual TEXT,
			status TEXT,
			result_json TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS returned_items (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			group_result_id INTEGER NOT NULL REFERENCES group_results(id) ON DELETE CASCADE,
			run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			period TEXT NOT NULL,
			segment TEXT NOT NULL,
			label TEXT NOT NULL,
			value TEXT NOT NULL,
			origin TEXT
		)`,

		`CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_group_results_run ON group_results(run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_group_results_segment ON group_results(segment, period)`,
		`CREATE INDEX IF NOT EXISTS idx_returned_items_segment ON returned_items(segment)`,
	}

	for _, query := range queries {
		if _, err := tx.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}
	return nil
}

// migration002AddLabelKey adds the normalized label used to group rubrics
// and backfills it for existing rows
func migration002AddLabelKey(tx *sql.Tx) error {
	if _, err := tx.Exec(`ALTER TABLE returned_items ADD COLUMN label_key TEXT NOT NULL DEFAULT ''`); err != nil {
		return fmt.Errorf("failed to add label_key: %w", err)
	}

	rows, err := tx.Query(`SELECT id, label FROM returned_items`)
	if err != nil {
		return err
	}
	type pending struct {
		id  int64
		key string
	}
	var updates []pending
	for rows.Next() {
		var id int64
		var label string
		if err := rows.Scan(&id, &label); err != nil {
			_ = rows.Close()
			return err
		}
		updates = append(updates, pending{id, classifier.Normalize(label)})
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, u := range updates {
		if _, err := tx.Exec(`UPDATE returned_items SET label_key = ? WHERE id = ?`, u.key, u.id); err != nil {
			return err
		}
	}

	_, err = tx.Exec(`CREATE INDEX IF NOT EXISTS idx_returned_items_label_key ON returned_items(segment, label_key)`)
	return err
}
