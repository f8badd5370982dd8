// Package storage keeps the history of reconciliation runs in SQLite.
//
// The history feeds the recurrence radar and the recurrence pool policy:
// rubrics that were returned into the base in many earlier periods are
// searched first when the candidate pool has to be truncated.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/internal/classifier"
	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/internal/models"
	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/internal/reconciler"
	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/pkg/errors"
	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/pkg/logger"
)

// Repository defines the history storage operations
type Repository interface {
	SaveRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, limit int) ([]*Run, error)
	ReturnedItems(ctx context.Context, segment models.Segment) ([]ReturnedItem, error)
	History(ctx context.Context, segment models.Segment) ([]*models.ReconciliationResult, error)
	Radar(ctx context.Context, segment models.Segment) ([]reconciler.RadarRow, error)
	Recurrence(ctx context.Context, segment models.Segment) (map[string]float64, error)
	Close() error
}

// Storage is the SQLite implementation of Repository
type Storage struct {
	db     *sql.DB
	logger logger.Logger
}

var (
	_ Repository                  = (*Storage)(nil)
	_ reconciler.RecurrenceSource = (*Storage)(nil)
)

// DefaultListLimit is used by ListRuns when limit is not positive
const DefaultListLimit = 50

// NewStorage opens (or creates) the database at dbPath and migrates it
func NewStorage(ctx context.Context, dbPath string) (*Storage, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, errors.StorageError(errors.CodeStorageUnavailable, "open", err).
			WithContext("path", dbPath)
	}
	// one connection keeps ":memory:" databases shared and avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, errors.StorageError(errors.CodeStorageUnavailable, "enable foreign keys", err).
			WithContext("path", dbPath)
	}

	s := &Storage{db: db, logger: logger.WithComponent("storage")}
	if err := s.runMigrations(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection
func (s *Storage) Close() error {
	return s.db.Close()
}

// SaveRun stores a run with its group results and returned items in one transaction
func (s *Storage) SaveRun(ctx context.Context, run *Run) error {
	if run == nil || run.ID == "" {
		return errors.ValidationError(errors.CodeMissingField, "run.id", nil, nil)
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.StorageError(errors.CodeStorageUnavailable, "save run", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
	INSERT INTO runs (id, created_at, source, pool_limit, pool_policy, groups_count, failed_count, duration_ms)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.CreatedAt, run.Source, run.PoolLimit, run.PoolPolicy,
		len(run.Results), run.Failed, run.Duration.Milliseconds(),
	)
	if err != nil {
		return errors.StorageError(errors.CodeQueryFailed, "insert run", err).WithContext("run_id", run.ID)
	}

	for _, r := range run.Results {
		payload, err := json.Marshal(r)
		if err != nil {
			return errors.InternalError(errors.CodeUnexpectedError, "encode result", err)
		}

		res, err := tx.ExecContext(ctx, `
		INSERT INTO group_results (run_id, source, period, segment, state, current_base, target,
		                           approximated_base, residual, status, result_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			run.ID, r.Group.Source, r.Group.Period, string(r.Group.Segment), string(r.State),
			r.CurrentBase.String(), nullDecimal(r.Target), r.ApproximatedBase.String(),
			nullDecimal(r.ResidualError), string(r.Status), string(payload),
		)
		if err != nil {
			return errors.StorageError(errors.CodeQueryFailed, "insert group result", err).
				WithContext("group", r.Group.String())
		}
		groupID, err := res.LastInsertId()
		if err != nil {
			return errors.StorageError(errors.CodeQueryFailed, "insert group result", err)
		}

		for _, c := range r.ChosenCandidates {
			_, err := tx.ExecContext(ctx, `
			INSERT INTO returned_items (group_result_id, run_id, period, segment, label, label_key, value, origin)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				groupID, run.ID, r.Group.Period, string(r.Group.Segment), c.Label,
				classifier.Normalize(c.Label), c.Value.String(), string(c.Origin),
			)
			if err != nil {
				return errors.StorageError(errors.CodeQueryFailed, "insert returned item", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.StorageError(errors.CodeQueryFailed, "commit run", err)
	}

	s.logger.WithFields(logger.Fields{
		"run_id": run.ID,
		"source": run.Source,
		"groups": len(run.Results),
	}).Info("Saved run")
	return nil
}

const runColumns = `id, created_at, source, pool_limit, pool_policy, groups_count, failed_count, duration_ms`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*Run, error) {
	run := &Run{}
	var source, policy sql.NullString
	var durationMS int64
	if err := row.Scan(&run.ID, &run.CreatedAt, &source, &run.PoolLimit, &policy,
		&run.Groups, &run.Failed, &durationMS); err != nil {
		return nil, err
	}
	run.Source = source.String
	run.PoolPolicy = policy.String
	run.Duration = time.Duration(durationMS) * time.Millisecond
	return run, nil
}

// GetRun loads a run with all its results
func (s *Storage) GetRun(ctx context.Context, id string) (*Run, error) {
	run, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.StorageError(errors.CodeNotFound, "get run", err).WithContext("run_id", id)
	}
	if err != nil {
		return nil, errors.StorageError(errors.CodeQueryFailed, "get run", err).WithContext("run_id", id)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT result_json FROM group_results WHERE run_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, errors.StorageError(errors.CodeQueryFailed, "get run results", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		run.Results = append(run.Results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.StorageError(errors.CodeQueryFailed, "get run results", err)
	}
	return run, nil
}

// ListRuns returns the most recent runs first, without their results
func (s *Storage) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.StorageError(errors.CodeQueryFailed, "list runs", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, errors.StorageError(errors.CodeQueryFailed, "list runs", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// ReturnedItems lists every returned item of a segment, oldest run first.
// An empty segment lists all segments.
func (s *Storage) ReturnedItems(ctx context.Context, segment models.Segment) ([]ReturnedItem, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT ri.run_id, r.created_at, r.source, ri.period, ri.segment, ri.label, ri.value, ri.origin
	FROM returned_items ri
	JOIN runs r ON r.id = ri.run_id
	WHERE ? = '' OR ri.segment = ?
	ORDER BY r.created_at, ri.id`, string(segment), string(segment))
	if err != nil {
		return nil, errors.StorageError(errors.CodeQueryFailed, "returned items", err)
	}
	defer func() { _ = rows.Close() }()

	var items []ReturnedItem
	for rows.Next() {
		var it ReturnedItem
		var source, origin sql.NullString
		var segmentText, value string
		if err := rows.Scan(&it.RunID, &it.CreatedAt, &source, &it.Period, &segmentText,
			&it.Label, &value, &origin); err != nil {
			return nil, errors.StorageError(errors.CodeQueryFailed, "returned items", err)
		}
		it.Source = source.String
		it.Segment = models.Segment(segmentText)
		it.Origin = models.Origin(origin.String)
		if it.Value, err = decimal.NewFromString(value); err != nil {
			return nil, errors.StorageError(errors.CodeQueryFailed, "returned items", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// History returns the latest stored result of every period of a segment, so a
// file reconciled twice counts once. An empty segment covers all segments.
func (s *Storage) History(ctx context.Context, segment models.Segment) ([]*models.ReconciliationResult, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT g.result_json
	FROM group_results g
	JOIN runs r ON r.id = g.run_id
	WHERE ? = '' OR g.segment = ?
	ORDER BY r.created_at DESC, r.rowid DESC, g.id DESC`, string(segment), string(segment))
	if err != nil {
		return nil, errors.StorageError(errors.CodeQueryFailed, "history", err)
	}
	defer func() { _ = rows.Close() }()

	type periodKey struct {
		segment models.Segment
		period  string
	}
	seen := make(map[periodKey]bool)
	var latest []*models.ReconciliationResult
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		k := periodKey{r.Group.Segment, r.Group.Period}
		if seen[k] {
			continue
		}
		seen[k] = true
		latest = append(latest, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.StorageError(errors.CodeQueryFailed, "history", err)
	}

	// oldest first
	for i, j := 0, len(latest)-1; i < j; i, j = i+1, j-1 {
		latest[i], latest[j] = latest[j], latest[i]
	}
	return latest, nil
}

// Radar computes the recurrence radar over the stored history
func (s *Storage) Radar(ctx context.Context, segment models.Segment) ([]reconciler.RadarRow, error) {
	results, err := s.History(ctx, segment)
	if err != nil {
		return nil, err
	}
	return reconciler.Radar(results, reconciler.ReturnedImpacts(results)), nil
}

// Recurrence implements reconciler.RecurrenceSource
func (s *Storage) Recurrence(ctx context.Context, segment models.Segment) (map[string]float64, error) {
	rows, err := s.Radar(ctx, segment)
	if err != nil {
		return nil, err
	}
	return reconciler.RecurrenceBySegment(rows)[segment], nil
}

func scanResult(row rowScanner) (*models.ReconciliationResult, error) {
	var payload string
	if err := row.Scan(&payload); err != nil {
		return nil, errors.StorageError(errors.CodeQueryFailed, "scan result", err)
	}
	r := &models.ReconciliationResult{}
	if err := json.Unmarshal([]byte(payload), r); err != nil {
		return nil, errors.StorageError(errors.CodeQueryFailed, "decode result", err)
	}
	return r, nil
}

func nullDecimal(d *decimal.Decimal) interface{} {
	if d == nil {
		return nil
	}
	return d.String()
}
