// Package runstore provides SQLite-based storage of optimization runs: the
// parameters, the loss trajectory and the final phase field.
package runstore

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/bob-anderson-ok/expanderholo/holo"
)

// ErrNotFound is returned when no run has the requested id.
var ErrNotFound = errors.New("run not found")

// TimeLayout is the stored form of created_at. It is fixed width so that
// ordering the text orders the instants.
const TimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Timestamp formats t in TimeLayout, in UTC.
func Timestamp(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// Run is one stored optimization run.
type Run struct {
	ID             string          `db:"id"`
	Title          string          `db:"title"`
	CreatedAt      string          `db:"created_at"` // TimeLayout, UTC
	ImagePath      string          `db:"image_path"`
	Channel        string          `db:"channel"`
	ExpanderPreset string          `db:"expander_preset"`
	Rows           int             `db:"n_rows"`
	Cols           int             `db:"n_cols"`
	Upsample       int             `db:"upsample"`
	Batch          int             `db:"batch"`
	Iterations     int             `db:"iterations"`
	LearningRate   float64         `db:"learning_rate"`
	PassFraction   float64         `db:"pass_fraction"`
	FilterOrder    int             `db:"filter_order"`
	Seed           int64           `db:"seed"`
	PadRows        int             `db:"pad_rows"`
	PadCols        int             `db:"pad_cols"`
	DurationMs     int64           `db:"duration_ms"`
	Final          sql.NullFloat64 `db:"final_loss"`
}

// FinalLoss returns the stored final loss, NaN when the run diverged.
func (r *Run) FinalLoss() float64 {
	if !r.Final.Valid {
		return math.NaN()
	}
	return r.Final.Float64
}

// DB wraps a SQLite connection for run history.
type DB struct {
	conn *sqlx.DB
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		created_at TEXT NOT NULL,
		image_path TEXT NOT NULL,
		channel TEXT NOT NULL,
		expander_preset TEXT NOT NULL,
		n_rows INTEGER NOT NULL,
		n_cols INTEGER NOT NULL,
		upsample INTEGER NOT NULL,
		batch INTEGER NOT NULL,
		iterations INTEGER NOT NULL,
		learning_rate REAL NOT NULL,
		pass_fraction REAL NOT NULL,
		filter_order INTEGER NOT NULL,
		seed INTEGER NOT NULL,
		pad_rows INTEGER NOT NULL,
		pad_cols INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		final_loss REAL
	);

	CREATE TABLE IF NOT EXISTS losses (
		run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		iteration INTEGER NOT NULL,
		loss REAL,
		PRIMARY KEY (run_id, iteration)
	);

	CREATE TABLE IF NOT EXISTS phases (
		run_id TEXT PRIMARY KEY REFERENCES runs(id) ON DELETE CASCADE,
		batch INTEGER NOT NULL,
		n_rows INTEGER NOT NULL,
		n_cols INTEGER NOT NULL,
		data BLOB NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// nullable stores NaN as NULL; SQLite has no NaN.
func nullable(v float64) sql.NullFloat64 {
	if math.IsNaN(v) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

// SaveRun stores run with its loss trajectory and final phase in one
// transaction. An empty ID is replaced with a new UUID; the id is returned.
// CreatedAt may be any RFC 3339 time and is rewritten in TimeLayout.
func (db *DB) SaveRun(ctx context.Context, run *Run, losses []float64, phase holo.PhaseField) (string, error) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.CreatedAt == "" {
		run.CreatedAt = Timestamp(time.Now())
	} else {
		t, err := time.Parse(time.RFC3339Nano, run.CreatedAt)
		if err != nil {
			return "", fmt.Errorf("created_at: %w", err)
		}
		run.CreatedAt = Timestamp(t)
	}
	if len(losses) > 0 {
		run.Final = nullable(losses[len(losses)-1])
	}

	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO runs (id, title, created_at, image_path, channel, expander_preset,
			n_rows, n_cols, upsample, batch, iterations, learning_rate, pass_fraction,
			filter_order, seed, pad_rows, pad_cols, duration_ms, final_loss)
		VALUES (:id, :title, :created_at, :image_path, :channel, :expander_preset,
			:n_rows, :n_cols, :upsample, :batch, :iterations, :learning_rate, :pass_fraction,
			:filter_order, :seed, :pad_rows, :pad_cols, :duration_ms, :final_loss)`, run)
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}

	stmt, err := tx.PreparexContext(ctx, "INSERT INTO losses (run_id, iteration, loss) VALUES (?, ?, ?)")
	if err != nil {
		return "", err
	}
	defer stmt.Close()
	for i, l := range losses {
		if _, err := stmt.ExecContext(ctx, run.ID, i, nullable(l)); err != nil {
			return "", fmt.Errorf("insert loss %d: %w", i, err)
		}
	}

	if phase != nil {
		b, rows, cols := phase.Dims()
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO phases (run_id, batch, n_rows, n_cols, data) VALUES (?, ?, ?, ?, ?)",
			run.ID, b, rows, cols, encodePhase(phase),
		); err != nil {
			return "", fmt.Errorf("insert phase: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	slog.Info("run saved", "id", run.ID, "iterations", len(losses))
	return run.ID, nil
}

// GetRun returns the stored parameters of run id.
func (db *DB) GetRun(ctx context.Context, id string) (*Run, error) {
	var run Run
	err := db.conn.GetContext(ctx, &run, "SELECT * FROM runs WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// Losses returns the loss trajectory of run id in iteration order. Diverged
// iterations come back as NaN.
func (db *DB) Losses(ctx context.Context, id string) ([]float64, error) {
	var rows []sql.NullFloat64
	if err := db.conn.SelectContext(ctx, &rows,
		"SELECT loss FROM losses WHERE run_id = ? ORDER BY iteration", id,
	); err != nil {
		return nil, err
	}
	out := make([]float64, len(rows))
	for i, r := range rows {
		out[i] = math.NaN()
		if r.Valid {
			out[i] = r.Float64
		}
	}
	return out, nil
}

// Phase returns the final phase field of run id.
func (db *DB) Phase(ctx context.Context, id string) (holo.PhaseField, error) {
	var row struct {
		Batch int    `db:"batch"`
		Rows  int    `db:"n_rows"`
		Cols  int    `db:"n_cols"`
		Data  []byte `db:"data"`
	}
	err := db.conn.GetContext(ctx, &row, "SELECT batch, n_rows, n_cols, data FROM phases WHERE run_id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no phase for %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return decodePhase(row.Data, row.Batch, row.Rows, row.Cols)
}

// ListRuns returns the most recent runs, newest first.
func (db *DB) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	var runs []Run
	err := db.conn.SelectContext(ctx, &runs,
		"SELECT * FROM runs ORDER BY created_at DESC LIMIT ?", limit,
	)
	return runs, err
}

// DeleteRun removes run id with its losses and phase.
func (db *DB) DeleteRun(ctx context.Context, id string) error {
	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, q := range []string{
		"DELETE FROM losses WHERE run_id = ?",
		"DELETE FROM phases WHERE run_id = ?",
	} {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return err
		}
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM runs WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return tx.Commit()
}

// encodePhase packs the field as little-endian float64 in batch, row, col order.
func encodePhase(f holo.PhaseField) []byte {
	b, rows, cols := f.Dims()
	buf := make([]byte, 0, 8*b*rows*cols)
	for _, plane := range f {
		for _, row := range plane {
			for _, v := range row {
				buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v))
			}
		}
	}
	return buf
}

func decodePhase(data []byte, batch, rows, cols int) (holo.PhaseField, error) {
	if batch < 0 || rows < 0 || cols < 0 || len(data) != 8*batch*rows*cols {
		return nil, fmt.Errorf("%w: phase blob of %d bytes for %dx%dx%d", holo.ErrShapeMismatch, len(data), batch, rows, cols)
	}
	f := make(holo.PhaseField, batch)
	k := 0
	for i := range f {
		f[i] = holo.NewPlane(rows, cols)
		for y := range f[i] {
			for x := range f[i][y] {
				f[i][y][x] = math.Float64frombits(binary.LittleEndian.Uint64(data[k:]))
				k += 8
			}
		}
	}
	return f, nil
}
