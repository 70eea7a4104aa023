// Package trialsql stores the trials of an experiment in a SQLite file so several
// processes on one host can share a search. Writes that read-then-modify run inside
// BEGIN IMMEDIATE transactions.
package trialsql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // SQLite driver (pure Go)

	"github.com/kailas-cloud/tuner/internal/domain"
)

const busyTimeout = 5 * time.Second

// Repo implements the trial store on SQLite.
type Repo struct {
	db  *sqlx.DB
	now func() time.Time
}

// Open opens (creating if needed) the database at path and applies migrations.
// ":memory:" gives a private in-process database.
func Open(path string) (*Repo, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	db, err := sqlx.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if path == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	if err := migrateUp(db.DB); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repo{db: db, now: time.Now}, nil
}

func dsn(path string) string {
	params := []string{
		fmt.Sprintf("_pragma=busy_timeout(%d)", busyTimeout.Milliseconds()),
		"_txlock=immediate",
	}
	if path != ":memory:" {
		params = append(params, "_pragma=journal_mode(WAL)")
	}
	return "file:" + path + "?" + strings.Join(params, "&")
}

// Ping checks the database handle.
func (r *Repo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close releases the database handle.
func (r *Repo) Close() error {
	return r.db.Close()
}

// Insert appends a new trial. Fails with domain.ErrBudgetExhausted once the experiment
// holds maxEvals trials.
func (r *Repo) Insert(ctx context.Context, exp string, p domain.Proposal, maxEvals int) (domain.Trial, error) {
	assignment, err := json.Marshal(p.Assignment)
	if err != nil {
		return domain.Trial{}, fmt.Errorf("marshal assignment: %w", err)
	}
	vector, err := json.Marshal(p.Vector)
	if err != nil {
		return domain.Trial{}, fmt.Errorf("marshal vector: %w", err)
	}

	t := domain.Trial{
		ExpKey:     exp,
		State:      domain.TrialNew,
		Assignment: p.Assignment,
		Vector:     p.Vector,
		CreatedAt:  r.now().UTC(),
	}
	err = r.inTx(ctx, func(tx *sqlx.Tx) error {
		var n int64
		if err := tx.GetContext(ctx, &n, `SELECT COALESCE(MAX(id), 0) FROM trials WHERE exp_key = ?`, exp); err != nil {
			return fmt.Errorf("count trials: %w", err)
		}
		if n >= int64(maxEvals) {
			return domain.ErrBudgetExhausted
		}
		t.ID = n + 1
		_, err := tx.ExecContext(ctx, `
			INSERT INTO trials (exp_key, id, state, assignment, vector, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			exp, t.ID, string(domain.TrialNew), string(assignment), string(vector), formatTime(t.CreatedAt))
		if err != nil {
			return fmt.Errorf("insert trial: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.Trial{}, err
	}
	return t, nil
}

// Claim moves the oldest pending trial to running under owner.
// Fails with domain.ErrNoPendingTrial when nothing is pending.
func (r *Repo) Claim(ctx context.Context, exp, owner string) (domain.Trial, error) {
	var row trialRow
	err := r.inTx(ctx, func(tx *sqlx.Tx) error {
		var id int64
		err := tx.GetContext(ctx, &id,
			`SELECT id FROM trials WHERE exp_key = ? AND state = ? ORDER BY id LIMIT 1`,
			exp, string(domain.TrialNew))
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrNoPendingTrial
		}
		if err != nil {
			return fmt.Errorf("select pending: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE trials SET state = ?, owner = ?, started_at = ? WHERE exp_key = ? AND id = ?`,
			string(domain.TrialRunning), owner, formatTime(r.now()), exp, id)
		if err != nil {
			return fmt.Errorf("mark running: %w", err)
		}
		if err := tx.GetContext(ctx, &row, selectTrials+` WHERE exp_key = ? AND id = ?`, exp, id); err != nil {
			return fmt.Errorf("reload trial: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.Trial{}, err
	}
	return row.toDomain()
}

// Complete records the outcome of a running trial.
func (r *Repo) Complete(ctx context.Context, exp string, id int64, o domain.Outcome) error {
	if o.Finished.IsZero() {
		o.Finished = r.now()
	}
	state, loss, kind, msg := domain.TrialDone, sql.NullFloat64{Float64: o.Loss, Valid: true}, "", ""
	if o.Failed() {
		state, loss = domain.TrialErrored, sql.NullFloat64{}
		kind, msg = string(domain.TrialErrorKindOf(o.Err)), o.Err.Error()
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE trials SET state = ?, loss = ?, error_kind = ?, error = ?, finished_at = ?
		WHERE exp_key = ? AND id = ? AND state = ?`,
		string(state), loss, kind, msg, formatTime(o.Finished), exp, id, string(domain.TrialRunning))
	if err != nil {
		return fmt.Errorf("complete trial %s/%d: %w", exp, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("complete trial %s/%d: %w", exp, id, err)
	}
	if n == 0 {
		return domain.ErrTrialNotFound
	}
	return nil
}

// Release returns a running trial to the pending state so another worker can claim it.
// Claims take the lowest pending id, so a released trial is picked up first.
func (r *Repo) Release(ctx context.Context, exp string, id int64) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE trials SET state = ?, owner = '', started_at = ''
		WHERE exp_key = ? AND id = ? AND state = ?`,
		string(domain.TrialNew), exp, id, string(domain.TrialRunning))
	if err != nil {
		return fmt.Errorf("release trial %s/%d: %w", exp, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("release trial %s/%d: %w", exp, id, err)
	}
	if n == 0 {
		return domain.ErrTrialNotFound
	}
	return nil
}

// List returns every trial of the experiment ordered by id.
func (r *Repo) List(ctx context.Context, exp string) ([]domain.Trial, error) {
	var rows []trialRow
	if err := r.db.SelectContext(ctx, &rows, selectTrials+` WHERE exp_key = ? ORDER BY id`, exp); err != nil {
		return nil, fmt.Errorf("list trials %s: %w", exp, err)
	}
	trials := make([]domain.Trial, 0, len(rows))
	for i := range rows {
		t, err := rows[i].toDomain()
		if err != nil {
			return nil, fmt.Errorf("parse trial %s/%d: %w", exp, rows[i].ID, err)
		}
		trials = append(trials, t)
	}
	return trials, nil
}

// Reset deletes every trial of the experiment.
func (r *Repo) Reset(ctx context.Context, exp string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM trials WHERE exp_key = ?`, exp); err != nil {
		return fmt.Errorf("reset experiment %s: %w", exp, err)
	}
	return nil
}

func (r *Repo) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		return errors.Join(err, tx.Rollback())
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
