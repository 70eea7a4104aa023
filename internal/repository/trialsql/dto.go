package trialsql

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kailas-cloud/tuner/internal/domain"
)

const selectTrials = `
	SELECT exp_key, id, state, assignment, vector, loss, error_kind, error, owner,
	       created_at, started_at, finished_at
	FROM trials`

// trialRow is one row of the trials table.
type trialRow struct {
	ExpKey     string          `db:"exp_key"`
	ID         int64           `db:"id"`
	State      string          `db:"state"`
	Assignment string          `db:"assignment"`
	Vector     string          `db:"vector"`
	Loss       sql.NullFloat64 `db:"loss"`
	ErrorKind  string          `db:"error_kind"`
	Error      string          `db:"error"`
	Owner      string          `db:"owner"`
	CreatedAt  string          `db:"created_at"`
	StartedAt  string          `db:"started_at"`
	FinishedAt string          `db:"finished_at"`
}

func (r *trialRow) toDomain() (domain.Trial, error) {
	t := domain.Trial{
		ID:        r.ID,
		ExpKey:    r.ExpKey,
		State:     domain.TrialState(r.State),
		Loss:      r.Loss.Float64,
		ErrorKind: domain.TrialErrorKind(r.ErrorKind),
		Error:     r.Error,
		Owner:     r.Owner,
	}
	if err := json.Unmarshal([]byte(r.Assignment), &t.Assignment); err != nil {
		return domain.Trial{}, fmt.Errorf("unmarshal assignment: %w", err)
	}
	if err := json.Unmarshal([]byte(r.Vector), &t.Vector); err != nil {
		return domain.Trial{}, fmt.Errorf("unmarshal vector: %w", err)
	}

	var err error
	if t.CreatedAt, err = parseTime(r.CreatedAt); err != nil {
		return domain.Trial{}, err
	}
	if t.StartedAt, err = parseTime(r.StartedAt); err != nil {
		return domain.Trial{}, err
	}
	if t.FinishedAt, err = parseTime(r.FinishedAt); err != nil {
		return domain.Trial{}, err
	}
	return t, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t, nil
}
