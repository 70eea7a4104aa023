// Package trial stores the trials of an experiment in Redis.
//
// Layout per experiment: tuner:{exp}:seq (INCR counter and trial count),
// tuner:{exp}:pending (list of unclaimed ids), tuner:{exp}:trial:{id} (hash).
package trial

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/kailas-cloud/tuner/internal/db"
	"github.com/kailas-cloud/tuner/internal/domain"
)

const keyPrefix = "tuner:"

// store is the consumer interface for trials (ISP).
type store interface {
	Ping(ctx context.Context) error
	Get(ctx context.Context, key string) ([]byte, error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HGetAllMulti(ctx context.Context, keys []string) ([]map[string]string, error)
	Del(ctx context.Context, keys ...string) error
	Scan(ctx context.Context, pattern string) ([]string, error)
	EvalInt(ctx context.Context, s *db.Script, keys, args []string) (int64, error)
}

// Repo implements the trial store on Redis.
type Repo struct {
	store store
	now   func() time.Time
}

// New creates a trial repository.
func New(s store) *Repo {
	return &Repo{store: s, now: time.Now}
}

// Ping checks that Redis is reachable.
func (r *Repo) Ping(ctx context.Context) error {
	return r.store.Ping(ctx)
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

	created := r.now().UTC()
	id, err := r.store.EvalInt(ctx, insertScript,
		[]string{seqKey(exp), pendingKey(exp)},
		[]string{strconv.Itoa(maxEvals), trialPrefix(exp), exp, string(assignment), string(vector), formatTime(created)},
	)
	if err != nil {
		return domain.Trial{}, fmt.Errorf("insert trial %s: %w", exp, err)
	}
	if id < 0 {
		return domain.Trial{}, domain.ErrBudgetExhausted
	}

	return domain.Trial{
		ID:         id,
		ExpKey:     exp,
		State:      domain.TrialNew,
		Assignment: p.Assignment,
		Vector:     p.Vector,
		CreatedAt:  created,
	}, nil
}

// Claim moves the oldest pending trial to running under owner.
// Fails with domain.ErrNoPendingTrial when nothing is pending.
func (r *Repo) Claim(ctx context.Context, exp, owner string) (domain.Trial, error) {
	id, err := r.store.EvalInt(ctx, claimScript,
		[]string{pendingKey(exp)},
		[]string{trialPrefix(exp), owner, formatTime(r.now())},
	)
	if err != nil {
		return domain.Trial{}, fmt.Errorf("claim trial %s: %w", exp, err)
	}
	if id < 0 {
		return domain.Trial{}, domain.ErrNoPendingTrial
	}

	m, err := r.store.HGetAll(ctx, trialKey(exp, id))
	if err != nil {
		return domain.Trial{}, fmt.Errorf("hgetall trial %s/%d: %w", exp, id, err)
	}
	if len(m) == 0 {
		return domain.Trial{}, domain.ErrTrialNotFound
	}
	return trialFromHash(m)
}

// Complete records the outcome of a running trial.
func (r *Repo) Complete(ctx context.Context, exp string, id int64, o domain.Outcome) error {
	if o.Finished.IsZero() {
		o.Finished = r.now()
	}
	ok, err := r.store.EvalInt(ctx, completeScript, []string{trialKey(exp, id)}, outcomeArgs(o))
	if err != nil {
		return fmt.Errorf("complete trial %s/%d: %w", exp, id, err)
	}
	if ok == 0 {
		return domain.ErrTrialNotFound
	}
	return nil
}

// Release returns a running trial to the pending queue so another worker can claim it.
func (r *Repo) Release(ctx context.Context, exp string, id int64) error {
	ok, err := r.store.EvalInt(ctx, releaseScript,
		[]string{trialKey(exp, id), pendingKey(exp)},
		[]string{strconv.FormatInt(id, 10)},
	)
	if err != nil {
		return fmt.Errorf("release trial %s/%d: %w", exp, id, err)
	}
	if ok == 0 {
		return domain.ErrTrialNotFound
	}
	return nil
}

// List returns every trial of the experiment ordered by id.
func (r *Repo) List(ctx context.Context, exp string) ([]domain.Trial, error) {
	n, err := r.count(ctx, exp)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return []domain.Trial{}, nil
	}

	keys := make([]string, n)
	for i := range keys {
		keys[i] = trialKey(exp, int64(i+1))
	}
	results, err := r.store.HGetAllMulti(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("hgetall multi trials %s: %w", exp, err)
	}

	trials := make([]domain.Trial, 0, len(results))
	for i, m := range results {
		if len(m) == 0 {
			continue
		}
		t, err := trialFromHash(m)
		if err != nil {
			return nil, fmt.Errorf("parse trial %s: %w", keys[i], err)
		}
		trials = append(trials, t)
	}
	return trials, nil
}

// Reset deletes every key of the experiment.
func (r *Repo) Reset(ctx context.Context, exp string) error {
	if err := domain.ValidateExpKey(exp); err != nil {
		return err
	}
	keys, err := r.store.Scan(ctx, expPrefix(exp)+"*")
	if err != nil {
		return fmt.Errorf("scan experiment %s: %w", exp, err)
	}
	if err := r.store.Del(ctx, keys...); err != nil {
		return fmt.Errorf("del experiment %s: %w", exp, err)
	}
	return nil
}

func (r *Repo) count(ctx context.Context, exp string) (int, error) {
	data, err := r.store.Get(ctx, seqKey(exp))
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("get trial count %s: %w", exp, err)
	}
	n, err := strconv.Atoi(string(data))
	if err != nil {
		return 0, fmt.Errorf("invalid trial count %q: %w", data, err)
	}
	return n, nil
}

func expPrefix(exp string) string {
	return fmt.Sprintf("%s{%s}:", keyPrefix, exp)
}

func seqKey(exp string) string {
	return expPrefix(exp) + "seq"
}

func pendingKey(exp string) string {
	return expPrefix(exp) + "pending"
}

func trialPrefix(exp string) string {
	return expPrefix(exp) + "trial:"
}

func trialKey(exp string, id int64) string {
	return trialPrefix(exp) + strconv.FormatInt(id, 10)
}
