// Package trialmem keeps trials in process memory. Suitable for a single process with
// one or more in-process workers.
package trialmem

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/kailas-cloud/tuner/internal/domain"
)

type experiment struct {
	trials  []domain.Trial
	pending []int64
}

// Repo implements the trial store in memory.
type Repo struct {
	mu   sync.Mutex
	exps map[string]*experiment
	now  func() time.Time
}

// New creates an empty store.
func New() *Repo {
	return &Repo{exps: make(map[string]*experiment), now: time.Now}
}

// Ping always succeeds.
func (r *Repo) Ping(context.Context) error { return nil }

// Insert appends a new trial. Fails with domain.ErrBudgetExhausted once the experiment
// holds maxEvals trials.
func (r *Repo) Insert(_ context.Context, exp string, p domain.Proposal, maxEvals int) (domain.Trial, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.exp(exp)
	if len(e.trials) >= maxEvals {
		return domain.Trial{}, domain.ErrBudgetExhausted
	}
	t := domain.Trial{
		ID:         int64(len(e.trials) + 1),
		ExpKey:     exp,
		State:      domain.TrialNew,
		Assignment: slices.Clone(p.Assignment),
		Vector:     slices.Clone(p.Vector),
		CreatedAt:  r.now().UTC(),
	}
	e.trials = append(e.trials, t)
	e.pending = append(e.pending, t.ID)
	return clone(t), nil
}

// Claim moves the oldest pending trial to running under owner.
func (r *Repo) Claim(_ context.Context, exp, owner string) (domain.Trial, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.exp(exp)
	if len(e.pending) == 0 {
		return domain.Trial{}, domain.ErrNoPendingTrial
	}
	id := e.pending[0]
	e.pending = e.pending[1:]

	t := &e.trials[id-1]
	t.State = domain.TrialRunning
	t.Owner = owner
	t.StartedAt = r.now().UTC()
	return clone(*t), nil
}

// Complete records the outcome of a running trial.
func (r *Repo) Complete(_ context.Context, exp string, id int64, o domain.Outcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.exp(exp)
	if id < 1 || id > int64(len(e.trials)) || e.trials[id-1].State != domain.TrialRunning {
		return domain.ErrTrialNotFound
	}
	t := &e.trials[id-1]
	t.FinishedAt = o.Finished
	if t.FinishedAt.IsZero() {
		t.FinishedAt = r.now()
	}
	t.FinishedAt = t.FinishedAt.UTC()
	if o.Failed() {
		t.State = domain.TrialErrored
		t.ErrorKind = domain.TrialErrorKindOf(o.Err)
		t.Error = o.Err.Error()
		return nil
	}
	t.State = domain.TrialDone
	t.Loss = o.Loss
	return nil
}

// Release puts a running trial back at the head of the pending queue.
func (r *Repo) Release(_ context.Context, exp string, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.exp(exp)
	if id < 1 || id > int64(len(e.trials)) || e.trials[id-1].State != domain.TrialRunning {
		return domain.ErrTrialNotFound
	}
	t := &e.trials[id-1]
	t.State = domain.TrialNew
	t.Owner = ""
	t.StartedAt = time.Time{}
	e.pending = append([]int64{id}, e.pending...)
	return nil
}

// List returns a snapshot of every trial of the experiment ordered by id.
func (r *Repo) List(_ context.Context, exp string) ([]domain.Trial, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.exps[exp]
	if !ok {
		return []domain.Trial{}, nil
	}
	out := make([]domain.Trial, len(e.trials))
	for i := range e.trials {
		out[i] = clone(e.trials[i])
	}
	return out, nil
}

// Reset forgets the experiment.
func (r *Repo) Reset(_ context.Context, exp string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.exps, exp)
	return nil
}

func (r *Repo) exp(key string) *experiment {
	e, ok := r.exps[key]
	if !ok {
		e = &experiment{}
		r.exps[key] = e
	}
	return e
}

func clone(t domain.Trial) domain.Trial {
	t.Assignment = slices.Clone(t.Assignment)
	t.Vector = slices.Clone(t.Vector)
	return t
}
