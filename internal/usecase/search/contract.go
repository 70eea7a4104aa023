package search

import (
	"context"

	"github.com/kailas-cloud/tuner/internal/domain"
	"github.com/kailas-cloud/tuner/internal/domain/space"
)

// TrialStore is the shared trial store of an experiment.
type TrialStore interface {
	Insert(ctx context.Context, exp string, p domain.Proposal, maxEvals int) (domain.Trial, error)
	Claim(ctx context.Context, exp, owner string) (domain.Trial, error)
	Complete(ctx context.Context, exp string, id int64, o domain.Outcome) error
	// Release returns a running trial to the pending queue.
	Release(ctx context.Context, exp string, id int64) error
	List(ctx context.Context, exp string) ([]domain.Trial, error)
}

// Optimizer proposes the next assignment from the trial history.
type Optimizer interface {
	Suggest(s *space.Space, history []domain.Trial) domain.Proposal
}

// Objective scores one assignment.
type Objective interface {
	Evaluate(ctx context.Context, a domain.Assignment) (float64, error)
}
