// Package trialtest holds behavior tests shared by every trial store backend.
package trialtest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kailas-cloud/tuner/internal/domain"
)

// Store is the trial store surface exercised by Run.
type Store interface {
	Insert(ctx context.Context, exp string, p domain.Proposal, maxEvals int) (domain.Trial, error)
	Claim(ctx context.Context, exp, owner string) (domain.Trial, error)
	Complete(ctx context.Context, exp string, id int64, o domain.Outcome) error
	Release(ctx context.Context, exp string, id int64) error
	List(ctx context.Context, exp string) ([]domain.Trial, error)
	Reset(ctx context.Context, exp string) error
}

// Run executes the shared suite. newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) Store) {
	t.Helper()

	t.Run("InsertAndList", func(t *testing.T) { testInsertAndList(t, newStore(t)) })
	t.Run("Budget", func(t *testing.T) { testBudget(t, newStore(t)) })
	t.Run("ClaimFIFO", func(t *testing.T) { testClaimFIFO(t, newStore(t)) })
	t.Run("Complete", func(t *testing.T) { testComplete(t, newStore(t)) })
	t.Run("CompleteRequiresRunning", func(t *testing.T) { testCompleteRequiresRunning(t, newStore(t)) })
	t.Run("Release", func(t *testing.T) { testRelease(t, newStore(t)) })
	t.Run("Isolation", func(t *testing.T) { testIsolation(t, newStore(t)) })
	t.Run("Reset", func(t *testing.T) { testReset(t, newStore(t)) })
	t.Run("ConcurrentClaims", func(t *testing.T) { testConcurrentClaims(t, newStore(t)) })
	t.Run("ConcurrentInserts", func(t *testing.T) { testConcurrentInserts(t, newStore(t)) })
}

// Proposal builds a one-parameter proposal.
func Proposal(lr float64) domain.Proposal {
	return domain.Proposal{
		Assignment: domain.Assignment{
			{Name: "lr", Value: domain.Float(lr)},
			{Name: "optimizer", Value: domain.String("sgd")},
			{Name: "layers", Value: domain.Int(3)},
		},
		Vector: []float64{lr, 1, 0.5},
	}
}

func testInsertAndList(t *testing.T, s Store) {
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		tr, err := s.Insert(ctx, "exp", Proposal(float64(i)/10), 10)
		if err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
		if tr.ID != int64(i) {
			t.Errorf("expected id %d, got %d", i, tr.ID)
		}
		if tr.State != domain.TrialNew {
			t.Errorf("expected state new, got %s", tr.State)
		}
	}

	trials, err := s.List(ctx, "exp")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(trials) != 3 {
		t.Fatalf("expected 3 trials, got %d", len(trials))
	}
	for i, tr := range trials {
		if tr.ID != int64(i+1) {
			t.Errorf("trial %d has id %d", i, tr.ID)
		}
		if tr.ExpKey != "exp" {
			t.Errorf("trial %d has exp key %q", i, tr.ExpKey)
		}
		if tr.CreatedAt.IsZero() {
			t.Errorf("trial %d has no created_at", i)
		}
		want := Proposal(float64(i+1) / 10)
		if len(tr.Assignment) != len(want.Assignment) {
			t.Fatalf("trial %d assignment %v", i, tr.Assignment)
		}
		for j := range want.Assignment {
			got := tr.Assignment[j]
			if got.Name != want.Assignment[j].Name || !got.Value.Equal(want.Assignment[j].Value) {
				t.Errorf("trial %d param %d: got %s=%v", i, j, got.Name, got.Value)
			}
		}
		if len(tr.Vector) != 3 || tr.Vector[0] != want.Vector[0] {
			t.Errorf("trial %d vector %v", i, tr.Vector)
		}
	}

	empty, err := s.List(ctx, "other")
	if err != nil {
		t.Fatalf("list empty: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("expected no trials, got %d", len(empty))
	}
}

func testBudget(t *testing.T, s Store) {
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := s.Insert(ctx, "exp", Proposal(0.1), 2); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}
	if _, err := s.Insert(ctx, "exp", Proposal(0.1), 2); !errors.Is(err, domain.ErrBudgetExhausted) {
		t.Fatalf("expected ErrBudgetExhausted, got %v", err)
	}
	trials, err := s.List(ctx, "exp")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(trials) != 2 {
		t.Errorf("expected 2 trials, got %d", len(trials))
	}
}

func testClaimFIFO(t *testing.T, s Store) {
	ctx := context.Background()

	if _, err := s.Claim(ctx, "exp", "w1"); !errors.Is(err, domain.ErrNoPendingTrial) {
		t.Fatalf("expected ErrNoPendingTrial, got %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := s.Insert(ctx, "exp", Proposal(0.1), 10); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	first, err := s.Claim(ctx, "exp", "w1")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if first.ID != 1 || first.State != domain.TrialRunning || first.Owner != "w1" {
		t.Errorf("unexpected claim: %+v", first)
	}
	if first.StartedAt.IsZero() {
		t.Error("expected started_at")
	}
	if len(first.Assignment) != 3 {
		t.Errorf("claimed trial lost its assignment: %v", first.Assignment)
	}

	second, err := s.Claim(ctx, "exp", "w2")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if second.ID != 2 || second.Owner != "w2" {
		t.Errorf("unexpected claim: %+v", second)
	}

	if _, err := s.Claim(ctx, "exp", "w1"); !errors.Is(err, domain.ErrNoPendingTrial) {
		t.Fatalf("expected ErrNoPendingTrial, got %v", err)
	}
}

func testComplete(t *testing.T, s Store) {
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := s.Insert(ctx, "exp", Proposal(0.1), 10); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	a, _ := s.Claim(ctx, "exp", "w")
	b, _ := s.Claim(ctx, "exp", "w")

	finished := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := s.Complete(ctx, "exp", a.ID, domain.Outcome{Loss: -0.25, Finished: finished}); err != nil {
		t.Fatalf("complete ok: %v", err)
	}
	failure := domain.NewTrialError(domain.TrialErrorParse, domain.PhaseEval, fmt.Errorf("got %q", "abc"))
	if err := s.Complete(ctx, "exp", b.ID, domain.Outcome{Err: failure, Finished: finished}); err != nil {
		t.Fatalf("complete failure: %v", err)
	}

	trials, err := s.List(ctx, "exp")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(trials) != 2 {
		t.Fatalf("expected 2 trials, got %d", len(trials))
	}
	done, failed := trials[0], trials[1]
	if done.State != domain.TrialDone || done.Loss != -0.25 {
		t.Errorf("unexpected done trial: %+v", done)
	}
	if !done.FinishedAt.Equal(finished) {
		t.Errorf("finished_at = %v", done.FinishedAt)
	}
	if failed.State != domain.TrialErrored || failed.ErrorKind != domain.TrialErrorParse {
		t.Errorf("unexpected failed trial: %+v", failed)
	}
	if failed.Error == "" {
		t.Error("expected error message")
	}

	best, ok := domain.Best(trials)
	if !ok || best.ID != a.ID {
		t.Errorf("unexpected best %+v", best)
	}
}

func testCompleteRequiresRunning(t *testing.T, s Store) {
	ctx := context.Background()
	if err := s.Complete(ctx, "exp", 42, domain.Outcome{Loss: 1}); !errors.Is(err, domain.ErrTrialNotFound) {
		t.Fatalf("expected ErrTrialNotFound for missing trial, got %v", err)
	}

	tr, err := s.Insert(ctx, "exp", Proposal(0.1), 10)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.Complete(ctx, "exp", tr.ID, domain.Outcome{Loss: 1}); !errors.Is(err, domain.ErrTrialNotFound) {
		t.Fatalf("expected ErrTrialNotFound for unclaimed trial, got %v", err)
	}

	if _, err := s.Claim(ctx, "exp", "w"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := s.Complete(ctx, "exp", tr.ID, domain.Outcome{Loss: 1}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := s.Complete(ctx, "exp", tr.ID, domain.Outcome{Loss: 2}); !errors.Is(err, domain.ErrTrialNotFound) {
		t.Fatalf("expected ErrTrialNotFound for finished trial, got %v", err)
	}
}

func testRelease(t *testing.T, s Store) {
	ctx := context.Background()
	if err := s.Release(ctx, "exp", 1); !errors.Is(err, domain.ErrTrialNotFound) {
		t.Fatalf("expected ErrTrialNotFound for missing trial, got %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := s.Insert(ctx, "exp", Proposal(0.1), 10); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	if err := s.Release(ctx, "exp", 1); !errors.Is(err, domain.ErrTrialNotFound) {
		t.Fatalf("expected ErrTrialNotFound for unclaimed trial, got %v", err)
	}

	first, err := s.Claim(ctx, "exp", "w1")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := s.Release(ctx, "exp", first.ID); err != nil {
		t.Fatalf("release: %v", err)
	}
	trials, err := s.List(ctx, "exp")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if tr := trials[0]; tr.State != domain.TrialNew || tr.Owner != "" || !tr.StartedAt.IsZero() {
		t.Errorf("released trial not pending: %+v", tr)
	}

	again, err := s.Claim(ctx, "exp", "w2")
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if again.ID != first.ID || again.Owner != "w2" {
		t.Errorf("expected released trial %d to be claimed first, got %+v", first.ID, again)
	}
	if err := s.Complete(ctx, "exp", again.ID, domain.Outcome{Loss: 1}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := s.Release(ctx, "exp", again.ID); !errors.Is(err, domain.ErrTrialNotFound) {
		t.Fatalf("expected ErrTrialNotFound for finished trial, got %v", err)
	}
}

func testIsolation(t *testing.T, s Store) {
	ctx := context.Background()
	if _, err := s.Insert(ctx, "a", Proposal(0.1), 1); err != nil {
		t.Fatalf("insert a: %v", err)
	}
	tr, err := s.Insert(ctx, "b", Proposal(0.2), 1)
	if err != nil {
		t.Fatalf("insert b: %v", err)
	}
	if tr.ID != 1 {
		t.Errorf("ids are per experiment, got %d", tr.ID)
	}
	claimed, err := s.Claim(ctx, "b", "w")
	if err != nil {
		t.Fatalf("claim b: %v", err)
	}
	if claimed.ExpKey != "b" {
		t.Errorf("claimed from wrong experiment: %+v", claimed)
	}
	trials, _ := s.List(ctx, "a")
	if len(trials) != 1 || trials[0].State != domain.TrialNew {
		t.Errorf("experiment a was touched: %+v", trials)
	}
}

func testReset(t *testing.T, s Store) {
	ctx := context.Background()
	for _, exp := range []string{"a", "b"} {
		if _, err := s.Insert(ctx, exp, Proposal(0.1), 5); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	if err := s.Reset(ctx, "a"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	trials, err := s.List(ctx, "a")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(trials) != 0 {
		t.Errorf("expected empty experiment, got %d trials", len(trials))
	}
	tr, err := s.Insert(ctx, "a", Proposal(0.1), 5)
	if err != nil {
		t.Fatalf("insert after reset: %v", err)
	}
	if tr.ID != 1 {
		t.Errorf("expected ids to restart, got %d", tr.ID)
	}
	if trials, _ := s.List(ctx, "b"); len(trials) != 1 {
		t.Errorf("reset leaked into experiment b: %d trials", len(trials))
	}
}

func testConcurrentClaims(t *testing.T, s Store) {
	ctx := context.Background()
	const n = 20
	for i := 0; i < n; i++ {
		if _, err := s.Insert(ctx, "exp", Proposal(0.1), n); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	var (
		mu      sync.Mutex
		claimed = make(map[int64]int)
		wg      sync.WaitGroup
	)
	for w := 0; w < 5; w++ {
		wg.Add(1)
		go func(owner string) {
			defer wg.Done()
			for {
				tr, err := s.Claim(ctx, "exp", owner)
				if errors.Is(err, domain.ErrNoPendingTrial) {
					return
				}
				if err != nil {
					t.Errorf("claim: %v", err)
					return
				}
				mu.Lock()
				claimed[tr.ID]++
				mu.Unlock()
			}
		}(fmt.Sprintf("w%d", w))
	}
	wg.Wait()

	if len(claimed) != n {
		t.Fatalf("expected %d distinct claims, got %d", n, len(claimed))
	}
	for id, c := range claimed {
		if c != 1 {
			t.Errorf("trial %d claimed %d times", id, c)
		}
	}
}

func testConcurrentInserts(t *testing.T, s Store) {
	ctx := context.Background()
	const budget = 7

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 5; i++ {
				_, err := s.Insert(ctx, "exp", Proposal(0.1), budget)
				if errors.Is(err, domain.ErrBudgetExhausted) {
					continue
				}
				if err != nil {
					t.Errorf("insert: %v", err)
					return
				}
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if accepted != budget {
		t.Errorf("expected %d accepted inserts, got %d", budget, accepted)
	}
	trials, err := s.List(ctx, "exp")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(trials) != budget {
		t.Errorf("expected %d trials, got %d", budget, len(trials))
	}
}
