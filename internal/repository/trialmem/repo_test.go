package trialmem

import (
	"context"
	"testing"

	"github.com/kailas-cloud/tuner/internal/domain"
	"github.com/kailas-cloud/tuner/internal/repository/trialtest"
)

func TestRepo_Suite(t *testing.T) {
	trialtest.Run(t, func(_ *testing.T) trialtest.Store { return New() })
}

func TestList_ReturnsSnapshot(t *testing.T) {
	r := New()
	ctx := context.Background()
	if _, err := r.Insert(ctx, "exp", trialtest.Proposal(0.1), 5); err != nil {
		t.Fatalf("insert: %v", err)
	}

	trials, _ := r.List(ctx, "exp")
	trials[0].State = domain.TrialDone
	trials[0].Vector[0] = 99

	again, _ := r.List(ctx, "exp")
	if again[0].State != domain.TrialNew || again[0].Vector[0] == 99 {
		t.Errorf("store was mutated through a listed trial: %+v", again[0])
	}
}
