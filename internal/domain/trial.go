package domain

import (
	"regexp"
	"time"
)

var expKeyRe = regexp.MustCompile(`^[A-Za-z0-9_.:-]+$`)

// ValidateExpKey rejects experiment keys that could escape their store namespace,
// such as glob patterns or hash tag braces.
func ValidateExpKey(key string) error {
	if key == "" {
		return Configf("experiment key is required")
	}
	if len(key) > 200 || !expKeyRe.MatchString(key) {
		return Configf("experiment key %q must match %s and be at most 200 bytes", key, expKeyRe)
	}
	return nil
}

// TrialState is the lifecycle state of a trial in the store.
type TrialState string

// Trial states.
const (
	TrialNew     TrialState = "new"
	TrialRunning TrialState = "running"
	TrialDone    TrialState = "done"
	TrialErrored TrialState = "error"
)

// Finished reports whether the state is terminal.
func (s TrialState) Finished() bool { return s == TrialDone || s == TrialErrored }

// Trial is one proposed assignment and its outcome, shared through the trial store.
type Trial struct {
	ID         int64
	ExpKey     string
	State      TrialState
	Assignment Assignment
	// Vector is the assignment in the optimizer's unit cube.
	Vector     []float64
	Loss       float64
	ErrorKind  TrialErrorKind
	Error      string
	Owner      string
	CreatedAt  time.Time
	StartedAt  time.Time
	FinishedAt time.Time
}

// Proposal is a new trial ready to be inserted.
type Proposal struct {
	Assignment Assignment
	Vector     []float64
}

// Outcome is the result written back for a claimed trial.
type Outcome struct {
	Loss     float64
	Err      error
	Finished time.Time
}

// Failed reports whether the outcome is a trial failure.
func (o Outcome) Failed() bool { return o.Err != nil }

// Stats summarizes the trials of one experiment.
type Stats struct {
	Created int
	New     int
	Running int
	Done    int
	Errored int
}

// Outstanding counts proposals that are not evaluated yet.
func (s Stats) Outstanding() int { return s.New + s.Running }

// Finished counts scored trials, successful or failed.
func (s Stats) Finished() int { return s.Done + s.Errored }

// Summarize computes Stats over trials.
func Summarize(trials []Trial) Stats {
	st := Stats{Created: len(trials)}
	for i := range trials {
		switch trials[i].State {
		case TrialNew:
			st.New++
		case TrialRunning:
			st.Running++
		case TrialDone:
			st.Done++
		case TrialErrored:
			st.Errored++
		}
	}
	return st
}

// Best returns the successful trial with the lowest loss. Ties keep the earliest trial.
func Best(trials []Trial) (Trial, bool) {
	var best Trial
	found := false
	for i := range trials {
		t := trials[i]
		if t.State != TrialDone {
			continue
		}
		if !found || t.Loss < best.Loss || (t.Loss == best.Loss && t.ID < best.ID) {
			best = t
			found = true
		}
	}
	return best, found
}
