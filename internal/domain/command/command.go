// Package command renders parameter assignments into train and eval command lines.
// Everything here is pure: templates are never modified, so one Templates value can be
// shared by concurrent trials.
package command

import (
	"strings"

	"github.com/kailas-cloud/tuner/internal/domain"
)

// Placeholder is replaced by the run identifier in every template.
const Placeholder = "{{RUN_ID}}"

// Templates holds the immutable command templates of a search.
type Templates struct {
	Train     string
	TrainArgs string
	Eval      string
}

// HasPlaceholder reports whether any template references the run identifier.
func (t Templates) HasPlaceholder() bool {
	return strings.Contains(t.Train, Placeholder) ||
		strings.Contains(t.TrainArgs, Placeholder) ||
		strings.Contains(t.Eval, Placeholder)
}

// Rendered is the pair of command lines for one trial.
type Rendered struct {
	RunID string
	Train string
	Eval  string
}

// TrainArgv splits the train command line into argv.
func (r Rendered) TrainArgv() []string { return Split(r.Train) }

// EvalArgv splits the eval command line into argv.
func (r Rendered) EvalArgv() []string { return Split(r.Eval) }

// Render builds the command lines for an assignment. Run-id substitution only happens
// when the assignment carries run_id; otherwise templates are used verbatim.
func (t Templates) Render(a domain.Assignment) Rendered {
	train, trainArgs, eval := t.Train, t.TrainArgs, t.Eval

	var runID string
	if v, ok := a.RunID(); ok {
		runID = RunID(v)
		train = Substitute(train, runID)
		trainArgs = Substitute(trainArgs, runID)
		eval = Substitute(eval, runID)
	}

	return Rendered{
		RunID: runID,
		Train: train + " " + trainArgs + Flags(a),
		Eval:  eval,
	}
}

// Flags serializes an assignment as " --k1 v1 --k2 v2", skipping run_id.
func Flags(a domain.Assignment) string {
	var b strings.Builder
	for _, p := range a {
		if p.Name == domain.RunIDKey {
			continue
		}
		b.WriteString(" --")
		b.WriteString(p.Name)
		b.WriteByte(' ')
		b.WriteString(p.Value.String())
	}
	return b.String()
}

// Substitute replaces every placeholder occurrence with runID.
func Substitute(text, runID string) string {
	return strings.ReplaceAll(text, Placeholder, runID)
}

// RunID derives the run identifier from a run_id value by dropping decimal points,
// so 3.0 becomes "30" and 3.5 becomes "35".
func RunID(v domain.Value) string {
	return strings.ReplaceAll(v.String(), ".", "")
}

// Split tokenizes a command line on whitespace. No shell is involved, so quoting and
// expansion are not interpreted.
func Split(line string) []string {
	return strings.Fields(line)
}
