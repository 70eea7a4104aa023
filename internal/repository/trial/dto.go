package trial

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/kailas-cloud/tuner/internal/domain"
)

// trialFromHash hydrates a trial from an HGETALL result map.
func trialFromHash(m map[string]string) (domain.Trial, error) {
	id, err := strconv.ParseInt(m["id"], 10, 64)
	if err != nil {
		return domain.Trial{}, fmt.Errorf("invalid id: %w", err)
	}

	t := domain.Trial{
		ID:        id,
		ExpKey:    m["exp_key"],
		State:     domain.TrialState(m["state"]),
		ErrorKind: domain.TrialErrorKind(m["error_kind"]),
		Error:     m["error"],
		Owner:     m["owner"],
	}

	if err := json.Unmarshal([]byte(m["assignment"]), &t.Assignment); err != nil {
		return domain.Trial{}, fmt.Errorf("unmarshal assignment: %w", err)
	}
	if v := m["vector"]; v != "" {
		if err := json.Unmarshal([]byte(v), &t.Vector); err != nil {
			return domain.Trial{}, fmt.Errorf("unmarshal vector: %w", err)
		}
	}
	if l := m["loss"]; l != "" {
		if t.Loss, err = strconv.ParseFloat(l, 64); err != nil {
			return domain.Trial{}, fmt.Errorf("invalid loss: %w", err)
		}
	}

	if t.CreatedAt, err = parseTime(m["created_at"]); err != nil {
		return domain.Trial{}, err
	}
	if t.StartedAt, err = parseTime(m["started_at"]); err != nil {
		return domain.Trial{}, err
	}
	if t.FinishedAt, err = parseTime(m["finished_at"]); err != nil {
		return domain.Trial{}, err
	}
	return t, nil
}

// outcomeArgs renders the completeScript arguments for an outcome.
func outcomeArgs(o domain.Outcome) []string {
	state, loss, kind, msg := string(domain.TrialDone), formatLoss(o.Loss), "", ""
	if o.Failed() {
		state, loss = string(domain.TrialErrored), ""
		kind, msg = string(domain.TrialErrorKindOf(o.Err)), o.Err.Error()
	}
	return []string{state, loss, kind, msg, formatTime(o.Finished)}
}

func formatLoss(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
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
