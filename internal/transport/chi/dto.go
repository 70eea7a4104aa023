package chi

import (
	"time"

	"github.com/kailas-cloud/tuner/internal/domain"
)

// Error codes returned in errorResponse.Code.
const (
	codeBadRequest       = "bad_request"
	codeUnauthorized     = "unauthorized"
	codeNotFound         = "not_found"
	codeStoreUnavailable = "store_unavailable"
	codeInternal         = "internal_error"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type healthResponse struct {
	Status   string            `json:"status"`
	Checks   map[string]string `json:"checks"`
	Finished int               `json:"finished,omitempty"`
	Budget   int               `json:"budget,omitempty"`
}

type trialListResponse struct {
	ExpKey string          `json:"exp_key"`
	Items  []trialResponse `json:"items"`
}

type trialResponse struct {
	ID         int64             `json:"id"`
	State      string            `json:"state"`
	Assignment domain.Assignment `json:"assignment"`
	Loss       *float64          `json:"loss,omitempty"`
	ErrorKind  string            `json:"error_kind,omitempty"`
	Error      string            `json:"error,omitempty"`
	Owner      string            `json:"owner,omitempty"`
	CreatedAt  *time.Time        `json:"created_at,omitempty"`
	StartedAt  *time.Time        `json:"started_at,omitempty"`
	FinishedAt *time.Time        `json:"finished_at,omitempty"`
}

func trialToResponse(t *domain.Trial) trialResponse {
	resp := trialResponse{
		ID:         t.ID,
		State:      string(t.State),
		Assignment: t.Assignment,
		ErrorKind:  string(t.ErrorKind),
		Error:      t.Error,
		Owner:      t.Owner,
		CreatedAt:  timePtr(t.CreatedAt),
		StartedAt:  timePtr(t.StartedAt),
		FinishedAt: timePtr(t.FinishedAt),
	}
	if t.State == domain.TrialDone {
		loss := t.Loss
		resp.Loss = &loss
	}
	return resp
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
