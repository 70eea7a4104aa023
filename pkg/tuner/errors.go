package tuner

import "github.com/kailas-cloud/tuner/internal/domain"

// Sentinel errors re-exported from the domain layer.
// Use errors.Is() to check.
var (
	ErrConfig             = domain.ErrConfig
	ErrStoreUnavailable   = domain.ErrStoreUnavailable
	ErrNoSuccessfulTrials = domain.ErrNoSuccessfulTrials
	ErrProcessFailed      = domain.ErrProcessFailed
	ErrResultParse        = domain.ErrResultParse
	ErrTrialTimeout       = domain.ErrTrialTimeout
)
