package command

import (
	"github.com/kailas-cloud/tuner/internal/domain"
	"github.com/kailas-cloud/tuner/internal/domain/space"
)

// CheckRunID verifies the templates and the space agree on run identifiers.
// A placeholder needs a top-level run_id parameter, and run_id may not be nested in a
// choice option since it would be missing from some trials. unused is true when the
// space declares run_id but no template references it.
func (t Templates) CheckRunID(s *space.Space) (unused bool, err error) {
	top := s.HasTopLevel(domain.RunIDKey)
	if !top && s.Contains(domain.RunIDKey) {
		return false, domain.Configf("%s must be a top-level parameter", domain.RunIDKey)
	}
	if t.HasPlaceholder() && !top {
		return false, domain.Configf("templates use %s but the space has no %s parameter", Placeholder, domain.RunIDKey)
	}
	return top && !t.HasPlaceholder(), nil
}
