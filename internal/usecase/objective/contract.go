package objective

import (
	"context"

	"github.com/kailas-cloud/tuner/internal/transport/process"
)

// Runner executes one command line.
type Runner interface {
	Run(ctx context.Context, req process.Request) (process.Result, error)
}
