package health

import "context"

// StorePinger checks trial store availability.
type StorePinger interface {
	Ping(ctx context.Context) error
}

// ProgressReader reports how far the experiment has come.
type ProgressReader interface {
	Progress(ctx context.Context) (done, total int, err error)
}
