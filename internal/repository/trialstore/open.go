// Package trialstore opens the configured trial store backend.
package trialstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/tuner/internal/config"
	dbRedis "github.com/kailas-cloud/tuner/internal/db/redis"
	"github.com/kailas-cloud/tuner/internal/domain"
	"github.com/kailas-cloud/tuner/internal/logger"
	"github.com/kailas-cloud/tuner/internal/repository/trial"
	"github.com/kailas-cloud/tuner/internal/repository/trialmem"
	"github.com/kailas-cloud/tuner/internal/repository/trialsql"
	"github.com/kailas-cloud/tuner/internal/usecase/search"
)

// Store is what the commands need from a backend.
type Store interface {
	search.TrialStore
	Ping(ctx context.Context) error
	Reset(ctx context.Context, exp string) error
}

// Open connects the configured backend. The returned func releases it.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, func(), error) {
	log := logger.FromContext(ctx)

	switch cfg.Driver {
	case config.DriverRedis:
		store, err := dbRedis.NewStore(dbRedis.Config{
			Addrs:    strings.Split(cfg.Addr, ","),
			Password: cfg.Password,
			DB:       cfg.DB,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
		}
		timeout := time.Duration(cfg.ReadinessTimeout) * time.Second
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		if err := store.WaitForReady(ctx, timeout); err != nil {
			store.Close()
			return nil, nil, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
		}
		log.Info("Connected to trial store", zap.String("driver", cfg.Driver), zap.String("addr", cfg.Addr))
		return trial.New(store), store.Close, nil

	case config.DriverSQLite:
		repo, err := trialsql.Open(cfg.Addr)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
		}
		log.Info("Opened trial store", zap.String("driver", cfg.Driver), zap.String("path", cfg.Addr))
		return repo, func() { _ = repo.Close() }, nil

	case config.DriverMemory, "":
		return trialmem.New(), func() {}, nil

	default:
		return nil, nil, domain.Configf("unknown store driver %q", cfg.Driver)
	}
}
