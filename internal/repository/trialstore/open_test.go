package trialstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/kailas-cloud/tuner/internal/config"
	"github.com/kailas-cloud/tuner/internal/domain"
	"github.com/kailas-cloud/tuner/internal/repository/trialmem"
	"github.com/kailas-cloud/tuner/internal/repository/trialsql"
)

func TestOpen_Memory(t *testing.T) {
	store, closeStore, err := Open(context.Background(), config.StoreConfig{Driver: config.DriverMemory})
	if err != nil {
		t.Fatal(err)
	}
	defer closeStore()
	if _, ok := store.(*trialmem.Repo); !ok {
		t.Errorf("got %T", store)
	}
}

func TestOpen_SQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trials.db")
	store, closeStore, err := Open(context.Background(), config.StoreConfig{Driver: config.DriverSQLite, Addr: path})
	if err != nil {
		t.Fatal(err)
	}
	defer closeStore()
	if _, ok := store.(*trialsql.Repo); !ok {
		t.Errorf("got %T", store)
	}
	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("ping: %v", err)
	}
}

func TestOpen_RedisUnreachable(t *testing.T) {
	_, _, err := Open(context.Background(), config.StoreConfig{
		Driver:           config.DriverRedis,
		Addr:             "127.0.0.1:1",
		ReadinessTimeout: 1,
	})
	if !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Errorf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, _, err := Open(context.Background(), config.StoreConfig{Driver: "etcd"})
	if !errors.Is(err, domain.ErrConfig) {
		t.Errorf("expected ErrConfig, got %v", err)
	}
}
