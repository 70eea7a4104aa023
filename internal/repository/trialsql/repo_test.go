package trialsql

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kailas-cloud/tuner/internal/repository/trialtest"
)

func openTemp(t *testing.T) *Repo {
	t.Helper()
	r, err := Open(filepath.Join(t.TempDir(), "trials.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestRepo_Suite(t *testing.T) {
	trialtest.Run(t, func(t *testing.T) trialtest.Store { return openTemp(t) })
}

func TestRepo_MemorySuite(t *testing.T) {
	trialtest.Run(t, func(t *testing.T) trialtest.Store {
		r, err := Open(":memory:")
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		t.Cleanup(func() { _ = r.Close() })
		return r
	})
}

func TestOpen_SharedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.db")
	ctx := context.Background()

	a, err := Open(path)
	if err != nil {
		t.Fatalf("open a: %v", err)
	}
	defer a.Close()
	if _, err := a.Insert(ctx, "exp", trialtest.Proposal(0.1), 5); err != nil {
		t.Fatalf("insert: %v", err)
	}

	// A second handle migrates idempotently and sees the same trials.
	b, err := Open(path)
	if err != nil {
		t.Fatalf("open b: %v", err)
	}
	defer b.Close()
	tr, err := b.Claim(ctx, "exp", "other-process")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if tr.ID != 1 {
		t.Errorf("expected trial 1, got %d", tr.ID)
	}
	if err := b.Ping(ctx); err != nil {
		t.Errorf("ping: %v", err)
	}
}

func TestOpen_EmptyPath(t *testing.T) {
	if _, err := Open(""); err == nil {
		t.Fatal("expected error")
	}
}

func TestDSN(t *testing.T) {
	got := dsn("/tmp/x.db")
	for _, want := range []string{"file:/tmp/x.db?", "_txlock=immediate", "busy_timeout(5000)", "journal_mode(WAL)"} {
		if !strings.Contains(got, want) {
			t.Errorf("dsn %q lacks %q", got, want)
		}
	}
	if strings.Contains(dsn(":memory:"), "WAL") {
		t.Error("memory databases do not use WAL")
	}
}
