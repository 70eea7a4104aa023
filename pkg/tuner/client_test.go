package tuner

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const lrDoc = `
parameters:
  - name: lr
    type: uniform
    low: 0.0
    high: 1.0
`

func lrSpace(t *testing.T) *Space {
	t.Helper()
	s, err := ParseSpace([]byte(lrDoc))
	if err != nil {
		t.Fatalf("ParseSpace: %v", err)
	}
	return s
}

func lrOf(t *testing.T, a Assignment) float64 {
	t.Helper()
	v, ok := a.Get("lr")
	if !ok {
		t.Fatalf("assignment %v has no lr", a)
	}
	f, _ := v.Float64()
	return f
}

// quadratic has its minimum at lr=0.3.
func quadratic(_ context.Context, a Assignment) (float64, error) {
	v, _ := a.Get("lr")
	lr, _ := v.Float64()
	return (lr - 0.3) * (lr - 0.3), nil
}

func newClient(t *testing.T, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{WithSeed(11), WithPollInterval(time.Millisecond)}, opts...)
	c, err := New(context.Background(), opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestNew_RedisWithoutAddress(t *testing.T) {
	_, err := New(context.Background(), WithRedis("", ""))
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}

func TestNew_SQLiteWithoutPath(t *testing.T) {
	_, err := New(context.Background(), WithSQLite(""))
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}

func TestOptions(t *testing.T) {
	cfg := &clientConfig{}
	WithRedis("localhost:6379", "secret").apply(cfg)
	WithRedisDB(2).apply(cfg)
	if cfg.driver != "redis" || cfg.addrs[0] != "localhost:6379" || cfg.password != "secret" || cfg.db != 2 {
		t.Errorf("unexpected redis config: %+v", cfg)
	}

	WithSQLite("t.db").apply(cfg)
	if cfg.driver != "sqlite" || cfg.path != "t.db" {
		t.Errorf("unexpected sqlite config: %+v", cfg)
	}

	WithWorkers(3).apply(cfg)
	WithOwner("w1").apply(cfg)
	WithAcquisition("lcb").apply(cfg)
	if cfg.workers != 3 || cfg.owner != "w1" || cfg.acquisition != "lcb" {
		t.Errorf("unexpected search config: %+v", cfg)
	}

	logger := slog.Default()
	WithLogger(logger).apply(cfg)
	if cfg.logger != logger {
		t.Error("expected logger to be set")
	}
	reg := prometheus.NewRegistry()
	WithPrometheus(reg).apply(cfg)
	if cfg.metricsReg != reg {
		t.Error("expected metricsReg to be set")
	}
}

func TestSearch_FindsMinimum(t *testing.T) {
	c := newClient(t)

	res, err := c.Search(context.Background(), "quad", lrSpace(t), Func(quadratic), MaxEvals(25), MaxQueueLen(1))
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if res.Stats.Done != 25 {
		t.Errorf("done = %d, want 25", res.Stats.Done)
	}
	if lr := lrOf(t, res.Best.Assignment); math.Abs(lr-0.3) > 0.1 {
		t.Errorf("best lr = %v", lr)
	}
	if res.Score != res.Best.Loss {
		t.Errorf("score %v != loss %v", res.Score, res.Best.Loss)
	}
}

func TestSearch_Maximize(t *testing.T) {
	c := newClient(t)
	score := func(ctx context.Context, a Assignment) (float64, error) {
		v, err := quadratic(ctx, a)
		return -v, err
	}

	res, err := c.Search(context.Background(), "quad", lrSpace(t), Func(score), MaxEvals(10), Maximize())
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if res.Score > 0 || res.Score != -res.Best.Loss {
		t.Errorf("score = %v, loss = %v", res.Score, res.Best.Loss)
	}
}

func TestSearch_FailuresAreRecorded(t *testing.T) {
	c := newClient(t)
	var mu sync.Mutex
	calls := 0
	obj := Func(func(ctx context.Context, a Assignment) (float64, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n%2 == 0 {
			return 0, errors.New("diverged")
		}
		if n == 3 {
			return math.NaN(), nil
		}
		return quadratic(ctx, a)
	})

	res, err := c.Search(context.Background(), "flaky", lrSpace(t), obj, MaxEvals(6))
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if res.Stats.Done != 2 || res.Stats.Errored != 4 {
		t.Errorf("unexpected stats: %+v", res.Stats)
	}

	trials, err := c.Trials(context.Background(), "flaky")
	if err != nil {
		t.Fatal(err)
	}
	if trials[1].ErrorKind != "process" || trials[2].ErrorKind != "parse" {
		t.Errorf("unexpected error kinds: %q, %q", trials[1].ErrorKind, trials[2].ErrorKind)
	}
}

func TestSearch_InfiniteLossIsParseError(t *testing.T) {
	c := newClient(t)
	obj := Func(func(ctx context.Context, a Assignment) (float64, error) {
		return math.Inf(1), nil
	})

	_, err := c.Search(context.Background(), "inf", lrSpace(t), obj, MaxEvals(2), Maximize())
	if !errors.Is(err, ErrNoSuccessfulTrials) {
		t.Fatalf("expected ErrNoSuccessfulTrials, got %v", err)
	}
	trials, err := c.Trials(context.Background(), "inf")
	if err != nil {
		t.Fatal(err)
	}
	for _, tr := range trials {
		if tr.ErrorKind != "parse" {
			t.Errorf("trial %d: error kind %q", tr.ID, tr.ErrorKind)
		}
	}
}

func TestSearch_NoSuccessfulTrials(t *testing.T) {
	c := newClient(t)
	obj := Func(func(context.Context, Assignment) (float64, error) {
		return 0, errors.New("always fails")
	})

	_, err := c.Search(context.Background(), "bad", lrSpace(t), obj, MaxEvals(3))
	if !errors.Is(err, ErrNoSuccessfulTrials) {
		t.Fatalf("expected ErrNoSuccessfulTrials, got %v", err)
	}
}

func TestSearch_Validation(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()

	if _, err := c.Search(ctx, "", lrSpace(t), Func(quadratic)); !errors.Is(err, ErrConfig) {
		t.Errorf("empty key: got %v", err)
	}
	if _, err := c.Search(ctx, "x", nil, Func(quadratic)); !errors.Is(err, ErrConfig) {
		t.Errorf("nil space: got %v", err)
	}
	obj := Commands("train --out {{RUN_ID}}", "", "eval")
	if _, err := c.Search(ctx, "x", lrSpace(t), obj); !errors.Is(err, ErrConfig) {
		t.Errorf("placeholder without run_id: got %v", err)
	}
}

func TestExperimentKeyValidation(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()
	if _, err := c.Search(ctx, "keep", lrSpace(t), Func(quadratic), MaxEvals(1)); err != nil {
		t.Fatal(err)
	}

	for _, exp := range []string{"*", "a}b", "my run"} {
		if _, err := c.Search(ctx, exp, lrSpace(t), Func(quadratic)); !errors.Is(err, ErrConfig) {
			t.Errorf("Search(%q): got %v", exp, err)
		}
		if _, err := c.Trials(ctx, exp); !errors.Is(err, ErrConfig) {
			t.Errorf("Trials(%q): got %v", exp, err)
		}
		if err := c.Reset(ctx, exp); !errors.Is(err, ErrConfig) {
			t.Errorf("Reset(%q): got %v", exp, err)
		}
	}

	trials, err := c.Trials(ctx, "keep")
	if err != nil {
		t.Fatal(err)
	}
	if len(trials) != 1 {
		t.Errorf("expected the other experiment untouched, got %d trials", len(trials))
	}
}

func TestSearch_CommandObjective(t *testing.T) {
	c := newClient(t)
	dir := t.TempDir()
	obj := Commands("true", "", "echo 0.25").InDir(dir).WithTimeout(10 * time.Second)

	res, err := c.Search(context.Background(), "cmd", lrSpace(t), obj, MaxEvals(3))
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if res.Best.Loss != 0.25 || res.Stats.Done != 3 {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestSearch_SharedSQLiteStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trials.db")
	a := newClient(t, WithSQLite(path), WithOwner("a"))
	b := newClient(t, WithSQLite(path), WithOwner("b"))

	sp := lrSpace(t)
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, c := range []*Client{a, b} {
		wg.Add(1)
		go func(i int, c *Client) {
			defer wg.Done()
			_, errs[i] = c.Search(context.Background(), "shared", sp, Func(quadratic), MaxEvals(10), MaxQueueLen(2))
		}(i, c)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
	}

	trials, err := a.Trials(context.Background(), "shared")
	if err != nil {
		t.Fatal(err)
	}
	if len(trials) != 10 {
		t.Fatalf("created %d trials, want 10", len(trials))
	}
	for _, tr := range trials {
		if tr.State != "done" {
			t.Errorf("trial %d is %s", tr.ID, tr.State)
		}
	}
}

func TestClient_ResetAndHealth(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()
	if _, err := c.Search(ctx, "r", lrSpace(t), Func(quadratic), MaxEvals(2)); err != nil {
		t.Fatal(err)
	}
	if err := c.Reset(ctx, "r"); err != nil {
		t.Fatal(err)
	}
	trials, err := c.Trials(ctx, "r")
	if err != nil || len(trials) != 0 {
		t.Fatalf("after reset: %d trials, %v", len(trials), err)
	}

	if err := c.Ping(ctx); err != nil {
		t.Errorf("ping: %v", err)
	}
	h := c.Health(ctx)
	if h.Status != "ok" || h.Checks["store"] != "ok" {
		t.Errorf("unexpected health: %+v", h)
	}
}

func TestClient_Close_NilCloser(t *testing.T) {
	c := &Client{}
	c.Close()
}

func TestObserver_NilSafe(t *testing.T) {
	var obs *observer
	obs.observe("test", time.Now(), nil)
	obs.observe("test", time.Now(), errors.New("err"))
}

func TestObserver_WithPrometheus(t *testing.T) {
	reg := prometheus.NewRegistry()
	obs, err := newObserver(nil, reg)
	if err != nil {
		t.Fatalf("newObserver: %v", err)
	}

	obs.observe("search", time.Now().Add(-10*time.Millisecond), nil)
	obs.observe("search", time.Now(), errors.New("fail"))

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	found := false
	for _, f := range families {
		if f.GetName() == "tuner_client_operations_total" {
			found = true
			if len(f.GetMetric()) != 2 {
				t.Errorf("expected 2 metric samples, got %d", len(f.GetMetric()))
			}
		}
	}
	if !found {
		t.Error("tuner_client_operations_total not found")
	}

	// A second observer on the same registry reuses the collectors.
	if _, err := newObserver(nil, reg); err != nil {
		t.Errorf("second observer: %v", err)
	}
}

func TestObserver_WithLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	obs, err := newObserver(logger, nil)
	if err != nil {
		t.Fatalf("newObserver: %v", err)
	}
	obs.observe("trials", time.Now(), nil, "exp_key", "e")
	obs.observe("trials", time.Now(), errors.New("boom"))

	out := buf.String()
	if !bytes.Contains([]byte(out), []byte("operation completed")) || !bytes.Contains([]byte(out), []byte("error=boom")) {
		t.Errorf("unexpected log output: %s", out)
	}
}
