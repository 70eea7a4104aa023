package chi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/tuner/internal/domain"
	"github.com/kailas-cloud/tuner/internal/repository/trialmem"
	healthuc "github.com/kailas-cloud/tuner/internal/usecase/health"
)

type failingStore struct{}

func (failingStore) Ping(context.Context) error { return errors.New("down") }

func (failingStore) List(context.Context, string) ([]domain.Trial, error) {
	return nil, errors.New("down")
}

func seededStore(t *testing.T) *trialmem.Repo {
	t.Helper()
	ctx := context.Background()
	store := trialmem.New()
	for _, lr := range []float64{0.1, 0.05, 0.2} {
		p := domain.Proposal{
			Assignment: domain.Assignment{{Name: "lr", Value: domain.Float(lr)}},
			Vector:     []float64{lr},
		}
		if _, err := store.Insert(ctx, "exp", p, 10); err != nil {
			t.Fatal(err)
		}
	}
	for i, loss := range []float64{0.3, 0.1} {
		tr, err := store.Claim(ctx, "exp", "w")
		if err != nil {
			t.Fatal(err)
		}
		o := domain.Outcome{Loss: loss, Finished: time.Now()}
		if i == 0 {
			o.Err = domain.NewTrialError(domain.TrialErrorParse, domain.PhaseEval, errors.New("bad"))
		}
		if err := store.Complete(ctx, "exp", tr.ID, o); err != nil {
			t.Fatal(err)
		}
	}
	return store
}

func newTestRouter(t *testing.T, keys []string) http.Handler {
	t.Helper()
	store := seededStore(t)
	return NewServer(healthuc.New(store, nil), store, "exp", zap.NewNop()).Router(keys)
}

func get(h http.Handler, path string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, http.NoBody)
	if len(header) == 2 {
		req.Header.Set(header[0], header[1])
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHealthCheck_OK(t *testing.T) {
	rr := get(newTestRouter(t, nil), "/healthz")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var resp healthResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != string(healthuc.Healthy) || resp.Checks["store"] != "ok" {
		t.Errorf("unexpected health: %+v", resp)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header")
	}
}

func TestHealthCheck_StoreDown(t *testing.T) {
	h := NewServer(healthuc.New(failingStore{}, nil), failingStore{}, "exp", zap.NewNop()).Router(nil)
	rr := get(h, "/healthz")
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d", rr.Code)
	}
}

func TestListTrials(t *testing.T) {
	rr := get(newTestRouter(t, nil), "/trials")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var resp trialListResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.ExpKey != "exp" || len(resp.Items) != 3 {
		t.Fatalf("unexpected list: %+v", resp)
	}
	first := resp.Items[0]
	if first.State != "error" || first.ErrorKind != "parse" || first.Loss != nil {
		t.Errorf("unexpected failed trial: %+v", first)
	}
	if resp.Items[1].Loss == nil || *resp.Items[1].Loss != 0.1 {
		t.Errorf("unexpected done trial: %+v", resp.Items[1])
	}
	if resp.Items[2].State != "new" || resp.Items[2].StartedAt != nil {
		t.Errorf("unexpected new trial: %+v", resp.Items[2])
	}
}

func TestListTrials_StateFilter(t *testing.T) {
	h := newTestRouter(t, nil)

	rr := get(h, "/trials?state=done")
	var resp trialListResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Items) != 1 || resp.Items[0].ID != 2 {
		t.Errorf("unexpected filtered list: %+v", resp.Items)
	}

	if rr := get(h, "/trials?state=bogus"); rr.Code != http.StatusBadRequest {
		t.Errorf("bogus state: status = %d", rr.Code)
	}
}

func TestBestTrial(t *testing.T) {
	rr := get(newTestRouter(t, nil), "/trials/best")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"lr":0.05`) {
		t.Errorf("unexpected body: %s", rr.Body.String())
	}
}

func TestBestTrial_NoneYet(t *testing.T) {
	store := trialmem.New()
	h := NewServer(healthuc.New(store, nil), store, "exp", zap.NewNop()).Router(nil)
	if rr := get(h, "/trials/best"); rr.Code != http.StatusNotFound {
		t.Errorf("status = %d", rr.Code)
	}
}

func TestListTrials_StoreDown(t *testing.T) {
	h := NewServer(healthuc.New(failingStore{}, nil), failingStore{}, "exp", zap.NewNop()).Router(nil)
	rr := get(h, "/trials")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rr.Code)
	}
	var resp errorResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Code != codeStoreUnavailable {
		t.Errorf("code = %q", resp.Code)
	}
}

func TestRouter_AuthProtectsTrialsOnly(t *testing.T) {
	h := newTestRouter(t, []string{"secret"})

	if rr := get(h, "/trials"); rr.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated /trials: status = %d", rr.Code)
	}
	if rr := get(h, "/trials", "Authorization", "Bearer secret"); rr.Code != http.StatusOK {
		t.Errorf("authenticated /trials: status = %d", rr.Code)
	}
	if rr := get(h, "/healthz"); rr.Code != http.StatusOK {
		t.Errorf("/healthz: status = %d", rr.Code)
	}
}

func TestRouter_Metrics(t *testing.T) {
	rr := get(newTestRouter(t, nil), "/metrics")
	if rr.Code != http.StatusOK {
		t.Errorf("status = %d", rr.Code)
	}
}

func TestRouter_NotFound(t *testing.T) {
	rr := get(newTestRouter(t, nil), "/nope")
	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d", rr.Code)
	}
}

func TestRecoverer(t *testing.T) {
	h := jsonRecoverer(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rr := get(h, "/")
	if rr.Code != http.StatusInternalServerError {
		t.Errorf("status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), codeInternal) {
		t.Errorf("unexpected body: %s", rr.Body.String())
	}
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Serve(ctx, "127.0.0.1:0", http.NotFoundHandler(), zap.NewNop())
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
