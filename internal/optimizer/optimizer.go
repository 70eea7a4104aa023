// Package optimizer implements sequential model-based search: random start-up samples,
// then a Gaussian-process surrogate scored by an acquisition function over random and
// local candidates. Trials still in flight are folded into the surrogate with a
// constant-liar loss so concurrent workers do not all chase the same point.
package optimizer

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/kailas-cloud/tuner/internal/domain"
	"github.com/kailas-cloud/tuner/internal/domain/space"
)

// Config controls the search.
type Config struct {
	// InitialSamples is the number of finished trials sampled at random before the
	// surrogate is used.
	InitialSamples int
	// Candidates is the number of points scored per suggestion.
	Candidates int
	// LengthScale is the RBF kernel width in unit-cube coordinates.
	LengthScale float64
	// Acquisition is one of ei, pi, lcb, thompson.
	Acquisition string
	Beta        float64
	Xi          float64
	// Seed fixes the random source; 0 seeds from the clock.
	Seed int64
}

// DefaultConfig returns a configuration suitable for small budgets.
func DefaultConfig() Config {
	return Config{
		InitialSamples: 10,
		Candidates:     256,
		LengthScale:    0.25,
		Acquisition:    "ei",
		Beta:           2.0,
		Xi:             0.01,
	}
}

// localShare is the fraction of candidates drawn around the incumbent.
const localShare = 0.5

// Optimizer proposes assignments. Safe for concurrent use.
type Optimizer struct {
	cfg Config
	acq AcquisitionFunc

	mu  sync.Mutex
	rng *rand.Rand
}

// New creates an Optimizer. Zero fields take DefaultConfig values.
func New(cfg Config) (*Optimizer, error) {
	def := DefaultConfig()
	if cfg.InitialSamples <= 0 {
		cfg.InitialSamples = def.InitialSamples
	}
	if cfg.Candidates <= 0 {
		cfg.Candidates = def.Candidates
	}
	if cfg.LengthScale <= 0 {
		cfg.LengthScale = def.LengthScale
	}
	if cfg.Beta <= 0 {
		cfg.Beta = def.Beta
	}
	if cfg.Xi < 0 {
		cfg.Xi = def.Xi
	}
	acq, err := AcquisitionByName(cfg.Acquisition)
	if err != nil {
		return nil, err
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Optimizer{
		cfg: cfg,
		acq: acq,
		rng: rand.New(rand.NewSource(seed)),
	}, nil
}

// Suggest proposes the next assignment given every trial of the experiment so far.
// Failed trials are ignored by the surrogate.
func (o *Optimizer) Suggest(s *space.Space, history []domain.Trial) domain.Proposal {
	o.mu.Lock()
	defer o.mu.Unlock()

	var (
		xs      [][]float64
		ys      []float64
		pending [][]float64
	)
	for i := range history {
		t := &history[i]
		if len(t.Vector) != s.Dims() {
			continue
		}
		switch t.State {
		case domain.TrialDone:
			if math.IsNaN(t.Loss) || math.IsInf(t.Loss, 0) {
				continue
			}
			xs = append(xs, t.Vector)
			ys = append(ys, t.Loss)
		case domain.TrialNew, domain.TrialRunning:
			pending = append(pending, t.Vector)
		}
	}

	if len(xs) < o.cfg.InitialSamples {
		return o.random(s)
	}

	best, bestIdx := math.Inf(1), 0
	for i, y := range ys {
		if y < best {
			best, bestIdx = y, i
		}
	}

	gp, ok := o.fit(xs, ys, pending)
	if !ok {
		return o.random(s)
	}

	params := AcquisitionParams{
		Beta:      o.cfg.Beta,
		Xi:        o.cfg.Xi * math.Max(1, math.Abs(best)),
		BestSoFar: best,
		Rand:      o.rng,
	}

	var (
		next     domain.Proposal
		bestAcq  = math.Inf(1)
		incumben = xs[bestIdx]
		nLocal   = int(float64(o.cfg.Candidates) * localShare)
	)
	for j := 0; j < o.cfg.Candidates; j++ {
		u := make([]float64, s.Dims())
		if j < nLocal {
			for k := range u {
				u[k] = math.Min(1, math.Max(0, incumben[k]+0.1*o.rng.NormFloat64()))
			}
		} else {
			for k := range u {
				u[k] = o.rng.Float64()
			}
		}
		a, vec := s.Decode(u)
		mean, variance := gp.Predict(vec)
		if score := o.acq(mean, variance, params); score < bestAcq {
			bestAcq = score
			next = domain.Proposal{Assignment: a, Vector: vec}
		}
	}
	if next.Assignment == nil {
		return o.random(s)
	}
	return next
}

// fit conditions a process on observations plus pending points at the constant-liar
// loss, retrying with more jitter when the kernel matrix is ill-conditioned.
func (o *Optimizer) fit(xs [][]float64, ys []float64, pending [][]float64) (*gaussianProcess, bool) {
	liar, _ := meanStd(ys)
	x := append(append([][]float64{}, xs...), pending...)
	y := append([]float64{}, ys...)
	for range pending {
		y = append(y, liar)
	}

	noise := 1e-6
	for attempt := 0; attempt < 4; attempt++ {
		gp := newGaussianProcess(o.cfg.LengthScale, noise)
		if err := gp.Fit(x, y); err == nil {
			return gp, true
		}
		noise *= 100
	}
	return nil, false
}

func (o *Optimizer) random(s *space.Space) domain.Proposal {
	a, vec := s.Sample(o.rng)
	return domain.Proposal{Assignment: a, Vector: vec}
}
