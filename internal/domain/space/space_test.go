package space

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/kailas-cloud/tuner/internal/domain"
)

const conditionalDoc = `
parameters:
  - name: lr
    type: loguniform
    low: 0.0001
    high: 0.1
  - name: optimizer
    type: choice
    options:
      - value: adam
      - value: sgd
        parameters:
          - name: momentum
            type: uniform
            low: 0
            high: 0.99
  - name: layers
    type: randint
    low: 1
    high: 4
`

func TestParse_Conditional(t *testing.T) {
	s, err := Parse([]byte(conditionalDoc))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if s.Dims() != 4 {
		t.Errorf("expected 4 dims, got %d", s.Dims())
	}
	want := []string{"lr", "optimizer", "momentum", "layers"}
	got := s.Names()
	if len(got) != len(want) {
		t.Fatalf("names = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("names[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if !s.HasTopLevel("lr") || s.HasTopLevel("momentum") {
		t.Error("unexpected top-level detection")
	}
	if !s.Contains("momentum") || s.Contains("nope") {
		t.Error("unexpected Contains result")
	}
}

func TestParse_JSON(t *testing.T) {
	s, err := Parse([]byte(`{"parameters":[{"name":"lr","type":"uniform","low":0.01,"high":0.1}]}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if s.Dims() != 1 {
		t.Errorf("expected 1 dim, got %d", s.Dims())
	}
}

func TestParse_Invalid(t *testing.T) {
	docs := map[string]string{
		"empty":          ``,
		"no params":      `parameters: []`,
		"unknown field":  `{"parameters":[{"name":"a","type":"uniform","low":0,"high":1,"bogus":1}]}`,
		"unknown type":   `{"parameters":[{"name":"a","type":"beta"}]}`,
		"bounds":         `{"parameters":[{"name":"a","type":"uniform","low":1,"high":1}]}`,
		"log bounds":     `{"parameters":[{"name":"a","type":"loguniform","low":0,"high":1}]}`,
		"missing q":      `{"parameters":[{"name":"a","type":"quniform","low":0,"high":1}]}`,
		"sigma":          `{"parameters":[{"name":"a","type":"normal","mu":0}]}`,
		"empty choice":   `{"parameters":[{"name":"a","type":"choice"}]}`,
		"duplicate":      `{"parameters":[{"name":"a","type":"uniform","low":0,"high":1},{"name":"a","type":"uniform","low":0,"high":1}]}`,
		"nameless":       `{"parameters":[{"type":"uniform","low":0,"high":1}]}`,
		"spaced name":    `{"parameters":[{"name":"learning rate","type":"uniform","low":0,"high":1}]}`,
		"tab in name":    `{"parameters":[{"name":"lr\tx","type":"uniform","low":0,"high":1}]}`,
		"dashed name":    `{"parameters":[{"name":"-lr","type":"uniform","low":0,"high":1}]}`,
		"int bounds":     `{"parameters":[{"name":"a","type":"randint","low":0.5,"high":3}]}`,
		"options misuse": `{"parameters":[{"name":"a","type":"uniform","low":0,"high":1,"options":[{"value":1}]}]}`,
		"nested dup": `{"parameters":[{"name":"a","type":"choice","options":[{"value":1,"parameters":[
			{"name":"a","type":"uniform","low":0,"high":1}]}]}]}`,
	}
	for name, doc := range docs {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			if !errors.Is(err, ErrInvalidSpace) {
				t.Fatalf("expected ErrInvalidSpace, got %v", err)
			}
		})
	}
}

func TestSample_WithinBounds(t *testing.T) {
	s := MustNew(
		Param{Name: "u", Type: Uniform, Low: -1, High: 1},
		Param{Name: "q", Type: QUniform, Low: 0, High: 10, Q: 2},
		Param{Name: "lu", Type: LogUniform, Low: 1e-4, High: 1e-1},
		Param{Name: "n", Type: Normal, Mu: 5, Sigma: 0.1},
		Param{Name: "ri", Type: RandInt, Low: 2, High: 5},
		Param{Name: "c", Type: Choice, Options: []Option{{Value: "x"}, {Value: 1}}},
	)
	rng := rand.New(rand.NewSource(1))

	for i := 0; i < 500; i++ {
		a, vec := s.Sample(rng)
		if len(vec) != s.Dims() {
			t.Fatalf("vector length %d", len(vec))
		}
		if len(a) != 6 {
			t.Fatalf("assignment %v", a)
		}
		f := func(name string) float64 {
			v, ok := a.Get(name)
			if !ok {
				t.Fatalf("missing %s", name)
			}
			x, _ := v.Float64()
			return x
		}
		if u := f("u"); u < -1 || u > 1 {
			t.Errorf("u out of range: %v", u)
		}
		if q := f("q"); math.Mod(q, 2) != 0 || q < 0 || q > 10 {
			t.Errorf("q not quantized: %v", q)
		}
		if lu := f("lu"); lu < 1e-4 || lu > 1e-1 {
			t.Errorf("lu out of range: %v", lu)
		}
		if n := f("n"); math.Abs(n-5) > 1 {
			t.Errorf("n too far from mean: %v", n)
		}
		ri, _ := a.Get("ri")
		if ri.Kind() != domain.KindInt {
			t.Fatalf("randint kind %v", ri.Kind())
		}
		if x, _ := ri.Float64(); x < 2 || x > 4 {
			t.Errorf("ri out of range: %v", x)
		}
	}
}

func TestDecode_ConditionalBranches(t *testing.T) {
	s, err := Parse([]byte(conditionalDoc))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	// optimizer coordinate below 0.5 selects adam, momentum is inactive.
	a, vec := s.Decode([]float64{0, 0.2, 0.9, 0})
	if _, ok := a.Get("momentum"); ok {
		t.Error("momentum must be inactive for adam")
	}
	if vec[2] != inactive {
		t.Errorf("inactive coordinate = %v", vec[2])
	}
	if v, _ := a.Get("optimizer"); v.String() != "adam" {
		t.Errorf("optimizer = %v", v)
	}
	lr, _ := a.Get("lr")
	if x, _ := lr.Float64(); math.Abs(x-1e-4) > 1e-12 {
		t.Errorf("lr = %v", lr)
	}

	a, _ = s.Decode([]float64{1, 0.7, 0.5, 0.99})
	names := a.Names()
	want := []string{"lr", "optimizer", "momentum", "layers"}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("names = %v", names)
		}
	}
	if v, _ := a.Get("layers"); v.String() != "3" {
		t.Errorf("layers = %v", v)
	}
}

func TestDecode_BoolChoiceRendersLowercase(t *testing.T) {
	s, err := Parse([]byte(`
parameters:
  - name: bn
    type: choice
    options:
      - value: true
      - value: false
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	for u, want := range map[float64]string{0.1: "true", 0.9: "false"} {
		a, _ := s.Decode([]float64{u})
		if v, _ := a.Get("bn"); v.String() != want {
			t.Errorf("Decode(%v): bn = %q, want %q", u, v.String(), want)
		}
	}
}

func TestQuantizeAndClamp(t *testing.T) {
	if got := quantize(7.4, 2.0); got != 8 {
		t.Errorf("quantize = %v", got)
	}
	if got := clamp(5, 0, 3); got != 3 {
		t.Errorf("clamp = %v", got)
	}
	if got := clamp(-0.5, 0.0, 1.0); got != 0 {
		t.Errorf("clamp = %v", got)
	}
}

func TestRegistry(t *testing.T) {
	s, ok := Lookup("mlp")
	if !ok {
		t.Fatal("expected builtin mlp space")
	}
	if !s.HasTopLevel("lr") || !s.Contains("momentum") {
		t.Errorf("unexpected mlp space: %v", s.Names())
	}

	Register("test-registry", MustNew(Param{Name: "x", Type: Uniform, Low: 0, High: 1}))
	found := false
	for _, n := range Registered() {
		if n == "test-registry" {
			found = true
		}
	}
	if !found {
		t.Error("registered space not listed")
	}

	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate registration")
		}
	}()
	Register("mlp", s)
}
