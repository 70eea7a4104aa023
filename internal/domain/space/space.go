// Package space describes the parameter search space: an ordered tree of named
// distributions whose conditional branches hang off choice options.
package space

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/exp/constraints"
	"gopkg.in/yaml.v3"

	"github.com/kailas-cloud/tuner/internal/domain"
)

// Kind is a distribution type.
type Kind string

// Supported distributions.
const (
	Uniform     Kind = "uniform"
	QUniform    Kind = "quniform"
	LogUniform  Kind = "loguniform"
	QLogUniform Kind = "qloguniform"
	Normal      Kind = "normal"
	QNormal     Kind = "qnormal"
	LogNormal   Kind = "lognormal"
	RandInt     Kind = "randint"
	Choice      Kind = "choice"
)

// inactive is the unit-cube coordinate recorded for parameters of unselected branches.
const inactive = 0.5

// ErrInvalidSpace signals a malformed space definition.
var ErrInvalidSpace = errors.New("invalid space")

// Param is one named distribution.
type Param struct {
	Name    string   `yaml:"name"`
	Type    Kind     `yaml:"type"`
	Low     float64  `yaml:"low,omitempty"`
	High    float64  `yaml:"high,omitempty"`
	Q       float64  `yaml:"q,omitempty"`
	Mu      float64  `yaml:"mu,omitempty"`
	Sigma   float64  `yaml:"sigma,omitempty"`
	Options []Option `yaml:"options,omitempty"`

	dim int
}

// Option is one branch of a choice. Parameters are active only when it is selected.
type Option struct {
	Value      any     `yaml:"value"`
	Parameters []Param `yaml:"parameters,omitempty"`
}

// Space is an immutable search space.
type Space struct {
	Parameters []Param `yaml:"parameters"`

	dims int
}

// Parse decodes a YAML or JSON space document and validates it.
func Parse(data []byte) (*Space, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var s Space
	if err := dec.Decode(&s); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty document", ErrInvalidSpace)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidSpace, err)
	}
	if err := s.init(); err != nil {
		return nil, err
	}
	return &s, nil
}

// New builds a space from parameters, validating it.
func New(params ...Param) (*Space, error) {
	s := &Space{Parameters: params}
	if err := s.init(); err != nil {
		return nil, err
	}
	return s, nil
}

// MustNew is New that panics; intended for compiled-in spaces.
func MustNew(params ...Param) *Space {
	s, err := New(params...)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *Space) init() error {
	if len(s.Parameters) == 0 {
		return fmt.Errorf("%w: no parameters", ErrInvalidSpace)
	}
	seen := make(map[string]bool)
	s.dims = 0
	return assignDims(s.Parameters, seen, &s.dims)
}

func assignDims(params []Param, seen map[string]bool, next *int) error {
	for i := range params {
		p := &params[i]
		if err := p.validate(); err != nil {
			return err
		}
		if seen[p.Name] {
			return fmt.Errorf("%w: duplicate parameter %q", ErrInvalidSpace, p.Name)
		}
		seen[p.Name] = true
		p.dim = *next
		*next++
		for j := range p.Options {
			if err := assignDims(p.Options[j].Parameters, seen, next); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *Param) validate() error {
	if p.Name == "" {
		return fmt.Errorf("%w: parameter without name", ErrInvalidSpace)
	}
	bad := func(msg string) error {
		return fmt.Errorf("%w: %s: %s", ErrInvalidSpace, p.Name, msg)
	}
	// names become command-line flags
	if strings.ContainsFunc(p.Name, unicode.IsSpace) || strings.HasPrefix(p.Name, "-") {
		return fmt.Errorf("%w: %q: name must not contain whitespace or start with '-'", ErrInvalidSpace, p.Name)
	}
	if p.Type != Choice && len(p.Options) > 0 {
		return bad("options are only allowed for choice")
	}

	switch p.Type {
	case Uniform, QUniform, LogUniform, QLogUniform, RandInt:
		if !(p.Low < p.High) {
			return bad("low must be less than high")
		}
		if (p.Type == LogUniform || p.Type == QLogUniform) && p.Low <= 0 {
			return bad("log bounds must be positive")
		}
		if p.Type == RandInt && (p.Low != math.Trunc(p.Low) || p.High != math.Trunc(p.High)) {
			return bad("randint bounds must be integers")
		}
	case Normal, QNormal, LogNormal:
		if p.Sigma <= 0 {
			return bad("sigma must be positive")
		}
	case Choice:
		if len(p.Options) == 0 {
			return bad("choice needs at least one option")
		}
		for _, o := range p.Options {
			if _, err := scalar(o.Value); err != nil {
				return bad(err.Error())
			}
		}
	default:
		return bad(fmt.Sprintf("unknown type %q", p.Type))
	}

	if (p.Type == QUniform || p.Type == QLogUniform || p.Type == QNormal) && p.Q <= 0 {
		return bad("q must be positive")
	}
	return nil
}

// Dims returns the number of unit-cube coordinates, one per parameter in the tree.
func (s *Space) Dims() int { return s.dims }

// Names returns every parameter name in declaration order, nested ones included.
func (s *Space) Names() []string {
	var names []string
	walk(s.Parameters, func(p *Param, _ int) { names = append(names, p.Name) })
	return names
}

// HasTopLevel reports whether name is declared outside any choice branch,
// which means every assignment carries it.
func (s *Space) HasTopLevel(name string) bool {
	for i := range s.Parameters {
		if s.Parameters[i].Name == name {
			return true
		}
	}
	return false
}

// Contains reports whether name is declared anywhere in the tree.
func (s *Space) Contains(name string) bool {
	found := false
	walk(s.Parameters, func(p *Param, _ int) {
		if p.Name == name {
			found = true
		}
	})
	return found
}

func walk(params []Param, fn func(p *Param, depth int)) {
	var rec func(ps []Param, depth int)
	rec = func(ps []Param, depth int) {
		for i := range ps {
			fn(&ps[i], depth)
			for j := range ps[i].Options {
				rec(ps[i].Options[j].Parameters, depth+1)
			}
		}
	}
	rec(params, 0)
}

// Sample draws a random assignment.
func (s *Space) Sample(rng *rand.Rand) (domain.Assignment, []float64) {
	u := make([]float64, s.dims)
	for i := range u {
		u[i] = rng.Float64()
	}
	return s.Decode(u)
}

// Decode maps a unit-cube point to an assignment. The returned vector equals u with the
// coordinates of unselected branches pinned, so equal assignments share a vector.
func (s *Space) Decode(u []float64) (domain.Assignment, []float64) {
	vec := make([]float64, s.dims)
	for i := range vec {
		vec[i] = inactive
	}
	var out domain.Assignment
	decodeParams(s.Parameters, u, vec, &out)
	return out, vec
}

func decodeParams(params []Param, u, vec []float64, out *domain.Assignment) {
	for i := range params {
		p := &params[i]
		x := clamp(coord(u, p.dim), 0, 1)
		vec[p.dim] = x

		if p.Type == Choice {
			idx := clamp(int(x*float64(len(p.Options))), 0, len(p.Options)-1)
			opt := p.Options[idx]
			v, _ := scalar(opt.Value)
			*out = append(*out, domain.Param{Name: p.Name, Value: v})
			decodeParams(opt.Parameters, u, vec, out)
			continue
		}
		*out = append(*out, domain.Param{Name: p.Name, Value: p.value(x)})
	}
}

func coord(u []float64, i int) float64 {
	if i < len(u) {
		return u[i]
	}
	return inactive
}

func (p *Param) value(x float64) domain.Value {
	switch p.Type {
	case Uniform:
		return domain.Float(p.Low + x*(p.High-p.Low))
	case QUniform:
		return domain.Float(quantize(p.Low+x*(p.High-p.Low), p.Q))
	case LogUniform:
		return domain.Float(logScale(p.Low, p.High, x))
	case QLogUniform:
		return domain.Float(quantize(logScale(p.Low, p.High, x), p.Q))
	case Normal:
		return domain.Float(p.Mu + p.Sigma*probit(x))
	case QNormal:
		return domain.Float(quantize(p.Mu+p.Sigma*probit(x), p.Q))
	case LogNormal:
		return domain.Float(math.Exp(p.Mu + p.Sigma*probit(x)))
	case RandInt:
		lo, hi := int64(p.Low), int64(p.High)
		return domain.Int(clamp(lo+int64(x*float64(hi-lo)), lo, hi-1))
	default:
		return domain.Float(x)
	}
}

func logScale(low, high, x float64) float64 {
	return math.Exp(math.Log(low) + x*(math.Log(high)-math.Log(low)))
}

// probit is the standard normal quantile function.
func probit(x float64) float64 {
	const eps = 1e-9
	x = clamp(x, eps, 1-eps)
	return math.Sqrt2 * math.Erfinv(2*x-1)
}

func quantize[T constraints.Float](x, q T) T {
	return T(math.Round(float64(x/q))) * q
}

func clamp[T constraints.Integer | constraints.Float](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func scalar(v any) (domain.Value, error) {
	switch t := v.(type) {
	case string:
		return domain.String(t), nil
	case int:
		return domain.Int(int64(t)), nil
	case int64:
		return domain.Int(t), nil
	case float64:
		return domain.Float(t), nil
	case bool:
		return domain.String(strconv.FormatBool(t)), nil
	case domain.Value:
		return t, nil
	case nil:
		return domain.Value{}, errors.New("option value is required")
	default:
		return domain.Value{}, fmt.Errorf("option value %v must be a scalar", v)
	}
}
