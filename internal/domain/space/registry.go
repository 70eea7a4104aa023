package space

import (
	"fmt"
	"sort"
	"sync"
)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]*Space)
)

// Register makes a compiled-in space available as builtin:<name>.
// It panics on an empty or duplicate name, like database/sql.Register.
func Register(name string, s *Space) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if name == "" || s == nil {
		panic("space: Register with empty name or nil space")
	}
	if _, dup := registry[name]; dup {
		panic(fmt.Sprintf("space: Register called twice for %q", name))
	}
	registry[name] = s
}

// Lookup returns a registered space.
func Lookup(name string) (*Space, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	s, ok := registry[name]
	return s, ok
}

// Registered lists registered names in sorted order.
func Registered() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func init() {
	// A small network-training space, handy for smoke runs.
	Register("mlp", MustNew(
		Param{Name: "lr", Type: LogUniform, Low: 1e-4, High: 1e-1},
		Param{Name: "batch_size", Type: QUniform, Low: 16, High: 256, Q: 16},
		Param{Name: "optimizer", Type: Choice, Options: []Option{
			{Value: "adam"},
			{Value: "sgd", Parameters: []Param{
				{Name: "momentum", Type: Uniform, Low: 0, High: 0.99},
			}},
		}},
		Param{Name: "dropout", Type: Uniform, Low: 0, High: 0.5},
	))
}
