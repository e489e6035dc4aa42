package lrsched

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// Args carries the named numeric arguments of a policy built by name.
type Args struct {
	Values map[string]float64
	Lists  map[string][]float64
}

// Float returns the named value, or def when absent.
func (a Args) Float(name string, def float64) float64 {
	if v, ok := a.Values[name]; ok {
		return v
	}
	return def
}

// Int returns the named value truncated to an int, or def when absent.
func (a Args) Int(name string, def int) int {
	if v, ok := a.Values[name]; ok {
		return int(v)
	}
	return def
}

// Ints returns the named list truncated to ints.
func (a Args) Ints(name string) []int {
	list := a.Lists[name]
	out := make([]int, len(list))
	for i, v := range list {
		out[i] = int(v)
	}
	return out
}

// Builder builds a Policy from named arguments.
type Builder func(args Args) (Policy, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Builder{}
)

// Register makes a policy builder available under name, replacing any
// previous registration.
func Register(name string, b Builder) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = b
}

// Lookup returns the builder registered under name.
func Lookup(name string) (Builder, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	b, ok := registry[name]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownPolicy, "%q (known: %v)", name, namesLocked())
	}
	return b, nil
}

// Names returns the registered policy names, sorted.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return namesLocked()
}

func namesLocked() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func positive(name string, v int) error {
	if v <= 0 {
		return errors.Errorf("lrsched: %s must be positive, got %d", name, v)
	}
	return nil
}

func init() {
	Register("constant", func(a Args) (Policy, error) {
		return Constant{Factor: a.Float("factor", 1.0/3), TotalIters: a.Int("total_iters", 5)}, nil
	})
	Register("step", func(a Args) (Policy, error) {
		p := StepDecay{StepSize: a.Int("step_size", 0), Gamma: a.Float("gamma", 0.1)}
		return p, positive("step_size", p.StepSize)
	})
	Register("multistep", func(a Args) (Policy, error) {
		return MultiStep{Milestones: a.Ints("milestones"), Gamma: a.Float("gamma", 0.1)}, nil
	})
	Register("exponential", func(a Args) (Policy, error) {
		return Exponential{Gamma: a.Float("gamma", 0.9)}, nil
	})
	Register("cosine", func(a Args) (Policy, error) {
		p := CosineAnnealing{TMax: a.Int("t_max", 0), EtaMin: a.Float("eta_min", 0)}
		return p, positive("t_max", p.TMax)
	})
	Register("cosine_restarts", func(a Args) (Policy, error) {
		p := CosineRestarts{T0: a.Int("t_0", 0), TMult: a.Int("t_mult", 1), EtaMin: a.Float("eta_min", 0)}
		return p, positive("t_0", p.T0)
	})
	Register("linear", func(a Args) (Policy, error) {
		return Linear{
			StartFactor: a.Float("start_factor", 1.0/3),
			EndFactor:   a.Float("end_factor", 1),
			TotalIters:  a.Int("total_iters", 5),
		}, nil
	})
	Register("polynomial", func(a Args) (Policy, error) {
		return Polynomial{TotalIters: a.Int("total_iters", 5), Power: a.Float("power", 1)}, nil
	})
	Register("plateau", func(a Args) (Policy, error) {
		p := NewPlateau()
		if a.Float("mode_max", 0) != 0 {
			p.Mode = ModeMax
		}
		p.Factor = a.Float("factor", p.Factor)
		p.Patience = a.Int("patience", p.Patience)
		p.Threshold = a.Float("threshold", p.Threshold)
		p.Cooldown = a.Int("cooldown", 0)
		p.MinLR = a.Float("min_lr", 0)
		if p.Factor >= 1 {
			return nil, errors.Errorf("lrsched: plateau factor must be < 1, got %g", p.Factor)
		}
		return p, nil
	})
}
