package lrsched

import (
	"math"
	"sort"
)

// perGroup applies f to every base rate. Negative epochs yield the base rate.
func perGroup(s *Scheduler, f func(base float64, epoch int) float64) []float64 {
	epoch := s.CurrentEpoch()
	out := s.BaseLRs()
	if epoch < 0 {
		return out
	}
	for i, base := range out {
		out[i] = f(base, epoch)
	}
	return out
}

// Constant scales the base rates by Factor for the first TotalIters epochs.
type Constant struct {
	Factor     float64
	TotalIters int
}

// ComputeLR implements Policy.
func (p Constant) ComputeLR(s *Scheduler) []float64 {
	return perGroup(s, func(base float64, epoch int) float64 {
		if epoch < p.TotalIters {
			return base * p.Factor
		}
		return base
	})
}

// StepDecay multiplies the base rates by Gamma every StepSize epochs.
type StepDecay struct {
	StepSize int
	Gamma    float64
}

// ComputeLR implements Policy.
func (p StepDecay) ComputeLR(s *Scheduler) []float64 {
	return perGroup(s, func(base float64, epoch int) float64 {
		if p.StepSize <= 0 {
			return base
		}
		return base * math.Pow(p.Gamma, float64(epoch/p.StepSize))
	})
}

// MultiStep multiplies the base rates by Gamma once per milestone reached.
type MultiStep struct {
	Milestones []int
	Gamma      float64
}

// ComputeLR implements Policy.
func (p MultiStep) ComputeLR(s *Scheduler) []float64 {
	milestones := append([]int(nil), p.Milestones...)
	sort.Ints(milestones)
	return perGroup(s, func(base float64, epoch int) float64 {
		passed := sort.SearchInts(milestones, epoch+1)
		return base * math.Pow(p.Gamma, float64(passed))
	})
}

// Exponential multiplies the base rates by Gamma every epoch.
type Exponential struct {
	Gamma float64
}

// ComputeLR implements Policy.
func (p Exponential) ComputeLR(s *Scheduler) []float64 {
	return perGroup(s, func(base float64, epoch int) float64 {
		return base * math.Pow(p.Gamma, float64(epoch))
	})
}

// CosineAnnealing follows half a cosine from the base rate down to EtaMin
// over TMax epochs and stays at EtaMin afterwards.
type CosineAnnealing struct {
	TMax   int
	EtaMin float64
}

// ComputeLR implements Policy.
func (p CosineAnnealing) ComputeLR(s *Scheduler) []float64 {
	return perGroup(s, func(base float64, epoch int) float64 {
		if p.TMax <= 0 {
			return base
		}
		return cosine(p.EtaMin, base, min(epoch, p.TMax), p.TMax)
	})
}

// CosineRestarts is cosine annealing with warm restarts (SGDR). The first
// period lasts T0 epochs; every following period is TMult times longer.
type CosineRestarts struct {
	T0     int
	TMult  int
	EtaMin float64
}

// ComputeLR implements Policy.
func (p CosineRestarts) ComputeLR(s *Scheduler) []float64 {
	return perGroup(s, func(base float64, epoch int) float64 {
		if p.T0 <= 0 {
			return base
		}
		cur, period := p.position(epoch)
		return cosine(p.EtaMin, base, cur, period)
	})
}

// position returns the epoch offset inside the current period and the
// period's length.
func (p CosineRestarts) position(epoch int) (cur, period int) {
	mult := max(p.TMult, 1)
	if mult == 1 {
		return epoch % p.T0, p.T0
	}
	cur, period = epoch, p.T0
	for cur >= period {
		cur -= period
		period *= mult
	}
	return cur, period
}

func cosine(low, high float64, cur, period int) float64 {
	return low + (high-low)*(1+math.Cos(math.Pi*float64(cur)/float64(period)))/2
}

// Linear scales the base rates by a factor moving linearly from
// StartFactor to EndFactor over TotalIters epochs.
type Linear struct {
	StartFactor float64
	EndFactor   float64
	TotalIters  int
}

// ComputeLR implements Policy.
func (p Linear) ComputeLR(s *Scheduler) []float64 {
	return perGroup(s, func(base float64, epoch int) float64 {
		if p.TotalIters <= 0 {
			return base * p.EndFactor
		}
		frac := float64(min(epoch, p.TotalIters)) / float64(p.TotalIters)
		return base * (p.StartFactor + (p.EndFactor-p.StartFactor)*frac)
	})
}

// Polynomial decays the base rates to zero over TotalIters epochs.
type Polynomial struct {
	TotalIters int
	Power      float64
}

// ComputeLR implements Policy.
func (p Polynomial) ComputeLR(s *Scheduler) []float64 {
	return perGroup(s, func(base float64, epoch int) float64 {
		if p.TotalIters <= 0 {
			return base
		}
		remaining := 1 - float64(min(epoch, p.TotalIters))/float64(p.TotalIters)
		return base * math.Pow(remaining, p.Power)
	})
}

// Lambda scales each base rate by a user function of the epoch. A single
// function is shared by all groups; otherwise there must be one per group.
type Lambda struct {
	Fns []func(epoch int) float64
}

// ComputeLR implements Policy. It returns nil when the number of functions
// fits neither rule, which Step reports as ErrPolicyOutput.
func (p Lambda) ComputeLR(s *Scheduler) []float64 {
	n := s.NumGroups()
	if len(p.Fns) != 1 && len(p.Fns) != n {
		return nil
	}
	epoch := s.CurrentEpoch()
	out := s.BaseLRs()
	if epoch < 0 {
		return out
	}
	for i := range out {
		fn := p.Fns[0]
		if len(p.Fns) == n {
			fn = p.Fns[i]
		}
		out[i] *= fn(epoch)
	}
	return out
}

// Warmup ramps the rates linearly from zero to the base rates over Steps
// epochs and then hands over to After, which sees epochs counted from the
// end of the warm-up. A nil After keeps the base rates.
type Warmup struct {
	Steps int
	After Policy
}

// ComputeLR implements Policy.
func (p Warmup) ComputeLR(s *Scheduler) []float64 {
	epoch := s.CurrentEpoch()
	if epoch >= 0 && epoch < p.Steps {
		out := s.BaseLRs()
		for i := range out {
			out[i] *= float64(epoch) / float64(p.Steps)
		}
		return out
	}
	if p.After == nil || epoch < 0 {
		return s.BaseLRs()
	}
	return p.After.ComputeLR(s.at(epoch - p.Steps))
}

// PolicyState implements StatefulPolicy by returning the state of After,
// or nil when After keeps none.
func (p Warmup) PolicyState() map[string]float64 {
	if sp, ok := p.After.(StatefulPolicy); ok {
		return sp.PolicyState()
	}
	return nil
}

// LoadPolicyState implements StatefulPolicy. After must be a pointer for
// the restored state to stick.
func (p Warmup) LoadPolicyState(state map[string]float64) error {
	if sp, ok := p.After.(StatefulPolicy); ok {
		return sp.LoadPolicyState(state)
	}
	return nil
}
