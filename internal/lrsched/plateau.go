package lrsched

import (
	"math"

	"k8s.io/klog/v2"
)

// Plateau mode values.
const (
	ModeMin = "min"
	ModeMax = "max"
)

// Plateau reduces the rates by Factor once a monitored metric has stopped
// improving for more than Patience observations.
//
// Feed the metric with Observe before each Step. Improvements are relative:
// in ModeMin a value counts as better when it is below best*(1-Threshold).
// After a reduction, Cooldown observations are ignored. Rates never drop
// below MinLR.
type Plateau struct {
	Mode      string
	Factor    float64
	Patience  int
	Threshold float64
	Cooldown  int
	MinLR     float64

	best        float64
	hasBest     bool
	numBad      int
	cooldownCtr int
	reduce      bool
}

// NewPlateau returns a Plateau with the usual defaults: mode min, factor
// 0.1, patience 10, threshold 1e-4.
func NewPlateau() *Plateau {
	return &Plateau{Mode: ModeMin, Factor: 0.1, Patience: 10, Threshold: 1e-4}
}

// Observe records a metric value for the next ComputeLR.
func (p *Plateau) Observe(metric float64) {
	if !p.hasBest || p.better(metric) {
		p.best = metric
		p.hasBest = true
		p.numBad = 0
	} else {
		p.numBad++
	}

	if p.cooldownCtr > 0 {
		p.cooldownCtr--
		p.numBad = 0
	}
	if p.numBad > p.Patience {
		p.reduce = true
		p.cooldownCtr = p.Cooldown
		p.numBad = 0
	}
}

func (p *Plateau) better(metric float64) bool {
	if p.Mode == ModeMax {
		return metric > p.best*(1+p.Threshold)
	}
	return metric < p.best*(1-p.Threshold)
}

// Best returns the best metric observed so far.
func (p *Plateau) Best() (float64, bool) {
	return p.best, p.hasBest
}

// ComputeLR implements Policy. When the last Observe triggered a reduction
// every rate is multiplied by Factor, floored at MinLR; otherwise the last
// rates are kept.
func (p *Plateau) ComputeLR(s *Scheduler) []float64 {
	out := s.LastLR()
	if !p.reduce {
		return out
	}
	p.reduce = false
	for i, lr := range out {
		out[i] = math.Max(lr*p.Factor, p.MinLR)
		klog.V(1).Infof("lrsched: plateau reduced group %d lr %g -> %g", i, lr, out[i])
	}
	return out
}

// PolicyState implements StatefulPolicy.
func (p *Plateau) PolicyState() map[string]float64 {
	state := map[string]float64{
		"num_bad_epochs":   float64(p.numBad),
		"cooldown_counter": float64(p.cooldownCtr),
	}
	if p.hasBest {
		state["best"] = p.best
	}
	return state
}

// LoadPolicyState implements StatefulPolicy.
func (p *Plateau) LoadPolicyState(state map[string]float64) error {
	p.best, p.hasBest = state["best"]
	p.numBad = int(state["num_bad_epochs"])
	p.cooldownCtr = int(state["cooldown_counter"])
	p.reduce = false
	return nil
}
