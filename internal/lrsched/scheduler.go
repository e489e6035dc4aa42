// Package lrsched adjusts the learning rates of an optimizer's parameter
// groups as training progresses.
//
// A Scheduler owns the epoch counter and the base rate of every group. A
// Policy computes the rates for the current epoch; the scheduler writes
// them into the groups' "lr" option on every Step:
//
//	opt := optim.NewSGD(model.Parameters(), optim.SGDConfig{LR: 0.1}, backend)
//	sched, err := lrsched.New(opt, lrsched.StepDecay{StepSize: 30, Gamma: 0.1}, lrsched.FreshStart)
//	if err != nil {
//	    return err
//	}
//	for epoch := 0; epoch < epochs; epoch++ {
//	    train(model, opt)
//	    if err := sched.Step(); err != nil {
//	        return err
//	    }
//	}
package lrsched

import (
	"slices"

	"github.com/born-ml/trainkit/internal/optim"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// FreshStart is the epoch passed to New when training starts from scratch.
const FreshStart = -1

// Policy computes the learning rate of every parameter group for the
// scheduler's current epoch.
type Policy interface {
	ComputeLR(s *Scheduler) []float64
}

// PolicyFunc adapts a function to the Policy interface.
type PolicyFunc func(s *Scheduler) []float64

// ComputeLR implements Policy.
func (f PolicyFunc) ComputeLR(s *Scheduler) []float64 {
	return f(s)
}

// Scheduler drives the learning rates of a grouped optimizer.
type Scheduler struct {
	optimizer    optim.GroupedOptimizer
	policy       Policy
	baseLRs      []float64
	lastLRs      []float64
	currentEpoch int
}

// New wraps opt with a learning-rate policy.
//
// With currentEpoch == FreshStart every group's current "lr" is recorded as
// its "initial_lr" unless one is already present. Any other epoch resumes a
// previous run and requires every group to carry "initial_lr". The base
// rates are the groups' initial rates. New does not step: CurrentEpoch
// reports currentEpoch and the group rates are left untouched until the
// first Step.
func New(opt optim.Optimizer, policy Policy, currentEpoch int) (*Scheduler, error) {
	grouped, ok := opt.(optim.GroupedOptimizer)
	if !ok {
		return nil, errors.Wrapf(ErrNotGroupedOptimizer, "got %T", opt)
	}
	if policy == nil {
		return nil, ErrNilPolicy
	}

	groups := grouped.ParamGroups()
	if currentEpoch == FreshStart {
		for _, g := range groups {
			if _, ok := g.InitialLR(); !ok {
				g.SetInitialLR(g.LR())
			}
		}
	} else {
		for i, g := range groups {
			if _, ok := g.InitialLR(); !ok {
				return nil, errors.Wrapf(ErrMissingInitialLR, "param group %d", i)
			}
		}
	}

	s := &Scheduler{
		optimizer:    grouped,
		policy:       policy,
		baseLRs:      make([]float64, len(groups)),
		lastLRs:      make([]float64, len(groups)),
		currentEpoch: currentEpoch,
	}
	for i, g := range groups {
		s.baseLRs[i], _ = g.InitialLR()
		s.lastLRs[i] = g.LR()
	}
	klog.V(1).Infof("lrsched: %T over %d param groups, epoch %d, base rates %v", policy, len(groups), currentEpoch, s.baseLRs)
	return s, nil
}

// Step advances the epoch by one and assigns the policy's rates.
func (s *Scheduler) Step() error {
	return s.StepTo(s.currentEpoch + 1)
}

// StepTo sets the current epoch and assigns the policy's rates. If the
// policy returns the wrong number of rates, the epoch, the last rates and
// the groups are left as they were.
func (s *Scheduler) StepTo(epoch int) error {
	groups := s.optimizer.ParamGroups()
	values := s.policy.ComputeLR(s.at(epoch))
	if len(values) != len(groups) {
		return errors.Wrapf(ErrPolicyOutput, "%T returned %d rates for %d groups", s.policy, len(values), len(groups))
	}

	s.currentEpoch = epoch
	for i, g := range groups {
		g.SetLR(values[i])
		klog.V(2).Infof("lrsched: epoch %d group %d lr=%g", epoch, i, values[i])
	}
	s.lastLRs = slices.Clone(values)
	return nil
}

// CurrentEpoch returns the epoch of the last assignment, or the epoch
// passed to New before the first Step.
func (s *Scheduler) CurrentEpoch() int {
	return s.currentEpoch
}

// BaseLRs returns a copy of the per-group initial rates.
func (s *Scheduler) BaseLRs() []float64 {
	return slices.Clone(s.baseLRs)
}

// LastLR returns a copy of the rates of the last assignment.
func (s *Scheduler) LastLR() []float64 {
	return slices.Clone(s.lastLRs)
}

// NumGroups returns the number of parameter groups.
func (s *Scheduler) NumGroups() int {
	return len(s.baseLRs)
}

// Policy returns the scheduler's policy.
func (s *Scheduler) Policy() Policy {
	return s.policy
}

// at returns a view of s positioned at another epoch. Composite policies
// use it to delegate with a shifted epoch.
func (s *Scheduler) at(epoch int) *Scheduler {
	view := *s
	view.currentEpoch = epoch
	return &view
}
