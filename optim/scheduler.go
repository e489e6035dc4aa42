// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package optim

import (
	"github.com/born-ml/trainkit/internal/lrsched"
)

// FreshStart is the epoch argument for a scheduler that starts training
// from scratch.
const FreshStart = lrsched.FreshStart

// Scheduler adjusts the learning rates of a GroupedOptimizer every epoch.
type Scheduler = lrsched.Scheduler

// SchedulerState is a serializable scheduler snapshot.
type SchedulerState = lrsched.State

// Policy computes the per-group learning rates of an epoch.
type Policy = lrsched.Policy

// PolicyFunc adapts a function to Policy.
type PolicyFunc = lrsched.PolicyFunc

// NewScheduler attaches policy to opt. currentEpoch is FreshStart for a new
// run or the last finished epoch when resuming.
func NewScheduler(opt Optimizer, policy Policy, currentEpoch int) (*Scheduler, error) {
	return lrsched.New(opt, policy, currentEpoch)
}

// Built-in policies.
type (
	ConstantLR      = lrsched.Constant
	StepLR          = lrsched.StepDecay
	MultiStepLR     = lrsched.MultiStep
	ExponentialLR   = lrsched.Exponential
	CosineAnnealing = lrsched.CosineAnnealing
	CosineRestarts  = lrsched.CosineRestarts
	LinearLR        = lrsched.Linear
	PolynomialLR    = lrsched.Polynomial
	LambdaLR        = lrsched.Lambda
	Warmup          = lrsched.Warmup
	Plateau         = lrsched.Plateau
)

// NewPlateau returns a Plateau policy with default settings.
func NewPlateau() *Plateau {
	return lrsched.NewPlateau()
}

// Scheduler errors.
var (
	ErrNotGroupedOptimizer = lrsched.ErrNotGroupedOptimizer
	ErrMissingInitialLR    = lrsched.ErrMissingInitialLR
	ErrUnknownPolicy       = lrsched.ErrUnknownPolicy
)
