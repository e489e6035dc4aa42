// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package optim provides optimizers and learning-rate schedulers.
//
// Example:
//
//	backend := cpu.New()
//	opt := optim.NewSGD(model.Parameters(), optim.SGDConfig{LR: 0.1, Momentum: 0.9}, backend)
//	sched, err := optim.NewScheduler(opt, optim.CosineAnnealing{TMax: 50}, optim.FreshStart)
//	if err != nil {
//	    return err
//	}
//	for epoch := range 50 {
//	    train(model, opt)
//	    if err := sched.Step(); err != nil {
//	        return err
//	    }
//	}
package optim

import (
	"github.com/born-ml/trainkit/internal/nn"
	"github.com/born-ml/trainkit/internal/optim"
	"github.com/born-ml/trainkit/tensor"
)

// Optimizer is implemented by all optimizers.
type Optimizer = optim.Optimizer

// GroupedOptimizer is an optimizer organized in parameter groups.
type GroupedOptimizer = optim.GroupedOptimizer

// GroupOptions is the hyper-parameter mapping of a parameter group.
type GroupOptions = optim.GroupOptions

// ParamGroup is a set of parameters sharing hyper-parameters.
type ParamGroup[B tensor.Backend] = optim.ParamGroup[B]

// Group option keys.
const (
	KeyLR          = optim.KeyLR
	KeyInitialLR   = optim.KeyInitialLR
	KeyMomentum    = optim.KeyMomentum
	KeyWeightDecay = optim.KeyWeightDecay
)

// SGD is stochastic gradient descent with optional momentum.
type SGD[B tensor.Backend] = optim.SGD[B]

// SGDConfig holds SGD defaults.
type SGDConfig = optim.SGDConfig

// NewSGD creates an SGD optimizer with one parameter group.
func NewSGD[B tensor.Backend](params []*nn.Parameter[B], config SGDConfig, backend B) *SGD[B] {
	return optim.NewSGD(params, config, backend)
}

// NewSGDWithGroups creates an SGD optimizer over parameter groups.
func NewSGDWithGroups[B tensor.Backend](groups []ParamGroup[B], config SGDConfig, backend B) *SGD[B] {
	return optim.NewSGDWithGroups(groups, config, backend)
}

// Adam is the Adam optimizer with bias correction.
type Adam[B tensor.Backend] = optim.Adam[B]

// AdamConfig holds Adam defaults.
type AdamConfig = optim.AdamConfig

// NewAdam creates an Adam optimizer with one parameter group.
func NewAdam[B tensor.Backend](params []*nn.Parameter[B], config AdamConfig, backend B) *Adam[B] {
	return optim.NewAdam(params, config, backend)
}

// NewAdamWithGroups creates an Adam optimizer over parameter groups.
func NewAdamWithGroups[B tensor.Backend](groups []ParamGroup[B], config AdamConfig, backend B) *Adam[B] {
	return optim.NewAdamWithGroups(groups, config, backend)
}
