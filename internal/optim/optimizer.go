// Package optim implements optimization algorithms for training neural networks.
//
// This package provides:
//   - Optimizer interface: Base interface for all optimizers
//   - GroupedOptimizer: Optimizers exposing per-group hyper-parameters
//   - SGD: Stochastic Gradient Descent with momentum
//   - Adam: Adaptive Moment Estimation
//
// Parameters are organized in ordered parameter groups. Every group carries
// its own hyper-parameter mapping (GroupOptions) with at least a learning
// rate, so that different parts of a model can train at different rates and
// a learning-rate scheduler can adjust each group independently.
//
// Example usage:
//
//	optimizer := optim.NewSGDWithGroups([]optim.ParamGroup[B]{
//	    {Params: backbone.Parameters(), Options: optim.GroupOptions{optim.KeyLR: 0.01}},
//	    {Params: head.Parameters()},
//	}, optim.SGDConfig{LR: 0.1, Momentum: 0.9}, backend)
//
//	for epoch := range epochs {
//	    optimizer.Step(grads)
//	    optimizer.ZeroGrad()
//	}
package optim

import (
	"github.com/born-ml/trainkit/internal/nn"
	"github.com/born-ml/trainkit/internal/tensor"
)

// Optimizer is the base interface for all optimization algorithms.
//
// All optimizers must implement:
//   - Step: Apply gradient updates to parameters
//   - ZeroGrad: Clear gradients before next iteration
//   - GetLR: Get current learning rate (for monitoring/scheduling)
type Optimizer interface {
	// Step applies gradient updates to all parameters.
	//
	// The gradient map holds RawTensor -> gradient entries keyed by the
	// parameter's raw tensor.
	Step(grads map[*tensor.RawTensor]*tensor.RawTensor)

	// ZeroGrad clears all parameter gradients.
	ZeroGrad()

	// GetLR returns the learning rate of the first parameter group.
	GetLR() float32
}

// GroupedOptimizer is an Optimizer organized in parameter groups.
//
// ParamGroups returns the live option mappings in group order. Writes to a
// returned mapping take effect on the next Step.
type GroupedOptimizer interface {
	Optimizer
	ParamGroups() []GroupOptions
}

// Config is the base configuration for all optimizers.
type Config struct {
	LR float32 // Learning rate
}

// getGradient safely retrieves gradient for a parameter.
//
// Returns nil if no gradient is found (parameter wasn't part of computation graph).
func getGradient[B tensor.Backend](param *nn.Parameter[B], grads map[*tensor.RawTensor]*tensor.RawTensor) *tensor.RawTensor {
	if param == nil {
		return nil
	}
	return grads[param.Tensor().Raw()]
}
