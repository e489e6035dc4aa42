// Package nn implements neural network modules.
//
// This package provides the building blocks the optimizers and the
// batch-norm folding code operate on:
//   - Module interface: Base interface for all NN components
//   - Parameter: Trainable parameters with gradient slots
//   - Linear, Conv2D, ConvTranspose2D: Affine layers
//   - BatchNorm1D, BatchNorm2D: Batch normalization with running statistics
//   - ReLU, Identity: Parameter-free modules
//   - Sequential: Container for stacking layers
//
// Every module carries a training flag. Modules start in training mode;
// call Train(false) before inference.
package nn

import (
	"github.com/born-ml/trainkit/internal/tensor"
)

// Module is the base interface for all neural network components.
//
// Modules can be composed to build complex architectures:
//
//	model := nn.NewSequential[Backend](
//	    nn.NewConv2D(3, 16, 3, 3, 1, 1, false, backend),
//	    nn.NewBatchNorm2D(16, backend),
//	    nn.NewReLU[Backend](),
//	)
//
// Type parameter B must satisfy the tensor.Backend interface.
type Module[B tensor.Backend] interface {
	// Forward computes the output of the module given an input tensor.
	Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B]

	// Parameters returns all trainable parameters of this module,
	// including nested ones. Parameter-free modules return nil.
	Parameters() []*Parameter[B]

	// StateDict returns named tensors describing the module state
	// (parameters and buffers such as running statistics).
	StateDict() map[string]*tensor.RawTensor

	// LoadStateDict copies values from stateDict into the module.
	LoadStateDict(stateDict map[string]*tensor.RawTensor) error

	// Train switches the module (and its children) between training and
	// evaluation behaviour.
	Train(mode bool)

	// Training reports whether the module is in training mode.
	Training() bool
}

// mode is embedded by modules to implement Train and Training.
type mode struct {
	eval bool
}

// Train sets training mode.
func (m *mode) Train(training bool) {
	m.eval = !training
}

// Training reports whether the module is in training mode.
func (m *mode) Training() bool {
	return !m.eval
}
