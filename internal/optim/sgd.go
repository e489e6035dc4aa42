package optim

import (
	"fmt"

	"github.com/born-ml/trainkit/internal/nn"
	"github.com/born-ml/trainkit/internal/tensor"
	"github.com/pkg/errors"
)

// SGD implements Stochastic Gradient Descent optimizer with optional momentum.
//
// Update rule without momentum:
//
//	param = param - lr * (gradient + weight_decay * param)
//
// Update rule with momentum:
//
//	velocity = momentum * velocity + gradient
//	param = param - lr * velocity
//
// lr, momentum and weight_decay are read from each parameter group's
// options on every Step, so schedulers may change them between steps.
//
// Example:
//
//	optimizer := optim.NewSGD(model.Parameters(), optim.SGDConfig{
//	    LR:       0.01,
//	    Momentum: 0.9,
//	}, backend)
type SGD[B tensor.Backend] struct {
	groups     []*ParamGroup[B]
	velocities map[*nn.Parameter[B]]*tensor.Tensor[float32, B]
	backend    B
}

// SGDConfig holds the default configuration for SGD parameter groups.
type SGDConfig struct {
	LR          float32 // Learning rate (default: 0.01)
	Momentum    float32 // Momentum factor (default: 0.0, range: [0, 1))
	WeightDecay float32 // L2 penalty (default: 0.0)
}

func (c SGDConfig) options() GroupOptions {
	if c.LR == 0 {
		c.LR = 0.01
	}
	return GroupOptions{
		KeyLR:          float64(c.LR),
		KeyMomentum:    float64(c.Momentum),
		KeyWeightDecay: float64(c.WeightDecay),
	}
}

// NewSGD creates a new SGD optimizer with a single parameter group.
func NewSGD[B tensor.Backend](params []*nn.Parameter[B], config SGDConfig, backend B) *SGD[B] {
	return NewSGDWithGroups([]ParamGroup[B]{{Params: params}}, config, backend)
}

// NewSGDWithGroups creates a new SGD optimizer over ordered parameter groups.
//
// Options a group leaves unset are taken from config. The group option maps
// are copied; use ParamGroups to reach the live ones.
func NewSGDWithGroups[B tensor.Backend](groups []ParamGroup[B], config SGDConfig, backend B) *SGD[B] {
	return &SGD[B]{
		groups:     buildGroups(groups, config.options()),
		velocities: make(map[*nn.Parameter[B]]*tensor.Tensor[float32, B]),
		backend:    backend,
	}
}

// Step performs a single optimization step.
//
// Parameters with no gradient are skipped.
func (s *SGD[B]) Step(grads map[*tensor.RawTensor]*tensor.RawTensor) {
	for _, group := range s.groups {
		lr := group.Options.LR()
		momentum := group.Options.Get(KeyMomentum, 0)
		weightDecay := group.Options.Get(KeyWeightDecay, 0)

		for _, param := range group.Params {
			grad := getGradient(param, grads)
			if grad == nil {
				continue
			}

			gradTensor := tensor.New[float32, B](grad, s.backend)
			if weightDecay != 0 {
				gradTensor = gradTensor.Add(param.Tensor().MulScalar(weightDecay))
			}

			if momentum == 0 {
				s.updateParameter(param, gradTensor, lr)
			} else {
				s.updateParameterWithMomentum(param, gradTensor, lr, momentum)
			}
		}
	}
}

// updateParameter performs simple SGD update without momentum.
func (s *SGD[B]) updateParameter(param *nn.Parameter[B], grad *tensor.Tensor[float32, B], lr float64) {
	updated := param.Tensor().Sub(grad.MulScalar(lr))
	copy(param.Tensor().Raw().AsFloat32(), updated.Raw().AsFloat32())
}

// updateParameterWithMomentum performs SGD update with momentum.
func (s *SGD[B]) updateParameterWithMomentum(param *nn.Parameter[B], grad *tensor.Tensor[float32, B], lr, momentum float64) {
	velocity, exists := s.velocities[param]
	if !exists {
		velocity = tensor.Zeros[float32](param.Tensor().Shape(), s.backend)
		s.velocities[param] = velocity
	}

	// velocity = momentum * velocity + grad
	newVelocity := velocity.MulScalar(momentum).Add(grad)
	copy(velocity.Raw().AsFloat32(), newVelocity.Raw().AsFloat32())

	// param -= lr * velocity
	updated := param.Tensor().Sub(velocity.MulScalar(lr))
	copy(param.Tensor().Raw().AsFloat32(), updated.Raw().AsFloat32())
}

// ZeroGrad clears gradients for all parameters.
func (s *SGD[B]) ZeroGrad() {
	for _, group := range s.groups {
		for _, param := range group.Params {
			param.ZeroGrad()
		}
	}
}

// GetLR returns the learning rate of the first parameter group.
func (s *SGD[B]) GetLR() float32 {
	if len(s.groups) == 0 {
		return 0
	}
	return float32(s.groups[0].Options.LR())
}

// SetLR sets the learning rate of every parameter group.
func (s *SGD[B]) SetLR(lr float32) {
	for _, group := range s.groups {
		group.Options.SetLR(float64(lr))
	}
}

// ParamGroups returns the live option maps of all parameter groups.
func (s *SGD[B]) ParamGroups() []GroupOptions {
	return groupOptions(s.groups)
}

// params flattens the groups in order.
func (s *SGD[B]) params() []*nn.Parameter[B] {
	var out []*nn.Parameter[B]
	for _, group := range s.groups {
		out = append(out, group.Params...)
	}
	return out
}

// StateDict returns the optimizer state for serialization.
//
// State keys: "velocity.{param_index}" -> velocity tensor, where the index
// runs over all groups in order.
func (s *SGD[B]) StateDict() map[string]*tensor.RawTensor {
	stateDict := make(map[string]*tensor.RawTensor)
	for i, param := range s.params() {
		velocity, exists := s.velocities[param]
		if !exists {
			continue
		}
		stateDict[fmt.Sprintf("velocity.%d", i)] = velocity.Raw()
	}
	return stateDict
}

// LoadStateDict loads optimizer state from serialization.
//
// Missing velocities are initialized on the first step.
func (s *SGD[B]) LoadStateDict(stateDict map[string]*tensor.RawTensor) error {
	velocities := make(map[*nn.Parameter[B]]*tensor.Tensor[float32, B])
	for i, param := range s.params() {
		velocityRaw, exists := stateDict[fmt.Sprintf("velocity.%d", i)]
		if !exists {
			continue
		}
		if !velocityRaw.Shape().Equal(param.Tensor().Shape()) {
			return errors.Errorf("velocity shape mismatch for parameter %d: expected %v, got %v",
				i, param.Tensor().Shape(), velocityRaw.Shape())
		}
		velocities[param] = tensor.New[float32, B](velocityRaw.Clone(), s.backend)
	}
	s.velocities = velocities
	return nil
}
