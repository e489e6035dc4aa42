package optim

import (
	"fmt"
	"math"

	"github.com/born-ml/trainkit/internal/nn"
	"github.com/born-ml/trainkit/internal/tensor"
	"github.com/pkg/errors"
)

// Additional Adam group option keys.
const (
	KeyBeta1 = "beta1"
	KeyBeta2 = "beta2"
	KeyEps   = "eps"
)

// Adam implements the Adam (Adaptive Moment Estimation) optimizer.
//
// Update rule:
//
//	m_t = beta1 * m_{t-1} + (1-beta1) * gradient       // First moment
//	v_t = beta2 * v_{t-1} + (1-beta2) * gradient²      // Second moment
//	m_hat = m_t / (1 - beta1^t)                        // Bias correction
//	v_hat = v_t / (1 - beta2^t)                        // Bias correction
//	param = param - lr * m_hat / (sqrt(v_hat) + eps)  // Parameter update
//
// Weight decay, when set for a group, is added to the gradient as an L2
// penalty before the moment updates.
//
// Reference: "Adam: A Method for Stochastic Optimization" (Kingma & Ba, 2014)
type Adam[B tensor.Backend] struct {
	groups  []*ParamGroup[B]
	t       int                                             // Timestep for bias correction
	m       map[*nn.Parameter[B]]*tensor.Tensor[float32, B] // First moment estimates
	v       map[*nn.Parameter[B]]*tensor.Tensor[float32, B] // Second moment estimates
	backend B
}

// AdamConfig holds the default configuration for Adam parameter groups.
type AdamConfig struct {
	LR          float32    // Learning rate (default: 0.001)
	Betas       [2]float32 // Coefficients for computing running averages (default: [0.9, 0.999])
	Eps         float32    // Term for numerical stability (default: 1e-8)
	WeightDecay float32    // L2 penalty (default: 0.0)
}

func (c AdamConfig) options() GroupOptions {
	if c.LR == 0 {
		c.LR = 0.001
	}
	if c.Betas[0] == 0 {
		c.Betas[0] = 0.9
	}
	if c.Betas[1] == 0 {
		c.Betas[1] = 0.999
	}
	if c.Eps == 0 {
		c.Eps = 1e-8
	}
	return GroupOptions{
		KeyLR:          float64(c.LR),
		KeyBeta1:       float64(c.Betas[0]),
		KeyBeta2:       float64(c.Betas[1]),
		KeyEps:         float64(c.Eps),
		KeyWeightDecay: float64(c.WeightDecay),
	}
}

// NewAdam creates a new Adam optimizer with a single parameter group.
//
// Default hyperparameters:
//   - LR: 0.001
//   - Beta1: 0.9
//   - Beta2: 0.999
//   - Eps: 1e-8
func NewAdam[B tensor.Backend](params []*nn.Parameter[B], config AdamConfig, backend B) *Adam[B] {
	return NewAdamWithGroups([]ParamGroup[B]{{Params: params}}, config, backend)
}

// NewAdamWithGroups creates a new Adam optimizer over ordered parameter groups.
func NewAdamWithGroups[B tensor.Backend](groups []ParamGroup[B], config AdamConfig, backend B) *Adam[B] {
	return &Adam[B]{
		groups:  buildGroups(groups, config.options()),
		m:       make(map[*nn.Parameter[B]]*tensor.Tensor[float32, B]),
		v:       make(map[*nn.Parameter[B]]*tensor.Tensor[float32, B]),
		backend: backend,
	}
}

// Step performs a single optimization step using Adam algorithm.
//
// Parameters with no gradient are skipped.
func (a *Adam[B]) Step(grads map[*tensor.RawTensor]*tensor.RawTensor) {
	a.t++

	for _, group := range a.groups {
		h := adamHyper{
			lr:          float32(group.Options.LR()),
			beta1:       float32(group.Options.Get(KeyBeta1, 0.9)),
			beta2:       float32(group.Options.Get(KeyBeta2, 0.999)),
			eps:         float32(group.Options.Get(KeyEps, 1e-8)),
			weightDecay: float32(group.Options.Get(KeyWeightDecay, 0)),
		}
		h.biasCorrection1 = float32(1.0 - math.Pow(float64(h.beta1), float64(a.t)))
		h.biasCorrection2 = float32(1.0 - math.Pow(float64(h.beta2), float64(a.t)))

		for _, param := range group.Params {
			grad := getGradient(param, grads)
			if grad == nil {
				continue
			}

			m, ok := a.m[param]
			if !ok {
				m = tensor.Zeros[float32](param.Tensor().Shape(), a.backend)
				a.m[param] = m
			}
			v, ok := a.v[param]
			if !ok {
				v = tensor.Zeros[float32](param.Tensor().Shape(), a.backend)
				a.v[param] = v
			}

			a.updateParameter(param, grad, m, v, h)
		}
	}
}

type adamHyper struct {
	lr, beta1, beta2, eps, weightDecay float32
	biasCorrection1, biasCorrection2   float32
}

// updateParameter performs Adam update for a single parameter.
func (a *Adam[B]) updateParameter(param *nn.Parameter[B], grad *tensor.RawTensor, m, v *tensor.Tensor[float32, B], h adamHyper) {
	gradData := grad.AsFloat32()
	mData := m.Raw().AsFloat32()
	vData := v.Raw().AsFloat32()
	paramData := param.Tensor().Raw().AsFloat32()

	for i := range paramData {
		g := gradData[i] + h.weightDecay*paramData[i]

		mData[i] = h.beta1*mData[i] + (1.0-h.beta1)*g
		vData[i] = h.beta2*vData[i] + (1.0-h.beta2)*g*g

		mHat := mData[i] / h.biasCorrection1
		vHat := vData[i] / h.biasCorrection2

		paramData[i] -= h.lr * mHat / (float32(math.Sqrt(float64(vHat))) + h.eps)
	}
}

// ZeroGrad clears gradients for all parameters.
func (a *Adam[B]) ZeroGrad() {
	for _, group := range a.groups {
		for _, param := range group.Params {
			param.ZeroGrad()
		}
	}
}

// GetLR returns the learning rate of the first parameter group.
func (a *Adam[B]) GetLR() float32 {
	if len(a.groups) == 0 {
		return 0
	}
	return float32(a.groups[0].Options.LR())
}

// SetLR sets the learning rate of every parameter group.
func (a *Adam[B]) SetLR(lr float32) {
	for _, group := range a.groups {
		group.Options.SetLR(float64(lr))
	}
}

// ParamGroups returns the live option maps of all parameter groups.
func (a *Adam[B]) ParamGroups() []GroupOptions {
	return groupOptions(a.groups)
}

// GetTimestep returns the current timestep.
func (a *Adam[B]) GetTimestep() int {
	return a.t
}

func (a *Adam[B]) params() []*nn.Parameter[B] {
	var out []*nn.Parameter[B]
	for _, group := range a.groups {
		out = append(out, group.Params...)
	}
	return out
}

// StateDict returns the optimizer state for serialization.
//
// State keys: "m.{i}" and "v.{i}" for the moment estimates, indexed over all
// groups in order. The timestep is not part of the tensor state; see
// GetTimestep and SetTimestep.
func (a *Adam[B]) StateDict() map[string]*tensor.RawTensor {
	stateDict := make(map[string]*tensor.RawTensor)
	for i, param := range a.params() {
		if m, ok := a.m[param]; ok {
			stateDict[fmt.Sprintf("m.%d", i)] = m.Raw()
		}
		if v, ok := a.v[param]; ok {
			stateDict[fmt.Sprintf("v.%d", i)] = v.Raw()
		}
	}
	return stateDict
}

// LoadStateDict restores the moment estimates.
func (a *Adam[B]) LoadStateDict(stateDict map[string]*tensor.RawTensor) error {
	ms := make(map[*nn.Parameter[B]]*tensor.Tensor[float32, B])
	vs := make(map[*nn.Parameter[B]]*tensor.Tensor[float32, B])
	for i, param := range a.params() {
		for prefix, dst := range map[string]map[*nn.Parameter[B]]*tensor.Tensor[float32, B]{"m": ms, "v": vs} {
			raw, ok := stateDict[fmt.Sprintf("%s.%d", prefix, i)]
			if !ok {
				continue
			}
			if !raw.Shape().Equal(param.Tensor().Shape()) {
				return errors.Errorf("%s shape mismatch for parameter %d: expected %v, got %v",
					prefix, i, param.Tensor().Shape(), raw.Shape())
			}
			dst[param] = tensor.New[float32, B](raw.Clone(), a.backend)
		}
	}
	a.m, a.v = ms, vs
	return nil
}

// SetTimestep restores the bias-correction timestep.
func (a *Adam[B]) SetTimestep(t int) {
	a.t = t
}
