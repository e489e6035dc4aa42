package nn

import (
	"fmt"
	"math"

	"github.com/born-ml/trainkit/internal/tensor"
)

// Default batch normalization hyper-parameters.
const (
	DefaultBatchNormEps      = 1e-5
	DefaultBatchNormMomentum = 0.1
)

// BatchNormOption configures a batch normalization layer.
type BatchNormOption func(*batchNormOptions)

type batchNormOptions struct {
	eps               float64
	momentum          float64
	affine            bool
	trackRunningStats bool
}

// WithEps sets the value added to the variance for numerical stability.
func WithEps(eps float64) BatchNormOption {
	return func(o *batchNormOptions) { o.eps = eps }
}

// WithMomentum sets the running statistics update factor.
func WithMomentum(momentum float64) BatchNormOption {
	return func(o *batchNormOptions) { o.momentum = momentum }
}

// WithoutAffine disables the learnable scale (gamma) and shift (beta).
func WithoutAffine() BatchNormOption {
	return func(o *batchNormOptions) { o.affine = false }
}

// WithoutRunningStats disables running statistics; batch statistics are
// then used in evaluation mode as well.
func WithoutRunningStats() BatchNormOption {
	return func(o *batchNormOptions) { o.trackRunningStats = false }
}

// batchNorm holds the state shared by BatchNorm1D and BatchNorm2D. Inputs
// are viewed as [N, C, S] where S is the product of trailing dimensions.
type batchNorm[B tensor.Backend] struct {
	mode
	name        string
	numFeatures int
	opts        batchNormOptions

	weight *Parameter[B] // gamma, [C] or nil
	bias   *Parameter[B] // beta, [C] or nil

	runningMean       *tensor.Tensor[float32, B] // [C] or nil
	runningVar        *tensor.Tensor[float32, B] // [C] or nil
	numBatchesTracked int

	backend B
}

func newBatchNorm[B tensor.Backend](name string, numFeatures int, backend B, options []BatchNormOption) batchNorm[B] {
	if numFeatures <= 0 {
		panic(fmt.Sprintf("%s: invalid num_features %d", name, numFeatures))
	}

	opts := batchNormOptions{
		eps:               DefaultBatchNormEps,
		momentum:          DefaultBatchNormMomentum,
		affine:            true,
		trackRunningStats: true,
	}
	for _, o := range options {
		o(&opts)
	}

	bn := batchNorm[B]{
		name:        name,
		numFeatures: numFeatures,
		opts:        opts,
		backend:     backend,
	}
	shape := tensor.Shape{numFeatures}
	if opts.affine {
		bn.weight = NewParameter(name+".weight", Ones(shape, backend))
		bn.bias = NewParameter(name+".bias", Zeros(shape, backend))
	}
	if opts.trackRunningStats {
		bn.runningMean = Zeros(shape, backend)
		bn.runningVar = Ones(shape, backend)
	}
	return bn
}

// forward normalizes x laid out as [N, C, S].
func (bn *batchNorm[B]) forward(input *tensor.Tensor[float32, B], n, s int) *tensor.Tensor[float32, B] {
	c := bn.numFeatures
	x := input.Data()
	out := tensor.Zeros[float32](input.Shape(), bn.backend)
	y := out.Data()

	useBatchStats := bn.Training() || !bn.opts.trackRunningStats
	count := n * s

	for ch := range c {
		var mean, variance float64

		if useBatchStats {
			for i := range n {
				base := (i*c + ch) * s
				for j := range s {
					mean += float64(x[base+j])
				}
			}
			mean /= float64(count)
			for i := range n {
				base := (i*c + ch) * s
				for j := range s {
					d := float64(x[base+j]) - mean
					variance += d * d
				}
			}
			variance /= float64(count)

			if bn.Training() && bn.opts.trackRunningStats {
				// Running variance uses the unbiased estimator.
				unbiased := variance
				if count > 1 {
					unbiased = variance * float64(count) / float64(count-1)
				}
				m := bn.opts.momentum
				rm, rv := bn.runningMean.Data(), bn.runningVar.Data()
				rm[ch] = float32((1-m)*float64(rm[ch]) + m*mean)
				rv[ch] = float32((1-m)*float64(rv[ch]) + m*unbiased)
			}
		} else {
			mean = float64(bn.runningMean.Data()[ch])
			variance = float64(bn.runningVar.Data()[ch])
		}

		scale := 1 / math.Sqrt(variance+bn.opts.eps)
		shift := 0.0
		if bn.weight != nil {
			scale *= float64(bn.weight.Tensor().Data()[ch])
			shift = float64(bn.bias.Tensor().Data()[ch])
		}

		for i := range n {
			base := (i*c + ch) * s
			for j := range s {
				y[base+j] = float32((float64(x[base+j])-mean)*scale + shift)
			}
		}
	}

	if bn.Training() && bn.opts.trackRunningStats {
		bn.numBatchesTracked++
	}

	return out
}

// Parameters returns [gamma, beta] for affine layers, nil otherwise.
func (bn *batchNorm[B]) Parameters() []*Parameter[B] {
	if bn.weight == nil {
		return nil
	}
	return []*Parameter[B]{bn.weight, bn.bias}
}

// StateDict returns the affine parameters and running statistics.
func (bn *batchNorm[B]) StateDict() map[string]*tensor.RawTensor {
	stateDict := make(map[string]*tensor.RawTensor)
	if bn.weight != nil {
		stateDict["weight"] = bn.weight.Tensor().Raw()
		stateDict["bias"] = bn.bias.Tensor().Raw()
	}
	if bn.runningMean != nil {
		stateDict["running_mean"] = bn.runningMean.Raw()
		stateDict["running_var"] = bn.runningVar.Raw()
	}
	return stateDict
}

// LoadStateDict loads the affine parameters and running statistics.
func (bn *batchNorm[B]) LoadStateDict(stateDict map[string]*tensor.RawTensor) error {
	if bn.weight != nil {
		if err := loadInto(stateDict, "weight", bn.weight.Tensor()); err != nil {
			return err
		}
		if err := loadInto(stateDict, "bias", bn.bias.Tensor()); err != nil {
			return err
		}
	}
	if bn.runningMean != nil {
		if err := loadInto(stateDict, "running_mean", bn.runningMean); err != nil {
			return err
		}
		if err := loadInto(stateDict, "running_var", bn.runningVar); err != nil {
			return err
		}
	}
	return nil
}

// NumFeatures returns the number of normalized channels.
func (bn *batchNorm[B]) NumFeatures() int {
	return bn.numFeatures
}

// Eps returns the variance epsilon.
func (bn *batchNorm[B]) Eps() float64 {
	return bn.opts.eps
}

// Momentum returns the running statistics update factor.
func (bn *batchNorm[B]) Momentum() float64 {
	return bn.opts.momentum
}

// Affine reports whether the layer has learnable gamma and beta.
func (bn *batchNorm[B]) Affine() bool {
	return bn.opts.affine
}

// TrackRunningStats reports whether running statistics are kept.
func (bn *batchNorm[B]) TrackRunningStats() bool {
	return bn.opts.trackRunningStats
}

// Weight returns gamma, or nil when not affine.
func (bn *batchNorm[B]) Weight() *Parameter[B] {
	return bn.weight
}

// Bias returns beta, or nil when not affine.
func (bn *batchNorm[B]) Bias() *Parameter[B] {
	return bn.bias
}

// RunningMean returns the running mean, or nil when not tracked.
func (bn *batchNorm[B]) RunningMean() *tensor.Tensor[float32, B] {
	return bn.runningMean
}

// RunningVar returns the running variance, or nil when not tracked.
func (bn *batchNorm[B]) RunningVar() *tensor.Tensor[float32, B] {
	return bn.runningVar
}

// NumBatchesTracked returns how many training batches updated the running
// statistics.
func (bn *batchNorm[B]) NumBatchesTracked() int {
	return bn.numBatchesTracked
}

// clone returns a deep copy sharing no tensors with bn.
func (bn *batchNorm[B]) clone() batchNorm[B] {
	c := *bn
	if bn.weight != nil {
		c.weight = NewParameter(bn.weight.Name(), bn.weight.Tensor().Clone())
		c.bias = NewParameter(bn.bias.Name(), bn.bias.Tensor().Clone())
	}
	if bn.runningMean != nil {
		c.runningMean = bn.runningMean.Clone()
		c.runningVar = bn.runningVar.Clone()
	}
	return c
}

// Backend returns the computation backend.
func (bn *batchNorm[B]) Backend() B {
	return bn.backend
}

func (bn *batchNorm[B]) String() string {
	return fmt.Sprintf("%s(%d, eps=%g, momentum=%g, affine=%v, track_running_stats=%v)",
		bn.name, bn.numFeatures, bn.opts.eps, bn.opts.momentum, bn.opts.affine, bn.opts.trackRunningStats)
}

// BatchNorm2D normalizes [N, C, H, W] inputs per channel.
//
// Training mode normalizes with batch statistics and updates the running
// mean and variance:
//
//	running = (1 - momentum) * running + momentum * batch
//
// Evaluation mode normalizes with the running statistics:
//
//	y = (x - running_mean) / sqrt(running_var + eps) * gamma + beta
type BatchNorm2D[B tensor.Backend] struct {
	batchNorm[B]
}

// NewBatchNorm2D creates a BatchNorm2D over numFeatures channels with
// gamma=1, beta=0, running_mean=0, running_var=1.
func NewBatchNorm2D[B tensor.Backend](numFeatures int, backend B, opts ...BatchNormOption) *BatchNorm2D[B] {
	return &BatchNorm2D[B]{batchNorm: newBatchNorm("BatchNorm2D", numFeatures, backend, opts)}
}

// Clone returns a deep copy, including running statistics and mode.
func (bn *BatchNorm2D[B]) Clone() *BatchNorm2D[B] {
	return &BatchNorm2D[B]{batchNorm: bn.clone()}
}

// Forward normalizes a [N, C, H, W] input.
func (bn *BatchNorm2D[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	shape := input.Shape()
	if len(shape) != 4 {
		panic(fmt.Sprintf("BatchNorm2D: expected 4D input [N,C,H,W], got %dD", len(shape)))
	}
	if shape[1] != bn.numFeatures {
		panic(fmt.Sprintf("BatchNorm2D: input channels %d != num_features %d", shape[1], bn.numFeatures))
	}
	return bn.forward(input, shape[0], shape[2]*shape[3])
}

// BatchNorm1D normalizes [N, C] or [N, C, L] inputs per channel.
type BatchNorm1D[B tensor.Backend] struct {
	batchNorm[B]
}

// NewBatchNorm1D creates a BatchNorm1D over numFeatures channels.
func NewBatchNorm1D[B tensor.Backend](numFeatures int, backend B, opts ...BatchNormOption) *BatchNorm1D[B] {
	return &BatchNorm1D[B]{batchNorm: newBatchNorm("BatchNorm1D", numFeatures, backend, opts)}
}

// Clone returns a deep copy, including running statistics and mode.
func (bn *BatchNorm1D[B]) Clone() *BatchNorm1D[B] {
	return &BatchNorm1D[B]{batchNorm: bn.clone()}
}

// Forward normalizes a [N, C] or [N, C, L] input.
func (bn *BatchNorm1D[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	shape := input.Shape()
	if len(shape) != 2 && len(shape) != 3 {
		panic(fmt.Sprintf("BatchNorm1D: expected 2D or 3D input, got %dD", len(shape)))
	}
	if shape[1] != bn.numFeatures {
		panic(fmt.Sprintf("BatchNorm1D: input features %d != num_features %d", shape[1], bn.numFeatures))
	}
	s := 1
	if len(shape) == 3 {
		s = shape[2]
	}
	return bn.forward(input, shape[0], s)
}
