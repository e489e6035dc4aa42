package fusion

import (
	"math"

	"github.com/born-ml/trainkit/internal/tensor"
	"github.com/pkg/errors"
)

// BNStats are the batch-norm quantities folded into a preceding layer.
// Nil tensors take their neutral value: Mean 0, Var 1, Gamma 1, Beta 0.
type BNStats[B tensor.Backend] struct {
	Mean  *tensor.Tensor[float32, B]
	Var   *tensor.Tensor[float32, B]
	Gamma *tensor.Tensor[float32, B]
	Beta  *tensor.Tensor[float32, B]
	Eps   float64
}

// FoldBNWeights folds batch-norm statistics into convolution weights.
//
// For every output channel c:
//
//	w_fold[c] = w[c] * gamma[c] / sqrt(var[c] + eps)
//	b_fold[c] = beta[c] + gamma[c] * (b[c] - mean[c]) / sqrt(var[c] + eps)
//
// A nil bias is treated as zeros. weight is [out, in/groups, kh, kw], or
// [in, out, kh, kw] when transpose is set. Grouped transposed weights need
// FoldConvTransposeBNWeights. The inputs are not modified.
func FoldBNWeights[B tensor.Backend](
	weight, bias *tensor.Tensor[float32, B],
	stats BNStats[B],
	transpose bool,
) (wFold, bFold *tensor.Tensor[float32, B], err error) {
	shape := weight.Shape()
	if len(shape) < 2 {
		return nil, nil, errors.Errorf("fusion: weight must be at least 2D, got %v", shape)
	}
	if transpose {
		return fold(weight, bias, stats, 1, 1)
	}
	return fold(weight, bias, stats, 0, 1)
}

// FoldConvTransposeBNWeights folds batch-norm statistics into the weight
// of a transposed convolution with the given number of groups. weight is
// [in, out/groups, kh, kw]; input channel i belongs to group
// i / (in/groups), and its slice along axis 1 covers output channels
// group*out/groups to (group+1)*out/groups.
func FoldConvTransposeBNWeights[B tensor.Backend](
	weight, bias *tensor.Tensor[float32, B],
	stats BNStats[B],
	groups int,
) (wFold, bFold *tensor.Tensor[float32, B], err error) {
	shape := weight.Shape()
	if len(shape) < 2 {
		return nil, nil, errors.Errorf("fusion: weight must be at least 2D, got %v", shape)
	}
	if groups <= 0 || shape[0]%groups != 0 {
		return nil, nil, errors.Errorf("fusion: %d input channels not divisible into %d groups", shape[0], groups)
	}
	return fold(weight, bias, stats, 1, groups)
}

// FoldLinearBNWeights folds batch-norm statistics into a [out, in] linear
// weight and its optional bias.
func FoldLinearBNWeights[B tensor.Backend](
	weight, bias *tensor.Tensor[float32, B],
	stats BNStats[B],
) (wFold, bFold *tensor.Tensor[float32, B], err error) {
	if len(weight.Shape()) != 2 {
		return nil, nil, errors.Errorf("fusion: linear weight must be 2D [out, in], got %v", weight.Shape())
	}
	return fold(weight, bias, stats, 0, 1)
}

// fold scales weight along outAxis. Axes before outAxis are outer loops,
// axes after it are contiguous inner elements. The outer range is split
// into groups; group g owns output channels [g*n, (g+1)*n) where n is the
// size of outAxis.
func fold[B tensor.Backend](
	weight, bias *tensor.Tensor[float32, B],
	stats BNStats[B],
	outAxis, groups int,
) (*tensor.Tensor[float32, B], *tensor.Tensor[float32, B], error) {
	backend := weight.Backend()
	shape := weight.Shape()
	perGroup := shape[outAxis]
	out := perGroup * groups

	b, err := channelValues(bias, out, 0, "bias")
	if err != nil {
		return nil, nil, err
	}
	mean, err := channelValues(stats.Mean, out, 0, "running_mean")
	if err != nil {
		return nil, nil, err
	}
	variance, err := channelValues(stats.Var, out, 1, "running_var")
	if err != nil {
		return nil, nil, err
	}
	gamma, err := channelValues(stats.Gamma, out, 1, "weight")
	if err != nil {
		return nil, nil, err
	}
	beta, err := channelValues(stats.Beta, out, 0, "bias")
	if err != nil {
		return nil, nil, err
	}

	scale := make([]float64, out)
	bFold := make([]float32, out)
	for c := range out {
		scale[c] = float64(gamma[c]) / math.Sqrt(float64(variance[c])+stats.Eps)
		bFold[c] = float32(float64(beta[c]) + (float64(b[c])-float64(mean[c]))*scale[c])
	}

	outer := 1
	for _, d := range shape[:outAxis] {
		outer *= d
	}
	inner := 1
	for _, d := range shape[outAxis+1:] {
		inner *= d
	}
	outerPerGroup := outer / groups

	wFold := weight.Clone()
	w := wFold.Data()
	for o := range outer {
		first := o / outerPerGroup * perGroup
		for c := range perGroup {
			f := scale[first+c]
			base := (o*perGroup + c) * inner
			for k := range inner {
				w[base+k] = float32(float64(w[base+k]) * f)
			}
		}
	}

	biasTensor, err := tensor.FromSlice(bFold, tensor.Shape{out}, backend)
	if err != nil {
		return nil, nil, errors.Wrap(err, "fusion: building folded bias")
	}
	return wFold, biasTensor, nil
}

// channelValues returns the per-channel values of t, or n copies of def
// when t is nil.
func channelValues[B tensor.Backend](t *tensor.Tensor[float32, B], n int, def float32, name string) ([]float32, error) {
	if t == nil {
		out := make([]float32, n)
		for i := range out {
			out[i] = def
		}
		return out, nil
	}
	if t.NumElements() != n {
		return nil, errors.Wrapf(ErrChannelMismatch, "%s has %d elements, expected %d", name, t.NumElements(), n)
	}
	return t.Data(), nil
}
