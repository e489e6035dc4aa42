// Package fusion merges adjacent layers into single modules for inference.
//
// In evaluation mode a batch normalization that follows a convolution (or a
// linear layer) is an affine map per output channel, so it can be folded
// into the layer's weight and bias:
//
//	w_fold = w * gamma / sqrt(running_var + eps)
//	b_fold = beta + gamma * (b - running_mean) / sqrt(running_var + eps)
//
// In training mode the batch norm still needs batch statistics, so the
// layers are grouped into intrinsic modules (ConvBN2D, ConvBNReLU2D) that
// can be folded later with Fold. Transposed convolutions get the same
// treatment; their weights are [in, out/groups, kh, kw], so the fold runs
// along axis 1 within each group.
//
// FuseModules and FuseKnown apply the fuser methods of a lookup table to
// the children of an nn.Sequential.
package fusion

import (
	"github.com/born-ml/trainkit/internal/nn"
	"github.com/born-ml/trainkit/internal/tensor"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

func checkModes(a, b interface{ Training() bool }) error {
	if a.Training() != b.Training() {
		return errors.Wrapf(ErrTrainingModeMismatch, "%v training=%v, %v training=%v", a, a.Training(), b, b.Training())
	}
	return nil
}

func checkChannels(out, features int) error {
	if out != features {
		return errors.Wrapf(ErrChannelMismatch, "%d output channels, %d batch-norm features", out, features)
	}
	return nil
}

type batchNorm[B tensor.Backend] interface {
	NumFeatures() int
	Eps() float64
	Affine() bool
	TrackRunningStats() bool
	Weight() *nn.Parameter[B]
	Bias() *nn.Parameter[B]
	RunningMean() *tensor.Tensor[float32, B]
	RunningVar() *tensor.Tensor[float32, B]
}

// statsOf collects the quantities folded out of bn.
func statsOf[B tensor.Backend](bn batchNorm[B]) (BNStats[B], error) {
	if !bn.TrackRunningStats() {
		return BNStats[B]{}, ErrMissingRunningStats
	}
	stats := BNStats[B]{Mean: bn.RunningMean(), Var: bn.RunningVar(), Eps: bn.Eps()}
	if bn.Affine() {
		stats.Gamma = bn.Weight().Tensor()
		stats.Beta = bn.Bias().Tensor()
	}
	return stats, nil
}

func paramTensor[B tensor.Backend](p *nn.Parameter[B]) *tensor.Tensor[float32, B] {
	if p == nil {
		return nil
	}
	return p.Tensor()
}

// FuseConvBNEval returns a new convolution with bn folded into its weight
// and bias. The result has conv's configuration, always carries a bias and
// is in eval mode. Neither input is modified.
func FuseConvBNEval[B tensor.Backend](conv *nn.Conv2D[B], bn *nn.BatchNorm2D[B]) (*nn.Conv2D[B], error) {
	if err := checkChannels(conv.OutChannels(), bn.NumFeatures()); err != nil {
		return nil, err
	}
	stats, err := statsOf[B](bn)
	if err != nil {
		return nil, err
	}
	w, b, err := FoldBNWeights(conv.Weight().Tensor(), paramTensor(conv.Bias()), stats, false)
	if err != nil {
		return nil, err
	}

	fused := nn.NewConv2DFromTensors(conv.Config(), w, b, conv.Backend())
	fused.Train(false)
	klog.V(2).Infof("fusion: folded %v into %v", bn, conv)
	return fused, nil
}

// FuseConvBN fuses a convolution and a batch norm. Both must be in the same
// mode and conv's output channels must equal bn's features. In eval mode
// the result is the folded *nn.Conv2D; in training mode it is a *ConvBN2D
// holding conv and a copy of bn.
func FuseConvBN[B tensor.Backend](conv *nn.Conv2D[B], bn *nn.BatchNorm2D[B]) (nn.Module[B], error) {
	if err := checkModes(conv, bn); err != nil {
		return nil, err
	}
	if err := checkChannels(conv.OutChannels(), bn.NumFeatures()); err != nil {
		return nil, err
	}
	if conv.Training() {
		return NewConvBN2D(conv, bn.Clone()), nil
	}
	return FuseConvBNEval(conv, bn)
}

// FuseConvBNReLU fuses a convolution, a batch norm and a ReLU. In eval mode
// the result is a *ConvReLU2D around the folded convolution; in training
// mode it is a *ConvBNReLU2D.
func FuseConvBNReLU[B tensor.Backend](conv *nn.Conv2D[B], bn *nn.BatchNorm2D[B], _ *nn.ReLU[B]) (nn.Module[B], error) {
	if err := checkModes(conv, bn); err != nil {
		return nil, err
	}
	if err := checkChannels(conv.OutChannels(), bn.NumFeatures()); err != nil {
		return nil, err
	}
	relu := nn.NewReLU[B]()
	if conv.Training() {
		return NewConvBNReLU2D(conv, bn.Clone(), relu), nil
	}
	folded, err := FuseConvBNEval(conv, bn)
	if err != nil {
		return nil, err
	}
	return NewConvReLU2D(folded, relu), nil
}

// FuseConvReLU groups a convolution and a ReLU.
func FuseConvReLU[B tensor.Backend](conv *nn.Conv2D[B], _ *nn.ReLU[B]) (*ConvReLU2D[B], error) {
	return NewConvReLU2D(conv, nn.NewReLU[B]()), nil
}

// FuseLinearBN folds a BatchNorm1D into the preceding linear layer. Only
// eval mode is supported.
func FuseLinearBN[B tensor.Backend](linear *nn.Linear[B], bn *nn.BatchNorm1D[B]) (*nn.Linear[B], error) {
	if err := checkModes(linear, bn); err != nil {
		return nil, err
	}
	if err := checkChannels(linear.OutFeatures(), bn.NumFeatures()); err != nil {
		return nil, err
	}
	if linear.Training() {
		return nil, errors.Wrap(ErrUnsupportedTraining, "linear+batchnorm1d")
	}
	stats, err := statsOf[B](bn)
	if err != nil {
		return nil, err
	}
	w, b, err := FoldLinearBNWeights(linear.Weight().Tensor(), paramTensor(linear.Bias()), stats)
	if err != nil {
		return nil, err
	}

	fused := nn.NewLinearFromTensors(w, b, linear.Backend())
	fused.Train(false)
	klog.V(2).Infof("fusion: folded %v into %v", bn, linear)
	return fused, nil
}

// FuseLinearReLU groups a linear layer and a ReLU.
func FuseLinearReLU[B tensor.Backend](linear *nn.Linear[B], _ *nn.ReLU[B]) (*LinearReLU[B], error) {
	return NewLinearReLU(linear, nn.NewReLU[B]()), nil
}

// FuseConvTransposeBNEval returns a new transposed convolution with bn
// folded into its weight and bias. Grouped weights are folded per group.
// The result always carries a bias and is in eval mode.
func FuseConvTransposeBNEval[B tensor.Backend](conv *nn.ConvTranspose2D[B], bn *nn.BatchNorm2D[B]) (*nn.ConvTranspose2D[B], error) {
	if err := checkChannels(conv.OutChannels(), bn.NumFeatures()); err != nil {
		return nil, err
	}
	stats, err := statsOf[B](bn)
	if err != nil {
		return nil, err
	}
	w, b, err := FoldConvTransposeBNWeights(conv.Weight().Tensor(), paramTensor(conv.Bias()), stats, conv.Groups())
	if err != nil {
		return nil, err
	}

	fused := nn.NewConvTranspose2DFromTensors(conv.Config(), w, b, conv.Backend())
	fused.Train(false)
	klog.V(2).Infof("fusion: folded %v into %v", bn, conv)
	return fused, nil
}

// FuseConvTransposeBN fuses a transposed convolution and a batch norm. In
// eval mode the result is the folded *nn.ConvTranspose2D; in training mode
// it is a *ConvTransposeBN2D holding conv and a copy of bn.
func FuseConvTransposeBN[B tensor.Backend](conv *nn.ConvTranspose2D[B], bn *nn.BatchNorm2D[B]) (nn.Module[B], error) {
	if err := checkModes(conv, bn); err != nil {
		return nil, err
	}
	if err := checkChannels(conv.OutChannels(), bn.NumFeatures()); err != nil {
		return nil, err
	}
	if conv.Training() {
		return NewConvTransposeBN2D(conv, bn.Clone()), nil
	}
	return FuseConvTransposeBNEval(conv, bn)
}

// FuseConvTransposeBNReLU fuses a transposed convolution, a batch norm and
// a ReLU into a *ConvTransposeReLU2D (eval) or a *ConvTransposeBNReLU2D
// (training).
func FuseConvTransposeBNReLU[B tensor.Backend](conv *nn.ConvTranspose2D[B], bn *nn.BatchNorm2D[B], _ *nn.ReLU[B]) (nn.Module[B], error) {
	if err := checkModes(conv, bn); err != nil {
		return nil, err
	}
	if err := checkChannels(conv.OutChannels(), bn.NumFeatures()); err != nil {
		return nil, err
	}
	relu := nn.NewReLU[B]()
	if conv.Training() {
		return NewConvTransposeBNReLU2D(conv, bn.Clone(), relu), nil
	}
	folded, err := FuseConvTransposeBNEval(conv, bn)
	if err != nil {
		return nil, err
	}
	return NewConvTransposeReLU2D(folded, relu), nil
}

// FuseConvTransposeReLU groups a transposed convolution and a ReLU.
func FuseConvTransposeReLU[B tensor.Backend](conv *nn.ConvTranspose2D[B], _ *nn.ReLU[B]) (*ConvTransposeReLU2D[B], error) {
	return NewConvTransposeReLU2D(conv, nn.NewReLU[B]()), nil
}
