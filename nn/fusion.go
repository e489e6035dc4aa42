// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package nn

import (
	"github.com/born-ml/trainkit/internal/fusion"
	"github.com/born-ml/trainkit/internal/nn"
	"github.com/born-ml/trainkit/tensor"
)

// Fusion errors.
var (
	ErrTrainingModeMismatch = fusion.ErrTrainingModeMismatch
	ErrChannelMismatch      = fusion.ErrChannelMismatch
	ErrUnsupportedTraining  = fusion.ErrUnsupportedTraining
	ErrMissingRunningStats  = fusion.ErrMissingRunningStats
	ErrNoFuserMethod        = fusion.ErrNoFuserMethod
	ErrInvalidGroup         = fusion.ErrInvalidGroup
)

// BNStats carries the batch-norm statistics folded into a weight.
type BNStats[B tensor.Backend] = fusion.BNStats[B]

// FoldBNWeights folds stats into a convolution weight and bias.
func FoldBNWeights[B tensor.Backend](weight, bias *tensor.Tensor[float32, B], stats BNStats[B], transpose bool) (wFold, bFold *tensor.Tensor[float32, B], err error) {
	return fusion.FoldBNWeights(weight, bias, stats, transpose)
}

// FoldConvTransposeBNWeights folds stats into a grouped transposed
// convolution weight and bias.
func FoldConvTransposeBNWeights[B tensor.Backend](weight, bias *tensor.Tensor[float32, B], stats BNStats[B], groups int) (wFold, bFold *tensor.Tensor[float32, B], err error) {
	return fusion.FoldConvTransposeBNWeights(weight, bias, stats, groups)
}

// ConvBN2D is a convolution followed by batch-norm, trainable as a unit.
type ConvBN2D[B tensor.Backend] = fusion.ConvBN2D[B]

// ConvBNReLU2D is ConvBN2D followed by ReLU.
type ConvBNReLU2D[B tensor.Backend] = fusion.ConvBNReLU2D[B]

// ConvReLU2D is a convolution followed by ReLU.
type ConvReLU2D[B tensor.Backend] = fusion.ConvReLU2D[B]

// ConvTransposeBN2D is a transposed convolution followed by batch-norm.
type ConvTransposeBN2D[B tensor.Backend] = fusion.ConvTransposeBN2D[B]

// ConvTransposeBNReLU2D is ConvTransposeBN2D followed by ReLU.
type ConvTransposeBNReLU2D[B tensor.Backend] = fusion.ConvTransposeBNReLU2D[B]

// ConvTransposeReLU2D is a transposed convolution followed by ReLU.
type ConvTransposeReLU2D[B tensor.Backend] = fusion.ConvTransposeReLU2D[B]

// LinearReLU is a linear layer followed by ReLU.
type LinearReLU[B tensor.Backend] = fusion.LinearReLU[B]

// FuseConvBN fuses conv and bn. Both must share a mode: eval yields a
// folded Conv2D, training yields a ConvBN2D.
func FuseConvBN[B tensor.Backend](conv *Conv2D[B], bn *BatchNorm2D[B]) (Module[B], error) {
	return fusion.FuseConvBN(conv, bn)
}

// FuseConvBNReLU fuses conv, bn and relu.
func FuseConvBNReLU[B tensor.Backend](conv *Conv2D[B], bn *BatchNorm2D[B], relu *ReLU[B]) (Module[B], error) {
	return fusion.FuseConvBNReLU(conv, bn, relu)
}

// FuseConvTransposeBN fuses a transposed convolution and bn.
func FuseConvTransposeBN[B tensor.Backend](conv *ConvTranspose2D[B], bn *BatchNorm2D[B]) (Module[B], error) {
	return fusion.FuseConvTransposeBN(conv, bn)
}

// FuseConvTransposeBNReLU fuses a transposed convolution, bn and relu.
func FuseConvTransposeBNReLU[B tensor.Backend](conv *ConvTranspose2D[B], bn *BatchNorm2D[B], relu *ReLU[B]) (Module[B], error) {
	return fusion.FuseConvTransposeBNReLU(conv, bn, relu)
}

// Pattern is a "+"-joined sequence of module kinds, such as "conv2d+batchnorm2d".
type Pattern = fusion.Pattern

// FuserMethod fuses a run of modules matching a Pattern.
type FuserMethod[B tensor.Backend] = fusion.FuserMethod[B]

// Built-in patterns.
var (
	PatternConvBN              = fusion.PatternConvBN
	PatternConvBNReLU          = fusion.PatternConvBNReLU
	PatternConvReLU            = fusion.PatternConvReLU
	PatternConvTransposeBN     = fusion.PatternConvTransposeBN
	PatternConvTransposeBNReLU = fusion.PatternConvTransposeBNReLU
	PatternConvTransposeReLU   = fusion.PatternConvTransposeReLU
	PatternLinearBN            = fusion.PatternLinearBN
	PatternLinearReLU          = fusion.PatternLinearReLU
)

// Kind names a fusable module type.
type Kind = fusion.Kind

// Kinded lets module types defined elsewhere take part in pattern matching.
type Kinded = fusion.Kinded

// PatternOf joins kinds into a Pattern.
func PatternOf(kinds ...Kind) Pattern {
	return fusion.PatternOf(kinds...)
}

// FuseModules fuses the given index groups of seq in place. extra adds or
// overrides fuser methods.
func FuseModules[B tensor.Backend](seq *nn.Sequential[B], groups [][]int, extra map[Pattern]FuserMethod[B]) error {
	return fusion.FuseModules(seq, groups, extra)
}

// FuseKnown fuses every known pattern in seq and returns the fused groups.
func FuseKnown[B tensor.Backend](seq *nn.Sequential[B], extra map[Pattern]FuserMethod[B]) ([][]int, error) {
	return fusion.FuseKnown(seq, extra)
}
