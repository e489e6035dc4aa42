// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package nn

import (
	"github.com/born-ml/trainkit/internal/nn"
	"github.com/born-ml/trainkit/tensor"
)

// Module is the interface implemented by all layers.
type Module[B tensor.Backend] = nn.Module[B]

// Parameter is a trainable tensor.
type Parameter[B tensor.Backend] = nn.Parameter[B]

// NewParameter creates a named parameter.
func NewParameter[B tensor.Backend](name string, t *tensor.Tensor[float32, B]) *Parameter[B] {
	return nn.NewParameter(name, t)
}

// Linear is a fully connected layer.
type Linear[B tensor.Backend] = nn.Linear[B]

// NewLinear creates a Linear layer with Xavier-initialized weights.
func NewLinear[B tensor.Backend](inFeatures, outFeatures int, backend B) *Linear[B] {
	return nn.NewLinear(inFeatures, outFeatures, backend)
}

// Conv2D is a 2D convolution layer.
type Conv2D[B tensor.Backend] = nn.Conv2D[B]

// Conv2DConfig describes a Conv2D layer.
type Conv2DConfig = nn.Conv2DConfig

// NewConv2D creates a square-stride, square-padding convolution.
func NewConv2D[B tensor.Backend](inChannels, outChannels, kernelH, kernelW, stride, padding int, useBias bool, backend B) *Conv2D[B] {
	return nn.NewConv2D(inChannels, outChannels, kernelH, kernelW, stride, padding, useBias, backend)
}

// NewConv2DWithConfig creates a convolution from a full configuration.
func NewConv2DWithConfig[B tensor.Backend](config Conv2DConfig, backend B) *Conv2D[B] {
	return nn.NewConv2DWithConfig(config, backend)
}

// ConvTranspose2D is a transposed 2D convolution layer.
type ConvTranspose2D[B tensor.Backend] = nn.ConvTranspose2D[B]

// ConvTranspose2DConfig describes a ConvTranspose2D layer.
type ConvTranspose2DConfig = nn.ConvTranspose2DConfig

// NewConvTranspose2D creates a square-stride, square-padding transposed convolution.
func NewConvTranspose2D[B tensor.Backend](inChannels, outChannels, kernelH, kernelW, stride, padding int, useBias bool, backend B) *ConvTranspose2D[B] {
	return nn.NewConvTranspose2D(inChannels, outChannels, kernelH, kernelW, stride, padding, useBias, backend)
}

// NewConvTranspose2DWithConfig creates a transposed convolution from a full configuration.
func NewConvTranspose2DWithConfig[B tensor.Backend](config ConvTranspose2DConfig, backend B) *ConvTranspose2D[B] {
	return nn.NewConvTranspose2DWithConfig(config, backend)
}

// BatchNorm2D normalizes [N, C, H, W] inputs per channel.
type BatchNorm2D[B tensor.Backend] = nn.BatchNorm2D[B]

// BatchNorm1D normalizes [N, C] inputs per feature.
type BatchNorm1D[B tensor.Backend] = nn.BatchNorm1D[B]

// BatchNormOption configures a batch-norm layer.
type BatchNormOption = nn.BatchNormOption

// Batch-norm options.
var (
	WithEps             = nn.WithEps
	WithMomentum        = nn.WithMomentum
	WithoutAffine       = nn.WithoutAffine
	WithoutRunningStats = nn.WithoutRunningStats
)

// NewBatchNorm2D creates a BatchNorm2D layer.
func NewBatchNorm2D[B tensor.Backend](numFeatures int, backend B, opts ...BatchNormOption) *BatchNorm2D[B] {
	return nn.NewBatchNorm2D(numFeatures, backend, opts...)
}

// NewBatchNorm1D creates a BatchNorm1D layer.
func NewBatchNorm1D[B tensor.Backend](numFeatures int, backend B, opts ...BatchNormOption) *BatchNorm1D[B] {
	return nn.NewBatchNorm1D(numFeatures, backend, opts...)
}

// ReLU is the rectified linear activation.
type ReLU[B tensor.Backend] = nn.ReLU[B]

// NewReLU creates a ReLU activation.
func NewReLU[B tensor.Backend]() *ReLU[B] {
	return nn.NewReLU[B]()
}

// Identity passes its input through.
type Identity[B tensor.Backend] = nn.Identity[B]

// NewIdentity creates an Identity module.
func NewIdentity[B tensor.Backend]() *Identity[B] {
	return nn.NewIdentity[B]()
}

// Sequential chains modules.
type Sequential[B tensor.Backend] = nn.Sequential[B]

// NewSequential creates a Sequential container.
func NewSequential[B tensor.Backend](modules ...Module[B]) *Sequential[B] {
	return nn.NewSequential(modules...)
}
