package nn

import (
	"fmt"

	"github.com/born-ml/trainkit/internal/tensor"
)

// Conv2DConfig describes a 2D convolution. Pairs are (height, width).
// Zero strides and dilations are treated as 1, zero groups as 1.
type Conv2DConfig struct {
	InChannels  int
	OutChannels int
	KernelSize  [2]int
	Stride      [2]int
	Padding     [2]int
	Dilation    [2]int
	Groups      int
	Bias        bool
}

// normalized fills defaults and validates the configuration.
func (c Conv2DConfig) normalized() Conv2DConfig {
	for i := range 2 {
		if c.Stride[i] == 0 {
			c.Stride[i] = 1
		}
		if c.Dilation[i] == 0 {
			c.Dilation[i] = 1
		}
	}
	if c.Groups == 0 {
		c.Groups = 1
	}

	if c.InChannels <= 0 || c.OutChannels <= 0 {
		panic(fmt.Sprintf("conv2d: invalid channels in=%d, out=%d", c.InChannels, c.OutChannels))
	}
	if c.KernelSize[0] <= 0 || c.KernelSize[1] <= 0 {
		panic(fmt.Sprintf("conv2d: invalid kernel size h=%d, w=%d", c.KernelSize[0], c.KernelSize[1]))
	}
	if c.Stride[0] < 0 || c.Stride[1] < 0 || c.Dilation[0] < 0 || c.Dilation[1] < 0 {
		panic(fmt.Sprintf("conv2d: invalid stride %v or dilation %v", c.Stride, c.Dilation))
	}
	if c.Padding[0] < 0 || c.Padding[1] < 0 {
		panic(fmt.Sprintf("conv2d: invalid padding %v", c.Padding))
	}
	if c.Groups < 0 || c.InChannels%c.Groups != 0 || c.OutChannels%c.Groups != 0 {
		panic(fmt.Sprintf("conv2d: channels in=%d out=%d not divisible by groups=%d", c.InChannels, c.OutChannels, c.Groups))
	}
	return c
}

// WeightShape returns [out_channels, in_channels/groups, kernel_h, kernel_w].
func (c Conv2DConfig) WeightShape() tensor.Shape {
	return tensor.Shape{c.OutChannels, c.InChannels / max(c.Groups, 1), c.KernelSize[0], c.KernelSize[1]}
}

// Conv2D is a 2D convolutional layer.
//
// Performs convolution: output = Conv2D(input, weight) + bias
//
// Input shape:  [batch, in_channels, height, width]
// Weight shape: [out_channels, in_channels/groups, kernel_h, kernel_w]
// Bias shape:   [out_channels]
// Output shape: [batch, out_channels, out_h, out_w]
//
// Where:
//
//	out_h = (height + 2*padding_h - dilation_h*(kernel_h-1) - 1) / stride_h + 1
//
// Example:
//
//	// 1 channel -> 6 channels, 5x5 kernel
//	conv := nn.NewConv2D(1, 6, 5, 5, 1, 0, true, backend)
//	output := conv.Forward(input) // [32, 6, 24, 24] for [32, 1, 28, 28]
type Conv2D[B tensor.Backend] struct {
	mode
	config Conv2DConfig

	weight *Parameter[B] // [out_channels, in_channels/groups, kernel_h, kernel_w]
	bias   *Parameter[B] // [out_channels] or nil

	backend B
}

// NewConv2D creates a square-stride, square-padding convolution with
// Xavier-initialized weights and zero bias.
func NewConv2D[B tensor.Backend](
	inChannels, outChannels int,
	kernelH, kernelW int,
	stride, padding int,
	useBias bool,
	backend B,
) *Conv2D[B] {
	return NewConv2DWithConfig(Conv2DConfig{
		InChannels:  inChannels,
		OutChannels: outChannels,
		KernelSize:  [2]int{kernelH, kernelW},
		Stride:      [2]int{stride, stride},
		Padding:     [2]int{padding, padding},
		Bias:        useBias,
	}, backend)
}

// NewConv2DWithConfig creates a convolution from a full configuration.
//
// Initialization:
//   - Weights: Xavier/Glorot uniform with fan_in = in_channels/groups * k_h * k_w
//   - Bias: Zeros
func NewConv2DWithConfig[B tensor.Backend](config Conv2DConfig, backend B) *Conv2D[B] {
	config = config.normalized()
	weightShape := config.WeightShape()
	receptive := config.KernelSize[0] * config.KernelSize[1]
	fanIn := weightShape[1] * receptive
	fanOut := config.OutChannels / config.Groups * receptive

	var bias *tensor.Tensor[float32, B]
	if config.Bias {
		bias = Zeros(tensor.Shape{config.OutChannels}, backend)
	}
	return NewConv2DFromTensors(config, Xavier(fanIn, fanOut, weightShape, backend), bias, backend)
}

// NewConv2DFromTensors builds a convolution around existing weight and bias
// tensors. config.Bias is derived from whether bias is nil. The tensors are
// used as-is, not copied.
func NewConv2DFromTensors[B tensor.Backend](
	config Conv2DConfig,
	weight, bias *tensor.Tensor[float32, B],
	backend B,
) *Conv2D[B] {
	config.Bias = bias != nil
	config = config.normalized()

	if !weight.Shape().Equal(config.WeightShape()) {
		panic(fmt.Sprintf("conv2d: weight shape %v does not match config %v", weight.Shape(), config.WeightShape()))
	}

	c := &Conv2D[B]{
		config:  config,
		weight:  NewParameter("conv2d.weight", weight),
		backend: backend,
	}
	if bias != nil {
		if !bias.Shape().Equal(tensor.Shape{config.OutChannels}) {
			panic(fmt.Sprintf("conv2d: bias shape %v, expected [%d]", bias.Shape(), config.OutChannels))
		}
		c.bias = NewParameter("conv2d.bias", bias)
	}
	return c
}

// Forward performs the forward pass.
//
// Input: [batch, in_channels, height, width]
// Output: [batch, out_channels, out_h, out_w].
func (c *Conv2D[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	inputShape := input.Shape()
	if len(inputShape) != 4 {
		panic(fmt.Sprintf("conv2d: expected 4D input [N,C,H,W], got %dD", len(inputShape)))
	}
	if inputShape[1] != c.config.InChannels {
		panic(fmt.Sprintf("conv2d: input channels %d != expected %d", inputShape[1], c.config.InChannels))
	}

	outputRaw := c.backend.Conv2D(input.Raw(), c.weight.Tensor().Raw(), c.Options())
	output := tensor.New[float32, B](outputRaw, c.backend)

	if c.bias != nil {
		// [out_channels] -> [1, out_channels, 1, 1] for broadcasting.
		output = output.Add(c.bias.Tensor().Reshape(1, c.config.OutChannels, 1, 1))
	}

	return output
}

// Options returns the backend convolution options.
func (c *Conv2D[B]) Options() tensor.Conv2DOptions {
	return tensor.Conv2DOptions{
		Stride:   c.config.Stride,
		Padding:  c.config.Padding,
		Dilation: c.config.Dilation,
		Groups:   c.config.Groups,
	}
}

// Parameters returns all trainable parameters.
func (c *Conv2D[B]) Parameters() []*Parameter[B] {
	if c.bias != nil {
		return []*Parameter[B]{c.weight, c.bias}
	}
	return []*Parameter[B]{c.weight}
}

// StateDict returns "weight" and, when present, "bias".
func (c *Conv2D[B]) StateDict() map[string]*tensor.RawTensor {
	stateDict := map[string]*tensor.RawTensor{"weight": c.weight.Tensor().Raw()}
	if c.bias != nil {
		stateDict["bias"] = c.bias.Tensor().Raw()
	}
	return stateDict
}

// LoadStateDict loads weight and bias.
func (c *Conv2D[B]) LoadStateDict(stateDict map[string]*tensor.RawTensor) error {
	if err := loadInto(stateDict, "weight", c.weight.Tensor()); err != nil {
		return err
	}
	if c.bias != nil {
		return loadInto(stateDict, "bias", c.bias.Tensor())
	}
	return nil
}

// String returns a string representation of the layer.
func (c *Conv2D[B]) String() string {
	return fmt.Sprintf("Conv2D(in_channels=%d, out_channels=%d, kernel_size=(%d, %d), stride=(%d, %d), padding=(%d, %d), dilation=(%d, %d), groups=%d, bias=%v)",
		c.config.InChannels, c.config.OutChannels,
		c.config.KernelSize[0], c.config.KernelSize[1],
		c.config.Stride[0], c.config.Stride[1],
		c.config.Padding[0], c.config.Padding[1],
		c.config.Dilation[0], c.config.Dilation[1],
		c.config.Groups, c.bias != nil)
}

// Config returns the layer configuration.
func (c *Conv2D[B]) Config() Conv2DConfig {
	return c.config
}

// Weight returns the weight parameter.
func (c *Conv2D[B]) Weight() *Parameter[B] {
	return c.weight
}

// Bias returns the bias parameter, or nil.
func (c *Conv2D[B]) Bias() *Parameter[B] {
	return c.bias
}

// OutChannels returns the number of output channels.
func (c *Conv2D[B]) OutChannels() int {
	return c.config.OutChannels
}

// InChannels returns the number of input channels.
func (c *Conv2D[B]) InChannels() int {
	return c.config.InChannels
}

// KernelSize returns the kernel size [height, width].
func (c *Conv2D[B]) KernelSize() [2]int {
	return c.config.KernelSize
}

// Stride returns the stride [height, width].
func (c *Conv2D[B]) Stride() [2]int {
	return c.config.Stride
}

// Padding returns the padding [height, width].
func (c *Conv2D[B]) Padding() [2]int {
	return c.config.Padding
}

// Dilation returns the dilation [height, width].
func (c *Conv2D[B]) Dilation() [2]int {
	return c.config.Dilation
}

// Groups returns the number of channel groups.
func (c *Conv2D[B]) Groups() int {
	return c.config.Groups
}

// ComputeOutputSize computes output spatial dimensions for given input size.
func (c *Conv2D[B]) ComputeOutputSize(inputH, inputW int) [2]int {
	h, w := c.Options().OutputSize(inputH, inputW, c.config.KernelSize[0], c.config.KernelSize[1])
	return [2]int{h, w}
}

// Backend returns the computation backend.
func (c *Conv2D[B]) Backend() B {
	return c.backend
}
