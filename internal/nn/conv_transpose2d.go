package nn

import (
	"fmt"

	"github.com/born-ml/trainkit/internal/tensor"
)

// ConvTranspose2DConfig describes a transposed 2D convolution. Pairs are
// (height, width). Zero strides and dilations are treated as 1, zero
// groups as 1.
type ConvTranspose2DConfig struct {
	InChannels    int
	OutChannels   int
	KernelSize    [2]int
	Stride        [2]int
	Padding       [2]int
	OutputPadding [2]int
	Dilation      [2]int
	Groups        int
	Bias          bool
}

func (c ConvTranspose2DConfig) normalized() ConvTranspose2DConfig {
	conv := Conv2DConfig{
		InChannels:  c.InChannels,
		OutChannels: c.OutChannels,
		KernelSize:  c.KernelSize,
		Stride:      c.Stride,
		Padding:     c.Padding,
		Dilation:    c.Dilation,
		Groups:      c.Groups,
	}.normalized()
	c.Stride, c.Dilation, c.Groups = conv.Stride, conv.Dilation, conv.Groups

	for i := range 2 {
		if c.OutputPadding[i] < 0 || c.OutputPadding[i] >= max(c.Stride[i], c.Dilation[i]) {
			panic(fmt.Sprintf("conv_transpose2d: output padding %v must be smaller than stride %v or dilation %v",
				c.OutputPadding, c.Stride, c.Dilation))
		}
	}
	return c
}

// WeightShape returns [in_channels, out_channels/groups, kernel_h, kernel_w].
func (c ConvTranspose2DConfig) WeightShape() tensor.Shape {
	return tensor.Shape{c.InChannels, c.OutChannels / max(c.Groups, 1), c.KernelSize[0], c.KernelSize[1]}
}

// ConvTranspose2D is a transposed 2D convolution, the usual learnable
// upsampling layer.
//
// Input shape:  [batch, in_channels, height, width]
// Weight shape: [in_channels, out_channels/groups, kernel_h, kernel_w]
// Bias shape:   [out_channels]
// Output shape: [batch, out_channels, out_h, out_w]
//
// Where:
//
//	out_h = (height-1)*stride_h - 2*padding_h + dilation_h*(kernel_h-1) + output_padding_h + 1
type ConvTranspose2D[B tensor.Backend] struct {
	mode
	config ConvTranspose2DConfig

	weight *Parameter[B]
	bias   *Parameter[B]

	backend B
}

// NewConvTranspose2D creates a square-stride, square-padding transposed
// convolution with Xavier-initialized weights and zero bias.
func NewConvTranspose2D[B tensor.Backend](
	inChannels, outChannels int,
	kernelH, kernelW int,
	stride, padding int,
	useBias bool,
	backend B,
) *ConvTranspose2D[B] {
	return NewConvTranspose2DWithConfig(ConvTranspose2DConfig{
		InChannels:  inChannels,
		OutChannels: outChannels,
		KernelSize:  [2]int{kernelH, kernelW},
		Stride:      [2]int{stride, stride},
		Padding:     [2]int{padding, padding},
		Bias:        useBias,
	}, backend)
}

// NewConvTranspose2DWithConfig creates a transposed convolution from a full
// configuration.
func NewConvTranspose2DWithConfig[B tensor.Backend](config ConvTranspose2DConfig, backend B) *ConvTranspose2D[B] {
	config = config.normalized()
	weightShape := config.WeightShape()
	receptive := config.KernelSize[0] * config.KernelSize[1]
	fanIn := weightShape[1] * receptive
	fanOut := config.InChannels / config.Groups * receptive

	var bias *tensor.Tensor[float32, B]
	if config.Bias {
		bias = Zeros(tensor.Shape{config.OutChannels}, backend)
	}
	return NewConvTranspose2DFromTensors(config, Xavier(fanIn, fanOut, weightShape, backend), bias, backend)
}

// NewConvTranspose2DFromTensors builds a transposed convolution around
// existing weight and bias tensors. config.Bias is derived from whether
// bias is nil. The tensors are used as-is, not copied.
func NewConvTranspose2DFromTensors[B tensor.Backend](
	config ConvTranspose2DConfig,
	weight, bias *tensor.Tensor[float32, B],
	backend B,
) *ConvTranspose2D[B] {
	config.Bias = bias != nil
	config = config.normalized()

	if !weight.Shape().Equal(config.WeightShape()) {
		panic(fmt.Sprintf("conv_transpose2d: weight shape %v does not match config %v", weight.Shape(), config.WeightShape()))
	}

	c := &ConvTranspose2D[B]{
		config:  config,
		weight:  NewParameter("conv_transpose2d.weight", weight),
		backend: backend,
	}
	if bias != nil {
		if !bias.Shape().Equal(tensor.Shape{config.OutChannels}) {
			panic(fmt.Sprintf("conv_transpose2d: bias shape %v, expected [%d]", bias.Shape(), config.OutChannels))
		}
		c.bias = NewParameter("conv_transpose2d.bias", bias)
	}
	return c
}

// Forward performs the forward pass.
func (c *ConvTranspose2D[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	inputShape := input.Shape()
	if len(inputShape) != 4 {
		panic(fmt.Sprintf("conv_transpose2d: expected 4D input [N,C,H,W], got %dD", len(inputShape)))
	}
	if inputShape[1] != c.config.InChannels {
		panic(fmt.Sprintf("conv_transpose2d: input channels %d != expected %d", inputShape[1], c.config.InChannels))
	}

	outputRaw := c.backend.ConvTranspose2D(input.Raw(), c.weight.Tensor().Raw(), c.Options())
	output := tensor.New[float32, B](outputRaw, c.backend)
	if c.bias != nil {
		output = output.Add(c.bias.Tensor().Reshape(1, c.config.OutChannels, 1, 1))
	}
	return output
}

// Options returns the backend options.
func (c *ConvTranspose2D[B]) Options() tensor.ConvTranspose2DOptions {
	return tensor.ConvTranspose2DOptions{
		Stride:        c.config.Stride,
		Padding:       c.config.Padding,
		OutputPadding: c.config.OutputPadding,
		Dilation:      c.config.Dilation,
		Groups:        c.config.Groups,
	}
}

// Parameters returns all trainable parameters.
func (c *ConvTranspose2D[B]) Parameters() []*Parameter[B] {
	if c.bias != nil {
		return []*Parameter[B]{c.weight, c.bias}
	}
	return []*Parameter[B]{c.weight}
}

// StateDict returns "weight" and, when present, "bias".
func (c *ConvTranspose2D[B]) StateDict() map[string]*tensor.RawTensor {
	stateDict := map[string]*tensor.RawTensor{"weight": c.weight.Tensor().Raw()}
	if c.bias != nil {
		stateDict["bias"] = c.bias.Tensor().Raw()
	}
	return stateDict
}

// LoadStateDict loads weight and bias.
func (c *ConvTranspose2D[B]) LoadStateDict(stateDict map[string]*tensor.RawTensor) error {
	if err := loadInto(stateDict, "weight", c.weight.Tensor()); err != nil {
		return err
	}
	if c.bias != nil {
		return loadInto(stateDict, "bias", c.bias.Tensor())
	}
	return nil
}

func (c *ConvTranspose2D[B]) String() string {
	return fmt.Sprintf("ConvTranspose2D(in_channels=%d, out_channels=%d, kernel_size=(%d, %d), stride=(%d, %d), padding=(%d, %d), output_padding=(%d, %d), dilation=(%d, %d), groups=%d, bias=%v)",
		c.config.InChannels, c.config.OutChannels,
		c.config.KernelSize[0], c.config.KernelSize[1],
		c.config.Stride[0], c.config.Stride[1],
		c.config.Padding[0], c.config.Padding[1],
		c.config.OutputPadding[0], c.config.OutputPadding[1],
		c.config.Dilation[0], c.config.Dilation[1],
		c.config.Groups, c.bias != nil)
}

// Config returns the layer configuration.
func (c *ConvTranspose2D[B]) Config() ConvTranspose2DConfig {
	return c.config
}

// Weight returns the weight parameter.
func (c *ConvTranspose2D[B]) Weight() *Parameter[B] {
	return c.weight
}

// Bias returns the bias parameter, or nil.
func (c *ConvTranspose2D[B]) Bias() *Parameter[B] {
	return c.bias
}

// InChannels returns the number of input channels.
func (c *ConvTranspose2D[B]) InChannels() int {
	return c.config.InChannels
}

// OutChannels returns the number of output channels.
func (c *ConvTranspose2D[B]) OutChannels() int {
	return c.config.OutChannels
}

// Groups returns the number of channel groups.
func (c *ConvTranspose2D[B]) Groups() int {
	return c.config.Groups
}

// ComputeOutputSize computes output spatial dimensions for given input size.
func (c *ConvTranspose2D[B]) ComputeOutputSize(inputH, inputW int) [2]int {
	h, w := c.Options().OutputSize(inputH, inputW, c.config.KernelSize[0], c.config.KernelSize[1])
	return [2]int{h, w}
}

// Backend returns the computation backend.
func (c *ConvTranspose2D[B]) Backend() B {
	return c.backend
}
