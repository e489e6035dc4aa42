package tensor

// Backend defines the operations a compute backend must provide.
//
// The set is intentionally narrow: arithmetic with broadcasting, matrix
// multiplication, 2D convolution (plain and transposed) and the element-wise math used when
// folding normalization statistics.
type Backend interface {
	// Element-wise binary operations with NumPy broadcasting.
	Add(a, b *RawTensor) *RawTensor
	Sub(a, b *RawTensor) *RawTensor
	Mul(a, b *RawTensor) *RawTensor
	Div(a, b *RawTensor) *RawTensor

	// MatMul multiplies two 2D tensors: [M, K] @ [K, N] -> [M, N].
	MatMul(a, b *RawTensor) *RawTensor

	// Conv2D convolves input [N, C_in, H, W] with kernel
	// [C_out, C_in/groups, K_h, K_w].
	Conv2D(input, kernel *RawTensor, opts Conv2DOptions) *RawTensor

	// ConvTranspose2D applies the transpose of Conv2D to input
	// [N, C_in, H, W] with kernel [C_in, C_out/groups, K_h, K_w].
	ConvTranspose2D(input, kernel *RawTensor, opts ConvTranspose2DOptions) *RawTensor

	// Shape operations
	Reshape(t *RawTensor, newShape Shape) *RawTensor
	Transpose(t *RawTensor, axes ...int) *RawTensor

	// Scalar operations
	MulScalar(x *RawTensor, scalar float64) *RawTensor
	AddScalar(x *RawTensor, scalar float64) *RawTensor

	// Element-wise math
	Sqrt(x *RawTensor) *RawTensor
	Rsqrt(x *RawTensor) *RawTensor

	// Metadata
	Name() string
	Device() Device
}

// Conv2DOptions configures a 2D convolution. Pairs are (height, width).
type Conv2DOptions struct {
	Stride   [2]int
	Padding  [2]int
	Dilation [2]int
	Groups   int
}

// DefaultConv2DOptions returns stride 1, no padding, no dilation, one group.
func DefaultConv2DOptions() Conv2DOptions {
	return Conv2DOptions{
		Stride:   [2]int{1, 1},
		Dilation: [2]int{1, 1},
		Groups:   1,
	}
}

// OutputSize computes the spatial output size for an input of h x w and a
// kernel of kh x kw:
//
//	out = (in + 2*padding - dilation*(k-1) - 1) / stride + 1
func (o Conv2DOptions) OutputSize(h, w, kh, kw int) (int, int) {
	outH := (h+2*o.Padding[0]-o.Dilation[0]*(kh-1)-1)/o.Stride[0] + 1
	outW := (w+2*o.Padding[1]-o.Dilation[1]*(kw-1)-1)/o.Stride[1] + 1
	return outH, outW
}

// ConvTranspose2DOptions configures a transposed 2D convolution. Pairs are
// (height, width). OutputPadding adds rows and columns on the bottom and
// right of the output and must be smaller than the stride or the dilation.
type ConvTranspose2DOptions struct {
	Stride        [2]int
	Padding       [2]int
	OutputPadding [2]int
	Dilation      [2]int
	Groups        int
}

// Conv returns the options of the forward convolution this one transposes.
func (o ConvTranspose2DOptions) Conv() Conv2DOptions {
	return Conv2DOptions{Stride: o.Stride, Padding: o.Padding, Dilation: o.Dilation, Groups: o.Groups}
}

// OutputSize computes the spatial output size for an input of h x w and a
// kernel of kh x kw:
//
//	out = (in - 1)*stride - 2*padding + dilation*(k-1) + output_padding + 1
func (o ConvTranspose2DOptions) OutputSize(h, w, kh, kw int) (int, int) {
	outH := (h-1)*o.Stride[0] - 2*o.Padding[0] + o.Dilation[0]*(kh-1) + o.OutputPadding[0] + 1
	outW := (w-1)*o.Stride[1] - 2*o.Padding[1] + o.Dilation[1]*(kw-1) + o.OutputPadding[1] + 1
	return outH, outW
}
