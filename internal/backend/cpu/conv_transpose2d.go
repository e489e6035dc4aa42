package cpu

import (
	"fmt"

	"github.com/born-ml/trainkit/internal/tensor"
)

// ConvTranspose2D performs a grouped, dilated transposed 2D convolution.
//
// Input shape:  [N, C_in, H, W]
// Kernel shape: [C_in, C_out/groups, K_h, K_w]
// Output shape: [N, C_out, H_out, W_out]
//
// Every input element is scattered into the output through the kernel of
// its channel, which makes this the adjoint of Conv2D with the same kernel
// and options.
func (cpu *CPUBackend) ConvTranspose2D(input, kernel *tensor.RawTensor, opts tensor.ConvTranspose2DOptions) *tensor.RawTensor {
	inputShape := input.Shape()
	kernelShape := kernel.Shape()

	if len(inputShape) != 4 {
		panic(fmt.Sprintf("conv_transpose2d: input must be 4D [N,C,H,W], got %dD", len(inputShape)))
	}
	if len(kernelShape) != 4 {
		panic(fmt.Sprintf("conv_transpose2d: kernel must be 4D [C_in,C_out/groups,K_h,K_w], got %dD", len(kernelShape)))
	}
	if input.DType() != kernel.DType() {
		panic(fmt.Sprintf("conv_transpose2d: dtype mismatch %s vs %s", input.DType(), kernel.DType()))
	}

	conv := normalizeConvOptions(opts.Conv())
	opts.Stride, opts.Dilation, opts.Groups = conv.Stride, conv.Dilation, conv.Groups
	for i := range 2 {
		if opts.OutputPadding[i] < 0 || opts.OutputPadding[i] >= max(opts.Stride[i], opts.Dilation[i]) {
			panic(fmt.Sprintf("conv_transpose2d: output padding %v must be smaller than stride %v or dilation %v",
				opts.OutputPadding, opts.Stride, opts.Dilation))
		}
	}

	g := conv2dGeometry{
		N: inputShape[0], CIn: inputShape[1], H: inputShape[2], W: inputShape[3],
		COut: kernelShape[1] * conv.Groups, KH: kernelShape[2], KW: kernelShape[3],
		opts: conv,
	}
	if kernelShape[0] != g.CIn {
		panic(fmt.Sprintf("conv_transpose2d: input channels %d != kernel channels %d", g.CIn, kernelShape[0]))
	}
	if g.CIn%conv.Groups != 0 {
		panic(fmt.Sprintf("conv_transpose2d: input channels %d not divisible by groups=%d", g.CIn, conv.Groups))
	}

	g.HOut, g.WOut = opts.OutputSize(g.H, g.W, g.KH, g.KW)
	if g.HOut <= 0 || g.WOut <= 0 {
		panic(fmt.Sprintf("conv_transpose2d: invalid output dimensions: out_h=%d, out_w=%d (check stride/padding/dilation)", g.HOut, g.WOut))
	}

	output, err := tensor.NewRaw(tensor.Shape{g.N, g.COut, g.HOut, g.WOut}, input.DType(), cpu.device)
	if err != nil {
		panic(fmt.Sprintf("conv_transpose2d: failed to create output tensor: %v", err))
	}

	switch input.DType() {
	case tensor.Float32:
		convTranspose2d(output.AsFloat32(), input.AsFloat32(), kernel.AsFloat32(), g)
	case tensor.Float64:
		convTranspose2d(output.AsFloat64(), input.AsFloat64(), kernel.AsFloat64(), g)
	default:
		panic(fmt.Sprintf("conv_transpose2d: unsupported dtype %s", input.DType()))
	}

	return output
}

// convTranspose2d accumulates into out, which must be zeroed. HOut and WOut
// of g are the transposed output size.
func convTranspose2d[T float32 | float64](out, in, kernel []T, g conv2dGeometry) {
	cinG := g.CIn / g.opts.Groups
	coutG := g.COut / g.opts.Groups
	kArea := g.KH * g.KW
	outArea := g.HOut * g.WOut

	for n := range g.N {
		for ci := range g.CIn {
			grp := ci / cinG
			inBase := (n*g.CIn + ci) * g.H * g.W
			for h := range g.H {
				for w := range g.W {
					v := in[inBase+h*g.W+w]
					if v == 0 {
						continue
					}
					hStart := h*g.opts.Stride[0] - g.opts.Padding[0]
					wStart := w*g.opts.Stride[1] - g.opts.Padding[1]
					for oc := range coutG {
						c := grp*coutG + oc
						kRow := kernel[(ci*coutG+oc)*kArea : (ci*coutG+oc+1)*kArea]
						outBase := (n*g.COut + c) * outArea
						for kh := range g.KH {
							oh := hStart + kh*g.opts.Dilation[0]
							if oh < 0 || oh >= g.HOut {
								continue
							}
							for kw := range g.KW {
								ow := wStart + kw*g.opts.Dilation[1]
								if ow < 0 || ow >= g.WOut {
									continue
								}
								out[outBase+oh*g.WOut+ow] += v * kRow[kh*g.KW+kw]
							}
						}
					}
				}
			}
		}
	}
}
