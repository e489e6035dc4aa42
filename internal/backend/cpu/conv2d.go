package cpu

import (
	"fmt"

	"github.com/born-ml/trainkit/internal/tensor"
)

// Conv2D performs a grouped, dilated 2D convolution using im2col.
//
// Input shape:  [N, C_in, H, W]
// Kernel shape: [C_out, C_in/groups, K_h, K_w]
// Output shape: [N, C_out, H_out, W_out]
//
// For every group the input patches of that group's channels are unfolded
// into a column buffer [N*H_out*W_out, C_in/groups*K_h*K_w] and multiplied
// by the group's slice of the kernel.
//
// Reference: "High Performance Convolutional Neural Networks for Document Processing"
// (Chellapilla et al., 2006).
func (cpu *CPUBackend) Conv2D(input, kernel *tensor.RawTensor, opts tensor.Conv2DOptions) *tensor.RawTensor {
	inputShape := input.Shape()
	kernelShape := kernel.Shape()

	if len(inputShape) != 4 {
		panic(fmt.Sprintf("conv2d: input must be 4D [N,C,H,W], got %dD", len(inputShape)))
	}
	if len(kernelShape) != 4 {
		panic(fmt.Sprintf("conv2d: kernel must be 4D [C_out,C_in/groups,K_h,K_w], got %dD", len(kernelShape)))
	}
	if input.DType() != kernel.DType() {
		panic(fmt.Sprintf("conv2d: dtype mismatch %s vs %s", input.DType(), kernel.DType()))
	}

	opts = normalizeConvOptions(opts)
	g := conv2dGeometry{
		N: inputShape[0], CIn: inputShape[1], H: inputShape[2], W: inputShape[3],
		COut: kernelShape[0], KH: kernelShape[2], KW: kernelShape[3],
		opts: opts,
	}

	if g.CIn%opts.Groups != 0 || g.COut%opts.Groups != 0 {
		panic(fmt.Sprintf("conv2d: channels in=%d out=%d not divisible by groups=%d", g.CIn, g.COut, opts.Groups))
	}
	if kernelShape[1] != g.CIn/opts.Groups {
		panic(fmt.Sprintf("conv2d: input channels %d / groups %d != kernel channels %d", g.CIn, opts.Groups, kernelShape[1]))
	}

	g.HOut, g.WOut = opts.OutputSize(g.H, g.W, g.KH, g.KW)
	if g.HOut <= 0 || g.WOut <= 0 {
		panic(fmt.Sprintf("conv2d: invalid output dimensions: out_h=%d, out_w=%d (check stride/padding/dilation)", g.HOut, g.WOut))
	}

	output, err := tensor.NewRaw(tensor.Shape{g.N, g.COut, g.HOut, g.WOut}, input.DType(), cpu.device)
	if err != nil {
		panic(fmt.Sprintf("conv2d: failed to create output tensor: %v", err))
	}

	switch input.DType() {
	case tensor.Float32:
		conv2d(output.AsFloat32(), input.AsFloat32(), kernel.AsFloat32(), g)
	case tensor.Float64:
		conv2d(output.AsFloat64(), input.AsFloat64(), kernel.AsFloat64(), g)
	default:
		panic(fmt.Sprintf("conv2d: unsupported dtype %s", input.DType()))
	}

	return output
}

// normalizeConvOptions replaces zero strides, dilations and groups with 1.
func normalizeConvOptions(opts tensor.Conv2DOptions) tensor.Conv2DOptions {
	for i := range 2 {
		if opts.Stride[i] == 0 {
			opts.Stride[i] = 1
		}
		if opts.Dilation[i] == 0 {
			opts.Dilation[i] = 1
		}
	}
	if opts.Groups == 0 {
		opts.Groups = 1
	}
	return opts
}

type conv2dGeometry struct {
	N, CIn, H, W int
	COut, KH, KW int
	HOut, WOut   int
	opts         tensor.Conv2DOptions
}

func conv2d[T float32 | float64](out, in, kernel []T, g conv2dGeometry) {
	groups := g.opts.Groups
	cinG := g.CIn / groups
	coutG := g.COut / groups
	colWidth := cinG * g.KH * g.KW
	spatial := g.HOut * g.WOut
	colBuf := make([]T, g.N*spatial*colWidth)

	for grp := range groups {
		im2col(colBuf, in, g, grp*cinG, cinG)

		for oc := range coutG {
			c := grp*coutG + oc
			kRow := kernel[c*colWidth : (c+1)*colWidth]
			for row := range g.N * spatial {
				col := colBuf[row*colWidth : (row+1)*colWidth]
				var sum T
				for k, w := range kRow {
					sum += w * col[k]
				}
				n, pos := row/spatial, row%spatial
				out[(n*g.COut+c)*spatial+pos] = sum
			}
		}
	}
}

// im2col unfolds channels [cStart, cStart+cCount) of in into colBuf, one row
// per output position. Positions that fall into padding read as zero.
func im2col[T float32 | float64](colBuf, in []T, g conv2dGeometry, cStart, cCount int) {
	colWidth := cCount * g.KH * g.KW
	row := 0
	for n := range g.N {
		for oh := range g.HOut {
			for ow := range g.WOut {
				hStart := oh*g.opts.Stride[0] - g.opts.Padding[0]
				wStart := ow*g.opts.Stride[1] - g.opts.Padding[1]
				idx := row * colWidth

				for c := cStart; c < cStart+cCount; c++ {
					base := (n*g.CIn + c) * g.H * g.W
					for kh := range g.KH {
						h := hStart + kh*g.opts.Dilation[0]
						for kw := range g.KW {
							w := wStart + kw*g.opts.Dilation[1]
							if h >= 0 && h < g.H && w >= 0 && w < g.W {
								colBuf[idx] = in[base+h*g.W+w]
							} else {
								colBuf[idx] = 0
							}
							idx++
						}
					}
				}
				row++
			}
		}
	}
}
