package cpu

import (
	"math/rand"
	"testing"

	"github.com/born-ml/trainkit/internal/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvTranspose2D_Simple(t *testing.T) {
	backend := New()

	// A single one scatters the kernel.
	input := raw32(t, []float32{1}, tensor.Shape{1, 1, 1, 1})
	kernel := raw32(t, []float32{1, 2, 3, 4}, tensor.Shape{1, 1, 2, 2})
	out := backend.ConvTranspose2D(input, kernel, tensor.ConvTranspose2DOptions{})
	require.Equal(t, tensor.Shape{1, 1, 2, 2}, out.Shape())
	assert.Equal(t, []float32{1, 2, 3, 4}, out.AsFloat32())

	// Stride 2 with a 1x1 kernel spreads the input out.
	input = raw32(t, []float32{1, 2, 3, 4}, tensor.Shape{1, 1, 2, 2})
	kernel = raw32(t, []float32{10}, tensor.Shape{1, 1, 1, 1})
	out = backend.ConvTranspose2D(input, kernel, tensor.ConvTranspose2DOptions{Stride: [2]int{2, 2}, OutputPadding: [2]int{1, 1}})
	require.Equal(t, tensor.Shape{1, 1, 4, 4}, out.Shape())
	assert.Equal(t, []float32{
		10, 0, 20, 0,
		0, 0, 0, 0,
		30, 0, 40, 0,
		0, 0, 0, 0,
	}, out.AsFloat32())

	// Overlapping windows add up.
	input = raw32(t, []float32{1, 1}, tensor.Shape{1, 1, 1, 2})
	kernel = raw32(t, []float32{1, 1}, tensor.Shape{1, 1, 1, 2})
	out = backend.ConvTranspose2D(input, kernel, tensor.ConvTranspose2DOptions{})
	assert.Equal(t, []float32{1, 2, 1}, out.AsFloat32())
}

// TestConvTranspose2D_AdjointOfConv2D checks <conv(x, w), y> == <x, convT(y, w)>.
func TestConvTranspose2D_AdjointOfConv2D(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	backend := New()

	tests := []struct {
		name    string
		input   tensor.Shape
		kernel  tensor.Shape
		options tensor.Conv2DOptions
	}{
		{"plain", tensor.Shape{2, 3, 5, 5}, tensor.Shape{4, 3, 3, 3},
			tensor.Conv2DOptions{Stride: [2]int{1, 1}, Padding: [2]int{1, 1}, Dilation: [2]int{1, 1}, Groups: 1}},
		{"stride", tensor.Shape{1, 2, 7, 6}, tensor.Shape{3, 2, 3, 2},
			tensor.Conv2DOptions{Stride: [2]int{2, 3}, Padding: [2]int{0, 1}, Dilation: [2]int{1, 1}, Groups: 1}},
		{"dilation", tensor.Shape{1, 2, 7, 7}, tensor.Shape{2, 2, 3, 3},
			tensor.Conv2DOptions{Stride: [2]int{2, 2}, Padding: [2]int{2, 2}, Dilation: [2]int{2, 2}, Groups: 1}},
		{"groups", tensor.Shape{2, 4, 6, 6}, tensor.Shape{6, 2, 3, 3},
			tensor.Conv2DOptions{Stride: [2]int{2, 2}, Padding: [2]int{1, 1}, Dilation: [2]int{1, 1}, Groups: 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x := randomRaw64(t, tt.input, rng)
			w := randomRaw64(t, tt.kernel, rng)
			conv := backend.Conv2D(x, w, tt.options)
			y := randomRaw64(t, conv.Shape(), rng)

			opts := tensor.ConvTranspose2DOptions{
				Stride:   tt.options.Stride,
				Padding:  tt.options.Padding,
				Dilation: tt.options.Dilation,
				Groups:   tt.options.Groups,
			}
			for i := range 2 {
				span := tt.input[2+i] + 2*tt.options.Padding[i] - tt.options.Dilation[i]*(tt.kernel[2+i]-1) - 1
				opts.OutputPadding[i] = span % tt.options.Stride[i]
			}
			back := backend.ConvTranspose2D(y, w, opts)
			require.Equal(t, tt.input, back.Shape())

			assert.InDelta(t, dot(conv.AsFloat64(), y.AsFloat64()), dot(x.AsFloat64(), back.AsFloat64()), 1e-9)
		})
	}
}

func TestConvTranspose2D_Invalid(t *testing.T) {
	backend := New()
	input := raw32(t, make([]float32, 4*3*3), tensor.Shape{1, 4, 3, 3})

	kernel := raw32(t, make([]float32, 3*2*3*3), tensor.Shape{3, 2, 3, 3})
	assert.Panics(t, func() { backend.ConvTranspose2D(input, kernel, tensor.ConvTranspose2DOptions{}) })

	kernel = raw32(t, make([]float32, 4*2*3*3), tensor.Shape{4, 2, 3, 3})
	assert.Panics(t, func() {
		backend.ConvTranspose2D(input, kernel, tensor.ConvTranspose2DOptions{Groups: 3})
	})
	assert.Panics(t, func() {
		backend.ConvTranspose2D(input, kernel, tensor.ConvTranspose2DOptions{Stride: [2]int{2, 2}, OutputPadding: [2]int{2, 0}})
	})

	out := backend.ConvTranspose2D(input, kernel, tensor.ConvTranspose2DOptions{Groups: 2})
	assert.Equal(t, tensor.Shape{1, 4, 5, 5}, out.Shape())
}

func dot(a, b []float64) float64 {
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
