package nn

import (
	"testing"

	"github.com/born-ml/trainkit/internal/backend/cpu"
	"github.com/born-ml/trainkit/internal/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvTranspose2D_Shapes(t *testing.T) {
	backend := cpu.New()

	conv := NewConvTranspose2D(8, 4, 4, 4, 2, 1, true, backend)
	assert.Equal(t, tensor.Shape{8, 4, 4, 4}, conv.Weight().Tensor().Shape())
	assert.Equal(t, tensor.Shape{4}, conv.Bias().Tensor().Shape())
	assert.Equal(t, [2]int{14, 14}, conv.ComputeOutputSize(7, 7))

	out := conv.Forward(tensor.Zeros[float32](tensor.Shape{2, 8, 7, 7}, backend))
	assert.Equal(t, tensor.Shape{2, 4, 14, 14}, out.Shape())

	grouped := NewConvTranspose2DWithConfig(ConvTranspose2DConfig{
		InChannels:    4,
		OutChannels:   6,
		KernelSize:    [2]int{3, 3},
		Stride:        [2]int{2, 2},
		OutputPadding: [2]int{1, 1},
		Groups:        2,
	}, backend)
	assert.Equal(t, tensor.Shape{4, 3, 3, 3}, grouped.Weight().Tensor().Shape())
	assert.Equal(t, [2]int{1, 1}, grouped.Config().Dilation)
	assert.Nil(t, grouped.Bias())
	assert.Len(t, grouped.Parameters(), 1)
	assert.Contains(t, grouped.String(), "output_padding=(1, 1)")
}

func TestConvTranspose2D_InvalidConfig(t *testing.T) {
	backend := cpu.New()
	assert.Panics(t, func() { NewConvTranspose2D(4, 0, 3, 3, 1, 0, false, backend) })
	assert.Panics(t, func() {
		NewConvTranspose2DWithConfig(ConvTranspose2DConfig{InChannels: 4, OutChannels: 4, KernelSize: [2]int{3, 3}, OutputPadding: [2]int{1, 0}}, backend)
	})
	assert.Panics(t, func() {
		weight := tensor.Zeros[float32](tensor.Shape{2, 4, 3, 3}, backend)
		NewConvTranspose2DFromTensors(ConvTranspose2DConfig{InChannels: 4, OutChannels: 2, KernelSize: [2]int{3, 3}}, weight, nil, backend)
	})
}

func TestConvTranspose2D_ForwardWithBias(t *testing.T) {
	backend := cpu.New()
	weight, err := tensor.FromSlice([]float32{1, 2, 3, 4, 0, 0, 0, 1}, tensor.Shape{1, 2, 2, 2}, backend)
	require.NoError(t, err)
	bias, err := tensor.FromSlice([]float32{10, -1}, tensor.Shape{2}, backend)
	require.NoError(t, err)

	conv := NewConvTranspose2DFromTensors(ConvTranspose2DConfig{InChannels: 1, OutChannels: 2, KernelSize: [2]int{2, 2}}, weight, bias, backend)
	assert.True(t, conv.Config().Bias)

	x, err := tensor.FromSlice([]float32{2}, tensor.Shape{1, 1, 1, 1}, backend)
	require.NoError(t, err)
	y := conv.Forward(x)
	require.Equal(t, tensor.Shape{1, 2, 2, 2}, y.Shape())
	assert.Equal(t, []float32{12, 14, 16, 18, -1, -1, -1, 1}, y.Data())
}

func TestConvTranspose2D_StateDict(t *testing.T) {
	backend := cpu.New()
	src := NewConvTranspose2D(2, 3, 3, 3, 1, 1, true, backend)
	dst := NewConvTranspose2D(2, 3, 3, 3, 1, 1, true, backend)

	require.NoError(t, dst.LoadStateDict(src.StateDict()))
	assert.Equal(t, src.Weight().Tensor().Data(), dst.Weight().Tensor().Data())
	assert.Equal(t, src.Bias().Tensor().Data(), dst.Bias().Tensor().Data())

	assert.Error(t, NewConvTranspose2D(2, 4, 3, 3, 1, 1, false, backend).LoadStateDict(src.StateDict()))
}
