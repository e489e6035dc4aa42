package nn

import (
	"testing"

	"github.com/born-ml/trainkit/internal/backend/cpu"
	"github.com/born-ml/trainkit/internal/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type Backend = *cpu.CPUBackend

func TestParameter(t *testing.T) {
	backend := cpu.New()
	w := Ones(tensor.Shape{2}, backend)
	p := NewParameter("w", w)

	assert.Equal(t, "w", p.Name())
	assert.Same(t, w, p.Tensor())
	assert.Nil(t, p.Grad())

	p.SetGrad(Zeros(tensor.Shape{2}, backend))
	assert.NotNil(t, p.Grad())
	p.ZeroGrad()
	assert.Nil(t, p.Grad())
}

func TestLinear_Forward(t *testing.T) {
	backend := cpu.New()
	weight, err := tensor.FromSlice([]float32{1, 2, 3, 4, 5, 6}, tensor.Shape{2, 3}, backend)
	require.NoError(t, err)
	bias, err := tensor.FromSlice([]float32{0.5, -0.5}, tensor.Shape{2}, backend)
	require.NoError(t, err)

	layer := NewLinearFromTensors(weight, bias, backend)
	assert.Equal(t, 3, layer.InFeatures())
	assert.Equal(t, 2, layer.OutFeatures())

	x, err := tensor.FromSlice([]float32{1, 1, 1, 1, 0, -1}, tensor.Shape{2, 3}, backend)
	require.NoError(t, err)

	y := layer.Forward(x)
	require.Equal(t, tensor.Shape{2, 2}, y.Shape())
	assert.InDeltaSlice(t, []float32{6.5, 14.5, -1.5, -2.5}, y.Data(), 1e-6)

	assert.Len(t, layer.Parameters(), 2)
	assert.Panics(t, func() { layer.Forward(tensor.Zeros[float32](tensor.Shape{2, 4}, backend)) })
}

func TestLinear_StateDictRoundTrip(t *testing.T) {
	backend := cpu.New()
	src := NewLinear(4, 3, backend)
	dst := NewLinear(4, 3, backend)

	require.NoError(t, dst.LoadStateDict(src.StateDict()))
	assert.Equal(t, src.Weight().Tensor().Data(), dst.Weight().Tensor().Data())

	bad := map[string]*tensor.RawTensor{"weight": tensor.Zeros[float32](tensor.Shape{3, 3}, backend).Raw()}
	assert.Error(t, dst.LoadStateDict(bad))
}

func TestReLUAndIdentity(t *testing.T) {
	backend := cpu.New()
	x, err := tensor.FromSlice([]float32{-2, -0.5, 0, 3}, tensor.Shape{4}, backend)
	require.NoError(t, err)

	assert.Equal(t, []float32{0, 0, 0, 3}, NewReLU[Backend]().Forward(x).Data())
	assert.Same(t, x, NewIdentity[Backend]().Forward(x))
}

func TestModeDefaultsToTraining(t *testing.T) {
	backend := cpu.New()
	conv := NewConv2D(1, 1, 1, 1, 1, 0, true, backend)
	assert.True(t, conv.Training())

	conv.Train(false)
	assert.False(t, conv.Training())
}

func TestSequential(t *testing.T) {
	backend := cpu.New()
	conv := NewConv2D(2, 3, 3, 3, 1, 1, false, backend)
	bn := NewBatchNorm2D(3, backend)
	relu := NewReLU[Backend]()

	model := NewSequential[Backend](conv, bn, relu)
	assert.Equal(t, 3, model.Len())
	assert.Len(t, model.Parameters(), 3) // conv weight, gamma, beta

	model.Train(false)
	assert.False(t, conv.Training())
	assert.False(t, bn.Training())
	assert.False(t, relu.Training())

	x := tensor.Randn[float32](tensor.Shape{1, 2, 4, 4}, backend)
	y := model.Forward(x)
	assert.Equal(t, tensor.Shape{1, 3, 4, 4}, y.Shape())
	for _, v := range y.Data() {
		assert.GreaterOrEqual(t, v, float32(0))
	}

	sd := model.StateDict()
	assert.Contains(t, sd, "0.weight")
	assert.Contains(t, sd, "1.running_mean")
	assert.Contains(t, sd, "1.running_var")
	assert.NotContains(t, sd, "2.weight")

	other := NewSequential[Backend](
		NewConv2D(2, 3, 3, 3, 1, 1, false, backend),
		NewBatchNorm2D(3, backend),
		NewReLU[Backend](),
	)
	require.NoError(t, other.LoadStateDict(sd))
	other.Train(false)
	assert.InDeltaSlice(t, y.Data(), other.Forward(x).Data(), 1e-6)

	model.SetModule(2, NewIdentity[Backend]())
	_, isIdentity := model.Module(2).(*Identity[Backend])
	assert.True(t, isIdentity)
	assert.Panics(t, func() { model.Module(3) })
	assert.Contains(t, model.String(), "BatchNorm2D(3")
}
