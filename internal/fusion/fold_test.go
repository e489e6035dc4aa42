package fusion_test

import (
	"testing"

	"github.com/born-ml/trainkit/internal/backend/cpu"
	"github.com/born-ml/trainkit/internal/fusion"
	"github.com/born-ml/trainkit/internal/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type Backend = *cpu.CPUBackend

func fromSlice(t *testing.T, data []float32, shape ...int) *tensor.Tensor[float32, Backend] {
	t.Helper()
	x, err := tensor.FromSlice(data, tensor.Shape(shape), cpu.New())
	require.NoError(t, err)
	return x
}

func TestFoldBNWeights_IdentityStats(t *testing.T) {
	backend := cpu.New()
	weight := tensor.Randn[float32](tensor.Shape{4, 3, 3, 3}, backend)
	stats := fusion.BNStats[Backend]{
		Mean:  tensor.Zeros[float32](tensor.Shape{4}, backend),
		Var:   tensor.Ones[float32](tensor.Shape{4}, backend),
		Gamma: tensor.Ones[float32](tensor.Shape{4}, backend),
		Beta:  tensor.Zeros[float32](tensor.Shape{4}, backend),
		Eps:   1e-5,
	}
	bias := tensor.Zeros[float32](tensor.Shape{4}, backend)

	wFold, bFold, err := fusion.FoldBNWeights(weight, bias, stats, false)
	require.NoError(t, err)
	assert.Equal(t, weight.Shape(), wFold.Shape())
	assert.InDeltaSlice(t, weight.Data(), wFold.Data(), 1e-4)
	assert.InDeltaSlice(t, []float32{0, 0, 0, 0}, bFold.Data(), 1e-7)
}

func TestFoldBNWeights_Formula(t *testing.T) {
	weight := fromSlice(t, []float32{2, 3}, 2, 1, 1, 1)
	bias := fromSlice(t, []float32{1, -1}, 2)
	stats := fusion.BNStats[Backend]{
		Mean:  fromSlice(t, []float32{0.5, 1}, 2),
		Var:   fromSlice(t, []float32{3, 0}, 2),
		Gamma: fromSlice(t, []float32{2, 0.5}, 2),
		Beta:  fromSlice(t, []float32{0.1, 0.2}, 2),
		Eps:   1,
	}

	// sqrt(var+eps) = {2, 1}, so the per-channel scale is {1, 0.5}.
	wFold, bFold, err := fusion.FoldBNWeights(weight, bias, stats, false)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{2, 1.5}, wFold.Data(), 1e-6)
	assert.InDeltaSlice(t, []float32{0.6, -0.8}, bFold.Data(), 1e-6)

	// Inputs are untouched.
	assert.Equal(t, []float32{2, 3}, weight.Data())
	assert.Equal(t, []float32{1, -1}, bias.Data())
}

func TestFoldBNWeights_Transpose(t *testing.T) {
	// [in=2, out=2, 1, 1]: output channels run along axis 1.
	weight := fromSlice(t, []float32{1, 1, 2, 2}, 2, 2, 1, 1)
	stats := fusion.BNStats[Backend]{Gamma: fromSlice(t, []float32{3, 0.5}, 2)}

	wFold, bFold, err := fusion.FoldBNWeights(weight, nil, stats, true)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{3, 0.5, 6, 1}, wFold.Data(), 1e-6)
	assert.InDeltaSlice(t, []float32{0, 0}, bFold.Data(), 1e-7)
}

func TestFoldConvTransposeBNWeights_Groups(t *testing.T) {
	// [in=4, out/groups=1, 1, 1] with 2 groups: inputs 0-1 feed output 0,
	// inputs 2-3 feed output 1.
	weight := fromSlice(t, []float32{1, 1, 1, 1}, 4, 1, 1, 1)
	stats := fusion.BNStats[Backend]{Gamma: fromSlice(t, []float32{2, 5}, 2)}

	wFold, bFold, err := fusion.FoldConvTransposeBNWeights(weight, nil, stats, 2)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{2, 2, 5, 5}, wFold.Data(), 1e-6)
	assert.Equal(t, tensor.Shape{2}, bFold.Shape())

	// One group matches FoldBNWeights with transpose.
	weight = fromSlice(t, []float32{1, 1, 2, 2}, 2, 2, 1, 1)
	stats = fusion.BNStats[Backend]{Gamma: fromSlice(t, []float32{3, 0.5}, 2)}
	w1, _, err := fusion.FoldConvTransposeBNWeights(weight, nil, stats, 1)
	require.NoError(t, err)
	w2, _, err := fusion.FoldBNWeights(weight, nil, stats, true)
	require.NoError(t, err)
	assert.Equal(t, w2.Data(), w1.Data())

	_, _, err = fusion.FoldConvTransposeBNWeights(weight, nil, stats, 3)
	assert.Error(t, err)
	_, _, err = fusion.FoldConvTransposeBNWeights(fromSlice(t, []float32{1, 1, 1, 1}, 4, 1, 1, 1), nil, stats, 1)
	assert.ErrorIs(t, err, fusion.ErrChannelMismatch)
}

func TestFoldBNWeights_Defaults(t *testing.T) {
	weight := fromSlice(t, []float32{1, 2, 3, 4}, 2, 2)

	// No bias, no statistics and eps 0: the fold is the identity.
	wFold, bFold, err := fusion.FoldLinearBNWeights(weight, nil, fusion.BNStats[Backend]{})
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3, 4}, wFold.Data())
	assert.Equal(t, []float32{0, 0}, bFold.Data())
}

func TestFoldBNWeights_ChannelMismatch(t *testing.T) {
	weight := fromSlice(t, []float32{1, 2, 3}, 3, 1, 1, 1)
	stats := fusion.BNStats[Backend]{Mean: fromSlice(t, []float32{0, 0}, 2)}

	_, _, err := fusion.FoldBNWeights(weight, nil, stats, false)
	assert.ErrorIs(t, err, fusion.ErrChannelMismatch)

	_, _, err = fusion.FoldLinearBNWeights(weight, nil, fusion.BNStats[Backend]{})
	assert.Error(t, err)
}
