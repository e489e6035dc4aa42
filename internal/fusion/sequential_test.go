package fusion_test

import (
	"testing"

	"github.com/born-ml/trainkit/internal/backend/cpu"
	"github.com/born-ml/trainkit/internal/fusion"
	"github.com/born-ml/trainkit/internal/nn"
	"github.com/born-ml/trainkit/internal/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// convNet returns conv-bn-relu, conv-relu, conv-bn in eval mode.
func convNet() *nn.Sequential[Backend] {
	backend := cpu.New()
	seq := nn.NewSequential[Backend](
		nn.NewConv2D(3, 4, 3, 3, 1, 1, false, backend),
		randomBN(4),
		nn.NewReLU[Backend](),
		nn.NewConv2D(4, 4, 3, 3, 1, 1, true, backend),
		nn.NewReLU[Backend](),
		nn.NewConv2D(4, 2, 1, 1, 1, 0, true, backend),
		randomBN(2),
	)
	seq.Train(false)
	return seq
}

func kinds(seq *nn.Sequential[Backend]) []string {
	out := make([]string, seq.Len())
	for i, m := range seq.Modules() {
		switch m.(type) {
		case *nn.Identity[Backend]:
			out[i] = "identity"
		case *fusion.ConvReLU2D[Backend]:
			out[i] = "conv_relu"
		case *nn.Conv2D[Backend]:
			out[i] = "conv"
		default:
			k, _ := fusion.KindOf(m)
			out[i] = string(k)
		}
	}
	return out
}

func TestFuseModules(t *testing.T) {
	seq := convNet()
	x := tensor.Randn[float32](tensor.Shape{2, 3, 6, 6}, cpu.New())
	want := seq.Forward(x)

	require.NoError(t, fusion.FuseModules(seq, [][]int{{0, 1, 2}, {5, 6}}, nil))
	assert.Equal(t, []string{"conv_relu", "identity", "identity", "conv", "relu", "conv", "identity"}, kinds(seq))
	assert.InDeltaSlice(t, want.Data(), seq.Forward(x).Data(), 1e-4)
}

func TestFuseModules_Errors(t *testing.T) {
	tests := []struct {
		name   string
		groups [][]int
		err    error
	}{
		{"out of range", [][]int{{5, 7}}, fusion.ErrInvalidGroup},
		{"negative", [][]int{{-1, 0}}, fusion.ErrInvalidGroup},
		{"single", [][]int{{0}}, fusion.ErrInvalidGroup},
		{"reused", [][]int{{0, 1}, {1, 2}}, fusion.ErrInvalidGroup},
		{"unknown pattern", [][]int{{2, 3}}, fusion.ErrNoFuserMethod},
		{"second group fails", [][]int{{0, 1}, {4, 5}}, fusion.ErrNoFuserMethod},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seq := convNet()
			before := seq.Modules()
			assert.ErrorIs(t, fusion.FuseModules(seq, tt.groups, nil), tt.err)
			assert.Equal(t, before, seq.Modules(), "sequential must be unchanged")
		})
	}
}

func TestFuseModules_ExtraMethod(t *testing.T) {
	seq := convNet()
	calls := 0
	extra := map[fusion.Pattern]fusion.FuserMethod[Backend]{
		fusion.PatternOf(fusion.KindReLU, fusion.KindConv2D): func(ms []nn.Module[Backend]) (nn.Module[Backend], error) {
			calls++
			return nn.NewSequential(ms...), nil
		},
	}

	require.NoError(t, fusion.FuseModules(seq, [][]int{{2, 3}}, extra))
	assert.Equal(t, 1, calls)
	_, ok := seq.Module(2).(*nn.Sequential[Backend])
	assert.True(t, ok)
}

func TestGetFuserMethod(t *testing.T) {
	m, err := fusion.GetFuserMethod[Backend](fusion.PatternConvBNReLU, nil)
	require.NoError(t, err)
	assert.NotNil(t, m)

	_, err = fusion.GetFuserMethod[Backend](fusion.PatternOf(fusion.KindReLU, fusion.KindReLU), nil)
	assert.ErrorIs(t, err, fusion.ErrNoFuserMethod)

	_, err = m([]nn.Module[Backend]{nn.NewReLU[Backend]()})
	assert.ErrorIs(t, err, fusion.ErrUnexpectedModule)

	assert.Equal(t, 3, fusion.PatternConvBNReLU.Len())
	assert.Equal(t, fusion.Pattern("conv2d+batchnorm2d"), fusion.PatternConvBN)
}

func TestFuseKnown(t *testing.T) {
	seq := convNet()
	x := tensor.Randn[float32](tensor.Shape{1, 3, 5, 5}, cpu.New())
	want := seq.Forward(x)

	groups, err := fusion.FuseKnown(seq, nil)
	require.NoError(t, err)
	assert.Equal(t, [][]int{{0, 1, 2}, {3, 4}, {5, 6}}, groups)
	assert.Equal(t, []string{"conv_relu", "identity", "identity", "conv_relu", "identity", "conv", "identity"}, kinds(seq))
	assert.InDeltaSlice(t, want.Data(), seq.Forward(x).Data(), 1e-4)

	// A second pass finds nothing left to fuse.
	groups, err = fusion.FuseKnown(seq, nil)
	require.NoError(t, err)
	assert.Empty(t, groups)
}

func TestFuseKnown_LinearTraining(t *testing.T) {
	backend := cpu.New()
	seq := nn.NewSequential[Backend](
		nn.NewLinear(4, 3, backend),
		nn.NewBatchNorm1D(3, backend),
		nn.NewLinear(3, 2, backend),
		nn.NewReLU[Backend](),
	)

	// linear+batchnorm1d cannot be fused while training; linear+relu can.
	groups, err := fusion.FuseKnown(seq, nil)
	require.NoError(t, err)
	assert.Equal(t, [][]int{{2, 3}}, groups)
	_, ok := seq.Module(2).(*fusion.LinearReLU[Backend])
	assert.True(t, ok)

	seq.Train(false)
	groups, err = fusion.FuseKnown(seq, nil)
	require.NoError(t, err)
	assert.Equal(t, [][]int{{0, 1}}, groups)
	_, ok = seq.Module(0).(*nn.Linear[Backend])
	assert.True(t, ok)
}

func TestFuseKnown_ChannelMismatch(t *testing.T) {
	backend := cpu.New()
	seq := nn.NewSequential[Backend](
		nn.NewConv2D(1, 3, 1, 1, 1, 0, false, backend),
		nn.NewBatchNorm2D(2, backend),
	)
	_, err := fusion.FuseKnown(seq, nil)
	assert.ErrorIs(t, err, fusion.ErrChannelMismatch)
}

// halve is a module type unknown to the package that declares its kind.
type halve struct{ *nn.ReLU[Backend] }

func (halve) FusionKind() fusion.Kind { return "halve" }

func TestFuseKnown_CustomKind(t *testing.T) {
	backend := cpu.New()
	newSeq := func() *nn.Sequential[Backend] {
		seq := nn.NewSequential[Backend](nn.NewLinear(2, 2, backend), halve{nn.NewReLU[Backend]()})
		seq.Train(false)
		return seq
	}

	k, ok := fusion.KindOf[Backend](halve{nn.NewReLU[Backend]()})
	assert.True(t, ok)
	assert.Equal(t, fusion.Kind("halve"), k)

	seq := newSeq()
	groups, err := fusion.FuseKnown(seq, nil)
	require.NoError(t, err)
	assert.Empty(t, groups)

	extra := map[fusion.Pattern]fusion.FuserMethod[Backend]{
		fusion.PatternOf(fusion.KindLinear, "halve"): func(ms []nn.Module[Backend]) (nn.Module[Backend], error) {
			return ms[0], nil
		},
	}
	seq = newSeq()
	groups, err = fusion.FuseKnown(seq, extra)
	require.NoError(t, err)
	assert.Equal(t, [][]int{{0, 1}}, groups)
	assert.IsType(t, &nn.Identity[Backend]{}, seq.Module(1))

	seq = newSeq()
	require.NoError(t, fusion.FuseModules(seq, [][]int{{0, 1}}, extra))
	assert.IsType(t, &nn.Linear[Backend]{}, seq.Module(0))
}
