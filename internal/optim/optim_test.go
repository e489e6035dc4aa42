package optim_test

import (
	"testing"

	"github.com/born-ml/trainkit/internal/backend/cpu"
	"github.com/born-ml/trainkit/internal/nn"
	"github.com/born-ml/trainkit/internal/optim"
	"github.com/born-ml/trainkit/internal/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type Backend = *cpu.CPUBackend

func param(t *testing.T, name string, values ...float32) *nn.Parameter[Backend] {
	t.Helper()
	x, err := tensor.FromSlice(values, tensor.Shape{len(values)}, cpu.New())
	require.NoError(t, err)
	return nn.NewParameter(name, x)
}

func gradsFor(t *testing.T, pairs map[*nn.Parameter[Backend]][]float32) map[*tensor.RawTensor]*tensor.RawTensor {
	t.Helper()
	grads := make(map[*tensor.RawTensor]*tensor.RawTensor)
	for p, g := range pairs {
		x, err := tensor.FromSlice(g, p.Tensor().Shape(), cpu.New())
		require.NoError(t, err)
		grads[p.Tensor().Raw()] = x.Raw()
	}
	return grads
}

func TestSGD_Step(t *testing.T) {
	p := param(t, "w", 1, 2)
	sgd := optim.NewSGD([]*nn.Parameter[Backend]{p}, optim.SGDConfig{LR: 0.1}, cpu.New())

	sgd.Step(gradsFor(t, map[*nn.Parameter[Backend]][]float32{p: {0.5, 1}}))
	assert.InDeltaSlice(t, []float32{0.95, 1.9}, p.Tensor().Data(), 1e-6)
	assert.InDelta(t, 0.1, sgd.GetLR(), 1e-7)
}

func TestSGD_DefaultLR(t *testing.T) {
	sgd := optim.NewSGD([]*nn.Parameter[Backend]{param(t, "w", 1)}, optim.SGDConfig{}, cpu.New())
	assert.InDelta(t, 0.01, sgd.GetLR(), 1e-7)
}

func TestSGD_Momentum(t *testing.T) {
	p := param(t, "w", 0)
	sgd := optim.NewSGD([]*nn.Parameter[Backend]{p}, optim.SGDConfig{LR: 0.1, Momentum: 0.9}, cpu.New())
	grads := gradsFor(t, map[*nn.Parameter[Backend]][]float32{p: {1}})

	sgd.Step(grads)
	assert.InDelta(t, -0.1, p.Tensor().Data()[0], 1e-6)

	sgd.Step(grads)
	assert.InDelta(t, -0.29, p.Tensor().Data()[0], 1e-6)
}

func TestSGD_WeightDecay(t *testing.T) {
	p := param(t, "w", 1)
	sgd := optim.NewSGD([]*nn.Parameter[Backend]{p}, optim.SGDConfig{LR: 0.1, WeightDecay: 0.5}, cpu.New())

	sgd.Step(gradsFor(t, map[*nn.Parameter[Backend]][]float32{p: {0}}))
	assert.InDelta(t, 0.95, p.Tensor().Data()[0], 1e-6)
}

func TestSGD_SkipsMissingGradients(t *testing.T) {
	p := param(t, "w", 3)
	sgd := optim.NewSGD([]*nn.Parameter[Backend]{p}, optim.SGDConfig{LR: 1}, cpu.New())
	sgd.Step(map[*tensor.RawTensor]*tensor.RawTensor{})
	assert.Equal(t, []float32{3}, p.Tensor().Data())
}

func TestSGD_ParamGroups(t *testing.T) {
	backbone := param(t, "backbone", 1)
	head := param(t, "head", 1)
	userOpts := optim.GroupOptions{optim.KeyLR: 0.01}

	sgd := optim.NewSGDWithGroups([]optim.ParamGroup[Backend]{
		{Params: []*nn.Parameter[Backend]{backbone}, Options: userOpts},
		{Params: []*nn.Parameter[Backend]{head}},
	}, optim.SGDConfig{LR: 0.1}, cpu.New())

	groups := sgd.ParamGroups()
	require.Len(t, groups, 2)
	assert.InDelta(t, 0.01, groups[0].LR(), 1e-12)
	assert.InDelta(t, 0.1, groups[1].LR(), 1e-12)
	assert.InDelta(t, 0.01, sgd.GetLR(), 1e-7)

	grads := gradsFor(t, map[*nn.Parameter[Backend]][]float32{backbone: {1}, head: {1}})
	sgd.Step(grads)
	assert.InDelta(t, 0.99, backbone.Tensor().Data()[0], 1e-6)
	assert.InDelta(t, 0.9, head.Tensor().Data()[0], 1e-6)

	// Live maps: a write is honored by the next step.
	groups[1].SetLR(0.5)
	sgd.Step(grads)
	assert.InDelta(t, 0.4, head.Tensor().Data()[0], 1e-6)

	// The caller's option map is copied, not aliased.
	_, hasMomentum := userOpts[optim.KeyMomentum]
	assert.False(t, hasMomentum)

	sgd.SetLR(0.2)
	for _, g := range sgd.ParamGroups() {
		assert.InDelta(t, 0.2, g.LR(), 1e-7)
	}
}

func TestSGD_StateDictRoundTrip(t *testing.T) {
	p := param(t, "w", 0, 0)
	sgd := optim.NewSGD([]*nn.Parameter[Backend]{p}, optim.SGDConfig{LR: 0.1, Momentum: 0.9}, cpu.New())
	sgd.Step(gradsFor(t, map[*nn.Parameter[Backend]][]float32{p: {1, 2}}))

	state := sgd.StateDict()
	require.Contains(t, state, "velocity.0")

	other := optim.NewSGD([]*nn.Parameter[Backend]{p}, optim.SGDConfig{LR: 0.1, Momentum: 0.9}, cpu.New())
	require.NoError(t, other.LoadStateDict(state))
	assert.Equal(t, state["velocity.0"].AsFloat32(), other.StateDict()["velocity.0"].AsFloat32())

	bad := map[string]*tensor.RawTensor{"velocity.0": tensor.Zeros[float32](tensor.Shape{3}, cpu.New()).Raw()}
	assert.Error(t, other.LoadStateDict(bad))
}

func TestAdam_FirstStep(t *testing.T) {
	p := param(t, "w", 1, -1)
	adam := optim.NewAdam([]*nn.Parameter[Backend]{p}, optim.AdamConfig{LR: 0.1}, cpu.New())

	// With bias correction the first update is lr * sign(grad).
	adam.Step(gradsFor(t, map[*nn.Parameter[Backend]][]float32{p: {2, -3}}))
	assert.InDeltaSlice(t, []float32{0.9, -0.9}, p.Tensor().Data(), 1e-5)
	assert.Equal(t, 1, adam.GetTimestep())
}

func TestAdam_Defaults(t *testing.T) {
	adam := optim.NewAdam([]*nn.Parameter[Backend]{param(t, "w", 1)}, optim.AdamConfig{}, cpu.New())
	opts := adam.ParamGroups()[0]
	assert.InDelta(t, 0.001, opts.LR(), 1e-9)
	assert.InDelta(t, 0.9, opts[optim.KeyBeta1], 1e-7)
	assert.InDelta(t, 0.999, opts[optim.KeyBeta2], 1e-7)
}

func TestAdam_GroupsAndState(t *testing.T) {
	a := param(t, "a", 1)
	b := param(t, "b", 1)
	adam := optim.NewAdamWithGroups([]optim.ParamGroup[Backend]{
		{Params: []*nn.Parameter[Backend]{a}},
		{Params: []*nn.Parameter[Backend]{b}, Options: optim.GroupOptions{optim.KeyLR: 0.5}},
	}, optim.AdamConfig{LR: 0.1}, cpu.New())

	adam.Step(gradsFor(t, map[*nn.Parameter[Backend]][]float32{a: {1}, b: {1}}))
	assert.InDelta(t, 0.9, a.Tensor().Data()[0], 1e-5)
	assert.InDelta(t, 0.5, b.Tensor().Data()[0], 1e-5)

	state := adam.StateDict()
	assert.Contains(t, state, "m.1")
	assert.Contains(t, state, "v.1")

	other := optim.NewAdamWithGroups([]optim.ParamGroup[Backend]{
		{Params: []*nn.Parameter[Backend]{a}},
		{Params: []*nn.Parameter[Backend]{b}},
	}, optim.AdamConfig{}, cpu.New())
	require.NoError(t, other.LoadStateDict(state))
	assert.Equal(t, state["m.0"].AsFloat32(), other.StateDict()["m.0"].AsFloat32())
}

func TestGroupOptions(t *testing.T) {
	opts := optim.GroupOptions{}
	_, ok := opts.InitialLR()
	assert.False(t, ok)

	opts.SetLR(0.3)
	opts.SetInitialLR(0.6)
	lr, ok := opts.InitialLR()
	assert.True(t, ok)
	assert.InDelta(t, 0.6, lr, 1e-12)
	assert.InDelta(t, 0.3, opts.LR(), 1e-12)
	assert.InDelta(t, 7.0, opts.Get("missing", 7), 1e-12)
}

func TestOptimizersAreGrouped(_ *testing.T) {
	var _ optim.GroupedOptimizer = (*optim.SGD[Backend])(nil)
	var _ optim.GroupedOptimizer = (*optim.Adam[Backend])(nil)
}
