package serialization_test

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/born-ml/trainkit/internal/backend/cpu"
	"github.com/born-ml/trainkit/internal/lrsched"
	"github.com/born-ml/trainkit/internal/nn"
	"github.com/born-ml/trainkit/internal/optim"
	"github.com/born-ml/trainkit/internal/serialization"
	"github.com/born-ml/trainkit/internal/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckpointRoundTrip(t *testing.T) {
	backend := cpu.New()
	model := nn.NewSequential[*cpu.CPUBackend](nn.NewLinear(3, 2, backend), nn.NewBatchNorm1D(2, backend))
	opt := optim.NewSGD(model.Parameters(), optim.SGDConfig{LR: 0.1, Momentum: 0.9}, backend)

	grads := map[*tensor.RawTensor]*tensor.RawTensor{}
	for _, p := range model.Parameters() {
		grads[p.Tensor().Raw()] = tensor.Ones[float32](p.Tensor().Shape(), backend).Raw()
	}
	opt.Step(grads)

	sched, err := lrsched.New(opt, lrsched.StepDecay{StepSize: 1, Gamma: 0.5}, lrsched.FreshStart)
	require.NoError(t, err)
	require.NoError(t, sched.Step())
	require.NoError(t, sched.Step())

	schedState, err := json.Marshal(sched.State())
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "epoch1.safetensors")
	groups := make([]map[string]float64, 0)
	for _, g := range opt.ParamGroups() {
		groups = append(groups, g)
	}
	require.NoError(t, serialization.SaveCheckpoint(path, serialization.Checkpoint{
		Model:     model.StateDict(),
		Optimizer: opt.StateDict(),
		Meta: serialization.CheckpointMeta{
			Epoch:         1,
			OptimizerType: "sgd",
			ParamGroups:   groups,
			Scheduler:     schedState,
		},
	}))

	ckpt, err := serialization.LoadCheckpoint(path)
	require.NoError(t, err)
	assert.Equal(t, 1, ckpt.Meta.Epoch)
	assert.Equal(t, "sgd", ckpt.Meta.OptimizerType)
	require.Len(t, ckpt.Meta.ParamGroups, 1)
	assert.InDelta(t, 0.1, ckpt.Meta.ParamGroups[0][optim.KeyInitialLR], 1e-7)
	assert.InDelta(t, 0.05, ckpt.Meta.ParamGroups[0][optim.KeyLR], 1e-7)

	restored := nn.NewSequential[*cpu.CPUBackend](nn.NewLinear(3, 2, backend), nn.NewBatchNorm1D(2, backend))
	require.NoError(t, restored.LoadStateDict(ckpt.Model))
	assert.Equal(t, model.StateDict()["0.weight"].Data(), restored.StateDict()["0.weight"].Data())

	opt2 := optim.NewSGD(restored.Parameters(), optim.SGDConfig{LR: 0.1, Momentum: 0.9}, backend)
	require.NoError(t, opt2.LoadStateDict(ckpt.Optimizer))

	var st lrsched.State
	require.NoError(t, json.Unmarshal(ckpt.Meta.Scheduler, &st))
	sched2, err := lrsched.New(opt2, lrsched.StepDecay{StepSize: 1, Gamma: 0.5}, lrsched.FreshStart)
	require.NoError(t, err)
	require.NoError(t, sched2.LoadState(st))
	assert.Equal(t, 1, sched2.CurrentEpoch())
	assert.InDelta(t, 0.05, float64(opt2.GetLR()), 1e-7)
}

func TestLoadCheckpoint_NotACheckpoint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain.safetensors")
	backend := cpu.New()
	tensors := map[string]*tensor.RawTensor{}
	for name, raw := range nn.NewLinear(2, 2, backend).StateDict() {
		tensors[serialization.ModelPrefix+name] = raw
	}
	require.NoError(t, serialization.WriteSafeTensors(path, tensors, nil))

	_, err := serialization.LoadCheckpoint(path)
	assert.ErrorContains(t, err, "not a checkpoint")
}

func TestLoadCheckpoint_ForeignTensor(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain.safetensors")
	backend := cpu.New()
	require.NoError(t, serialization.WriteSafeTensors(path, nn.NewLinear(2, 2, backend).StateDict(), nil))

	_, err := serialization.LoadCheckpoint(path)
	var verr *serialization.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "foreign_tensor", verr.Type)
}
