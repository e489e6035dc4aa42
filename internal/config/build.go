package config

import (
	"maps"

	"github.com/born-ml/trainkit/internal/lrsched"
	"github.com/born-ml/trainkit/internal/nn"
	"github.com/born-ml/trainkit/internal/optim"
	"github.com/born-ml/trainkit/internal/tensor"
	"github.com/pkg/errors"
)

// Optimizer kinds.
const (
	KindSGD  = "sgd"
	KindAdam = "adam"
)

// NumGroups returns the number of parameter groups the optimizer block
// describes. A block without group blocks has one implicit group.
func (o *OptimizerBlock) NumGroups() int {
	return max(1, len(o.Groups))
}

// GroupOptions returns the option overrides of every group, in order.
func (o *OptimizerBlock) GroupOptions() ([]optim.GroupOptions, error) {
	if len(o.Groups) == 0 {
		return []optim.GroupOptions{{}}, nil
	}
	out := make([]optim.GroupOptions, len(o.Groups))
	for i, g := range o.Groups {
		values, lists, err := numbers(g.Body)
		if err != nil {
			return nil, errors.WithMessagef(err, "group %q", g.Name)
		}
		if len(lists) > 0 {
			return nil, errors.Wrapf(ErrInvalid, "group %q: options must be numbers", g.Name)
		}
		out[i] = optim.GroupOptions(values)
	}
	return out, nil
}

// BuildOptimizer creates the optimizer over params, one slice per group.
func BuildOptimizer[B tensor.Backend](o *OptimizerBlock, params [][]*nn.Parameter[B], backend B) (optim.GroupedOptimizer, error) {
	if o == nil {
		return nil, errors.Wrap(ErrInvalid, "no optimizer block")
	}
	if len(params) != o.NumGroups() {
		return nil, errors.Errorf("optimizer declares %d groups, got %d parameter sets", o.NumGroups(), len(params))
	}
	opts, err := o.GroupOptions()
	if err != nil {
		return nil, err
	}

	groups := make([]optim.ParamGroup[B], len(params))
	for i := range params {
		groups[i] = optim.ParamGroup[B]{Params: params[i], Options: maps.Clone(opts[i])}
	}

	switch o.Kind {
	case KindSGD:
		return optim.NewSGDWithGroups(groups, optim.SGDConfig{
			LR:          float32(o.LR),
			Momentum:    float32(o.Momentum),
			WeightDecay: float32(o.WeightDecay),
		}, backend), nil
	case KindAdam:
		return optim.NewAdamWithGroups(groups, optim.AdamConfig{
			LR:          float32(o.LR),
			WeightDecay: float32(o.WeightDecay),
		}, backend), nil
	default:
		return nil, errors.Wrapf(ErrInvalid, "unknown optimizer %q", o.Kind)
	}
}

// BuildPolicy builds the registered policy named by the block, wrapped in a
// linear warmup when warmup_epochs is set.
func (s *ScheduleBlock) BuildPolicy() (lrsched.Policy, error) {
	builder, err := lrsched.Lookup(s.Policy)
	if err != nil {
		return nil, err
	}
	values, lists, err := numbers(s.Body)
	if err != nil {
		return nil, errors.WithMessagef(err, "schedule %q", s.Policy)
	}
	policy, err := builder(lrsched.Args{Values: values, Lists: lists})
	if err != nil {
		return nil, errors.WithMessagef(err, "schedule %q", s.Policy)
	}
	if s.WarmupEpochs > 0 {
		policy = lrsched.Warmup{Steps: s.WarmupEpochs, After: policy}
	}
	return policy, nil
}

// StartEpoch returns the epoch a scheduler should be created at.
func (f *File) StartEpoch() int {
	if f.ResumeEpoch != nil {
		return *f.ResumeEpoch
	}
	return lrsched.FreshStart
}

// NewScheduler attaches the file's schedule to opt.
func (f *File) NewScheduler(opt optim.Optimizer) (*lrsched.Scheduler, error) {
	if f.Schedule == nil {
		return nil, errors.Wrap(ErrInvalid, "no schedule block")
	}
	policy, err := f.Schedule.BuildPolicy()
	if err != nil {
		return nil, err
	}
	return lrsched.New(opt, policy, f.StartEpoch())
}

// BuildNetwork creates the conv/batch-norm stack described by the block:
// one Conv2D + BatchNorm2D (+ ReLU) stage per entry of Channels. Convs
// have no bias and keep the spatial size. With Upsample a final
// ConvTranspose2D + BatchNorm2D (+ ReLU) stage doubles the spatial size.
func BuildNetwork[B tensor.Backend](fb *FusionBlock, backend B) *nn.Sequential[B] {
	in := fb.InChannels
	if in == 0 {
		in = 3
	}
	k := fb.Kernel
	if k == 0 {
		k = 3
	}

	var modules []nn.Module[B]
	for _, out := range fb.Channels {
		modules = append(modules,
			nn.NewConv2D(in, out, k, k, 1, k/2, false, backend),
			nn.NewBatchNorm2D(out, backend),
		)
		if fb.ReLU {
			modules = append(modules, nn.NewReLU[B]())
		}
		in = out
	}
	if fb.Upsample {
		modules = append(modules,
			nn.NewConvTranspose2D(in, in, 2, 2, 2, 0, false, backend),
			nn.NewBatchNorm2D(in, backend),
		)
		if fb.ReLU {
			modules = append(modules, nn.NewReLU[B]())
		}
	}
	return nn.NewSequential(modules...)
}
