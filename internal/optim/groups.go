package optim

import (
	"maps"

	"github.com/born-ml/trainkit/internal/nn"
	"github.com/born-ml/trainkit/internal/tensor"
)

// Well-known GroupOptions keys.
const (
	KeyLR          = "lr"
	KeyInitialLR   = "initial_lr"
	KeyMomentum    = "momentum"
	KeyWeightDecay = "weight_decay"
)

// GroupOptions is the hyper-parameter mapping of one parameter group.
// It always holds KeyLR once the group belongs to an optimizer; KeyInitialLR
// is recorded by learning-rate schedulers.
type GroupOptions map[string]float64

// LR returns the group's current learning rate.
func (o GroupOptions) LR() float64 {
	return o[KeyLR]
}

// SetLR sets the group's learning rate.
func (o GroupOptions) SetLR(lr float64) {
	o[KeyLR] = lr
}

// InitialLR returns the recorded initial learning rate, if any.
func (o GroupOptions) InitialLR() (float64, bool) {
	lr, ok := o[KeyInitialLR]
	return lr, ok
}

// SetInitialLR records the initial learning rate.
func (o GroupOptions) SetInitialLR(lr float64) {
	o[KeyInitialLR] = lr
}

// Get returns the value for key, or def when absent.
func (o GroupOptions) Get(key string, def float64) float64 {
	if v, ok := o[key]; ok {
		return v
	}
	return def
}

// ParamGroup is an ordered set of parameters sharing hyper-parameters.
type ParamGroup[B tensor.Backend] struct {
	Params  []*nn.Parameter[B]
	Options GroupOptions
}

// buildGroups copies groups, filling options missing from a group with
// defaults. The caller's maps are never aliased.
func buildGroups[B tensor.Backend](groups []ParamGroup[B], defaults GroupOptions) []*ParamGroup[B] {
	out := make([]*ParamGroup[B], len(groups))
	for i, g := range groups {
		opts := maps.Clone(defaults)
		maps.Copy(opts, g.Options)
		out[i] = &ParamGroup[B]{
			Params:  append([]*nn.Parameter[B](nil), g.Params...),
			Options: opts,
		}
	}
	return out
}

// groupOptions returns the live option maps of groups.
func groupOptions[B tensor.Backend](groups []*ParamGroup[B]) []GroupOptions {
	out := make([]GroupOptions, len(groups))
	for i, g := range groups {
		out[i] = g.Options
	}
	return out
}
