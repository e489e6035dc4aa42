// Package config loads training-run descriptions written in HCL.
//
// A run file names an optimizer with its parameter groups, a learning-rate
// schedule and, optionally, a small convolutional network used by the
// fusion command:
//
//	epochs = 10
//
//	optimizer "sgd" {
//	  lr       = 0.1
//	  momentum = 0.9
//	  group "backbone" { lr = 0.01 }
//	  group "head" {}
//	}
//
//	schedule "cosine" {
//	  t_max         = 8
//	  warmup_epochs = 2
//	}
package config

import (
	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ErrInvalid is returned for run files that decode but make no sense.
var ErrInvalid = errors.New("invalid run file")

// File is a decoded run file.
type File struct {
	Epochs      int             `hcl:"epochs,optional"`
	ResumeEpoch *int            `hcl:"resume_epoch,optional"`
	Optimizer   *OptimizerBlock `hcl:"optimizer,block"`
	Schedule    *ScheduleBlock  `hcl:"schedule,block"`
	Fusion      *FusionBlock    `hcl:"fusion,block"`
}

// OptimizerBlock selects the optimizer and its parameter groups.
type OptimizerBlock struct {
	Kind        string        `hcl:"kind,label"`
	LR          float64       `hcl:"lr"`
	Momentum    float64       `hcl:"momentum,optional"`
	WeightDecay float64       `hcl:"weight_decay,optional"`
	Groups      []*GroupBlock `hcl:"group,block"`
}

// GroupBlock holds the option overrides of one parameter group. Every
// attribute must be a number.
type GroupBlock struct {
	Name string   `hcl:"name,label"`
	Body hcl.Body `hcl:",remain"`
}

// ScheduleBlock names a registered policy. Its remaining attributes are
// passed to the policy builder.
type ScheduleBlock struct {
	Policy       string   `hcl:"policy,label"`
	WarmupEpochs int      `hcl:"warmup_epochs,optional"`
	Body         hcl.Body `hcl:",remain"`
}

// FusionBlock describes the conv/batch-norm stack built by the fuse command.
type FusionBlock struct {
	InChannels int    `hcl:"in_channels,optional"`
	Channels   []int  `hcl:"channels"`
	Kernel     int    `hcl:"kernel,optional"`
	ReLU       bool   `hcl:"relu,optional"`
	Upsample   bool   `hcl:"upsample,optional"`
	Output     string `hcl:"output,optional"`
}

// Load parses and decodes the run file at path.
func Load(path string) (*File, error) {
	klog.V(1).Infof("config: loading %s", path)
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, errors.Errorf("failed to parse HCL file %s: %s", path, diags.Error())
	}
	return decode(path, file)
}

// Parse decodes a run file held in memory. filename is used in diagnostics.
func Parse(src []byte, filename string) (*File, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, errors.Errorf("failed to parse HCL file %s: %s", filename, diags.Error())
	}
	return decode(filename, file)
}

func decode(name string, file *hcl.File) (*File, error) {
	var cfg File
	if diags := gohcl.DecodeBody(file.Body, nil, &cfg); diags.HasErrors() {
		return nil, errors.Errorf("failed to decode HCL file %s: %s", name, diags.Error())
	}
	if err := cfg.validate(); err != nil {
		return nil, errors.WithMessage(err, name)
	}
	klog.V(1).Infof("config: %s has %d epochs, optimizer %s", name, cfg.Epochs, cfg.optimizerKind())
	return &cfg, nil
}

func (f *File) validate() error {
	if f.Epochs < 0 {
		return errors.Wrapf(ErrInvalid, "epochs must not be negative, got %d", f.Epochs)
	}
	if f.ResumeEpoch != nil && *f.ResumeEpoch < 0 {
		return errors.Wrapf(ErrInvalid, "resume_epoch must not be negative, got %d", *f.ResumeEpoch)
	}
	if o := f.Optimizer; o != nil {
		switch o.Kind {
		case KindSGD, KindAdam:
		default:
			return errors.Wrapf(ErrInvalid, "unknown optimizer %q", o.Kind)
		}
		if o.LR <= 0 {
			return errors.Wrapf(ErrInvalid, "optimizer lr must be positive, got %g", o.LR)
		}
	}
	if s := f.Schedule; s != nil && s.WarmupEpochs < 0 {
		return errors.Wrapf(ErrInvalid, "warmup_epochs must not be negative, got %d", s.WarmupEpochs)
	}
	if fb := f.Fusion; fb != nil {
		if fb.InChannels < 0 {
			return errors.Wrapf(ErrInvalid, "fusion in_channels must not be negative, got %d", fb.InChannels)
		}
		if fb.Kernel < 0 {
			return errors.Wrapf(ErrInvalid, "fusion kernel must not be negative, got %d", fb.Kernel)
		}
		if len(fb.Channels) == 0 {
			return errors.Wrap(ErrInvalid, "fusion needs at least one output channel count")
		}
		for _, c := range fb.Channels {
			if c <= 0 {
				return errors.Wrapf(ErrInvalid, "fusion channels must be positive, got %v", fb.Channels)
			}
		}
	}
	return nil
}

func (f *File) optimizerKind() string {
	if f.Optimizer == nil {
		return "<none>"
	}
	return f.Optimizer.Kind
}
