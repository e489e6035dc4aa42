package main

import (
	"flag"
	"fmt"
	"math"
	"os"

	"github.com/born-ml/trainkit/internal/backend/cpu"
	"github.com/born-ml/trainkit/internal/config"
	"github.com/born-ml/trainkit/internal/fusion"
	"github.com/born-ml/trainkit/internal/nn"
	"github.com/born-ml/trainkit/internal/serialization"
	"github.com/born-ml/trainkit/internal/tensor"
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

type backendT = *cpu.CPUBackend

var defaultNetwork = config.FusionBlock{InChannels: 3, Channels: []int{16, 32, 32}, Kernel: 3, ReLU: true}

func runFuse(args []string) error {
	fs := flag.NewFlagSet("fuse", flag.ExitOnError)
	configPath := fs.String("config", "", "run file with a fusion block (default: a three stage conv net)")
	out := fs.String("out", "", "write the fused weights to this SafeTensors file")
	check(fs.Parse(args))

	block := &defaultNetwork
	if *configPath != "" {
		cfg := check1(config.Load(*configPath))
		if cfg.Fusion == nil {
			return errors.Errorf("%s: no fusion block", *configPath)
		}
		block = cfg.Fusion
		if *out == "" {
			*out = block.Output
		}
	}

	backend := cpu.New()
	model := config.BuildNetwork(block, backend)
	randomizeStats(model, backend)
	model.Train(false)

	inChannels := block.InChannels
	if inChannels == 0 {
		inChannels = 3
	}
	x := tensor.Randn[float32](tensor.Shape{1, inChannels, 16, 16}, backend)
	before := model.Forward(x).Clone()
	paramsBefore := countValues(model.StateDict())

	groups, err := fusion.FuseKnown(model, nil)
	if err != nil {
		return err
	}
	after := model.Forward(x)
	fmt.Printf("fused groups:      %v\n", groups)
	fmt.Printf("values:            %s -> %s\n", humanize.Comma(paramsBefore), humanize.Comma(countValues(model.StateDict())))
	fmt.Printf("max abs deviation: %.3g\n", maxAbsDiff(before.Data(), after.Data()))

	if *out == "" {
		return nil
	}
	if err := serialization.WriteSafeTensors(*out, model.StateDict(), map[string]string{"format": "trainkit"}); err != nil {
		return err
	}
	info, err := os.Stat(*out)
	if err != nil {
		return errors.Wrap(err, "stat output")
	}
	fmt.Printf("wrote %s (%s)\n", *out, humanize.Bytes(uint64(info.Size())))
	return nil
}

// randomizeStats gives every batch-norm of model non-trivial statistics so
// that folding has something to fold.
func randomizeStats(model *nn.Sequential[backendT], backend backendT) {
	for i, m := range model.Modules() {
		bn, ok := m.(*nn.BatchNorm2D[backendT])
		if !ok {
			continue
		}
		n := tensor.Shape{bn.NumFeatures()}
		copy(bn.RunningMean().Data(), tensor.Randn[float32](n, backend).Data())
		copy(bn.RunningVar().Data(), tensor.Uniform[float32](n, 0.5, 2, backend).Data())
		copy(bn.Weight().Tensor().Data(), tensor.Uniform[float32](n, 0.5, 1.5, backend).Data())
		copy(bn.Bias().Tensor().Data(), tensor.Randn[float32](n, backend).Data())
		klog.V(2).Infof("fuse: randomized statistics of module %d", i)
	}
}

func countValues(stateDict map[string]*tensor.RawTensor) int64 {
	var n int64
	for _, raw := range stateDict {
		n += int64(raw.NumElements())
	}
	return n
}

func maxAbsDiff(a, b []float32) float64 {
	var d float64
	for i := range a {
		d = math.Max(d, math.Abs(float64(a[i]-b[i])))
	}
	return d
}
