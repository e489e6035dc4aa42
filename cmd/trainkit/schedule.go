package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/born-ml/trainkit/internal/backend/cpu"
	"github.com/born-ml/trainkit/internal/config"
	"github.com/born-ml/trainkit/internal/nn"
	"github.com/born-ml/trainkit/internal/tensor"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

func runSchedule(args []string) error {
	fs := flag.NewFlagSet("schedule", flag.ExitOnError)
	statePath := fs.String("state", "", "write the final scheduler state to this JSON file")
	check(fs.Parse(args))
	if fs.NArg() != 1 {
		return errors.New("usage: trainkit schedule [-state out.json] run.hcl")
	}

	cfg, err := config.Load(fs.Arg(0))
	if err != nil {
		return err
	}
	if cfg.Optimizer == nil || cfg.Schedule == nil {
		return errors.Errorf("%s: schedule needs both an optimizer and a schedule block", fs.Arg(0))
	}

	backend := cpu.New()
	params := make([][]*nn.Parameter[*cpu.CPUBackend], cfg.Optimizer.NumGroups())
	for i := range params {
		w := tensor.Zeros[float32](tensor.Shape{1}, backend)
		params[i] = []*nn.Parameter[*cpu.CPUBackend]{nn.NewParameter(fmt.Sprintf("group%d", i), w)}
	}
	opt, err := config.BuildOptimizer(cfg.Optimizer, params, backend)
	if err != nil {
		return err
	}
	sched, err := cfg.NewScheduler(opt)
	if err != nil {
		return err
	}
	klog.V(1).Infof("schedule: policy %s, %d groups, starting after epoch %d",
		cfg.Schedule.Policy, sched.NumGroups(), sched.CurrentEpoch())

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', tabwriter.AlignRight)
	header := []string{"epoch"}
	for _, g := range cfg.Optimizer.Groups {
		header = append(header, g.Name)
	}
	if len(cfg.Optimizer.Groups) == 0 {
		header = append(header, "lr")
	}
	fmt.Fprintln(tw, strings.Join(header, "\t")+"\t")

	for range cfg.Epochs {
		if err := sched.Step(); err != nil {
			return err
		}
		row := []string{fmt.Sprint(sched.CurrentEpoch())}
		for _, lr := range sched.LastLR() {
			row = append(row, fmt.Sprintf("%.6g", lr))
		}
		fmt.Fprintln(tw, strings.Join(row, "\t")+"\t")
	}
	if err := tw.Flush(); err != nil {
		return errors.Wrap(err, "writing table")
	}

	if *statePath != "" {
		if err := sched.SaveState(*statePath); err != nil {
			return err
		}
		klog.Infof("schedule: state written to %s", *statePath)
	}
	return nil
}
