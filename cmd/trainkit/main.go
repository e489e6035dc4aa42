// Package main provides the trainkit CLI.
//
// Usage:
//
//	trainkit schedule [-state out.json] run.hcl
//	trainkit fuse [-config run.hcl] [-out model.safetensors]
//	trainkit version
package main

import (
	"flag"
	"fmt"
	"os"

	"k8s.io/klog/v2"
)

const version = "v0.1.0-dev"

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), "trainkit %s - learning-rate schedules and conv/batch-norm fusion\n\n", version)
	fmt.Fprintln(flag.CommandLine.Output(), "Commands:")
	fmt.Fprintln(flag.CommandLine.Output(), "  schedule   Print the learning rates a run file produces")
	fmt.Fprintln(flag.CommandLine.Output(), "  fuse       Fold batch-norm into convolutions and export the weights")
	fmt.Fprintln(flag.CommandLine.Output(), "  version    Show version")
	fmt.Fprintln(flag.CommandLine.Output(), "\nGlobal flags:")
	flag.PrintDefaults()
}

func main() {
	klog.InitFlags(nil)
	flag.Usage = usage
	flag.Parse()
	defer klog.Flush()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	var err error
	switch args[0] {
	case "schedule":
		err = runSchedule(args[1:])
	case "fuse":
		err = runFuse(args[1:])
	case "version":
		fmt.Printf("trainkit %s\n", version)
	default:
		usage()
		os.Exit(2)
	}
	check(err)
}

// check reports and exits on error.
func check(err error) {
	if err == nil {
		return
	}
	klog.Flush()
	klog.Exitf("trainkit: %+v", err)
}

// check1 reports and exits on error. Otherwise returns the value passed.
func check1[T any](v T, err error) T {
	check(err)
	return v
}
