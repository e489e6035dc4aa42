// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package nn provides neural network layers and conv/batch-norm fusion.
//
// # Basic Usage
//
//	backend := cpu.New()
//	model := nn.NewSequential[*cpu.Backend](
//	    nn.NewConv2D(3, 16, 3, 3, 1, 1, false, backend),
//	    nn.NewBatchNorm2D(16, backend),
//	    nn.NewReLU[*cpu.Backend](),
//	)
//
// # Fusion
//
// A trained model can be folded for inference. In eval mode, each
// Conv2D + BatchNorm2D (+ ReLU) run collapses into a single convolution:
//
//	model.Train(false)
//	groups, err := nn.FuseKnown(model, nil)
//
// In training mode the same call produces intrinsic ConvBN2D modules that
// keep the batch-norm live and can be folded later with ConvBN2D.Fold.
package nn
