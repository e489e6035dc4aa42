// Package serialization stores state dictionaries in the SafeTensors format.
//
// File layout:
//
//	[8 bytes: header size N (uint64 LE)]
//	[N bytes: JSON header]
//	[tensor data: raw little-endian bytes]
//
// The JSON header maps every tensor name to its dtype, shape and
// [begin, end) byte offsets inside the data section. The optional
// "__metadata__" entry holds string key/value pairs; the writer records a
// SHA-256 checksum of the data section there, which the reader verifies.
//
// Checkpoints bundle a model state dict, an optimizer state dict and
// training metadata (epoch, parameter groups, scheduler state) in a single
// SafeTensors file:
//
//	err := serialization.SaveCheckpoint("epoch10.safetensors", serialization.Checkpoint{
//	    Model:     model.StateDict(),
//	    Optimizer: opt.StateDict(),
//	    Meta:      serialization.CheckpointMeta{Epoch: 10},
//	})
package serialization
