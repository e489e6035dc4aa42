package serialization

import (
	"github.com/born-ml/trainkit/internal/tensor"
)

// SafeTensors dtype names.
const (
	DTypeF32 = "F32"
	DTypeF64 = "F64"
)

// metadataKey is the reserved header entry for string metadata.
const metadataKey = "__metadata__"

// SafeTensorHeader represents a tensor in the SafeTensors header.
type SafeTensorHeader struct {
	DType       string   `json:"dtype"`
	Shape       []int64  `json:"shape"`
	DataOffsets [2]int64 `json:"data_offsets"`
}

// TensorMeta describes a tensor stored in a file.
type TensorMeta struct {
	Name   string       // Tensor name (e.g., "0.weight")
	DType  string       // SafeTensors dtype (e.g., "F32")
	Shape  tensor.Shape // Tensor shape
	Offset int64        // Offset in the data section
	Size   int64        // Size in bytes
}

// dtypeToSafeTensors converts tensor.DataType to SafeTensors dtype string.
func dtypeToSafeTensors(dt tensor.DataType) (string, bool) {
	switch dt {
	case tensor.Float32:
		return DTypeF32, true
	case tensor.Float64:
		return DTypeF64, true
	default:
		return "", false
	}
}

// safeTensorsToDtype converts a SafeTensors dtype string to tensor.DataType.
func safeTensorsToDtype(s string) (tensor.DataType, bool) {
	switch s {
	case DTypeF32:
		return tensor.Float32, true
	case DTypeF64:
		return tensor.Float64, true
	default:
		return 0, false
	}
}
