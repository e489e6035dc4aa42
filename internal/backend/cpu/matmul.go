package cpu

import (
	"fmt"

	"github.com/born-ml/trainkit/internal/tensor"
)

// MatMul performs 2D matrix multiplication: [M, K] @ [K, N] -> [M, N].
func (cpu *CPUBackend) MatMul(a, b *tensor.RawTensor) *tensor.RawTensor {
	aShape, bShape := a.Shape(), b.Shape()
	if len(aShape) != 2 || len(bShape) != 2 {
		panic(fmt.Sprintf("matmul: expected 2D tensors, got %v and %v", aShape, bShape))
	}
	if aShape[1] != bShape[0] {
		panic(fmt.Sprintf("matmul: inner dimensions differ: %v @ %v", aShape, bShape))
	}
	if a.DType() != b.DType() {
		panic(fmt.Sprintf("matmul: dtype mismatch %s vs %s", a.DType(), b.DType()))
	}

	M, K, N := aShape[0], aShape[1], bShape[1]
	result, err := tensor.NewRaw(tensor.Shape{M, N}, a.DType(), cpu.device)
	if err != nil {
		panic(fmt.Sprintf("matmul: failed to create result tensor: %v", err))
	}

	switch a.DType() {
	case tensor.Float32:
		matmul(result.AsFloat32(), a.AsFloat32(), b.AsFloat32(), M, K, N)
	case tensor.Float64:
		matmul(result.AsFloat64(), a.AsFloat64(), b.AsFloat64(), M, K, N)
	default:
		panic(fmt.Sprintf("matmul: unsupported dtype %s", a.DType()))
	}

	return result
}

// matmul uses i-k-j loop order so the inner loop walks both b and out
// contiguously.
func matmul[T float32 | float64](out, a, b []T, M, K, N int) {
	for i := range M {
		row := out[i*N : (i+1)*N]
		for k := range K {
			aik := a[i*K+k]
			if aik == 0 {
				continue
			}
			bRow := b[k*N : (k+1)*N]
			for j := range N {
				row[j] += aik * bRow[j]
			}
		}
	}
}
