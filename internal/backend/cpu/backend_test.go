package cpu

import (
	"testing"

	"github.com/born-ml/trainkit/internal/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func raw32(t *testing.T, data []float32, shape tensor.Shape) *tensor.RawTensor {
	t.Helper()
	r, err := tensor.NewRaw(shape, tensor.Float32, tensor.CPU)
	require.NoError(t, err)
	copy(r.AsFloat32(), data)
	return r
}

func TestCPUBackend_BinaryOps(t *testing.T) {
	backend := New()
	a := raw32(t, []float32{1, 2, 3, 4}, tensor.Shape{2, 2})
	b := raw32(t, []float32{10, 20, 30, 40}, tensor.Shape{2, 2})

	assert.Equal(t, []float32{11, 22, 33, 44}, backend.Add(a, b).AsFloat32())
	assert.Equal(t, []float32{9, 18, 27, 36}, backend.Sub(b, a).AsFloat32())
	assert.Equal(t, []float32{10, 40, 90, 160}, backend.Mul(a, b).AsFloat32())
	assert.Equal(t, []float32{10, 10, 10, 10}, backend.Div(b, a).AsFloat32())
}

func TestCPUBackend_Broadcast(t *testing.T) {
	backend := New()

	// [2, 3] + [3]
	a := raw32(t, []float32{1, 2, 3, 4, 5, 6}, tensor.Shape{2, 3})
	row := raw32(t, []float32{10, 20, 30}, tensor.Shape{3})
	assert.Equal(t, []float32{11, 22, 33, 14, 25, 36}, backend.Add(a, row).AsFloat32())

	// [2, 3] * [2, 1]
	col := raw32(t, []float32{2, 3}, tensor.Shape{2, 1})
	assert.Equal(t, []float32{2, 4, 6, 12, 15, 18}, backend.Mul(a, col).AsFloat32())

	// [1, 2, 1, 1] over [1, 2, 2, 2], the per-channel pattern used for biases.
	x := raw32(t, []float32{1, 1, 1, 1, 2, 2, 2, 2}, tensor.Shape{1, 2, 2, 2})
	bias := raw32(t, []float32{100, 200}, tensor.Shape{1, 2, 1, 1})
	assert.Equal(t, []float32{101, 101, 101, 101, 202, 202, 202, 202}, backend.Add(x, bias).AsFloat32())
}

func TestCPUBackend_BroadcastIncompatible(t *testing.T) {
	backend := New()
	a := raw32(t, []float32{1, 2, 3}, tensor.Shape{3})
	b := raw32(t, []float32{1, 2}, tensor.Shape{2})
	assert.Panics(t, func() { backend.Add(a, b) })
}

func TestCPUBackend_MatMul(t *testing.T) {
	backend := New()
	a := raw32(t, []float32{1, 2, 3, 4, 5, 6}, tensor.Shape{2, 3})
	b := raw32(t, []float32{7, 8, 9, 10, 11, 12}, tensor.Shape{3, 2})

	out := backend.MatMul(a, b)
	require.Equal(t, tensor.Shape{2, 2}, out.Shape())
	assert.Equal(t, []float32{58, 64, 139, 154}, out.AsFloat32())
}

func TestCPUBackend_Transpose(t *testing.T) {
	backend := New()
	a := raw32(t, []float32{1, 2, 3, 4, 5, 6}, tensor.Shape{2, 3})

	out := backend.Transpose(a)
	require.Equal(t, tensor.Shape{3, 2}, out.Shape())
	assert.Equal(t, []float32{1, 4, 2, 5, 3, 6}, out.AsFloat32())

	x := raw32(t, []float32{0, 1, 2, 3, 4, 5, 6, 7}, tensor.Shape{2, 2, 2})
	perm := backend.Transpose(x, 2, 0, 1)
	require.Equal(t, tensor.Shape{2, 2, 2}, perm.Shape())
	assert.Equal(t, []float32{0, 2, 4, 6, 1, 3, 5, 7}, perm.AsFloat32())
}

func TestCPUBackend_Reshape(t *testing.T) {
	backend := New()
	a := raw32(t, []float32{1, 2, 3, 4, 5, 6}, tensor.Shape{2, 3})

	out := backend.Reshape(a, tensor.Shape{3, -1})
	assert.Equal(t, tensor.Shape{3, 2}, out.Shape())
	assert.Equal(t, a.AsFloat32(), out.AsFloat32())

	// The result is a copy.
	out.AsFloat32()[0] = 42
	assert.Equal(t, float32(1), a.AsFloat32()[0])

	assert.Panics(t, func() { backend.Reshape(a, tensor.Shape{4, 2}) })
}

func TestCPUBackend_Math(t *testing.T) {
	backend := New()
	x := raw32(t, []float32{4, 9, 16, 25}, tensor.Shape{4})

	assert.InDeltaSlice(t, []float32{2, 3, 4, 5}, backend.Sqrt(x).AsFloat32(), 1e-6)
	assert.InDeltaSlice(t, []float32{0.5, 1.0 / 3, 0.25, 0.2}, backend.Rsqrt(x).AsFloat32(), 1e-6)
	assert.Equal(t, []float32{8, 18, 32, 50}, backend.MulScalar(x, 2).AsFloat32())
	assert.Equal(t, []float32{5, 10, 17, 26}, backend.AddScalar(x, 1).AsFloat32())

	y := raw32(t, []float32{-1, 0, 2}, tensor.Shape{3})
	assert.Equal(t, []float32{0, 0, 2}, backend.ReLU(y).AsFloat32())
}
