package serialization

import (
	"math"
	"strings"
	"testing"

	"github.com/born-ml/trainkit/internal/tensor"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// errorsCause unwraps pkg/errors wrappers.
func errorsCause(err error) error {
	return errors.Cause(err)
}

func TestValidateTensorOffsets(t *testing.T) {
	tests := []struct {
		name     string
		tensors  []TensorMeta
		dataSize int64
		wantType string
	}{
		{
			name: "exact boundary (no overlap)",
			tensors: []TensorMeta{
				{Name: "tensor1", Offset: 0, Size: 100},
				{Name: "tensor2", Offset: 100, Size: 100},
			},
			dataSize: 200,
		},
		{
			name: "partial overlap at boundary",
			tensors: []TensorMeta{
				{Name: "tensor1", Offset: 0, Size: 100},
				{Name: "tensor2", Offset: 99, Size: 100},
			},
			dataSize: 200,
			wantType: "offset_overlap",
		},
		{
			name:     "out of bounds",
			tensors:  []TensorMeta{{Name: "tensor1", Offset: 150, Size: 100}},
			dataSize: 200,
			wantType: "out_of_bounds",
		},
		{
			name:     "offset near int64 max",
			tensors:  []TensorMeta{{Name: "tensor1", Offset: math.MaxInt64 - 2, Size: 8}},
			dataSize: 200,
			wantType: "out_of_bounds",
		},
		{
			name:     "negative",
			tensors:  []TensorMeta{{Name: "tensor1", Offset: -4, Size: 4}},
			dataSize: 200,
			wantType: "negative_offset",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTensorOffsets(tt.tensors, tt.dataSize)
			if tt.wantType == "" {
				assert.NoError(t, err)
				return
			}
			var verr *ValidationError
			if assert.ErrorAs(t, err, &verr) {
				assert.Equal(t, tt.wantType, verr.Type)
			}
		})
	}
}

func TestValidateTensorName(t *testing.T) {
	for _, ok := range []string{"weight", "0.bias", "model.conv.running_var"} {
		assert.NoError(t, ValidateTensorName(ok), ok)
	}
	for _, bad := range []string{"../etc", "a/b", `a\b`, "a\x00b", strings.Repeat("x", MaxTensorNameLen+1)} {
		assert.Error(t, ValidateTensorName(bad), bad)
	}
}

func TestValidateTensorOffsets_Count(t *testing.T) {
	tensors := make([]TensorMeta, MaxTensorCount+1)
	for i := range tensors {
		tensors[i] = TensorMeta{Name: "t", Offset: int64(i), Size: 1}
	}
	var verr *ValidationError
	require.ErrorAs(t, ValidateTensorOffsets(tensors, int64(len(tensors))), &verr)
	assert.Equal(t, "too_many_tensors", verr.Type)
}

func TestValidateCheckpointNames(t *testing.T) {
	assert.NoError(t, ValidateCheckpointNames([]string{ModelPrefix + "0.weight", OptimizerPrefix + "0.m"}))
	var verr *ValidationError
	require.ErrorAs(t, ValidateCheckpointNames([]string{ModelPrefix + "w", "extra"}), &verr)
	assert.Equal(t, "extra", verr.Tensor)
}

func TestTensorBytes(t *testing.T) {
	n, err := tensorBytes("w", tensor.Shape{2, 3}, tensor.Float64)
	require.NoError(t, err)
	assert.Equal(t, int64(48), n)

	_, err = tensorBytes("w", tensor.Shape{1 << 40, 1 << 40}, tensor.Float32)
	assert.ErrorIs(t, err, ErrDataTooLarge)
}
