package serialization

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/born-ml/trainkit/internal/tensor"
	"github.com/pkg/errors"
)

// Limits applied while decoding. A header or data section above these is
// rejected before anything is allocated for it.
const (
	MaxHeaderSize    = 100 << 20
	MaxDataSize      = 16 << 30
	MaxTensorCount   = 100_000
	MaxTensorNameLen = 4096
)

// forbiddenInNames are substrings never accepted in a tensor name.
var forbiddenInNames = []struct{ substr, reason string }{
	{"..", "contains '..'"},
	{"/", "contains a path separator"},
	{`\`, "contains a path separator"},
	{"\x00", "contains a null byte"},
}

// ValidateTensorName rejects names that are too long or could be used as
// a path.
func ValidateTensorName(name string) error {
	if len(name) > MaxTensorNameLen {
		return &ValidationError{Type: "name_too_long", Tensor: name,
			Details: fmt.Sprintf("%d bytes, limit %d", len(name), MaxTensorNameLen)}
	}
	for _, f := range forbiddenInNames {
		if strings.Contains(name, f.substr) {
			return &ValidationError{Type: "invalid_name", Tensor: name, Details: f.reason}
		}
	}
	return nil
}

// ValidateTensorOffsets checks that every tensor lies inside a data
// section of dataSize bytes and that no two tensors share bytes.
func ValidateTensorOffsets(tensors []TensorMeta, dataSize int64) error {
	if err := checkTensorCount(len(tensors)); err != nil {
		return err
	}

	sorted := slices.Clone(tensors)
	slices.SortFunc(sorted, func(a, b TensorMeta) int { return cmp.Compare(a.Offset, b.Offset) })

	var prev *TensorMeta
	for i := range sorted {
		t := &sorted[i]
		if t.Offset < 0 || t.Size < 0 {
			return &ValidationError{Type: "negative_offset", Tensor: t.Name,
				Details: fmt.Sprintf("offset=%d size=%d", t.Offset, t.Size)}
		}
		if t.Size > dataSize-t.Offset {
			return &ValidationError{Type: "out_of_bounds", Tensor: t.Name,
				Details: fmt.Sprintf("[%d, %d+%d) past data section of %d bytes", t.Offset, t.Offset, t.Size, dataSize)}
		}
		if prev != nil && prev.Offset+prev.Size > t.Offset {
			return &ValidationError{Type: "offset_overlap", Tensor: prev.Name, Tensor2: t.Name,
				Details: fmt.Sprintf("[%d, %d) and [%d, %d)", prev.Offset, prev.Offset+prev.Size, t.Offset, t.Offset+t.Size)}
		}
		prev = t
	}
	return nil
}

// ValidateCheckpointNames checks that every tensor of a checkpoint file
// lives under ModelPrefix or OptimizerPrefix.
func ValidateCheckpointNames(names []string) error {
	for _, name := range names {
		if !strings.HasPrefix(name, ModelPrefix) && !strings.HasPrefix(name, OptimizerPrefix) {
			return &ValidationError{Type: "foreign_tensor", Tensor: name,
				Details: fmt.Sprintf("checkpoint tensors must start with %q or %q", ModelPrefix, OptimizerPrefix)}
		}
	}
	return nil
}

func checkTensorCount(n int) error {
	if n > MaxTensorCount {
		return &ValidationError{Type: "too_many_tensors",
			Details: fmt.Sprintf("%d tensors, limit %d", n, MaxTensorCount)}
	}
	return nil
}

// tensorBytes returns the byte size of a tensor, or ErrDataTooLarge when
// it would exceed MaxDataSize. The product is checked at every step so
// that large dimensions cannot wrap around.
func tensorBytes(name string, shape tensor.Shape, dtype tensor.DataType) (int64, error) {
	n := int64(dtype.Size())
	for _, d := range shape {
		if int64(d) > MaxDataSize/n {
			return 0, errors.Wrapf(ErrDataTooLarge, "tensor %q with shape %v", name, shape)
		}
		n *= int64(d)
	}
	return n, nil
}
