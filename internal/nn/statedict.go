package nn

import (
	"fmt"

	"github.com/born-ml/trainkit/internal/tensor"
)

// loadInto copies stateDict[key] into dst after checking shape and dtype.
func loadInto[B tensor.Backend](stateDict map[string]*tensor.RawTensor, key string, dst *tensor.Tensor[float32, B]) error {
	raw, ok := stateDict[key]
	if !ok {
		return fmt.Errorf("missing %s in state dict", key)
	}
	if !raw.Shape().Equal(dst.Shape()) {
		return fmt.Errorf("%s shape mismatch: expected %v, got %v", key, dst.Shape(), raw.Shape())
	}
	if raw.DType() != tensor.Float32 {
		return fmt.Errorf("%s dtype mismatch: expected float32, got %v", key, raw.DType())
	}
	copy(dst.Data(), raw.AsFloat32())
	return nil
}
