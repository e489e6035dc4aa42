package serialization

import (
	"encoding/json"
	"strings"

	"github.com/born-ml/trainkit/internal/tensor"
	"github.com/pkg/errors"
)

// Checkpoint tensor-name prefixes and metadata key.
const (
	ModelPrefix     = "model."
	OptimizerPrefix = "optim."
	metadataCkpt    = "trainkit.checkpoint"
)

// CheckpointMeta contains training state information for checkpoints.
type CheckpointMeta struct {
	Epoch         int                  `json:"epoch"`                    // Training epoch number
	OptimizerType string               `json:"optimizer_type,omitempty"` // Optimizer type ("sgd", "adam")
	ParamGroups   []map[string]float64 `json:"param_groups,omitempty"`   // Per-group hyper-parameters
	Scheduler     json.RawMessage      `json:"scheduler,omitempty"`      // Scheduler state, JSON-encoded
}

// Checkpoint is a model and optimizer snapshot.
type Checkpoint struct {
	Model     map[string]*tensor.RawTensor
	Optimizer map[string]*tensor.RawTensor
	Meta      CheckpointMeta
}

// SaveCheckpoint writes ckpt to path as a SafeTensors file. Tensor names
// are prefixed with ModelPrefix and OptimizerPrefix.
func SaveCheckpoint(path string, ckpt Checkpoint) error {
	tensors := make(map[string]*tensor.RawTensor, len(ckpt.Model)+len(ckpt.Optimizer))
	for name, raw := range ckpt.Model {
		tensors[ModelPrefix+name] = raw
	}
	for name, raw := range ckpt.Optimizer {
		tensors[OptimizerPrefix+name] = raw
	}

	meta, err := json.Marshal(ckpt.Meta)
	if err != nil {
		return errors.Wrap(err, "failed to encode checkpoint metadata")
	}
	return WriteSafeTensors(path, tensors, map[string]string{metadataCkpt: string(meta)})
}

// LoadCheckpoint reads a checkpoint written by SaveCheckpoint. Tensors
// outside the model and optimizer namespaces are rejected.
func LoadCheckpoint(path string) (Checkpoint, error) {
	file, err := ReadSafeTensors(path)
	if err != nil {
		return Checkpoint{}, err
	}

	if err := ValidateCheckpointNames(file.Names()); err != nil {
		return Checkpoint{}, errors.WithMessagef(err, "reading %s", path)
	}

	ckpt := Checkpoint{
		Model:     make(map[string]*tensor.RawTensor),
		Optimizer: make(map[string]*tensor.RawTensor),
	}
	for name, raw := range file.Tensors {
		if rest, ok := strings.CutPrefix(name, ModelPrefix); ok {
			ckpt.Model[rest] = raw
		} else if rest, ok := strings.CutPrefix(name, OptimizerPrefix); ok {
			ckpt.Optimizer[rest] = raw
		}
	}

	meta, ok := file.Metadata[metadataCkpt]
	if !ok {
		return Checkpoint{}, errors.Errorf("%s: not a checkpoint (missing %s metadata)", path, metadataCkpt)
	}
	if err := json.Unmarshal([]byte(meta), &ckpt.Meta); err != nil {
		return Checkpoint{}, errors.Wrap(err, "failed to decode checkpoint metadata")
	}
	return ckpt, nil
}
