package serialization

import (
	"bufio"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"io"
	"maps"
	"os"
	"sort"

	"github.com/born-ml/trainkit/internal/tensor"
	"github.com/pkg/errors"
)

// SafeTensorsWriter writes state dicts in SafeTensors format.
type SafeTensorsWriter struct {
	file   *os.File
	closed bool
}

// NewSafeTensorsWriter creates a new SafeTensors file writer.
func NewSafeTensorsWriter(path string) (*SafeTensorsWriter, error) {
	//nolint:gosec // G304: File path comes from user input, which is expected for model saving
	file, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create file")
	}
	return &SafeTensorsWriter{file: file}, nil
}

// WriteSafeTensors writes tensors to a SafeTensors file.
//
// Tensors are written in alphabetical order by name.
func WriteSafeTensors(path string, tensors map[string]*tensor.RawTensor, metadata map[string]string) error {
	writer, err := NewSafeTensorsWriter(path)
	if err != nil {
		return err
	}
	if err := writer.WriteStateDict(tensors, metadata); err != nil {
		_ = writer.Close()
		return err
	}
	return writer.Close()
}

// WriteStateDict writes a state dictionary to the SafeTensors file.
func (w *SafeTensorsWriter) WriteStateDict(stateDict map[string]*tensor.RawTensor, metadata map[string]string) error {
	if w.closed {
		return errors.New("writer is closed")
	}
	buf := bufio.NewWriter(w.file)
	if _, err := Encode(buf, stateDict, metadata); err != nil {
		return err
	}
	return errors.Wrap(buf.Flush(), "failed to flush")
}

// Close closes the writer and the underlying file.
func (w *SafeTensorsWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	return w.file.Close()
}

// Encode writes stateDict in SafeTensors format to out and returns the
// number of bytes written. The SHA-256 of the data section is added to the
// metadata under MetadataChecksum.
func Encode(out io.Writer, stateDict map[string]*tensor.RawTensor, metadata map[string]string) (int64, error) {
	// Sort tensor names alphabetically (SafeTensors requirement)
	tensorNames := make([]string, 0, len(stateDict))
	for name := range stateDict {
		if err := ValidateTensorName(name); err != nil {
			return 0, err
		}
		tensorNames = append(tensorNames, name)
	}
	sort.Strings(tensorNames)

	header := make(map[string]any, len(stateDict)+1)
	digest := sha256.New()

	var currentOffset int64
	for _, name := range tensorNames {
		raw := stateDict[name]
		dtype, ok := dtypeToSafeTensors(raw.DType())
		if !ok {
			return 0, errors.Wrapf(ErrUnsupportedDType, "tensor %q has dtype %v", name, raw.DType())
		}
		shape := raw.Shape()
		size := int64(raw.ByteSize())

		shapeInt64 := make([]int64, len(shape))
		for i, dim := range shape {
			shapeInt64[i] = int64(dim)
		}

		header[name] = SafeTensorHeader{
			DType:       dtype,
			Shape:       shapeInt64,
			DataOffsets: [2]int64{currentOffset, currentOffset + size},
		}
		currentOffset += size
		digest.Write(raw.Data())
	}

	meta := maps.Clone(metadata)
	if meta == nil {
		meta = make(map[string]string, 1)
	}
	meta[MetadataChecksum] = hex.EncodeToString(digest.Sum(nil))
	header[metadataKey] = meta

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return 0, errors.Wrap(err, "failed to marshal header")
	}

	// Write header size (8 bytes, little-endian uint64)
	if err := binary.Write(out, binary.LittleEndian, uint64(len(headerJSON))); err != nil {
		return 0, errors.Wrap(err, "failed to write header size")
	}
	if _, err := out.Write(headerJSON); err != nil {
		return 0, errors.Wrap(err, "failed to write header")
	}

	for _, name := range tensorNames {
		if _, err := out.Write(stateDict[name].Data()); err != nil {
			return 0, errors.Wrapf(err, "failed to write tensor %s", name)
		}
	}

	return 8 + int64(len(headerJSON)) + currentOffset, nil
}
