package serialization

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/born-ml/trainkit/internal/tensor"
	"github.com/pkg/errors"
)

// File is a decoded SafeTensors file.
type File struct {
	Tensors  map[string]*tensor.RawTensor
	Metadata map[string]string
}

// Names returns the tensor names in sorted order.
func (f *File) Names() []string {
	names := make([]string, 0, len(f.Tensors))
	for name := range f.Tensors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Tensor returns the named tensor.
func (f *File) Tensor(name string) (*tensor.RawTensor, error) {
	raw, ok := f.Tensors[name]
	if !ok {
		return nil, errors.Wrapf(ErrTensorNotFound, "%q", name)
	}
	return raw, nil
}

// ReadSafeTensors reads a SafeTensors file into memory.
func ReadSafeTensors(path string) (*File, error) {
	//nolint:gosec // G304: File path comes from user input, which is expected for model loading
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open file")
	}
	defer f.Close()

	file, err := Decode(f)
	if err != nil {
		return nil, errors.WithMessagef(err, "reading %s", path)
	}
	return file, nil
}

// Decode reads a SafeTensors stream. Offsets and names are validated and
// a stored checksum is verified.
func Decode(in io.Reader) (*File, error) {
	var headerSize uint64
	if err := binary.Read(in, binary.LittleEndian, &headerSize); err != nil {
		return nil, errors.Wrap(ErrTruncated, "reading header size")
	}
	if headerSize > MaxHeaderSize {
		return nil, errors.Wrapf(ErrHeaderTooLarge, "%d bytes", headerSize)
	}

	headerJSON := make([]byte, headerSize)
	if _, err := io.ReadFull(in, headerJSON); err != nil {
		return nil, errors.Wrap(ErrTruncated, "reading header")
	}

	var entries map[string]json.RawMessage
	if err := json.Unmarshal(headerJSON, &entries); err != nil {
		return nil, errors.Wrap(err, "failed to parse header")
	}
	if err := checkTensorCount(len(entries) - 1); err != nil {
		return nil, err
	}

	file := &File{Tensors: make(map[string]*tensor.RawTensor), Metadata: map[string]string{}}
	metas := make([]TensorMeta, 0, len(entries))
	for name, msg := range entries {
		if name == metadataKey {
			if err := json.Unmarshal(msg, &file.Metadata); err != nil {
				return nil, errors.Wrap(err, "failed to parse metadata")
			}
			continue
		}
		meta, err := parseEntry(name, msg)
		if err != nil {
			return nil, err
		}
		metas = append(metas, meta)
	}

	var dataSize int64
	for _, m := range metas {
		dataSize = max(dataSize, m.Offset+m.Size)
	}
	if err := ValidateTensorOffsets(metas, dataSize); err != nil {
		return nil, err
	}

	// The buffer grows with what the stream delivers, not with what the
	// header claims.
	data, err := io.ReadAll(io.LimitReader(in, dataSize))
	if err != nil {
		return nil, errors.Wrap(err, "reading tensor data")
	}
	if int64(len(data)) < dataSize {
		return nil, errors.Wrapf(ErrTruncated, "tensor data has %d of %d bytes", len(data), dataSize)
	}
	if err := validateChecksum(data, file.Metadata); err != nil {
		return nil, err
	}

	for _, m := range metas {
		dtype, _ := safeTensorsToDtype(m.DType)
		raw, err := tensor.NewRaw(m.Shape, dtype, tensor.CPU)
		if err != nil {
			return nil, errors.Wrapf(err, "tensor %q", m.Name)
		}
		copy(raw.Data(), data[m.Offset:m.Offset+m.Size])
		file.Tensors[m.Name] = raw
	}
	return file, nil
}

// parseEntry decodes and checks one header entry.
func parseEntry(name string, msg json.RawMessage) (TensorMeta, error) {
	if err := ValidateTensorName(name); err != nil {
		return TensorMeta{}, err
	}
	var h SafeTensorHeader
	if err := json.Unmarshal(msg, &h); err != nil {
		return TensorMeta{}, errors.Wrapf(err, "failed to parse entry %q", name)
	}
	dtype, ok := safeTensorsToDtype(h.DType)
	if !ok {
		return TensorMeta{}, errors.Wrapf(ErrUnsupportedDType, "tensor %q has dtype %s", name, h.DType)
	}

	shape := make(tensor.Shape, len(h.Shape))
	for i, d := range h.Shape {
		shape[i] = int(d)
	}
	if err := shape.Validate(); err != nil {
		return TensorMeta{}, errors.Wrapf(err, "tensor %q", name)
	}

	want, err := tensorBytes(name, shape, dtype)
	if err != nil {
		return TensorMeta{}, err
	}
	begin, end := h.DataOffsets[0], h.DataOffsets[1]
	if begin < 0 || end < begin {
		return TensorMeta{}, &ValidationError{Type: "negative_offset", Tensor: name,
			Details: fmt.Sprintf("data_offsets [%d, %d]", begin, end)}
	}
	if end > MaxDataSize {
		return TensorMeta{}, errors.Wrapf(ErrDataTooLarge, "tensor %q ends at byte %d", name, end)
	}
	if end-begin != want {
		return TensorMeta{}, &ValidationError{Type: "size_mismatch", Tensor: name,
			Details: fmt.Sprintf("data_offsets span %d bytes, shape %v of %s needs %d", end-begin, shape, h.DType, want)}
	}
	return TensorMeta{Name: name, DType: h.DType, Shape: shape, Offset: begin, Size: want}, nil
}
