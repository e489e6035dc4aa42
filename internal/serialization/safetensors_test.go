package serialization

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/born-ml/trainkit/internal/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func raw32(t *testing.T, shape tensor.Shape, values ...float32) *tensor.RawTensor {
	t.Helper()
	r, err := tensor.NewRaw(shape, tensor.Float32, tensor.CPU)
	require.NoError(t, err)
	copy(r.AsFloat32(), values)
	return r
}

// encodeHeader builds a SafeTensors stream from a hand-written header.
func encodeHeader(t *testing.T, header map[string]any, data []byte) []byte {
	t.Helper()
	h, err := json.Marshal(header)
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint64(len(h))))
	buf.Write(h)
	buf.Write(data)
	return buf.Bytes()
}

// TestSafeTensorsRoundTrip tests round-trip: write → read → verify.
func TestSafeTensorsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roundtrip.safetensors")

	f64, err := tensor.NewRaw(tensor.Shape{2}, tensor.Float64, tensor.CPU)
	require.NoError(t, err)
	copy(f64.AsFloat64(), []float64{0.25, -8})

	original := map[string]*tensor.RawTensor{
		"0.weight":       raw32(t, tensor.Shape{2, 3}, 1, 2, 3, 4, 5, 6),
		"0.bias":         raw32(t, tensor.Shape{3}, 0.1, 0.2, 0.3),
		"1.running_mean": f64,
	}
	require.NoError(t, WriteSafeTensors(path, original, map[string]string{"format": "pt"}))

	file, err := ReadSafeTensors(path)
	require.NoError(t, err)
	assert.Equal(t, "pt", file.Metadata["format"])
	assert.Contains(t, file.Metadata, MetadataChecksum)
	assert.Equal(t, []string{"0.bias", "0.weight", "1.running_mean"}, file.Names())

	for name, want := range original {
		got, err := file.Tensor(name)
		require.NoError(t, err, name)
		assert.Equal(t, want.Shape(), got.Shape(), name)
		assert.Equal(t, want.DType(), got.DType(), name)
		assert.Equal(t, want.Data(), got.Data(), name)
	}

	_, err = file.Tensor("missing")
	assert.ErrorIs(t, err, ErrTensorNotFound)
}

func TestEncode_HeaderLayout(t *testing.T) {
	var buf bytes.Buffer
	n, err := Encode(&buf, map[string]*tensor.RawTensor{
		"b": raw32(t, tensor.Shape{1}, 2),
		"a": raw32(t, tensor.Shape{2}, 1, 1),
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(buf.Len()), n)

	size := binary.LittleEndian.Uint64(buf.Bytes()[:8])
	var header map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(buf.Bytes()[8:8+size], &header))

	var a, b SafeTensorHeader
	require.NoError(t, json.Unmarshal(header["a"], &a))
	require.NoError(t, json.Unmarshal(header["b"], &b))
	assert.Equal(t, SafeTensorHeader{DType: "F32", Shape: []int64{2}, DataOffsets: [2]int64{0, 8}}, a)
	assert.Equal(t, [2]int64{8, 12}, b.DataOffsets)
}

func TestDecode_ChecksumMismatch(t *testing.T) {
	var buf bytes.Buffer
	_, err := Encode(&buf, map[string]*tensor.RawTensor{"w": raw32(t, tensor.Shape{2}, 1, 2)}, nil)
	require.NoError(t, err)

	corrupted := buf.Bytes()
	corrupted[len(corrupted)-1] ^= 0xFF
	_, err = Decode(bytes.NewReader(corrupted))
	assert.ErrorIs(t, err, ErrChecksumMismatch)
}

func TestDecode_Invalid(t *testing.T) {
	entry := func(dtype string, shape []int64, begin, end int64) SafeTensorHeader {
		return SafeTensorHeader{DType: dtype, Shape: shape, DataOffsets: [2]int64{begin, end}}
	}

	tests := []struct {
		name   string
		stream []byte
		check  func(t *testing.T, err error)
	}{
		{
			name:   "truncated size",
			stream: []byte{1, 2},
			check:  func(t *testing.T, err error) { assert.ErrorIs(t, err, ErrTruncated) },
		},
		{
			name:   "truncated data",
			stream: encodeHeader(t, map[string]any{"w": entry("F32", []int64{4}, 0, 16)}, make([]byte, 8)),
			check:  func(t *testing.T, err error) { assert.ErrorIs(t, err, ErrTruncated) },
		},
		{
			name:   "unsupported dtype",
			stream: encodeHeader(t, map[string]any{"w": entry("I8", []int64{4}, 0, 4)}, make([]byte, 4)),
			check:  func(t *testing.T, err error) { assert.ErrorIs(t, err, ErrUnsupportedDType) },
		},
		{
			name:   "size mismatch",
			stream: encodeHeader(t, map[string]any{"w": entry("F32", []int64{4}, 0, 12)}, make([]byte, 12)),
			check: func(t *testing.T, err error) {
				var verr *ValidationError
				require.ErrorAs(t, err, &verr)
				assert.Equal(t, "size_mismatch", verr.Type)
			},
		},
		{
			name: "overlap",
			stream: encodeHeader(t, map[string]any{
				"a": entry("F32", []int64{2}, 0, 8),
				"b": entry("F32", []int64{2}, 4, 12),
			}, make([]byte, 12)),
			check: func(t *testing.T, err error) {
				var verr *ValidationError
				require.ErrorAs(t, err, &verr)
				assert.Equal(t, "offset_overlap", verr.Type)
			},
		},
		{
			name:   "declared data too large",
			stream: encodeHeader(t, map[string]any{"w": entry("F32", []int64{1 << 20, 1 << 20}, 0, 4 << 40)}, make([]byte, 16)),
			check:  func(t *testing.T, err error) { assert.ErrorIs(t, err, ErrDataTooLarge) },
		},
		{
			name:   "shape product overflows",
			stream: encodeHeader(t, map[string]any{"w": entry("F64", []int64{1 << 31, 1 << 31, 1 << 31}, 0, 8)}, make([]byte, 8)),
			check:  func(t *testing.T, err error) { assert.ErrorIs(t, err, ErrDataTooLarge) },
		},
		{
			name:   "offset past limit",
			stream: encodeHeader(t, map[string]any{"w": entry("F32", []int64{1}, MaxDataSize, MaxDataSize+4)}, make([]byte, 4)),
			check:  func(t *testing.T, err error) { assert.ErrorIs(t, err, ErrDataTooLarge) },
		},
		{
			name:   "reversed offsets",
			stream: encodeHeader(t, map[string]any{"w": entry("F32", []int64{1}, 8, 4)}, make([]byte, 8)),
			check: func(t *testing.T, err error) {
				var verr *ValidationError
				require.ErrorAs(t, err, &verr)
				assert.Equal(t, "negative_offset", verr.Type)
			},
		},
		{
			name:   "path traversal",
			stream: encodeHeader(t, map[string]any{"../w": entry("F32", []int64{1}, 0, 4)}, make([]byte, 4)),
			check:  func(t *testing.T, err error) { assert.Error(t, err) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(bytes.NewReader(tt.stream))
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestEncode_RejectsBadNames(t *testing.T) {
	_, err := Encode(&bytes.Buffer{}, map[string]*tensor.RawTensor{"a/b": raw32(t, tensor.Shape{1}, 1)}, nil)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "invalid_name", verr.Type)
}

func TestReadSafeTensors_MissingFile(t *testing.T) {
	_, err := ReadSafeTensors(filepath.Join(t.TempDir(), "nope.safetensors"))
	assert.True(t, os.IsNotExist(errorsCause(err)))
}
