package serialization

import (
	"crypto/sha256"
	"encoding/hex"
)

// MetadataChecksum is the metadata key holding the hex SHA-256 of the data
// section.
const MetadataChecksum = "trainkit.sha256"

// ComputeChecksum computes SHA-256 checksum of data.
func ComputeChecksum(data []byte) [32]byte {
	return sha256.Sum256(data)
}

// validateChecksum compares data against the hex checksum stored in
// metadata. Files without a stored checksum are accepted.
func validateChecksum(data []byte, metadata map[string]string) error {
	stored, ok := metadata[MetadataChecksum]
	if !ok {
		return nil
	}
	sum := ComputeChecksum(data)
	if hex.EncodeToString(sum[:]) != stored {
		return ErrChecksumMismatch
	}
	return nil
}
