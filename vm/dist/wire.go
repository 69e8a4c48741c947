package dist

import (
	"crypto/sha256"
	"fmt"
	"os"

	"github.com/chazu/rvm/vm"
	"github.com/fxamacker/cbor/v2"
)

// cborEncMode encodes in canonical mode so equal images hash equally.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("dist: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// HashImage returns the SHA-256 of the canonical encoding of img.
func HashImage(img *CodeImage) ([32]byte, error) {
	data, err := cborEncMode.Marshal(img)
	if err != nil {
		return [32]byte{}, fmt.Errorf("dist: marshal code image: %w", err)
	}
	return sha256.Sum256(data), nil
}

// MarshalChunk serializes a Chunk to CBOR bytes.
func MarshalChunk(c *Chunk) ([]byte, error) {
	return cborEncMode.Marshal(c)
}

// UnmarshalChunk deserializes a Chunk from CBOR bytes.
func UnmarshalChunk(data []byte) (*Chunk, error) {
	var c Chunk
	if err := cbor.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("dist: unmarshal chunk: %w", err)
	}
	return &c, nil
}

// MarshalCapabilityManifest serializes a CapabilityManifest to CBOR bytes.
func MarshalCapabilityManifest(m *CapabilityManifest) ([]byte, error) {
	return cborEncMode.Marshal(m)
}

// UnmarshalCapabilityManifest deserializes a CapabilityManifest from CBOR bytes.
func UnmarshalCapabilityManifest(data []byte) (*CapabilityManifest, error) {
	var m CapabilityManifest
	if err := cbor.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("dist: unmarshal capability manifest: %w", err)
	}
	return &m, nil
}

// VerifyChunk checks the chunk version and that the declared hash matches
// the hash of the carried image.
func VerifyChunk(c *Chunk) error {
	if c.Version != WireVersion {
		return fmt.Errorf("dist: unsupported chunk version %d", c.Version)
	}
	computed, err := HashImage(&c.Code)
	if err != nil {
		return err
	}
	if computed != c.Hash {
		return fmt.Errorf("dist: hash mismatch: declared %x, computed %x", c.Hash, computed)
	}
	return nil
}

// EncodeCode serializes c as a chunk.
func EncodeCode(c *vm.Code) ([]byte, error) {
	chunk, err := CodeToChunk(c)
	if err != nil {
		return nil, err
	}
	return MarshalChunk(chunk)
}

// DecodeCode verifies a chunk against policy and rebuilds its code unit. A
// nil policy allows every capability.
func DecodeCode(data []byte, policy *CapabilityPolicy) (*vm.Code, error) {
	chunk, err := UnmarshalChunk(data)
	if err != nil {
		return nil, err
	}
	if err := VerifyChunk(chunk); err != nil {
		return nil, err
	}
	if policy != nil {
		if err := policy.Check(chunk.Manifest()); err != nil {
			return nil, err
		}
	}
	return CodeFromImage(&chunk.Code)
}

// WriteFile writes c to path as a chunk.
func WriteFile(path string, c *vm.Code) error {
	data, err := EncodeCode(c)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("dist: cannot write %s: %w", path, err)
	}
	return nil
}

// ReadFile loads a chunk written by WriteFile.
func ReadFile(path string, policy *CapabilityPolicy) (*vm.Code, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("dist: cannot read %s: %w", path, err)
	}
	c, err := DecodeCode(data, policy)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}
