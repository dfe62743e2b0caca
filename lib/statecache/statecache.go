// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package statecache persists the room graph and the sync position
// between runs, so that a restarted daemon resumes with an
// incremental /sync instead of a full one and can serve badges
// immediately.
//
// A cache file is a fixed header followed by the payload:
//
//	offset  size  field
//	0       4     magic "BUNC"
//	4       1     format version (1)
//	5       1     compression (see Compression)
//	6       4     uncompressed payload length, big-endian
//	10      32    BLAKE3 digest of the uncompressed payload
//	42      ...   payload, CBOR-encoded State, compressed
//
// Files are written atomically (temporary file, fsync, rename), so a
// reader sees either the previous cache or the new one. Any mismatch
// on read (magic, version, length, digest, decoding) is reported as
// ErrCorrupt; the caller discards the cache and starts fresh.
package statecache

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/unread/lib/codec"
	"github.com/bureau-foundation/unread/lib/ref"
	"github.com/bureau-foundation/unread/lib/roomgraph"
)

const (
	magic         = "BUNC"
	formatVersion = 1
	headerSize    = 4 + 1 + 1 + 4 + 32

	// maxPayloadSize bounds the allocation made for a declared
	// payload length, so a damaged header cannot exhaust memory.
	maxPayloadSize = 256 << 20
)

// digestKey is the BLAKE3 keyed-hash key for cache digests: the ASCII
// domain name, zero-padded to 32 bytes.
var digestKey = [32]byte{
	'b', 'u', 'r', 'e', 'a', 'u', '.', 'u', 'n', 'r', 'e', 'a', 'd', '.',
	's', 't', 'a', 't', 'e', 'c', 'a', 'c', 'h', 'e',
}

var (
	// ErrNoCache is returned by Load when no cache file exists.
	ErrNoCache = errors.New("statecache: no cache")

	// ErrCorrupt is returned by Load when the file exists but cannot
	// be trusted.
	ErrCorrupt = errors.New("statecache: corrupt cache")
)

// State is what the cache holds.
type State struct {
	// NextBatch is the /sync token to resume from.
	NextBatch string `cbor:"next_batch"`

	// UserID is the account the graph belongs to. A cache written for
	// another account is useless and must be discarded.
	UserID ref.UserID `cbor:"user_id"`

	// SavedAt is when the state was captured.
	SavedAt time.Time `cbor:"saved_at"`

	// Graph is the room graph at NextBatch.
	Graph roomgraph.Snapshot `cbor:"graph"`
}

// Header describes a cache file without decoding its payload.
type Header struct {
	Version     uint8
	Compression Compression
	PayloadSize int
	StoredSize  int
	Digest      [32]byte
}

func digest(payload []byte) [32]byte {
	hasher, err := blake3.NewKeyed(digestKey[:])
	if err != nil {
		panic("statecache: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(payload)
	var sum [32]byte
	copy(sum[:], hasher.Sum(nil))
	return sum
}

// Encode serializes state into the cache file format. If compression
// does not shrink the payload it is stored uncompressed.
func Encode(state State, compression Compression) ([]byte, error) {
	payload, err := codec.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("statecache: encoding state: %w", err)
	}
	if len(payload) > maxPayloadSize {
		return nil, fmt.Errorf("statecache: payload of %d bytes exceeds the %d byte limit", len(payload), maxPayloadSize)
	}

	body, err := compress(payload, compression)
	if errors.Is(err, errIncompressible) {
		compression, body = CompressionNone, payload
	} else if err != nil {
		return nil, fmt.Errorf("statecache: %w", err)
	}

	sum := digest(payload)
	var buffer bytes.Buffer
	buffer.Grow(headerSize + len(body))
	buffer.WriteString(magic)
	buffer.WriteByte(formatVersion)
	buffer.WriteByte(byte(compression))
	buffer.Write(binary.BigEndian.AppendUint32(nil, uint32(len(payload))))
	buffer.Write(sum[:])
	buffer.Write(body)
	return buffer.Bytes(), nil
}

// ParseHeader validates and decodes the fixed header of a cache file.
func ParseHeader(data []byte) (Header, error) {
	if len(data) < headerSize {
		return Header{}, fmt.Errorf("%w: %d bytes is shorter than the header", ErrCorrupt, len(data))
	}
	if string(data[:4]) != magic {
		return Header{}, fmt.Errorf("%w: bad magic %q", ErrCorrupt, data[:4])
	}
	header := Header{
		Version:     data[4],
		Compression: Compression(data[5]),
		PayloadSize: int(binary.BigEndian.Uint32(data[6:10])),
		StoredSize:  len(data) - headerSize,
	}
	copy(header.Digest[:], data[10:headerSize])
	if header.Version != formatVersion {
		return Header{}, fmt.Errorf("%w: unsupported format version %d", ErrCorrupt, header.Version)
	}
	if header.PayloadSize > maxPayloadSize {
		return Header{}, fmt.Errorf("%w: declared payload of %d bytes exceeds the limit", ErrCorrupt, header.PayloadSize)
	}
	return header, nil
}

// Payload verifies a cache file and returns its uncompressed CBOR
// payload.
func Payload(data []byte) ([]byte, error) {
	header, err := ParseHeader(data)
	if err != nil {
		return nil, err
	}
	payload, err := decompress(data[headerSize:], header.Compression, header.PayloadSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if digest(payload) != header.Digest {
		return nil, fmt.Errorf("%w: digest mismatch", ErrCorrupt)
	}
	return payload, nil
}

// Decode parses a complete cache file.
func Decode(data []byte) (*State, error) {
	payload, err := Payload(data)
	if err != nil {
		return nil, err
	}
	var state State
	if err := codec.Unmarshal(payload, &state); err != nil {
		return nil, fmt.Errorf("%w: decoding state: %v", ErrCorrupt, err)
	}
	return &state, nil
}

// Load reads the cache at path. It returns ErrNoCache when the file
// does not exist and an error wrapping ErrCorrupt when it cannot be
// trusted.
func Load(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoCache
		}
		return nil, fmt.Errorf("statecache: %w", err)
	}
	state, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w (in %s)", err, path)
	}
	return state, nil
}

// Save atomically writes state to path. The file is written to a
// temporary location in the same directory, fsynced, and renamed into
// place with mode 0600. The parent directory is created if needed.
func Save(path string, state State, compression Compression) error {
	data, err := Encode(state, compression)
	if err != nil {
		return err
	}

	directory := filepath.Dir(path)
	if err := os.MkdirAll(directory, 0o700); err != nil {
		return fmt.Errorf("statecache: creating %s: %w", directory, err)
	}

	temporaryPath := path + ".tmp"
	file, err := os.OpenFile(temporaryPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("statecache: creating temporary file: %w", err)
	}

	// Write, sync, close, in that order. If any step fails, remove
	// the temporary file and report the first error.
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("statecache: writing temporary file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("statecache: syncing temporary file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("statecache: closing temporary file: %w", err)
	}
	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("statecache: renaming into place: %w", err)
	}

	// Make the rename durable. Errors here are not fatal: the data
	// is already in place.
	if parent, err := os.Open(directory); err == nil {
		parent.Sync()
		parent.Close()
	}
	return nil
}

// Clear removes the cache file. Idempotent.
func Clear(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("statecache: removing %s: %w", path, err)
	}
	return nil
}
