// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// Buffer holds secret bytes in protected memory. A Buffer must not be
// copied. After Close, Bytes and String panic.
type Buffer struct {
	mutex  sync.Mutex
	region []byte
	length int
	closed bool
}

// mapRegion allocates size bytes of anonymous memory outside the Go
// heap, locked against swap and excluded from core dumps.
func mapRegion(size int) ([]byte, error) {
	region, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("secret: mmap: %w", err)
	}
	if err := unix.Mlock(region); err != nil {
		unix.Munmap(region)
		return nil, fmt.Errorf("secret: mlock: %w", err)
	}
	if err := unix.Madvise(region, unix.MADV_DONTDUMP); err != nil {
		unix.Munlock(region)
		unix.Munmap(region)
		return nil, fmt.Errorf("secret: madvise(MADV_DONTDUMP): %w", err)
	}
	return region, nil
}

// NewFromBytes copies source into a new protected Buffer and zeroes
// source, so the caller's slice no longer holds the secret.
func NewFromBytes(source []byte) (*Buffer, error) {
	if len(source) == 0 {
		return nil, errors.New("secret: empty source")
	}
	region, err := mapRegion(len(source))
	if err != nil {
		return nil, err
	}
	copy(region, source)
	wipe(source)
	return &Buffer{region: region, length: len(source)}, nil
}

// Bytes returns the secret in place. The slice points into the
// protected region and is invalid after Close.
func (b *Buffer) Bytes() []byte {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if b.closed {
		panic("secret: read from closed buffer")
	}
	return b.region[:b.length]
}

// String returns a heap copy of the secret. Use only where an API
// needs a string, such as an Authorization header.
func (b *Buffer) String() string {
	return string(b.Bytes())
}

// Len returns the length of the secret, or 0 after Close.
func (b *Buffer) Len() int {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if b.closed {
		return 0
	}
	return b.length
}

// Close zeroes the region, then unlocks and unmaps it. Idempotent.
func (b *Buffer) Close() error {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	wipe(b.region)
	var errs []error
	if err := unix.Munlock(b.region); err != nil {
		errs = append(errs, fmt.Errorf("secret: munlock: %w", err))
	}
	if err := unix.Munmap(b.region); err != nil {
		errs = append(errs, fmt.Errorf("secret: munmap: %w", err))
	}
	b.region = nil
	return errors.Join(errs...)
}

func wipe(data []byte) {
	clear(data)
}
