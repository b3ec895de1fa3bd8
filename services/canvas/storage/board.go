// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package storage holds the two flat artifacts behind the canvas.
//
// # Artifacts
//
//	board file   one byte per cell, a single line, fixed length
//	             (grown only by external provisioning)
//	diff file    append-only stream of 16-byte placement records
//
// Both files are opened per operation instead of holding long-lived
// handles. Board length is always read fresh from file metadata, so a board
// grown by `canvasctl provision` is picked up without a restart.
//
// # Concurrency
//
// Board writes are single-byte positional writes (pwrite); writes to
// different offsets never interfere. Diff appends rely on O_APPEND so each
// 16-byte record lands contiguously. No additional locking is done here.
package storage

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
)

var (
	// ErrIO wraps any filesystem failure.
	ErrIO = errors.New("storage i/o failure")

	// ErrOutOfBounds matches any *BoundsError via errors.Is.
	ErrOutOfBounds = errors.New("offset out of bounds")
)

// BoundsError reports a write past the end of the board.
type BoundsError struct {
	Offset uint32
	Length int64
}

// Error implements error.
func (e *BoundsError) Error() string {
	return fmt.Sprintf("offset %d out of bounds: index must be less than %d", e.Offset, e.Length)
}

// Is lets errors.Is(err, ErrOutOfBounds) match.
func (e *BoundsError) Is(target error) bool {
	return target == ErrOutOfBounds
}

// Board is the canvas file.
//
// # Thread Safety
//
// Safe for concurrent use; it holds no mutable state besides the path.
type Board struct {
	path string
}

// NewBoard returns a Board backed by the file at path. The file is created
// lazily on first access.
func NewBoard(path string) *Board {
	return &Board{path: path}
}

// Path returns the backing file path.
func (b *Board) Path() string {
	return b.path
}

// Read returns the board content up to the first line terminator, or the
// whole file when it has none. A missing file is created empty.
func (b *Board) Read() ([]byte, error) {
	f, err := os.OpenFile(b.path, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: open board: %v", ErrIO, err)
	}
	defer f.Close()

	line, err := bufio.NewReader(f).ReadBytes('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: read board: %v", ErrIO, err)
	}
	return bytes.TrimSuffix(line, []byte{'\n'}), nil
}

// Len returns the current board length from file metadata. A missing file
// is created empty and reports zero.
func (b *Board) Len() (int64, error) {
	f, err := os.OpenFile(b.path, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return 0, fmt.Errorf("%w: open board: %v", ErrIO, err)
	}
	defer f.Close()
	return fileLen(f)
}

// WriteAt stores one byte at offset without resizing the file.
//
// # Outputs
//
//   - error: *BoundsError when offset >= current length; ErrIO-wrapped
//     error on filesystem failure.
func (b *Board) WriteAt(offset uint32, c byte) error {
	f, err := os.OpenFile(b.path, os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("%w: open board: %v", ErrIO, err)
	}
	defer f.Close()

	size, err := fileLen(f)
	if err != nil {
		return err
	}
	if int64(offset) >= size {
		return &BoundsError{Offset: offset, Length: size}
	}
	if _, err := f.WriteAt([]byte{c}, int64(offset)); err != nil {
		return fmt.Errorf("%w: write board at %d: %v", ErrIO, offset, err)
	}
	return nil
}

// provisionChunk bounds the fill buffer used by Provision.
var provisionChunk = 1 << 20

// Provision grows the board to size bytes, filling new cells with fill.
// Existing cells are untouched and the board is never shrunk.
//
// # Outputs
//
//   - int64: Length after provisioning.
//   - error: ErrIO-wrapped error on filesystem failure.
func (b *Board) Provision(size int64, fill byte) (int64, error) {
	f, err := os.OpenFile(b.path, os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return 0, fmt.Errorf("%w: open board: %v", ErrIO, err)
	}
	defer f.Close()

	current, err := fileLen(f)
	if err != nil {
		return 0, err
	}
	if size <= current {
		return current, nil
	}
	chunk := bytes.Repeat([]byte{fill}, int(min(size-current, int64(provisionChunk))))
	for off := current; off < size; off += int64(len(chunk)) {
		n := min(int64(len(chunk)), size-off)
		if _, err := f.WriteAt(chunk[:n], off); err != nil {
			return 0, fmt.Errorf("%w: provision board at %d: %v", ErrIO, off, err)
		}
	}
	if err := f.Sync(); err != nil {
		return 0, fmt.Errorf("%w: sync board: %v", ErrIO, err)
	}
	return size, nil
}

func fileLen(f *os.File) (int64, error) {
	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("%w: stat board: %v", ErrIO, err)
	}
	return info.Size(), nil
}
