// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package storage

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// RecordSize is the fixed on-disk size of one diff record.
const RecordSize = 16

var (
	// ErrTruncatedRecord is returned by DiffReader when the file ends in the
	// middle of a record.
	ErrTruncatedRecord = errors.New("truncated diff record")

	// ErrMalformedRecord is returned when reserved bytes are not zero.
	ErrMalformedRecord = errors.New("malformed diff record")
)

// Record is one accepted placement.
//
// # Wire Layout
//
//	offset  size  field
//	0       8     TimestampMs (big-endian, ms since Unix epoch)
//	8       4     Offset      (big-endian board index)
//	12      3     reserved, zero
//	15      1     Color       (encoded pixel byte)
type Record struct {
	TimestampMs uint64
	Offset      uint32
	Color       byte
}

// MarshalBinary encodes r into its 16-byte form.
func (r Record) MarshalBinary() ([]byte, error) {
	buf := r.encode()
	return buf[:], nil
}

func (r Record) encode() [RecordSize]byte {
	var buf [RecordSize]byte
	binary.BigEndian.PutUint64(buf[0:8], r.TimestampMs)
	binary.BigEndian.PutUint32(buf[8:12], r.Offset)
	buf[15] = r.Color
	return buf
}

// UnmarshalBinary decodes a 16-byte record.
func (r *Record) UnmarshalBinary(data []byte) error {
	if len(data) != RecordSize {
		return fmt.Errorf("%w: %d bytes", ErrTruncatedRecord, len(data))
	}
	if data[12] != 0 || data[13] != 0 || data[14] != 0 {
		return fmt.Errorf("%w: reserved bytes %x", ErrMalformedRecord, data[12:15])
	}
	r.TimestampMs = binary.BigEndian.Uint64(data[0:8])
	r.Offset = binary.BigEndian.Uint32(data[8:12])
	r.Color = data[15]
	return nil
}

// DiffLog appends placement records to the diff file.
//
// The log is write-only during normal operation; replay and inspection go
// through DiffReader.
type DiffLog struct {
	path string
}

// NewDiffLog returns a DiffLog backed by path. The file is created on the
// first append.
func NewDiffLog(path string) *DiffLog {
	return &DiffLog{path: path}
}

// Path returns the backing file path.
func (l *DiffLog) Path() string {
	return l.path
}

// Append writes exactly one 16-byte record. Short writes are failures and
// are not retried.
func (l *DiffLog) Append(r Record) error {
	f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("%w: open diff log: %v", ErrIO, err)
	}
	defer f.Close()

	buf := r.encode()
	n, err := f.Write(buf[:])
	if err != nil {
		return fmt.Errorf("%w: append diff: %v", ErrIO, err)
	}
	if n != RecordSize {
		return fmt.Errorf("%w: append diff: %v", ErrIO, io.ErrShortWrite)
	}
	return nil
}

// =============================================================================
// Reader
// =============================================================================

// DiffReader iterates records from a diff stream in file order.
type DiffReader struct {
	r      *bufio.Reader
	closer io.Closer
	buf    [RecordSize]byte
	count  int64
}

// NewDiffReader reads records from r.
func NewDiffReader(r io.Reader) *DiffReader {
	dr := &DiffReader{r: bufio.NewReader(r)}
	if c, ok := r.(io.Closer); ok {
		dr.closer = c
	}
	return dr
}

// OpenDiffReader opens the diff file at path. A missing file yields a reader
// with no records.
func OpenDiffReader(path string) (*DiffReader, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return NewDiffReader(eofReader{}), nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: open diff log: %v", ErrIO, err)
	}
	return NewDiffReader(f), nil
}

// Next returns the next record, io.EOF at a clean end of stream, or
// ErrTruncatedRecord when the stream stops mid-record.
func (d *DiffReader) Next() (Record, error) {
	n, err := io.ReadFull(d.r, d.buf[:])
	switch {
	case errors.Is(err, io.EOF):
		return Record{}, io.EOF
	case errors.Is(err, io.ErrUnexpectedEOF):
		return Record{}, fmt.Errorf("%w: record %d has %d of %d bytes",
			ErrTruncatedRecord, d.count, n, RecordSize)
	case err != nil:
		return Record{}, fmt.Errorf("%w: read diff log: %v", ErrIO, err)
	}

	var rec Record
	if err := rec.UnmarshalBinary(d.buf[:]); err != nil {
		return Record{}, fmt.Errorf("record %d: %w", d.count, err)
	}
	d.count++
	return rec, nil
}

// ForEach calls fn for every remaining record, stopping at the first error.
// A clean end of stream returns nil.
func (d *DiffReader) ForEach(fn func(Record) error) error {
	for {
		rec, err := d.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
}

// Count returns how many records have been read so far.
func (d *DiffReader) Count() int64 {
	return d.count
}

// Close releases the underlying file, if any.
func (d *DiffReader) Close() error {
	if d.closer == nil {
		return nil
	}
	return d.closer.Close()
}

type eofReader struct{}

func (eofReader) Read([]byte) (int, error) { return 0, io.EOF }
