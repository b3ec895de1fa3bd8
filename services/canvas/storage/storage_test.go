// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBoard(t *testing.T, content string) *Board {
	t.Helper()
	path := filepath.Join(t.TempDir(), "board.txt")
	if content != "" {
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return NewBoard(path)
}

// =============================================================================
// Board Tests
// =============================================================================

func TestBoard_ReadCreatesMissingFile(t *testing.T) {
	b := newTestBoard(t, "")

	data, err := b.Read()
	require.NoError(t, err)
	assert.Empty(t, data)

	_, err = os.Stat(b.Path())
	assert.NoError(t, err, "board file should have been created")
}

func TestBoard_ReadStopsAtFirstLine(t *testing.T) {
	b := newTestBoard(t, "0123\n4567\n")
	data, err := b.Read()
	require.NoError(t, err)
	assert.Equal(t, []byte("0123"), data)
}

func TestBoard_ReadWholeFileWithoutNewline(t *testing.T) {
	b := newTestBoard(t, "0000????")
	data, err := b.Read()
	require.NoError(t, err)
	assert.Equal(t, []byte("0000????"), data)
}

func TestBoard_WriteAtThenRead(t *testing.T) {
	b := newTestBoard(t, "0000")

	for offset := uint32(0); offset < 4; offset++ {
		c := byte('5') + byte(offset)
		require.NoError(t, b.WriteAt(offset, c))
		data, err := b.Read()
		require.NoError(t, err)
		assert.Equal(t, c, data[offset])
		assert.Len(t, data, 4, "write must not resize the board")
	}
}

func TestBoard_WriteAtOutOfBounds(t *testing.T) {
	b := newTestBoard(t, "0000")

	for _, offset := range []uint32{4, 5, 1 << 31} {
		err := b.WriteAt(offset, '5')
		require.ErrorIs(t, err, ErrOutOfBounds)
		var be *BoundsError
		require.True(t, errors.As(err, &be))
		assert.Equal(t, int64(4), be.Length)
		assert.NotErrorIs(t, err, ErrIO)
	}

	data, err := b.Read()
	require.NoError(t, err)
	assert.Equal(t, []byte("0000"), data)
}

func TestBoard_WriteAtEmptyBoard(t *testing.T) {
	b := newTestBoard(t, "")
	assert.ErrorIs(t, b.WriteAt(0, '0'), ErrOutOfBounds)
}

func TestBoard_LenIsFresh(t *testing.T) {
	b := newTestBoard(t, "00")
	n, err := b.Len()
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	require.NoError(t, os.WriteFile(b.Path(), []byte("000000"), 0o644))
	n, err = b.Len()
	require.NoError(t, err)
	assert.Equal(t, int64(6), n)
	assert.NoError(t, b.WriteAt(5, '1'))
}

func TestBoard_ConcurrentDisjointWrites(t *testing.T) {
	const size = 256
	b := newTestBoard(t, string(bytes.Repeat([]byte{'0'}, size)))

	var wg sync.WaitGroup
	for i := 0; i < size; i++ {
		wg.Add(1)
		go func(offset uint32) {
			defer wg.Done()
			assert.NoError(t, b.WriteAt(offset, '0'+byte(offset%16)))
		}(uint32(i))
	}
	wg.Wait()

	data, err := b.Read()
	require.NoError(t, err)
	require.Len(t, data, size)
	for i := 0; i < size; i++ {
		assert.Equal(t, '0'+byte(i%16), data[i], "offset %d", i)
	}
}

func TestBoard_Provision(t *testing.T) {
	b := newTestBoard(t, "55")

	n, err := b.Provision(6, '0')
	require.NoError(t, err)
	assert.Equal(t, int64(6), n)

	data, err := b.Read()
	require.NoError(t, err)
	assert.Equal(t, []byte("550000"), data)

	n, err = b.Provision(3, '?')
	require.NoError(t, err)
	assert.Equal(t, int64(6), n, "provision never shrinks")
}

func TestBoard_ProvisionWritesInChunks(t *testing.T) {
	saved := provisionChunk
	provisionChunk = 3
	defer func() { provisionChunk = saved }()

	b := newTestBoard(t, "01")
	n, err := b.Provision(10, '?')
	require.NoError(t, err)
	assert.Equal(t, int64(10), n)

	data, err := b.Read()
	require.NoError(t, err)
	assert.Equal(t, []byte("01????????"), data)
}

func TestBoard_ReadIOError(t *testing.T) {
	b := NewBoard(filepath.Join(t.TempDir(), "missing-dir", "board.txt"))
	_, err := b.Read()
	assert.ErrorIs(t, err, ErrIO)
	assert.ErrorIs(t, b.WriteAt(0, '0'), ErrIO)
}

// =============================================================================
// Record / DiffLog Tests
// =============================================================================

func TestRecord_WireLayout(t *testing.T) {
	rec := Record{TimestampMs: 1_000_000, Offset: 2, Color: '5'}
	data, err := rec.MarshalBinary()
	require.NoError(t, err)

	want := []byte{
		0, 0, 0, 0, 0, 0x0f, 0x42, 0x40, // 1_000_000
		0, 0, 0, 2,
		0, 0, 0,
		'5',
	}
	assert.Equal(t, want, data)

	var decoded Record
	require.NoError(t, decoded.UnmarshalBinary(data))
	assert.Equal(t, rec, decoded)
}

func TestRecord_UnmarshalRejectsBadInput(t *testing.T) {
	var r Record
	assert.ErrorIs(t, r.UnmarshalBinary(make([]byte, 15)), ErrTruncatedRecord)

	bad := make([]byte, RecordSize)
	bad[13] = 1
	assert.ErrorIs(t, r.UnmarshalBinary(bad), ErrMalformedRecord)
}

func TestDiffLog_AppendAndReadBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "diffs.bin")
	log := NewDiffLog(path)

	records := []Record{
		{TimestampMs: 1, Offset: 0, Color: '0'},
		{TimestampMs: 2, Offset: 9, Color: '?'},
		{TimestampMs: 3, Offset: 1 << 20, Color: '5'},
	}
	for _, r := range records {
		require.NoError(t, log.Append(r))
	}

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(len(records)*RecordSize), info.Size())

	reader, err := OpenDiffReader(path)
	require.NoError(t, err)
	defer reader.Close()

	var got []Record
	require.NoError(t, reader.ForEach(func(r Record) error {
		got = append(got, r)
		return nil
	}))
	assert.Equal(t, records, got)
	assert.Equal(t, int64(3), reader.Count())
}

func TestDiffReader_MissingFile(t *testing.T) {
	reader, err := OpenDiffReader(filepath.Join(t.TempDir(), "nope.bin"))
	require.NoError(t, err)
	_, err = reader.Next()
	assert.ErrorIs(t, err, io.EOF)
	assert.NoError(t, reader.Close())
}

func TestDiffReader_Truncated(t *testing.T) {
	full, _ := Record{TimestampMs: 7, Offset: 1, Color: '1'}.MarshalBinary()
	stream := append(append([]byte{}, full...), full[:5]...)

	reader := NewDiffReader(bytes.NewReader(stream))
	_, err := reader.Next()
	require.NoError(t, err)
	_, err = reader.Next()
	assert.ErrorIs(t, err, ErrTruncatedRecord)
}

func TestDiffLog_AppendIOError(t *testing.T) {
	log := NewDiffLog(filepath.Join(t.TempDir(), "missing-dir", "diffs.bin"))
	assert.ErrorIs(t, log.Append(Record{}), ErrIO)
}

// =============================================================================
// BoardWatcher Tests
// =============================================================================

func TestBoardWatcher_ReportsExternalGrowth(t *testing.T) {
	b := newTestBoard(t, "0000")

	resized := make(chan int64, 4)
	w, err := NewBoardWatcher(b, func(n int64) { resized <- n }, nil)
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	// A placement does not change the length and must not be reported.
	require.NoError(t, b.WriteAt(1, '5'))
	_, err = b.Provision(8, '0')
	require.NoError(t, err)

	select {
	case n := <-resized:
		assert.Equal(t, int64(8), n)
	case <-time.After(5 * time.Second):
		t.Fatal("resize was not reported")
	}
}
