// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/AleutianAI/AleutianCanvas/services/canvas/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// ============================================================================
// Test Helpers
// ============================================================================

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeDiffs(t *testing.T, path string, records ...storage.Record) {
	t.Helper()
	log := storage.NewDiffLog(path)
	for _, rec := range records {
		require.NoError(t, log.Append(rec))
	}
}

// ============================================================================
// provision
// ============================================================================

func TestProvision_CreatesAndGrows(t *testing.T) {
	board := filepath.Join(t.TempDir(), "board.txt")

	out, err := execute(t, "provision", "--board", board, "--size", "4")
	require.NoError(t, err)
	assert.Contains(t, out, "grown from 0 to 4")

	data, err := os.ReadFile(board)
	require.NoError(t, err)
	assert.Equal(t, "0000", string(data))

	_, err = execute(t, "provision", "--board", board, "--size", "6", "--fill", "Purple")
	require.NoError(t, err)
	data, err = os.ReadFile(board)
	require.NoError(t, err)
	assert.Equal(t, "0000??", string(data))

	out, err = execute(t, "provision", "--board", board, "--size", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "nothing to do")
}

func TestProvision_RejectsBadFlags(t *testing.T) {
	board := filepath.Join(t.TempDir(), "board.txt")

	_, err := execute(t, "provision", "--board", board)
	assert.Error(t, err, "size is required")

	_, err = execute(t, "provision", "--board", board, "--size", "0")
	assert.Error(t, err)

	_, err = execute(t, "provision", "--board", board, "--size", "4", "--fill", "Chartreuse")
	assert.Error(t, err)
}

// ============================================================================
// replay
// ============================================================================

func TestReplay_AppliesRecordsInOrder(t *testing.T) {
	dir := t.TempDir()
	diffs := filepath.Join(dir, "diffs.bin")
	out := filepath.Join(dir, "replayed.txt")
	writeDiffs(t, diffs,
		storage.Record{TimestampMs: 1, Offset: 2, Color: '5'},
		storage.Record{TimestampMs: 2, Offset: 0, Color: '='},
		storage.Record{TimestampMs: 3, Offset: 2, Color: '3'},
		storage.Record{TimestampMs: 4, Offset: 9, Color: '1'},
		storage.Record{TimestampMs: 5, Offset: 1, Color: 'z'},
	)

	msg, err := execute(t, "replay", "--diffs", diffs, "--out", out, "--size", "4")
	require.NoError(t, err)
	assert.Contains(t, msg, "replayed 3 records")
	assert.Contains(t, msg, "skipped 1 out of range, 1 invalid")

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "=030", string(data))
}

func TestReplay_RefusesToOverwrite(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "board.txt")
	require.NoError(t, os.WriteFile(out, []byte("5555"), 0o644))

	_, err := execute(t, "replay", "--diffs", filepath.Join(dir, "none.bin"), "--out", out, "--size", "4")
	require.Error(t, err)

	_, err = execute(t, "replay", "--diffs", filepath.Join(dir, "none.bin"), "--out", out, "--size", "4", "--force")
	require.NoError(t, err)
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "0000", string(data), "missing diff log replays to a blank board")
}

func TestReplay_RefusesLiveBoardUnderAnotherSpelling(t *testing.T) {
	dir := t.TempDir()
	board := filepath.Join(dir, "board.txt")
	require.NoError(t, os.WriteFile(board, []byte("5555"), 0o644))

	out := dir + string(filepath.Separator) + "." + string(filepath.Separator) + "board.txt"
	_, err := execute(t, "replay", "--board", board, "--diffs", filepath.Join(dir, "none.bin"), "--out", out, "--size", "4")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "live board")

	data, err := os.ReadFile(board)
	require.NoError(t, err)
	assert.Equal(t, "5555", string(data))
}

func TestSamePath(t *testing.T) {
	dir := t.TempDir()
	board := filepath.Join(dir, "board.txt")
	require.NoError(t, os.WriteFile(board, []byte("0"), 0o644))

	link := filepath.Join(dir, "link.txt")
	require.NoError(t, os.Symlink(board, link))
	assert.True(t, samePath(board, link))
	assert.True(t, samePath(filepath.Join(dir, "new.txt"), filepath.Join(dir, ".", "new.txt")), "missing files compare by absolute path")
	assert.False(t, samePath(board, filepath.Join(dir, "other.txt")))
}

func TestReplay_TruncatedLogFails(t *testing.T) {
	dir := t.TempDir()
	diffs := filepath.Join(dir, "diffs.bin")
	writeDiffs(t, diffs, storage.Record{TimestampMs: 1, Offset: 0, Color: '1'})
	f, err := os.OpenFile(diffs, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.Write([]byte{1, 2, 3})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = execute(t, "replay", "--diffs", diffs, "--out", filepath.Join(dir, "out.txt"), "--size", "2")
	assert.ErrorIs(t, err, storage.ErrTruncatedRecord)
}

// ============================================================================
// inspect
// ============================================================================

func TestInspect_TableAndTail(t *testing.T) {
	diffs := filepath.Join(t.TempDir(), "diffs.bin")
	writeDiffs(t, diffs,
		storage.Record{TimestampMs: 1000000, Offset: 2, Color: '5'},
		storage.Record{TimestampMs: 1301000, Offset: 0, Color: '='},
		storage.Record{TimestampMs: 1400000, Offset: 1, Color: '3'},
	)

	out, err := execute(t, "inspect", "--diffs", diffs)
	require.NoError(t, err)
	assert.Contains(t, out, "Red")
	assert.Contains(t, out, "1301000")
	assert.Contains(t, out, "3 of 3 records")

	out, err = execute(t, "inspect", "--diffs", diffs, "--tail", "2")
	require.NoError(t, err)
	assert.NotContains(t, out, "1000000 ")
	assert.Contains(t, out, "Blue")
	assert.Contains(t, out, "2 of 3 records")
}

func TestInspect_JSONLines(t *testing.T) {
	diffs := filepath.Join(t.TempDir(), "diffs.bin")
	writeDiffs(t, diffs, storage.Record{TimestampMs: 1000000, Offset: 2, Color: '5'})

	out, err := execute(t, "inspect", "--diffs", diffs, "--json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"timestamp":1000000,"index":2,"pixel":"Red"}`, strings.TrimSpace(out))
}

func TestInspect_NegativeTail(t *testing.T) {
	_, err := execute(t, "inspect", "--tail", "-1")
	assert.Error(t, err)
}

// ============================================================================
// config
// ============================================================================

func TestConfig_PrintsEffectiveYAML(t *testing.T) {
	prev := lookupEnv
	lookupEnv = func(key string) (string, bool) {
		if key == "CANVAS_COOLDOWN" {
			return "45s", true
		}
		return "", false
	}
	defer func() { lookupEnv = prev }()

	path := filepath.Join(t.TempDir(), "canvas.yaml")
	require.NoError(t, os.WriteFile(path, []byte("board_path: /srv/board.txt\n"), 0o644))

	out, err := execute(t, "config", "--config", path)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &got))
	assert.Equal(t, "/srv/board.txt", got["board_path"])
	assert.Equal(t, "45s", got["cooldown"])
}
