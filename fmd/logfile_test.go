package fmd

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) (*Engine, string) {
	t.Helper()
	dir := t.TempDir()
	e := NewEngine(Options{ChangelogDir: dir})
	return e, dir
}

func TestAttachLatestCreatesNewLogWhenNoneExists(t *testing.T) {
	e, dir := newTestEngine(t)

	require.NoError(t, e.AttachLatest(dir, 1))
	assert.Equal(t, 1, e.descriptorCount())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.NotEmpty(t, entries)
}

func TestAttachLatestPicksNewestMatchingFsid(t *testing.T) {
	e, dir := newTestEngine(t)

	older := filepath.Join(dir, "fmd.100.0002.mdlog")
	newer := filepath.Join(dir, "fmd.200.0002.mdlog")
	for _, p := range []string{older, newer} {
		f, err := os.Create(p)
		require.NoError(t, err)
		require.NoError(t, WriteHeader(f, NewHeader(2)))
		f.Close()
	}
	// Ensure distinct, ordered modification times regardless of filesystem
	// timestamp resolution.
	now := time.Now()
	require.NoError(t, os.Chtimes(older, now, now))
	require.NoError(t, os.Chtimes(newer, now.Add(time.Second), now.Add(time.Second)))

	require.NoError(t, e.AttachLatest(dir, 2))
	assert.Equal(t, 1, e.descriptorCount())
	assert.Equal(t, newer, e.logs[2].path)
}

func TestSetLogRejectsMissingWhenFsckOnly(t *testing.T) {
	dir := t.TempDir()
	e := NewEngine(Options{ChangelogDir: dir, FsckOnly: true})

	err := e.SetLog(filepath.Join(dir, "fmd.1"), 5)
	assert.ErrorIs(t, err, ErrLogMissing)
}
