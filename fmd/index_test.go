package fmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupUnknownFsidReturnsFalse(t *testing.T) {
	e, _ := newTestEngine(t)
	_, ok := e.Lookup(99, 1)
	assert.False(t, ok)
}

func TestLookupAndLastSizeTrackMutations(t *testing.T) {
	e, dir := newTestEngine(t)
	require.NoError(t, e.AttachLatest(dir, 2))

	rec, err := e.GetOrCreate(2, 0x10, 1, 1, 1, true)
	require.NoError(t, err)
	rec.Size = 512
	require.NoError(t, e.Commit(rec))

	off, ok := e.Lookup(2, 0x10)
	assert.True(t, ok)
	assert.GreaterOrEqual(t, off, int64(HeaderSize))

	size, ok := e.LastSize(0x10)
	assert.True(t, ok)
	assert.Equal(t, uint64(512), size)

	require.NoError(t, e.Delete(2, 0x10))
	_, ok = e.Lookup(2, 0x10)
	assert.False(t, ok)
	_, ok = e.LastSize(0x10)
	assert.False(t, ok)
}

func TestNextSequenceIsMonotonic(t *testing.T) {
	st := &logState{}
	var last uint64
	for i := 0; i < 5; i++ {
		seq := st.nextSequence()
		assert.Greater(t, seq, last)
		last = seq
	}
}
