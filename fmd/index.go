package fmd

import "github.com/juju/errors"

// Lookup returns the offset of the latest valid create/update record for
// (fsid, fid), or ok=false if there is none (spec.md §4.5). A read lock
// suffices.
func (e *Engine) Lookup(fsid uint32, fid uint64) (offset int64, ok bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	st, exists := e.logs[fsid]
	if !exists {
		return 0, false
	}
	off, ok := st.index[fid]
	return off, ok
}

// LastSize returns the last observed size for fid, cleared on delete
// (spec.md §3 "FmdSize").
func (e *Engine) LastSize(fid uint64) (uint64, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	size, ok := e.fmdSize[fid]
	return size, ok
}

// nextSequence returns st.nextSeq+1 and advances it. Callers must hold
// e.mu for writing.
func (st *logState) nextSequence() uint64 {
	st.nextSeq++
	return st.nextSeq
}

// stateFor returns the logState for fsid or a not-attached error.
// Callers must hold e.mu (read or write, as appropriate).
func (e *Engine) stateFor(fsid uint32) (*logState, error) {
	st, ok := e.logs[fsid]
	if !ok {
		return nil, errors.Annotatef(ErrNotFound, "fsid %d has no attached log", fsid)
	}
	return st, nil
}
