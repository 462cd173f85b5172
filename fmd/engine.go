package fmd

import (
	"io"
	"time"

	"github.com/juju/errors"

	"github.com/zhukovaskychina/xfmd/logger"
)

// appendRecord serializes rec and appends it to st's append descriptor,
// returning the offset it was written at. Callers must hold e.mu for
// writing. A short write leaves the partial bytes in the file — they are
// rejected by the next replay's CRC/sequence check and the index is left
// untouched by the caller (spec.md §4.6 "Failure mode").
func (e *Engine) appendRecord(st *logState, rec *Record) (int64, error) {
	offset, err := st.appendFd.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, errors.Annotate(err, "fmd: seek append descriptor")
	}
	data := Serialize(rec)
	n, err := st.appendFd.Write(data)
	if err != nil {
		return 0, errors.Annotate(err, "fmd: append record")
	}
	if n != len(data) {
		return 0, errors.Annotatef(io.ErrShortWrite, "fmd: short append (%d of %d bytes)", n, len(data))
	}
	return offset, nil
}

// GetOrCreate returns the current record for (fsid, fid). If none exists
// and writable is true, it composes and appends a fresh CREATE record;
// otherwise it reports ErrNotFound (spec.md §4.6).
func (e *Engine) GetOrCreate(fsid uint32, fid uint64, uid, gid, layoutID uint32, writable bool) (*Record, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, err := e.stateFor(fsid)
	if err != nil {
		return nil, err
	}

	if off, ok := st.index[fid]; ok {
		rec, err := e.readAt(st, off)
		if err != nil {
			return nil, errors.Annotatef(err, "fmd: read existing record fsid=%d fid=%#x", fsid, fid)
		}
		if rec.Fid != fid || rec.Fsid != fsid {
			return nil, errors.Annotatef(ErrCorruptRecord, "fsid=%d fid=%#x index points at fsid=%d fid=%#x", fsid, fid, rec.Fsid, rec.Fid)
		}
		return rec, nil
	}

	if !writable {
		return nil, errors.Annotatef(ErrNotFound, "fsid=%d fid=%#x", fsid, fid)
	}

	now := time.Now()
	rec := &Record{
		Magic:          MagicCreateOrUpdate,
		Fid:            fid,
		Fsid:           fsid,
		Ctime:          now.Unix(),
		CtimeNs:        int64(now.Nanosecond()),
		Mtime:          now.Unix(),
		MtimeNs:        int64(now.Nanosecond()),
		LayoutID:       layoutID,
		UID:            uid,
		GID:            gid,
		SequenceHeader: st.nextSequence(),
	}
	offset, err := e.appendRecord(st, rec)
	if err != nil {
		return nil, errors.Annotatef(err, "fmd: create fsid=%d fid=%#x", fsid, fid)
	}
	st.index[fid] = offset
	e.fmdSize[fid] = rec.Size
	return rec, nil
}

// Commit persists an updated record: it refreshes Mtime, stamps a fresh
// sequence number, appends, and updates the index (spec.md §4.6).
func (e *Engine) Commit(rec *Record) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, err := e.stateFor(rec.Fsid)
	if err != nil {
		return err
	}

	now := time.Now()
	rec.Mtime = now.Unix()
	rec.MtimeNs = int64(now.Nanosecond())
	rec.SequenceHeader = st.nextSequence()

	offset, err := e.appendRecord(st, rec)
	if err != nil {
		return errors.Annotatef(err, "fmd: commit fsid=%d fid=%#x", rec.Fsid, rec.Fid)
	}
	st.index[rec.Fid] = offset
	e.fmdSize[rec.Fid] = rec.Size
	return nil
}

// Delete tombstones (fsid, fid): it reads the current record, rewrites it
// with magic DELETE and size 0, appends, and erases the index entry. If
// no entry is indexed it logs a DoubleDelete warning and returns nil —
// idempotent, not failing (spec.md §4.6, property 4).
func (e *Engine) Delete(fsid uint32, fid uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, err := e.stateFor(fsid)
	if err != nil {
		return err
	}

	off, ok := st.index[fid]
	if !ok {
		logger.Component("delete").Fsid(fsid).Warnf("double delete fid=%#x", fid)
		return nil
	}

	rec, err := e.readAt(st, off)
	if err != nil {
		return errors.Annotatef(err, "fmd: read record to delete fsid=%d fid=%#x", fsid, fid)
	}
	rec.MarkDeleted()
	now := time.Now()
	rec.Mtime = now.Unix()
	rec.MtimeNs = int64(now.Nanosecond())
	rec.SequenceHeader = st.nextSequence()

	if _, err := e.appendRecord(st, rec); err != nil {
		return errors.Annotatef(err, "fmd: delete fsid=%d fid=%#x", fsid, fid)
	}
	delete(st.index, fid)
	delete(e.fmdSize, fid)
	return nil
}

// readAt reads and parses one record at offset off in st's log. Callers
// must hold e.mu.
func (e *Engine) readAt(st *logState, off int64) (*Record, error) {
	buf := make([]byte, RecordSize)
	if _, err := st.readFd.ReadAt(buf, off); err != nil {
		return nil, errors.Annotate(err, "fmd: read record")
	}
	return Parse(buf)
}

// SyncAll iterates every open append descriptor and fsyncs it, continuing
// past individual failures and returning the first error encountered
// (spec.md §4.6, supplemented per original_source/common/SyncAll.hh).
func (e *Engine) SyncAll() error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var first error
	for fsid, st := range e.logs {
		if err := st.appendFd.Sync(); err != nil && first == nil {
			first = errors.Annotatef(err, "fmd: sync fsid=%d", fsid)
		}
	}
	return first
}
