package fmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/juju/errors"

	"github.com/zhukovaskychina/xfmd/logger"
)

// Trim compacts fsid's active log to one record per live fid, without
// holding the write lock across the bulk copy phase (spec.md §4.7,
// §5). On any failure before the rename the old log is left untouched.
func (e *Engine) Trim(fsid uint32) error {
	e.mu.Lock()
	st, err := e.stateFor(fsid)
	if err != nil {
		e.mu.Unlock()
		return err
	}

	type liveEntry struct {
		fid    uint64
		offset int64
	}
	live := make([]liveEntry, 0, len(st.index))
	for fid, off := range st.index {
		live = append(live, liveEntry{fid, off})
	}
	sort.Slice(live, func(i, j int) bool { return live[i].offset < live[j].offset })

	tailBefore, err := st.appendFd.Seek(0, io.SeekEnd)
	if err != nil {
		e.mu.Unlock()
		return errors.Annotate(err, "fmd: snapshot tail_before")
	}

	oldPath := st.path
	newPrefix := filepath.Join(filepath.Dir(oldPath), fmt.Sprintf("fmd.%d", time.Now().Unix()))
	newPath := fmt.Sprintf("%s.%04d.mdlog", newPrefix, fsid)
	tmpPath := newPath + ".tmp"

	tmpFd, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0644)
	if err != nil {
		e.mu.Unlock()
		return errors.Annotate(err, "fmd: create trim tmp file")
	}
	if err := WriteHeader(tmpFd, NewHeader(fsid)); err != nil {
		tmpFd.Close()
		os.Remove(tmpPath)
		e.mu.Unlock()
		return err
	}

	oldReadDup, err := os.Open(oldPath)
	if err != nil {
		tmpFd.Close()
		os.Remove(tmpPath)
		e.mu.Unlock()
		return errors.Annotate(err, "fmd: dup read descriptor for trim")
	}

	// The bulk copy (step 3) runs without the write lock: concurrent
	// Commit/Delete on this or other fsids proceed normally (spec.md §5).
	e.mu.Unlock()

	abort := func(cause error) error {
		oldReadDup.Close()
		tmpFd.Close()
		os.Remove(tmpPath)
		return cause
	}

	translation := make(map[int64]int64, len(live))
	cursor := int64(HeaderSize)
	buf := make([]byte, RecordSize)
	for _, le := range live {
		if _, err := oldReadDup.ReadAt(buf, le.offset); err != nil {
			return abort(errors.Annotatef(err, "fmd: trim read fid=%#x offset=%d", le.fid, le.offset))
		}
		if _, err := tmpFd.WriteAt(buf, cursor); err != nil {
			return abort(errors.Annotatef(err, "fmd: trim write fid=%#x", le.fid))
		}
		translation[le.offset] = cursor
		cursor += RecordSize
	}
	sizeAfterBulk := cursor

	e.mu.Lock()

	tailNow, err := st.appendFd.Seek(0, io.SeekEnd)
	if err != nil {
		e.mu.Unlock()
		return abort(errors.Annotate(err, "fmd: snapshot tail_now"))
	}
	if tailLen := tailNow - tailBefore; tailLen > 0 {
		tailBuf := make([]byte, tailLen)
		if _, err := st.readFd.ReadAt(tailBuf, tailBefore); err != nil {
			e.mu.Unlock()
			return abort(errors.Annotate(err, "fmd: read tail written during trim"))
		}
		if _, err := tmpFd.WriteAt(tailBuf, sizeAfterBulk); err != nil {
			e.mu.Unlock()
			return abort(errors.Annotate(err, "fmd: splice tail into trimmed log"))
		}
	}
	shift := tailBefore - sizeAfterBulk

	newIndex := make(map[uint64]int64, len(st.index))
	for fid, off := range st.index {
		if off >= tailBefore {
			newIndex[fid] = off - shift
			continue
		}
		newOff, ok := translation[off]
		if !ok {
			e.mu.Unlock()
			return abort(errors.Annotatef(ErrTrimInconsistent, "fsid=%d fid=%#x offset=%d not in translation table", fsid, fid, off))
		}
		newIndex[fid] = newOff
	}

	if err := tmpFd.Sync(); err != nil {
		e.mu.Unlock()
		return abort(errors.Annotate(err, "fmd: sync trimmed log"))
	}
	if err := os.Rename(tmpPath, newPath); err != nil {
		e.mu.Unlock()
		return abort(errors.Annotate(err, "fmd: install trimmed log"))
	}

	newAppendFd, err := os.OpenFile(newPath, os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		e.mu.Unlock()
		oldReadDup.Close()
		tmpFd.Close()
		return errors.Annotate(err, "fmd: reopen append descriptor for trimmed log")
	}
	if _, err := newAppendFd.Seek(0, io.SeekEnd); err != nil {
		e.mu.Unlock()
		newAppendFd.Close()
		oldReadDup.Close()
		tmpFd.Close()
		return errors.Annotate(err, "fmd: seek trimmed append descriptor")
	}
	newReadFd, err := os.OpenFile(newPath, os.O_RDONLY, 0)
	if err != nil {
		e.mu.Unlock()
		newAppendFd.Close()
		oldReadDup.Close()
		tmpFd.Close()
		return errors.Annotate(err, "fmd: open read descriptor for trimmed log")
	}

	oldAppendFd, oldReadFd := st.appendFd, st.readFd
	st.appendFd, st.readFd = newAppendFd, newReadFd
	st.path = newPath
	st.index = newIndex

	oldAppendFd.Close()
	oldReadFd.Close()
	tmpFd.Close()
	oldReadDup.Close()

	e.mu.Unlock()

	logger.Component("trim").Fsid(fsid).Infof("%d live records, %s -> %s", len(live), oldPath, newPath)
	e.archiveRolledLog(oldPath)

	return nil
}
