package fmd

import (
	"time"

	"github.com/pkg/errors"

	"github.com/zhukovaskychina/xfmd/logger"
)

// ReplayReport summarizes one pass of the recovery/replay scanner
// (spec.md §4.4), including the fsck-mode per-class error counts.
type ReplayReport struct {
	Fsid                  uint32
	Elapsed               time.Duration
	TotalRecords          int
	BadMagic              int
	CrcMismatch           int
	SequenceRegression    int
	HeaderTrailerMismatch int
	DoubleDelete          int
	Records               []*Record // populated only when DumpOnReplay is set
}

// Clean reports whether the scan found zero faulty records — replay is
// best-effort and only "succeeds" in this stronger sense when every slot
// parsed (spec.md §4.4 step 5).
func (r ReplayReport) Clean() bool {
	return r.BadMagic == 0 && r.CrcMismatch == 0 &&
		r.SequenceRegression == 0 && r.HeaderTrailerMismatch == 0
}

// doReplay scans st's log start-to-end in a single pass, rebuilding
// st.index and e.fmdSize. Callers must hold e.mu for writing — this is
// invoked from SetLog while attaching a log.
func (e *Engine) doReplay(st *logState) (ReplayReport, error) {
	startT := time.Now()
	report := ReplayReport{Fsid: st.fsid}

	info, err := st.readFd.Stat()
	if err != nil {
		return report, errors.Wrap(err, "fmd: stat log for replay")
	}
	if info.Size() > e.opts.MaxLogBytes {
		return report, errors.Wrapf(ErrLogTooLarge, "%s is %d bytes, cap is %d", st.path, info.Size(), e.opts.MaxLogBytes)
	}

	header, err := ReadHeader(st.readFd, e.opts.ForceVersion)
	if err != nil {
		return report, err
	}

	cursor := int64(HeaderSize)
	var nextSeq uint64
	buf := make([]byte, RecordSize)

	for {
		n, rerr := st.readFd.ReadAt(buf, cursor)
		if n < RecordSize {
			// Truncated trailing record: best-effort replay stops here
			// without error (spec.md §6, property 6).
			break
		}
		_ = rerr

		rec, perr := Parse(buf)
		if perr == nil && rec.Fsid != header.Fsid {
			perr = ErrBadMagic
		}
		if perr == nil && rec.SequenceHeader <= nextSeq {
			perr = ErrSequenceRegression
		}
		if perr != nil {
			switch errors.Cause(perr) {
			case ErrCrcMismatch:
				report.CrcMismatch++
			case ErrSequenceRegression:
				report.SequenceRegression++
			case ErrHeaderTrailerMismatch:
				report.HeaderTrailerMismatch++
			default:
				report.BadMagic++
			}
			cursor += RecordSize
			continue
		}

		if rec.IsDelete() {
			if _, existed := st.index[rec.Fid]; !existed {
				report.DoubleDelete++
				logger.Component("replay").Fsid(st.fsid).Warnf("double delete fid=%#x", rec.Fid)
			} else {
				delete(st.index, rec.Fid)
			}
			delete(e.fmdSize, rec.Fid)
		} else {
			st.index[rec.Fid] = cursor
			e.fmdSize[rec.Fid] = rec.Size
		}

		if e.opts.DumpOnReplay {
			report.Records = append(report.Records, rec)
		}

		nextSeq = rec.SequenceHeader
		report.TotalRecords++
		cursor += RecordSize
	}

	st.nextSeq = nextSeq
	report.Elapsed = time.Since(startT)
	return report, nil
}
