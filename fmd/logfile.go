// Package fmd implements the per-filesystem File-Metadata changelog
// engine: a durable, CRC-protected append-only log of file-metadata
// records plus the in-memory index built from it.
package fmd

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/zhukovaskychina/xfmd/logger"
)

// Options configures an Engine (spec.md §6 "Configuration").
type Options struct {
	ChangelogDir       string
	MaxLogBytes        int64
	ForceVersion       bool
	DumpOnReplay       bool
	FsckOnly           bool
	PeerTimeoutSeconds int
}

// DefaultMaxLogBytes is the sanity cap replay enforces unless overridden
// (spec.md §4.4): 6 GiB.
const DefaultMaxLogBytes = 6 << 30

// DefaultPeerTimeoutSeconds is C9's fixed request deadline.
const DefaultPeerTimeoutSeconds = 10

func (o Options) withDefaults() Options {
	if o.MaxLogBytes == 0 {
		o.MaxLogBytes = DefaultMaxLogBytes
	}
	if o.PeerTimeoutSeconds == 0 {
		o.PeerTimeoutSeconds = DefaultPeerTimeoutSeconds
	}
	return o
}

// logState is the per-filesystem descriptor pair and index, exclusively
// owned by the engine (spec.md §9's "typed per-fsid state record").
type logState struct {
	fsid     uint32
	path     string
	readFd   *os.File
	appendFd *os.File
	index    map[uint64]int64 // fid -> offset of latest live record
	nextSeq  uint64
}

// Engine is the FMD changelog engine for one node's set of local
// filesystems. The zero value is not usable; construct with NewEngine.
type Engine struct {
	mu      sync.RWMutex
	opts    Options
	logs    map[uint32]*logState
	fmdSize map[uint64]uint64 // fid -> last observed size (spec.md §3)
}

// NewEngine constructs an engine with the given options.
func NewEngine(opts Options) *Engine {
	return &Engine{
		opts:    opts.withDefaults(),
		logs:    make(map[uint32]*logState),
		fmdSize: make(map[uint64]uint64),
	}
}

var logNamePattern = regexp.MustCompile(`^fmd\.(\d+)\.(\d{4})\.mdlog$`)

func logFileName(seconds int64, fsid uint32) string {
	return fmt.Sprintf("fmd.%d.%04d.mdlog", seconds, fsid)
}

// AttachLatest lists dir, selects the newest log matching fsid's naming
// pattern by modification time, and attaches it; if none exists it
// deterministically creates a new one (spec.md §4.3).
func (e *Engine) AttachLatest(dir string, fsid uint32) error {
	entries, err := os.ReadDir(dir)
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "fmd: list changelog dir")
	}

	type candidate struct {
		name    string
		modTime time.Time
	}
	var candidates []candidate
	for _, ent := range entries {
		if ent.IsDir() {
			continue
		}
		m := logNamePattern.FindStringSubmatch(ent.Name())
		if m == nil {
			continue
		}
		if m[2] != fmt.Sprintf("%04d", fsid) {
			continue
		}
		info, err := ent.Info()
		if err != nil {
			continue
		}
		candidates = append(candidates, candidate{ent.Name(), info.ModTime()})
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].modTime.After(candidates[j].modTime)
	})

	var prefix string
	if len(candidates) > 0 {
		name := candidates[0].name
		m := logNamePattern.FindStringSubmatch(name)
		prefix = filepath.Join(dir, "fmd."+m[1])
	} else {
		prefix = filepath.Join(dir, fmt.Sprintf("fmd.%d", time.Now().Unix()))
	}
	return e.SetLog(prefix, fsid)
}

// SetLog closes any previously open descriptors for fsid and opens
// "<pathPrefix>.<4-digit-fsid>.mdlog" for read and append, creating it
// (and writing its header) if missing, unless FsckOnly forbids creation
// (spec.md §4.3). It then replays the log to rebuild the index.
func (e *Engine) SetLog(pathPrefix string, fsid uint32) error {
	full := fmt.Sprintf("%s.%04d.mdlog", pathPrefix, fsid)

	e.mu.Lock()
	defer e.mu.Unlock()

	if prev, ok := e.logs[fsid]; ok {
		prev.readFd.Close()
		prev.appendFd.Close()
		delete(e.logs, fsid)
	}

	_, statErr := os.Stat(full)
	missing := os.IsNotExist(statErr)
	if missing && e.opts.FsckOnly {
		return errors.Wrap(ErrLogMissing, full)
	}

	appendFlags := os.O_RDWR | os.O_APPEND
	if missing {
		appendFlags |= os.O_CREATE
	}
	appendFd, err := os.OpenFile(full, appendFlags, 0644)
	if err != nil {
		return errors.Wrapf(err, "fmd: open append descriptor %s", full)
	}
	readFd, err := os.OpenFile(full, os.O_RDONLY, 0)
	if err != nil {
		appendFd.Close()
		return errors.Wrapf(err, "fmd: open read descriptor %s", full)
	}
	if _, err := appendFd.Seek(0, os.SEEK_END); err != nil {
		appendFd.Close()
		readFd.Close()
		return errors.Wrap(err, "fmd: seek append descriptor to end")
	}

	if missing {
		// WriteHeader writes at offset 0, which os.File refuses on an
		// O_APPEND descriptor, so the header goes through its own one.
		hdrFd, err := os.OpenFile(full, os.O_WRONLY, 0)
		if err != nil {
			appendFd.Close()
			readFd.Close()
			return errors.Wrapf(err, "fmd: open header descriptor %s", full)
		}
		err = WriteHeader(hdrFd, NewHeader(fsid))
		hdrFd.Close()
		if err != nil {
			appendFd.Close()
			readFd.Close()
			return err
		}
		logger.Component("logfile").Fsid(fsid).Infof("created new changelog %s", full)
	}

	st := &logState{
		fsid:     fsid,
		path:     full,
		readFd:   readFd,
		appendFd: appendFd,
		index:    make(map[uint64]int64),
	}
	e.logs[fsid] = st

	report, err := e.doReplay(st)
	if err != nil {
		return err
	}
	if e.opts.DumpOnReplay || e.opts.FsckOnly {
		dumpReport(report, e.opts.FsckOnly)
	}
	return nil
}

// descriptorCount reports how many fsids this engine currently has open
// descriptors for — used by tests checking that attaching a log adds one
// entry per fsid.
func (e *Engine) descriptorCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.logs)
}
