package fmd

import (
	"io"
	"os"

	"github.com/golang/snappy"

	"github.com/zhukovaskychina/xfmd/logger"
)

// archiveRolledLog compresses a log the trimmer has just superseded into
// a ".snappy" sidecar so predecessors retained for audit (spec.md §3
// "Lifecycle") don't grow unbounded on disk. It never touches the
// original file and is best-effort: failures are logged, not returned,
// since the trim itself already succeeded.
func (e *Engine) archiveRolledLog(path string) {
	src, err := os.Open(path)
	if err != nil {
		logger.Component("archive").Warnf("cannot open %s: %v", path, err)
		return
	}
	defer src.Close()

	dstPath := path + ".snappy"
	dst, err := os.OpenFile(dstPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		logger.Component("archive").Warnf("cannot create %s: %v", dstPath, err)
		return
	}
	defer dst.Close()

	w := snappy.NewBufferedWriter(dst)
	if _, err := io.Copy(w, src); err != nil {
		logger.Component("archive").Warnf("compress failed for %s: %v", path, err)
		os.Remove(dstPath)
		return
	}
	if err := w.Close(); err != nil {
		logger.Component("archive").Warnf("flush failed for %s: %v", path, err)
		os.Remove(dstPath)
		return
	}
	logger.Component("archive").Infof("archived rolled-off log %s -> %s", path, dstPath)
}
