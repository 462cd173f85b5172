package fmd

import (
	"encoding/binary"
	"os"
	"time"

	"github.com/pkg/errors"
)

// HeaderMagic marks the start of every log file.
const HeaderMagic uint64 = 0x464d44484452

// LogVersion is the version string this engine writes and expects on
// open, unless the caller forces past a mismatch.
const LogVersion = "fmd-changelog-v1"

const versionWidth = 32

// HeaderSize is the fixed width of the log header, written at offset 0.
const HeaderSize = 8 + versionWidth + 8 + 4

// Header describes the first HeaderSize bytes of every log file
// (spec.md §3).
type Header struct {
	Magic     uint64
	Version   string
	CreatedAt int64
	Fsid      uint32
}

// NewHeader builds a header for a freshly created log.
func NewHeader(fsid uint32) Header {
	return Header{
		Magic:     HeaderMagic,
		Version:   LogVersion,
		CreatedAt: time.Now().UnixNano(),
		Fsid:      fsid,
	}
}

// WriteHeader positions to offset 0 and writes h (spec.md §4.2).
func WriteHeader(f *os.File, h Header) error {
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint64(buf[0:8], h.Magic)
	vb := []byte(h.Version)
	if len(vb) > versionWidth {
		vb = vb[:versionWidth]
	}
	copy(buf[8:8+versionWidth], vb)
	binary.LittleEndian.PutUint64(buf[8+versionWidth:8+versionWidth+8], uint64(h.CreatedAt))
	binary.LittleEndian.PutUint32(buf[8+versionWidth+8:], h.Fsid)

	if _, err := f.WriteAt(buf, 0); err != nil {
		return errors.Wrap(err, "fmd: write log header")
	}
	return nil
}

// ReadHeader positions to offset 0, verifies the magic, and — unless
// ignoreVersion is set — the version string (spec.md §4.2).
func ReadHeader(f *os.File, ignoreVersion bool) (Header, error) {
	buf := make([]byte, HeaderSize)
	n, err := f.ReadAt(buf, 0)
	if err != nil && n < HeaderSize {
		return Header{}, errors.Wrap(ErrHeaderShortRead, err.Error())
	}

	h := Header{
		Magic:     binary.LittleEndian.Uint64(buf[0:8]),
		Version:   stringFromNulPadded(buf[8 : 8+versionWidth]),
		CreatedAt: int64(binary.LittleEndian.Uint64(buf[8+versionWidth : 8+versionWidth+8])),
		Fsid:      binary.LittleEndian.Uint32(buf[8+versionWidth+8:]),
	}
	if h.Magic != HeaderMagic {
		return Header{}, ErrBadMagic
	}
	if !ignoreVersion && h.Version != LogVersion {
		return Header{}, ErrVersionMismatch
	}
	return h, nil
}

func stringFromNulPadded(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
