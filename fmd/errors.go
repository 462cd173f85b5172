package fmd

import "errors"

// Record errors (spec.md §7): local to a single record. Replay counts and
// skips; mutation/commit paths treat them as fatal for that one record.
var (
	ErrBadMagic              = errors.New("fmd: unrecognized record magic")
	ErrCrcMismatch           = errors.New("fmd: record crc32 mismatch")
	ErrSequenceRegression    = errors.New("fmd: sequence number did not increase")
	ErrHeaderTrailerMismatch = errors.New("fmd: sequence_header != sequence_trailer")
)

// Log errors: prevent the per-fsid engine from becoming operational.
var (
	ErrVersionMismatch = errors.New("fmd: log header version mismatch")
	ErrHeaderShortRead = errors.New("fmd: short read on log header")
	ErrLogTooLarge     = errors.New("fmd: log exceeds configured sanity cap")
	ErrLogMissing      = errors.New("fmd: log missing and fsck_only forbids creation")
)

// Index errors.
var (
	// ErrDoubleDelete documents the taxonomy entry for a delete of a fid
	// with no indexed entry (spec.md §7). It is never returned: both
	// Engine.Delete and the replay scanner treat this as non-fatal and
	// only log a warning, per spec.md §8 property 4.
	ErrDoubleDelete  = errors.New("fmd: delete of fid with no indexed entry")
	ErrCorruptRecord = errors.New("fmd: on-disk fid/fsid disagrees with index key")
)

// Mutation-API errors (C6).
var (
	ErrNotFound = errors.New("fmd: fid not present and writable=false")
)

// Trim errors (C7).
var (
	ErrTrimInconsistent = errors.New("fmd: offset not present in trim translation table")
)

// Wire errors (C8/C9).
var (
	ErrParse      = errors.New("fmd: env record parse failure")
	ErrTransport  = errors.New("fmd: peer transport failure")
	ErrNotPresent = errors.New("fmd: peer reports record not present")
	ErrMismatch   = errors.New("fmd: peer response fid does not match request")
)
