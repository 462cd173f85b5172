package fmd

import (
	"crypto/sha1"
	"encoding/binary"
	"hash/crc32"

	"github.com/pkg/errors"

	"github.com/zhukovaskychina/xfmd/internal/wire"
)

// Magic values (spec.md §3). The on-disk representation is always one of
// these two 64-bit constants; Go expresses the tagged-variant design note
// of spec.md §9 as a type with two recognized values instead of a raw
// uint64 sentinel scattered across call sites.
type Magic uint64

const (
	MagicCreateOrUpdate Magic = 0x464d44435245415e
	MagicDelete         Magic = 0x464d44444c455445
)

// ChecksumSize is the fixed width of the content digest slot. spec.md §9
// notes the source quotes both 20 and 64 bytes; the on-disk slot is
// authoritative at 20, matching crypto/sha1.Size.
const ChecksumSize = sha1.Size

const (
	nameWidth      = wire.MaxASCIILen + 1
	containerWidth = wire.MaxASCIILen + 1
)

// RecordSize is the compile-time fixed width of one on-disk FMD record.
const RecordSize = 8 + 8 + 8 + 8 + 4 + 8 + 8 + 8 + 8 + 8 + 4 + 4 + 4 + nameWidth + containerWidth + ChecksumSize + 4 + 8

const (
	offMagic           = 0
	offSequenceHeader  = offMagic + 8
	offFid             = offSequenceHeader + 8
	offCid             = offFid + 8
	offFsid            = offCid + 8
	offCtime           = offFsid + 4
	offCtimeNs         = offCtime + 8
	offMtime           = offCtimeNs + 8
	offMtimeNs         = offMtime + 8
	offSize            = offMtimeNs + 8
	offLayoutID        = offSize + 8
	offUID             = offLayoutID + 4
	offGID             = offUID + 4
	offName            = offGID + 4
	offContainer       = offName + nameWidth
	offChecksum        = offContainer + containerWidth
	offCrc32           = offChecksum + ChecksumSize
	offSequenceTrailer = offCrc32 + 4
)

// crcCoverStart/crcCoverEnd bound the byte range the CRC32 covers: all
// record bytes excluding magic, crc32 itself, and sequence_trailer
// (spec.md §3 invariant 2).
const (
	crcCoverStart = offSequenceHeader
	crcCoverEnd   = offCrc32
)

func init() {
	if offSequenceTrailer+8 != RecordSize {
		panic("fmd: record layout miscomputed")
	}
}

// Record is the in-memory representation of one FMD entry. All timestamp
// fields are int64 (spec.md §9 open question, resolved in DESIGN.md).
type Record struct {
	Magic            Magic
	SequenceHeader   uint64
	Fid              uint64
	Cid              uint64
	Fsid             uint32
	Ctime            int64
	CtimeNs          int64
	Mtime            int64
	MtimeNs          int64
	Size             uint64
	LayoutID         uint32
	UID              uint32
	GID              uint32
	Name             string
	Container        string
	Checksum         [ChecksumSize]byte
	Crc32            uint32
	SequenceTrailer  uint64
}

// IsCreateOrUpdate reports whether r's magic marks a live record.
func (r *Record) IsCreateOrUpdate() bool { return r.Magic == MagicCreateOrUpdate }

// IsDelete reports whether r's magic marks a tombstone.
func (r *Record) IsDelete() bool { return r.Magic == MagicDelete }

// MarkDeleted turns r into a tombstone in place: magic becomes DELETE and
// size is zeroed (spec.md §4.1).
func (r *Record) MarkDeleted() {
	r.Magic = MagicDelete
	r.Size = 0
}

// Serialize encodes r into a fresh RecordSize-byte buffer. It recomputes
// Crc32 from the covered byte range and sets SequenceTrailer equal to
// SequenceHeader before encoding, per spec.md §4.1 — callers do not need
// to stamp these themselves.
func Serialize(r *Record) []byte {
	r.SequenceTrailer = r.SequenceHeader

	buf := make([]byte, RecordSize)
	binary.LittleEndian.PutUint64(buf[offMagic:], uint64(r.Magic))
	binary.LittleEndian.PutUint64(buf[offSequenceHeader:], r.SequenceHeader)
	binary.LittleEndian.PutUint64(buf[offFid:], r.Fid)
	binary.LittleEndian.PutUint64(buf[offCid:], r.Cid)
	binary.LittleEndian.PutUint32(buf[offFsid:], r.Fsid)
	binary.LittleEndian.PutUint64(buf[offCtime:], uint64(r.Ctime))
	binary.LittleEndian.PutUint64(buf[offCtimeNs:], uint64(r.CtimeNs))
	binary.LittleEndian.PutUint64(buf[offMtime:], uint64(r.Mtime))
	binary.LittleEndian.PutUint64(buf[offMtimeNs:], uint64(r.MtimeNs))
	binary.LittleEndian.PutUint64(buf[offSize:], r.Size)
	binary.LittleEndian.PutUint32(buf[offLayoutID:], r.LayoutID)
	binary.LittleEndian.PutUint32(buf[offUID:], r.UID)
	binary.LittleEndian.PutUint32(buf[offGID:], r.GID)
	wire.PutASCII(buf[offName:offName+nameWidth], nameWidth, r.Name)
	wire.PutASCII(buf[offContainer:offContainer+containerWidth], containerWidth, r.Container)
	copy(buf[offChecksum:offChecksum+ChecksumSize], r.Checksum[:])

	r.Crc32 = crc32.ChecksumIEEE(buf[crcCoverStart:crcCoverEnd])
	binary.LittleEndian.PutUint32(buf[offCrc32:], r.Crc32)
	binary.LittleEndian.PutUint64(buf[offSequenceTrailer:], r.SequenceTrailer)

	return buf
}

// Parse validates and decodes one RecordSize-byte slot, enforcing record
// invariants 1-3 of spec.md §3 (magic, CRC, header/trailer equality).
// Invariants 4 (sequence monotonicity relative to the previous record)
// and 5 (fsid matches the log header) are the caller's responsibility
// since Parse sees one record in isolation; the replay scanner checks both.
func Parse(buf []byte) (*Record, error) {
	if len(buf) < RecordSize {
		return nil, errors.Wrap(ErrBadMagic, "short record buffer")
	}
	buf = buf[:RecordSize]

	r := &Record{
		Magic:           Magic(binary.LittleEndian.Uint64(buf[offMagic:])),
		SequenceHeader:  binary.LittleEndian.Uint64(buf[offSequenceHeader:]),
		Fid:             binary.LittleEndian.Uint64(buf[offFid:]),
		Cid:             binary.LittleEndian.Uint64(buf[offCid:]),
		Fsid:            binary.LittleEndian.Uint32(buf[offFsid:]),
		Ctime:           int64(binary.LittleEndian.Uint64(buf[offCtime:])),
		CtimeNs:         int64(binary.LittleEndian.Uint64(buf[offCtimeNs:])),
		Mtime:           int64(binary.LittleEndian.Uint64(buf[offMtime:])),
		MtimeNs:         int64(binary.LittleEndian.Uint64(buf[offMtimeNs:])),
		Size:            binary.LittleEndian.Uint64(buf[offSize:]),
		LayoutID:        binary.LittleEndian.Uint32(buf[offLayoutID:]),
		UID:             binary.LittleEndian.Uint32(buf[offUID:]),
		GID:             binary.LittleEndian.Uint32(buf[offGID:]),
		Name:            wire.ASCII(buf[offName : offName+nameWidth]),
		Container:       wire.ASCII(buf[offContainer : offContainer+containerWidth]),
		Crc32:           binary.LittleEndian.Uint32(buf[offCrc32:]),
		SequenceTrailer: binary.LittleEndian.Uint64(buf[offSequenceTrailer:]),
	}
	copy(r.Checksum[:], buf[offChecksum:offChecksum+ChecksumSize])

	if r.Magic != MagicCreateOrUpdate && r.Magic != MagicDelete {
		return nil, ErrBadMagic
	}
	if got := crc32.ChecksumIEEE(buf[crcCoverStart:crcCoverEnd]); got != r.Crc32 {
		return nil, ErrCrcMismatch
	}
	if r.SequenceHeader != r.SequenceTrailer {
		return nil, ErrHeaderTrailerMismatch
	}
	return r, nil
}
