package fmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func sampleRecord() *Record {
	return &Record{
		Magic:          MagicCreateOrUpdate,
		SequenceHeader: 1,
		Fid:            0xdeadbeef,
		Cid:            42,
		Fsid:           7,
		Ctime:          1690000000,
		CtimeNs:        123,
		Mtime:          1690000001,
		MtimeNs:        456,
		Size:           4096,
		LayoutID:       1,
		UID:            1000,
		GID:            1000,
		Name:           "data.bin",
		Container:      "default",
	}
}

func TestSerializeParseRoundTrip(t *testing.T) {
	rec := sampleRecord()
	buf := Serialize(rec)
	assert.Equal(t, RecordSize, len(buf))

	got, err := Parse(buf)
	assert.NoError(t, err)
	assert.Equal(t, rec.Fid, got.Fid)
	assert.Equal(t, rec.Fsid, got.Fsid)
	assert.Equal(t, rec.Name, got.Name)
	assert.Equal(t, rec.Container, got.Container)
	assert.Equal(t, rec.SequenceHeader, got.SequenceTrailer)
}

func TestParseRejectsCrcTamper(t *testing.T) {
	buf := Serialize(sampleRecord())
	buf[offSize] ^= 0xff

	_, err := Parse(buf)
	assert.ErrorIs(t, err, ErrCrcMismatch)
}

func TestParseRejectsBadMagic(t *testing.T) {
	buf := Serialize(sampleRecord())
	buf[offMagic] ^= 0xff

	_, err := Parse(buf)
	assert.ErrorIs(t, err, ErrBadMagic)
}

func TestParseRejectsHeaderTrailerMismatch(t *testing.T) {
	rec := sampleRecord()
	buf := Serialize(rec)
	// sequence_trailer sits outside the CRC-covered range, so corrupting
	// it alone trips only the header/trailer equality check.
	buf[offSequenceTrailer] ^= 0xff

	_, err := Parse(buf)
	assert.ErrorIs(t, err, ErrHeaderTrailerMismatch)
}

func TestMarkDeletedZeroesSize(t *testing.T) {
	rec := sampleRecord()
	rec.Size = 999
	rec.MarkDeleted()

	assert.True(t, rec.IsDelete())
	assert.False(t, rec.IsCreateOrUpdate())
	assert.Equal(t, uint64(0), rec.Size)
}

func TestParseShortBufferRejected(t *testing.T) {
	_, err := Parse(make([]byte, RecordSize-1))
	assert.Error(t, err)
}
