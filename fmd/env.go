package fmd

import (
	"encoding/base64"
	"net/url"
	"strconv"

	"github.com/pingcap/errors"
)

// Env tag names (spec.md §4.8). name/container are optional; every other
// tag is mandatory.
const (
	tagMagic           = "magic"
	tagSequenceHeader  = "sequence_header"
	tagFid             = "fid"
	tagCid             = "cid"
	tagFsid            = "fsid"
	tagCtime           = "ctime"
	tagCtimeNs         = "ctime_ns"
	tagMtime           = "mtime"
	tagMtimeNs         = "mtime_ns"
	tagSize            = "size"
	tagChecksum64      = "checksum64"
	tagLayoutID        = "layout_id"
	tagUID             = "uid"
	tagGID             = "gid"
	tagCrc32           = "crc32"
	tagSequenceTrailer = "sequence_trailer"
	tagName            = "name"
	tagContainer       = "container"
)

var mandatoryEnvTags = []string{
	tagMagic, tagSequenceHeader, tagFid, tagCid, tagFsid,
	tagCtime, tagCtimeNs, tagMtime, tagMtimeNs, tagSize,
	tagChecksum64, tagLayoutID, tagUID, tagGID, tagCrc32, tagSequenceTrailer,
}

// EncodeEnv serializes r's fields as a URL-style key-value string, with
// the 20-byte checksum base64-encoded (spec.md §4.8).
func EncodeEnv(r *Record) string {
	v := url.Values{}
	v.Set(tagMagic, strconv.FormatUint(uint64(r.Magic), 10))
	v.Set(tagSequenceHeader, strconv.FormatUint(r.SequenceHeader, 10))
	v.Set(tagFid, strconv.FormatUint(r.Fid, 10))
	v.Set(tagCid, strconv.FormatUint(r.Cid, 10))
	v.Set(tagFsid, strconv.FormatUint(uint64(r.Fsid), 10))
	v.Set(tagCtime, strconv.FormatInt(r.Ctime, 10))
	v.Set(tagCtimeNs, strconv.FormatInt(r.CtimeNs, 10))
	v.Set(tagMtime, strconv.FormatInt(r.Mtime, 10))
	v.Set(tagMtimeNs, strconv.FormatInt(r.MtimeNs, 10))
	v.Set(tagSize, strconv.FormatUint(r.Size, 10))
	v.Set(tagChecksum64, base64.StdEncoding.EncodeToString(r.Checksum[:]))
	v.Set(tagLayoutID, strconv.FormatUint(uint64(r.LayoutID), 10))
	v.Set(tagUID, strconv.FormatUint(uint64(r.UID), 10))
	v.Set(tagGID, strconv.FormatUint(uint64(r.GID), 10))
	v.Set(tagCrc32, strconv.FormatUint(uint64(r.Crc32), 10))
	v.Set(tagSequenceTrailer, strconv.FormatUint(r.SequenceTrailer, 10))
	if r.Name != "" {
		v.Set(tagName, r.Name)
	}
	if r.Container != "" {
		v.Set(tagContainer, r.Container)
	}
	return v.Encode()
}

// ParseEnv parses the wire encoding produced by EncodeEnv. Every
// mandatory tag must be present; a missing tag or a base64 decode
// failure on checksum64 returns ErrParse (spec.md §4.8).
func ParseEnv(s string) (*Record, error) {
	v, err := url.ParseQuery(s)
	if err != nil {
		return nil, errors.Annotate(ErrParse, err.Error())
	}
	for _, tag := range mandatoryEnvTags {
		if v.Get(tag) == "" {
			return nil, errors.Annotatef(ErrParse, "missing mandatory tag %q", tag)
		}
	}

	r := &Record{Name: v.Get(tagName), Container: v.Get(tagContainer)}

	magic, err := strconv.ParseUint(v.Get(tagMagic), 10, 64)
	if err != nil {
		return nil, errors.Annotate(ErrParse, err.Error())
	}
	r.Magic = Magic(magic)

	if r.SequenceHeader, err = strconv.ParseUint(v.Get(tagSequenceHeader), 10, 64); err != nil {
		return nil, errors.Annotate(ErrParse, err.Error())
	}
	if r.Fid, err = strconv.ParseUint(v.Get(tagFid), 10, 64); err != nil {
		return nil, errors.Annotate(ErrParse, err.Error())
	}
	if r.Cid, err = strconv.ParseUint(v.Get(tagCid), 10, 64); err != nil {
		return nil, errors.Annotate(ErrParse, err.Error())
	}
	fsid, err := strconv.ParseUint(v.Get(tagFsid), 10, 32)
	if err != nil {
		return nil, errors.Annotate(ErrParse, err.Error())
	}
	r.Fsid = uint32(fsid)
	if r.Ctime, err = strconv.ParseInt(v.Get(tagCtime), 10, 64); err != nil {
		return nil, errors.Annotate(ErrParse, err.Error())
	}
	if r.CtimeNs, err = strconv.ParseInt(v.Get(tagCtimeNs), 10, 64); err != nil {
		return nil, errors.Annotate(ErrParse, err.Error())
	}
	if r.Mtime, err = strconv.ParseInt(v.Get(tagMtime), 10, 64); err != nil {
		return nil, errors.Annotate(ErrParse, err.Error())
	}
	if r.MtimeNs, err = strconv.ParseInt(v.Get(tagMtimeNs), 10, 64); err != nil {
		return nil, errors.Annotate(ErrParse, err.Error())
	}
	if r.Size, err = strconv.ParseUint(v.Get(tagSize), 10, 64); err != nil {
		return nil, errors.Annotate(ErrParse, err.Error())
	}

	checksum, err := base64.StdEncoding.DecodeString(v.Get(tagChecksum64))
	if err != nil {
		return nil, errors.Annotate(ErrParse, err.Error())
	}
	if len(checksum) != ChecksumSize {
		return nil, errors.Annotatef(ErrParse, "checksum64 decodes to %d bytes, want %d", len(checksum), ChecksumSize)
	}
	copy(r.Checksum[:], checksum)

	layoutID, err := strconv.ParseUint(v.Get(tagLayoutID), 10, 32)
	if err != nil {
		return nil, errors.Annotate(ErrParse, err.Error())
	}
	r.LayoutID = uint32(layoutID)
	uid, err := strconv.ParseUint(v.Get(tagUID), 10, 32)
	if err != nil {
		return nil, errors.Annotate(ErrParse, err.Error())
	}
	r.UID = uint32(uid)
	gid, err := strconv.ParseUint(v.Get(tagGID), 10, 32)
	if err != nil {
		return nil, errors.Annotate(ErrParse, err.Error())
	}
	r.GID = uint32(gid)
	crc, err := strconv.ParseUint(v.Get(tagCrc32), 10, 32)
	if err != nil {
		return nil, errors.Annotate(ErrParse, err.Error())
	}
	r.Crc32 = uint32(crc)
	if r.SequenceTrailer, err = strconv.ParseUint(v.Get(tagSequenceTrailer), 10, 64); err != nil {
		return nil, errors.Annotate(ErrParse, err.Error())
	}

	return r, nil
}
