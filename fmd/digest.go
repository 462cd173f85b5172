package fmd

import (
	"encoding/binary"
	"sort"

	"github.com/OneOfOne/xxhash"
)

// Digest returns a fast, non-authoritative hash of fsid's current index
// (fid -> offset pairs), letting a caller cheaply notice that two nodes'
// views of a filesystem's live set have diverged without re-verifying
// every record's CRC32, which remains the integrity authority
// (spec.md §9 DOMAIN STACK expansion). Entries are hashed in fid order
// so the result is deterministic regardless of Go's randomized map
// iteration order.
func (e *Engine) Digest(fsid uint32) (uint64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	st, err := e.stateFor(fsid)
	if err != nil {
		return 0, err
	}

	fids := make([]uint64, 0, len(st.index))
	for fid := range st.index {
		fids = append(fids, fid)
	}
	sort.Slice(fids, func(i, j int) bool { return fids[i] < fids[j] })

	h := xxhash.New64()
	buf := make([]byte, 16)
	for _, fid := range fids {
		binary.LittleEndian.PutUint64(buf[0:8], fid)
		binary.LittleEndian.PutUint64(buf[8:16], uint64(st.index[fid]))
		h.Write(buf)
	}
	return h.Sum64(), nil
}
