package uthreadruntime

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// checksummer folds every scheduler event into a running hash. Two runs of
// the same program with the same configuration must produce the same sum;
// a difference means the program is not deterministic.
type checksummer struct {
	hash *xxhash.Digest
	buf  [1 + 5*8]byte
}

func newChecksummer() *checksummer {
	return &checksummer{
		hash: xxhash.New(),
	}
}

func (c *checksummer) record(ev Event) {
	c.buf[0] = byte(ev.Kind)
	binary.LittleEndian.PutUint64(c.buf[1:], ev.Step)
	binary.LittleEndian.PutUint64(c.buf[9:], uint64(ev.Thread))
	binary.LittleEndian.PutUint64(c.buf[17:], uint64(ev.Peer))
	binary.LittleEndian.PutUint64(c.buf[25:], uint64(ev.Lock))
	binary.LittleEndian.PutUint64(c.buf[33:], uint64(ev.Cond))
	c.hash.Write(c.buf[:])
}

func (c *checksummer) sum() []byte {
	var n [8]byte
	binary.LittleEndian.PutUint64(n[:], c.hash.Sum64())
	return n[:]
}
