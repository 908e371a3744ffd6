// Package tracedb stores scheduler runs in a bbolt database so that later
// runs of the same scenario can be compared against them.
//
// Runs live in a single bucket keyed by a big-endian sequence number, encoded
// with protowire:
//
//	Run:   1 scenario, 2 created (unix nanos), 3 strict, 4 checksum, 5 err,
//	       6 event (repeated, embedded)
//	Event: 1 step, 2 kind, 3 thread, 4 peer, 5 lock, 6 cond
package tracedb

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/kmrgirish/uthread/uthreadruntime"
)

var ErrNotFound = errors.New("tracedb: run not found")

var runsBucket = []byte("runs")

// A Run is a recorded Init of a scenario.
type Run struct {
	ID       uint64
	Scenario string
	Created  time.Time
	Strict   bool
	Checksum []byte
	// Err is the text of the error Init returned, if any.
	Err    string
	Events []uthreadruntime.Event
}

type DB struct {
	db *bolt.DB
}

func Open(path string) (*DB, error) {
	db, err := bolt.Open(path, 0o644, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(runsBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, err
	}
	return &DB{db: db}, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

// Put stores a run and assigns its ID.
func (d *DB) Put(run *Run) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(runsBucket)
		id, err := bucket.NextSequence()
		if err != nil {
			return err
		}
		run.ID = id
		return bucket.Put(key(id), marshalRun(run))
	})
}

func (d *DB) Get(id uint64) (*Run, error) {
	var run *Run
	err := d.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(runsBucket).Get(key(id))
		if b == nil {
			return ErrNotFound
		}
		var err error
		run, err = unmarshalRun(id, b)
		return err
	})
	return run, err
}

// List returns all runs in the order they were stored, without their events.
func (d *DB) List() ([]*Run, error) {
	var runs []*Run
	err := d.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(runsBucket).ForEach(func(k, v []byte) error {
			run, err := unmarshalRun(binary.BigEndian.Uint64(k), v)
			if err != nil {
				return err
			}
			run.Events = nil
			runs = append(runs, run)
			return nil
		})
	})
	return runs, err
}

// Latest returns the most recent run of a scenario.
func (d *DB) Latest(scenario string) (*Run, error) {
	var run *Run
	err := d.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(runsBucket).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			r, err := unmarshalRun(binary.BigEndian.Uint64(k), v)
			if err != nil {
				return err
			}
			if r.Scenario == scenario {
				run = r
				return nil
			}
		}
		return ErrNotFound
	})
	return run, err
}

func key(id uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, id)
}

func marshalRun(run *Run) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, run.Scenario)
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(run.Created.UnixNano()))
	if run.Strict {
		b = protowire.AppendTag(b, 3, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(true))
	}
	if len(run.Checksum) > 0 {
		b = protowire.AppendTag(b, 4, protowire.BytesType)
		b = protowire.AppendBytes(b, run.Checksum)
	}
	if run.Err != "" {
		b = protowire.AppendTag(b, 5, protowire.BytesType)
		b = protowire.AppendString(b, run.Err)
	}
	for _, ev := range run.Events {
		b = protowire.AppendTag(b, 6, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalEvent(ev))
	}
	return b
}

func marshalEvent(ev uthreadruntime.Event) []byte {
	var b []byte
	for _, f := range []struct {
		num protowire.Number
		v   uint64
	}{
		{1, ev.Step},
		{2, uint64(ev.Kind)},
		{3, uint64(ev.Thread)},
		{4, uint64(ev.Peer)},
		{5, uint64(ev.Lock)},
		{6, uint64(ev.Cond)},
	} {
		if f.v == 0 {
			continue
		}
		b = protowire.AppendTag(b, f.num, protowire.VarintType)
		b = protowire.AppendVarint(b, f.v)
	}
	return b
}

// fields walks the top-level fields of a message.
func fields(b []byte, f func(num protowire.Number, typ protowire.Type, v uint64, bytes []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		var v uint64
		var bytes []byte
		switch typ {
		case protowire.VarintType:
			v, n = protowire.ConsumeVarint(b)
		case protowire.BytesType:
			bytes, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		if err := f(num, typ, v, bytes); err != nil {
			return err
		}
	}
	return nil
}

func unmarshalRun(id uint64, b []byte) (*Run, error) {
	run := &Run{ID: id}
	err := fields(b, func(num protowire.Number, typ protowire.Type, v uint64, bytes []byte) error {
		switch num {
		case 1:
			run.Scenario = string(bytes)
		case 2:
			run.Created = time.Unix(0, int64(v))
		case 3:
			run.Strict = protowire.DecodeBool(v)
		case 4:
			run.Checksum = append([]byte(nil), bytes...)
		case 5:
			run.Err = string(bytes)
		case 6:
			ev, err := unmarshalEvent(bytes)
			if err != nil {
				return err
			}
			run.Events = append(run.Events, ev)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("decoding run %d: %w", id, err)
	}
	return run, nil
}

func unmarshalEvent(b []byte) (uthreadruntime.Event, error) {
	var ev uthreadruntime.Event
	err := fields(b, func(num protowire.Number, typ protowire.Type, v uint64, _ []byte) error {
		switch num {
		case 1:
			ev.Step = v
		case 2:
			ev.Kind = uthreadruntime.EventKind(v)
		case 3:
			ev.Thread = uthreadruntime.ThreadID(v)
		case 4:
			ev.Peer = uthreadruntime.ThreadID(v)
		case 5:
			ev.Lock = uthreadruntime.LockID(v)
		case 6:
			ev.Cond = uthreadruntime.CondID(v)
		}
		return nil
	})
	return ev, err
}

// Diff returns the index of the first event where two runs diverge, or -1
// if their events are identical.
func Diff(a, b []uthreadruntime.Event) int {
	for i := range min(len(a), len(b)) {
		if a[i] != b[i] {
			return i
		}
	}
	if len(a) != len(b) {
		return min(len(a), len(b))
	}
	return -1
}
