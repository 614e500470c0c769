// Package geostore persists geolocation records in a local leveldb database,
// one JSON row per normalized address. All mutations are single-key atomic
// upserts applied by one internal writer goroutine; reads go straight to the
// database and may run concurrently.
package geostore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	lvlerrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/util"
	"go.uber.org/zap"

	"github.com/mbhillrn/peerwatch/pkg/addrutil"
)

const keyPrefix = "g:"

func recordKey(addr string) []byte {
	return []byte(keyPrefix + addr)
}

type op struct {
	addr string
	up   *Update // nil means delete
	resp chan opResult
}

type opResult struct {
	rec GeoRecord
	err error
}

// Stats summarizes the cache contents.
type Stats struct {
	Total     int                      `json:"total"`
	ByStatus  map[Status]int           `json:"by_status"`
	ByNetwork map[addrutil.Network]int `json:"by_network"`
}

// Store is the persistent geo cache.
type Store struct {
	db  *leveldb.DB
	log *zap.Logger

	ops  chan op
	done chan struct{}
}

// Open opens (or creates) the cache at path and starts the writer goroutine.
// leveldb holds a lock file per data directory, so a second process opening
// the same path gets an error here rather than silent corruption.
func Open(path string, log *zap.Logger) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if lvlerrors.IsCorrupted(err) {
		log.Warn("geo_store_recovering", zap.String("path", path), zap.Error(err))
		db, err = leveldb.RecoverFile(path, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("open geo store %s: %w", path, err)
	}
	s := &Store{
		db:   db,
		log:  log,
		ops:  make(chan op, 64),
		done: make(chan struct{}),
	}
	go s.writerLoop()
	return s, nil
}

// Close drains queued operations and closes the database. Producers must have
// stopped before Close is called.
func (s *Store) Close() error {
	close(s.ops)
	<-s.done
	return s.db.Close()
}

func (s *Store) writerLoop() {
	defer close(s.done)
	for o := range s.ops {
		if o.up == nil {
			o.resp <- opResult{err: s.applyDelete(o.addr)}
			continue
		}
		rec, err := s.applyUpsert(o.addr, *o.up)
		o.resp <- opResult{rec: rec, err: err}
	}
}

// Get returns the record for addr, if any. Safe for concurrent use.
func (s *Store) Get(addr string) (GeoRecord, bool, error) {
	return s.read(addrutil.Normalize(addr))
}

// Upsert applies up to the record for addr, creating it as PENDING first if
// missing, and returns the merged result. One call observes the address once:
// ConnCount grows by exactly 1.
func (s *Store) Upsert(addr string, up Update) (GeoRecord, error) {
	resp := make(chan opResult, 1)
	s.ops <- op{addr: addrutil.Normalize(addr), up: &up, resp: resp}
	r := <-resp
	return r.rec, r.err
}

// Delete drops the record for addr.
func (s *Store) Delete(addr string) error {
	resp := make(chan opResult, 1)
	s.ops <- op{addr: addrutil.Normalize(addr), resp: resp}
	return (<-resp).err
}

// Pending returns up to limit addresses that never completed a lookup.
// limit <= 0 means no limit.
func (s *Store) Pending(limit int) ([]string, error) {
	return s.scan(limit, func(rec GeoRecord) bool {
		return rec.Status == StatusPending
	})
}

// Eligible returns up to limit addresses due for a lookup attempt at now:
// never-attempted rows plus UNAVAILABLE rows past their backoff interval.
func (s *Store) Eligible(now time.Time, limit int) ([]string, error) {
	return s.scan(limit, func(rec GeoRecord) bool {
		return ShouldRetry(rec, now)
	})
}

// Stats counts records by status and network.
func (s *Store) Stats() (Stats, error) {
	st := Stats{
		ByStatus:  map[Status]int{},
		ByNetwork: map[addrutil.Network]int{},
	}
	it := s.db.NewIterator(util.BytesPrefix([]byte(keyPrefix)), nil)
	defer it.Release()
	for it.Next() {
		var rec GeoRecord
		if err := json.Unmarshal(it.Value(), &rec); err != nil {
			continue
		}
		st.Total++
		st.ByStatus[rec.Status]++
		st.ByNetwork[rec.Network]++
	}
	if err := it.Error(); err != nil {
		return Stats{}, fmt.Errorf("scan geo store: %w", err)
	}
	return st, nil
}

// Len returns the number of cached records.
func (s *Store) Len() (int, error) {
	it := s.db.NewIterator(util.BytesPrefix([]byte(keyPrefix)), nil)
	defer it.Release()
	n := 0
	for it.Next() {
		n++
	}
	if err := it.Error(); err != nil {
		return 0, fmt.Errorf("scan geo store: %w", err)
	}
	return n, nil
}

func (s *Store) read(addr string) (GeoRecord, bool, error) {
	b, err := s.db.Get(recordKey(addr), nil)
	if err == leveldb.ErrNotFound {
		return GeoRecord{}, false, nil
	}
	if err != nil {
		return GeoRecord{}, false, fmt.Errorf("read geo record %s: %w", addr, err)
	}
	var rec GeoRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return GeoRecord{}, false, fmt.Errorf("decode geo record %s: %w", addr, err)
	}
	return rec, true, nil
}

func (s *Store) scan(limit int, keep func(GeoRecord) bool) ([]string, error) {
	it := s.db.NewIterator(util.BytesPrefix([]byte(keyPrefix)), nil)
	defer it.Release()
	var out []string
	for it.Next() {
		var rec GeoRecord
		if err := json.Unmarshal(it.Value(), &rec); err != nil {
			continue
		}
		if !keep(rec) {
			continue
		}
		out = append(out, rec.Address)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("scan geo store: %w", err)
	}
	return out, nil
}

func (s *Store) applyUpsert(addr string, up Update) (GeoRecord, error) {
	now := time.Now()
	rec, found, err := s.read(addr)
	if err != nil {
		s.log.Error("geo_cache_read_failed", zap.String("address", addr), zap.Error(err))
		return GeoRecord{}, err
	}
	if !found {
		rec = newRecord(addr, now)
	}
	rec.apply(up, now)

	b, err := json.Marshal(rec)
	if err != nil {
		return GeoRecord{}, fmt.Errorf("encode geo record %s: %w", addr, err)
	}
	batch := new(leveldb.Batch)
	batch.Put(recordKey(addr), b)
	if err := s.db.Write(batch, nil); err != nil {
		s.log.Error("geo_cache_write_failed", zap.String("address", addr), zap.Error(err))
		return GeoRecord{}, fmt.Errorf("write geo record %s: %w", addr, err)
	}
	return rec, nil
}

func (s *Store) applyDelete(addr string) error {
	batch := new(leveldb.Batch)
	batch.Delete(recordKey(addr))
	if err := s.db.Write(batch, nil); err != nil {
		s.log.Error("geo_cache_delete_failed", zap.String("address", addr), zap.Error(err))
		return fmt.Errorf("delete geo record %s: %w", addr, err)
	}
	return nil
}
