// BoltStore — durable Store implementation.
//
// Schema (BoltDB bucket layout), adapted from octoreflex's
// internal/storage/bolt.go:
//
//	/registrations
//	    key:   "%010d_%s" % (src_db_id, dag_run_id)   [prefix-scannable per source]
//	    value: JSON-encoded domain.BatchRegistration
//
//	/limits
//	    key:   "%010d" % src_db_id
//	    value: JSON-encoded domain.ConnectionLimits
//
//	/meta
//	    key:   "schema_version"
//	    value: "1"
//
// Consistency model:
//   - Single-process, single-writer (bbolt does not support concurrent
//     writers); every WithAdmission call runs inside one bbolt write
//     transaction, so the read of current usage and the subsequent Put are
//     atomic with respect to every other WithAdmission call.
//   - Reads use read-only transactions (bbolt.View()).
package registry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/dataplatform/admissionctl/internal/domain"
)

const (
	schemaVersion = "1"

	bucketRegistrations = "registrations"
	bucketLimits        = "limits"
	bucketMeta          = "meta"
)

// BoltStore wraps an embedded BoltDB database holding registrations and limits.
type BoltStore struct {
	db *bolt.DB
}

// OpenBoltStore opens (or creates) the database at path.
func OpenBoltStore(path string) (*BoltStore, error) {
	bdb, err := bolt.Open(path, 0o600, &bolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("bolt.Open(%q): %w", path, err)
	}

	s := &BoltStore{db: bdb}

	if err := s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{bucketRegistrations, bucketLimits, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("CreateBucketIfNotExists(%q): %w", name, err)
			}
		}
		meta := tx.Bucket([]byte(bucketMeta))
		if meta.Get([]byte("schema_version")) == nil {
			if err := meta.Put([]byte("schema_version"), []byte(schemaVersion)); err != nil {
				return fmt.Errorf("write schema_version: %w", err)
			}
		}
		return nil
	}); err != nil {
		_ = bdb.Close()
		return nil, fmt.Errorf("registry database initialisation failed: %w", err)
	}

	if err := s.checkSchemaVersion(); err != nil {
		_ = bdb.Close()
		return nil, err
	}

	return s, nil
}

func (s *BoltStore) checkSchemaVersion() error {
	return s.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket([]byte(bucketMeta))
		v := meta.Get([]byte("schema_version"))
		if string(v) != schemaVersion {
			return fmt.Errorf("registry schema version mismatch: database has %q, agent requires %q",
				string(v), schemaVersion)
		}
		return nil
	})
}

func regKey(srcDBID int, dagRunID string) []byte {
	return []byte(fmt.Sprintf("%010d_%s", srcDBID, dagRunID))
}

func regPrefix(srcDBID int) []byte {
	return []byte(fmt.Sprintf("%010d_", srcDBID))
}

func limitsKey(srcDBID int) []byte {
	return []byte(fmt.Sprintf("%010d", srcDBID))
}

func (s *BoltStore) Put(reg domain.BatchRegistration) error {
	data, err := json.Marshal(reg)
	if err != nil {
		return fmt.Errorf("registry Put marshal: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketRegistrations))
		return b.Put(regKey(reg.SrcDBID, reg.DAGRunID), data)
	})
}

func (s *BoltStore) Get(key Key) (*domain.BatchRegistration, error) {
	var reg *domain.BatchRegistration
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		reg, err = s.getInTx(tx, key)
		return err
	})
	if err != nil {
		return nil, err
	}
	return reg, nil
}

func (s *BoltStore) scanBySource(tx *bolt.Tx, srcDBID int) ([]domain.BatchRegistration, error) {
	b := tx.Bucket([]byte(bucketRegistrations))
	c := b.Cursor()
	prefix := regPrefix(srcDBID)

	var out []domain.BatchRegistration
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		var reg domain.BatchRegistration
		if err := json.Unmarshal(v, &reg); err != nil {
			return nil, fmt.Errorf("registry scan unmarshal %q: %w", k, err)
		}
		out = append(out, reg)
	}
	return out, nil
}

func (s *BoltStore) ScanRunning(srcDBID int) ([]domain.BatchRegistration, error) {
	var out []domain.BatchRegistration
	err := s.db.View(func(tx *bolt.Tx) error {
		all, err := s.scanBySource(tx, srcDBID)
		if err != nil {
			return err
		}
		for _, reg := range all {
			if reg.Status == domain.StatusRunning {
				out = append(out, reg)
			}
		}
		return nil
	})
	return out, err
}

func (s *BoltStore) ScanWaiting(srcDBID int) (int, error) {
	count := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		all, err := s.scanBySource(tx, srcDBID)
		if err != nil {
			return err
		}
		for _, reg := range all {
			if reg.Status == domain.StatusWaiting {
				count++
			}
		}
		return nil
	})
	return count, err
}

func (s *BoltStore) DeleteExpired(now time.Time) (int, error) {
	deleted := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketRegistrations))
		c := b.Cursor()

		var toDelete [][]byte
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var reg domain.BatchRegistration
			if err := json.Unmarshal(v, &reg); err != nil {
				return fmt.Errorf("registry DeleteExpired unmarshal %q: %w", k, err)
			}
			if reg.Status == domain.StatusRunning && reg.Expired(now) {
				keyCopy := make([]byte, len(k))
				copy(keyCopy, k)
				toDelete = append(toDelete, keyCopy)
			}
		}
		for _, k := range toDelete {
			if err := b.Delete(k); err != nil {
				return fmt.Errorf("registry DeleteExpired delete %q: %w", k, err)
			}
			deleted++
		}
		return nil
	})
	return deleted, err
}

func (s *BoltStore) GetLimits(srcDBID int) (domain.ConnectionLimits, bool, error) {
	var limits domain.ConnectionLimits
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketLimits))
		data := b.Get(limitsKey(srcDBID))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &limits)
	})
	if err != nil {
		return domain.ConnectionLimits{}, false, fmt.Errorf("registry GetLimits(%d): %w", srcDBID, err)
	}
	if !found {
		return domain.DefaultLimits(srcDBID), false, nil
	}
	return limits, true, nil
}

func (s *BoltStore) PutLimits(limits domain.ConnectionLimits) error {
	data, err := json.Marshal(limits)
	if err != nil {
		return fmt.Errorf("registry PutLimits marshal: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketLimits))
		return b.Put(limitsKey(limits.SrcDBID), data)
	})
}

func (s *BoltStore) AllLimits() ([]domain.ConnectionLimits, error) {
	var out []domain.ConnectionLimits
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketLimits))
		return b.ForEach(func(_, v []byte) error {
			var l domain.ConnectionLimits
			if err := json.Unmarshal(v, &l); err != nil {
				return err
			}
			out = append(out, l)
			return nil
		})
	})
	return out, err
}

// WithAdmission runs fn inside a single bbolt write transaction: the read of
// current usage and the subsequent Put happen inside the same transaction,
// so bbolt's single-writer guarantee gives the linearizable-per-source
// semantics spec.md §5 requires. fn's snapshot (including Get) is served
// from this same transaction, never a nested db.View, so a caller reading a
// registration mid-callback sees this transaction's uncommitted state
// rather than the last-committed one.
func (s *BoltStore) WithAdmission(srcDBID int, fn func(snap AdmissionSnapshot) (*domain.BatchRegistration, error)) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		all, err := s.scanBySource(tx, srcDBID)
		if err != nil {
			return err
		}
		var running []domain.BatchRegistration
		usage := 0
		waiting := 0
		for _, reg := range all {
			switch reg.Status {
			case domain.StatusRunning:
				running = append(running, reg)
				usage += reg.ParallelHint
			case domain.StatusWaiting:
				waiting++
			}
		}

		snap := AdmissionSnapshot{
			Usage:   usage,
			Running: running,
			Waiting: waiting,
			Get: func(key Key) (*domain.BatchRegistration, error) {
				return s.getInTx(tx, key)
			},
		}

		reg, err := fn(snap)
		if err != nil {
			return err
		}
		if reg == nil {
			return nil
		}
		data, err := json.Marshal(*reg)
		if err != nil {
			return fmt.Errorf("registry WithAdmission marshal: %w", err)
		}
		b := tx.Bucket([]byte(bucketRegistrations))
		return b.Put(regKey(reg.SrcDBID, reg.DAGRunID), data)
	})
}

// getInTx looks up a single registration within an already-open
// transaction, read-only or read-write. Shared by Get (via its own
// db.View) and WithAdmission's snapshot (via the enclosing db.Update).
func (s *BoltStore) getInTx(tx *bolt.Tx, key Key) (*domain.BatchRegistration, error) {
	b := tx.Bucket([]byte(bucketRegistrations))
	data := b.Get(regKey(key.SrcDBID, key.DAGRunID))
	if data == nil {
		return nil, nil
	}
	var reg domain.BatchRegistration
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("registry Get(%+v): %w", key, err)
	}
	return &reg, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
