// Package registry holds the durable mapping of active batch registrations
// to their connections, keyed by (SrcDBID, DAGRunID), plus per-source
// ConnectionLimits.
//
// Two implementations satisfy Store: BoltStore (embedded, durable,
// single-writer ACID transactions) and MemStore (in-memory, for tests and
// the PROVIDER=mock runtime path). Both make ScanRunning and a subsequent
// Put observe the same snapshot under a single lock, so two concurrent
// admits cannot both observe capacity and both commit past the threshold.
package registry

import (
	"time"

	"github.com/dataplatform/admissionctl/internal/domain"
)

// Key identifies a BatchRegistration.
type Key struct {
	SrcDBID  int
	DAGRunID string
}

// Store is the persistence contract for batch registrations and limits.
type Store interface {
	// Put upserts a registration. Idempotent.
	Put(reg domain.BatchRegistration) error

	// Get returns (nil, nil) on miss.
	Get(key Key) (*domain.BatchRegistration, error)

	// ScanRunning returns all registrations with status RUNNING for a source.
	ScanRunning(srcDBID int) ([]domain.BatchRegistration, error)

	// ScanWaiting returns the count of registrations with status WAITING for a source.
	ScanWaiting(srcDBID int) (int, error)

	// DeleteExpired purges RUNNING entries whose TTL has passed, across all
	// sources; entries in any other status are kept whatever their TTL.
	// Returns the number of entries purged.
	DeleteExpired(now time.Time) (int, error)

	// GetLimits returns the configured limits for a source, or the
	// conservative default (domain.DefaultLimits) with ok=false if none are
	// configured.
	GetLimits(srcDBID int) (limits domain.ConnectionLimits, ok bool, err error)

	// PutLimits stores (or updates) limits for a source.
	PutLimits(limits domain.ConnectionLimits) error

	// AllLimits returns every configured ConnectionLimits, for status summaries.
	AllLimits() ([]domain.ConnectionLimits, error)

	// WithAdmission executes fn under an exclusive per-source critical
	// section that also covers the read of current usage, so that a
	// concurrent WithAdmission call for the same srcDBID cannot observe the
	// same usage snapshot and commit past the threshold (spec.md §5's
	// conditional/transactional write requirement). fn receives an
	// AdmissionSnapshot computed inside the critical section (current usage,
	// running registrations, waiting count, and a key lookup scoped to the
	// same section); if it returns a non-nil registration, that registration
	// is put before the critical section is released. If fn returns a nil
	// registration and a nil error, no write occurs (used by the wait-case,
	// which persists nothing).
	//
	// fn must read registry state only through the supplied snapshot, never
	// by calling back into the Store's own Get/ScanRunning/ScanWaiting —
	// those methods take the same lock WithAdmission already holds and would
	// deadlock (MemStore) or silently read a different transaction's
	// snapshot (BoltStore).
	WithAdmission(srcDBID int, fn func(snap AdmissionSnapshot) (*domain.BatchRegistration, error)) error

	Close() error
}

// AdmissionSnapshot is the per-source registry state visible to a
// WithAdmission callback, computed inside the same critical section that
// will perform the subsequent write.
type AdmissionSnapshot struct {
	// Usage is the sum of ParallelHint over every RUNNING registration for
	// the locked source.
	Usage int
	// Running is every RUNNING registration for the locked source.
	Running []domain.BatchRegistration
	// Waiting is the count of WAITING registrations for the locked source.
	Waiting int
	// Get looks up a single registration by key, any status, without
	// re-entering the critical section. Valid only for the duration of the
	// WithAdmission call.
	Get func(Key) (*domain.BatchRegistration, error)
}

// CurrentUsage sums ParallelHint over every RUNNING registration for a source.
func CurrentUsage(s Store, srcDBID int) (int, error) {
	running, err := s.ScanRunning(srcDBID)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, r := range running {
		total += r.ParallelHint
	}
	return total, nil
}
