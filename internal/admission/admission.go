// Package admission implements the admission controller (spec.md §4.3):
// the single authority deciding whether a batch's requested connection
// parallelism may be granted now, downgraded, or must wait.
//
// Grounded on the original admission_controller.py's three-case algorithm
// (full capacity / downgrade-by-halving / wait), layered onto
// internal/registry.Store's transactional WithAdmission for the
// conditional-write guarantee spec.md §5 requires.
package admission

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dataplatform/admissionctl/internal/domain"
	"github.com/dataplatform/admissionctl/internal/registry"
)

// DefaultWaitSeconds and MaxWaitSeconds are the wait-time estimate's floor
// and ceiling (spec.md §6, DEFAULT_WAIT_SECONDS / MAX_WAIT_SECONDS).
const (
	DefaultWaitSeconds = 30
	MaxWaitSeconds      = 300
	// DefaultTTL is how long a RUNNING registration lives before it is
	// treated as released, absent an explicit release call.
	DefaultTTL = 24 * time.Hour
)

// ErrBelowMinParallel is returned when requested_parallel < min_parallel,
// a configuration error per spec.md §4.3's edge cases.
var ErrBelowMinParallel = errors.New("admission: requested_parallel below configured min_parallel")

// Request is the input to CheckAdmission.
type Request struct {
	SrcDBID          int
	DAGID            string
	DAGRunID         string
	TableName        string
	RequestedParallel int
}

// Controller is the long-lived, constructed-once admission authority.
// Safe for concurrent use by multiple callers of CheckAdmission.
type Controller struct {
	store registry.Store
	log   *zap.Logger
	now   func() time.Time
}

// New builds a Controller over the given store. A nil logger is replaced
// with a no-op one.
func New(store registry.Store, log *zap.Logger) *Controller {
	if log == nil {
		log = zap.NewNop()
	}
	return &Controller{store: store, log: log, now: time.Now}
}

// CheckAdmission runs the three-case algorithm of spec.md §4.3 under the
// store's single transactional critical section for req.SrcDBID.
func (c *Controller) CheckAdmission(req Request) (domain.AdmissionResult, error) {
	limits, ok, err := c.store.GetLimits(req.SrcDBID)
	if err != nil {
		return domain.AdmissionResult{}, fmt.Errorf("admission: loading limits: %w", err)
	}
	if !ok {
		c.log.Warn("no configured limits for source database, using conservative default",
			zap.Int("src_db_id", req.SrcDBID))
	}
	if req.RequestedParallel < limits.MinParallel {
		return domain.AdmissionResult{}, ErrBelowMinParallel
	}

	threshold := limits.Threshold()
	var result domain.AdmissionResult

	err = c.store.WithAdmission(req.SrcDBID, func(snap registry.AdmissionSnapshot) (*domain.BatchRegistration, error) {
		usage := snap.Usage
		available := threshold - usage
		if available < 0 {
			available = 0
		}

		// Case A: full capacity.
		if usage+req.RequestedParallel <= threshold {
			reg := c.newRegistration(req, req.RequestedParallel, nil)
			result = domain.AdmissionResult{
				Allowed: true, Parallel: req.RequestedParallel, Downgraded: false,
				Reason: domain.ReasonOK, CurrentUsage: usage, Available: available,
			}
			return &reg, nil
		}

		// Case B: downgrade.
		if p, ok := findAcceptableParallel(usage, threshold, req.RequestedParallel, limits.MinParallel); ok {
			original := req.RequestedParallel
			reg := c.newRegistration(req, p, &original)
			result = domain.AdmissionResult{
				Allowed: true, Parallel: p, Downgraded: true, OriginalParallel: &original,
				Reason: domain.ReasonPartialCapacityAvailable, CurrentUsage: usage, Available: available,
			}
			return &reg, nil
		}

		// Case C: wait. Nothing is persisted; queueing is the caller's job.
		// snap.Running/snap.Waiting are read from the same critical section
		// as usage above, never by calling back into c.store.
		result = domain.AdmissionResult{
			Allowed: false, Reason: domain.ReasonConnectionLimitExceeded,
			WaitSeconds:   waitSeconds(len(snap.Running)),
			QueuePosition: snap.Waiting + 1,
			CurrentUsage:  usage, Available: available,
		}
		return nil, nil
	})
	if err != nil {
		return domain.AdmissionResult{}, fmt.Errorf("admission: committing decision: %w", err)
	}
	return result, nil
}

func (c *Controller) newRegistration(req Request, parallel int, originalParallel *int) domain.BatchRegistration {
	now := c.now()
	return domain.BatchRegistration{
		SrcDBID: req.SrcDBID, DAGID: req.DAGID, DAGRunID: req.DAGRunID, TableName: req.TableName,
		ParallelHint: parallel, OriginalParallel: originalParallel,
		Status: domain.StatusRunning, StartedAt: now, TTL: now.Add(DefaultTTL).Unix(),
	}
}

// findAcceptableParallel halves requested repeatedly until a parallelism
// that fits under the threshold is found, clamped upward to minParallel.
// Returns (0, false) if even minParallel does not fit.
func findAcceptableParallel(usage, threshold, requested, minParallel int) (int, bool) {
	p := requested
	for {
		if usage+p <= threshold {
			return p, true
		}
		if p <= minParallel {
			return 0, false
		}
		next := p / 2
		if next < minParallel {
			next = minParallel
		}
		p = next
	}
}

// waitSeconds estimates how long a rejected caller should wait before
// retrying, scaled by how many batches are already running (spec.md §4.3).
func waitSeconds(runningCount int) int {
	wait := DefaultWaitSeconds + 10*(runningCount/10)
	if wait < DefaultWaitSeconds {
		wait = DefaultWaitSeconds
	}
	if wait > MaxWaitSeconds {
		wait = MaxWaitSeconds
	}
	return wait
}

// Release marks a registration COMPLETED. Idempotent: releasing an
// already-COMPLETED registration returns the same result without
// decrementing usage a second time.
func (c *Controller) Release(srcDBID int, dagRunID string) (domain.ReleaseResult, error) {
	var result domain.ReleaseResult
	err := c.store.WithAdmission(srcDBID, func(snap registry.AdmissionSnapshot) (*domain.BatchRegistration, error) {
		// snap.Get reads within the same critical section WithAdmission
		// already holds; c.store.Get would re-lock (MemStore) or read a
		// stale pre-transaction snapshot (BoltStore).
		reg, err := snap.Get(registry.Key{SrcDBID: srcDBID, DAGRunID: dagRunID})
		if err != nil {
			return nil, err
		}
		if reg == nil {
			result = domain.ReleaseResult{Released: false, Error: "registration not found"}
			return nil, nil
		}
		result = domain.ReleaseResult{
			Released: true, ReleasedConnections: reg.ParallelHint, CurrentUsage: 0,
		}
		if reg.Status == domain.StatusCompleted {
			return nil, nil
		}
		reg.Status = domain.StatusCompleted
		return reg, nil
	})
	if err != nil {
		return domain.ReleaseResult{}, fmt.Errorf("admission: releasing: %w", err)
	}

	usage, err := registry.CurrentUsage(c.store, srcDBID)
	if err != nil {
		return domain.ReleaseResult{}, fmt.Errorf("admission: computing usage after release: %w", err)
	}
	result.CurrentUsage = usage
	return result, nil
}

// SourceStatus is one entry of Status's per-source summary.
type SourceStatus struct {
	SrcDBID      int `json:"src_db_id"`
	Max          int `json:"max"`
	Threshold    int `json:"threshold"`
	CurrentUsage int `json:"current_usage"`
	Available    int `json:"available"`
	Active       int `json:"active"`
	Waiting      int `json:"waiting"`
}

// Status summarizes every configured source database's capacity.
func (c *Controller) Status() (map[int]SourceStatus, error) {
	allLimits, err := c.store.AllLimits()
	if err != nil {
		return nil, fmt.Errorf("admission: loading limits: %w", err)
	}
	out := make(map[int]SourceStatus, len(allLimits))
	for _, limits := range allLimits {
		running, err := c.store.ScanRunning(limits.SrcDBID)
		if err != nil {
			return nil, fmt.Errorf("admission: scanning running for source %d: %w", limits.SrcDBID, err)
		}
		waiting, err := c.store.ScanWaiting(limits.SrcDBID)
		if err != nil {
			return nil, fmt.Errorf("admission: scanning waiting for source %d: %w", limits.SrcDBID, err)
		}
		usage := 0
		for _, r := range running {
			usage += r.ParallelHint
		}
		threshold := limits.Threshold()
		available := threshold - usage
		if available < 0 {
			available = 0
		}
		out[limits.SrcDBID] = SourceStatus{
			SrcDBID: limits.SrcDBID, Max: limits.MaxConnections, Threshold: threshold,
			CurrentUsage: usage, Available: available, Active: len(running), Waiting: waiting,
		}
	}
	return out, nil
}

// ExpireStale purges RUNNING registrations whose TTL has passed, treating
// them as released (spec.md §3 invariant: every RUNNING registration past
// its ttl is treated as released). Returns the number purged.
func (c *Controller) ExpireStale() (int, error) {
	n, err := c.store.DeleteExpired(c.now())
	if err != nil {
		return 0, fmt.Errorf("admission: expiring stale registrations: %w", err)
	}
	return n, nil
}
