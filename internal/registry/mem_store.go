package registry

import (
	"sync"
	"time"

	"github.com/dataplatform/admissionctl/internal/domain"
)

// MemStore is an in-memory Store, used by tests and the PROVIDER=mock
// runtime path. Its locking shape is adapted from octoreflex's
// escalation.ProcessState: a single mutex guards the whole registration map,
// which is what lets WithAdmission observe a consistent current-usage
// snapshot and commit atomically against it.
type MemStore struct {
	mu     sync.Mutex
	regs   map[Key]domain.BatchRegistration
	limits map[int]domain.ConnectionLimits
}

// NewMemStore creates an empty MemStore, seeded with the default ADW limits
// the same way the original connection_registry.py seeds src_db_id=4.
func NewMemStore() *MemStore {
	s := &MemStore{
		regs:   make(map[Key]domain.BatchRegistration),
		limits: make(map[int]domain.ConnectionLimits),
	}
	adw := domain.DefaultADWLimits()
	s.limits[adw.SrcDBID] = adw
	return s
}

func (s *MemStore) Put(reg domain.BatchRegistration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regs[Key{SrcDBID: reg.SrcDBID, DAGRunID: reg.DAGRunID}] = reg
	return nil
}

func (s *MemStore) Get(key Key) (*domain.BatchRegistration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, ok := s.regs[key]
	if !ok {
		return nil, nil
	}
	return &reg, nil
}

func (s *MemStore) ScanRunning(srcDBID int) ([]domain.BatchRegistration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scanRunningLocked(srcDBID), nil
}

func (s *MemStore) scanRunningLocked(srcDBID int) []domain.BatchRegistration {
	var out []domain.BatchRegistration
	for k, reg := range s.regs {
		if k.SrcDBID == srcDBID && reg.Status == domain.StatusRunning {
			out = append(out, reg)
		}
	}
	return out
}

func (s *MemStore) ScanWaiting(srcDBID int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for k, reg := range s.regs {
		if k.SrcDBID == srcDBID && reg.Status == domain.StatusWaiting {
			count++
		}
	}
	return count, nil
}

func (s *MemStore) DeleteExpired(now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for k, reg := range s.regs {
		if reg.Status == domain.StatusRunning && reg.Expired(now) {
			delete(s.regs, k)
			deleted++
		}
	}
	return deleted, nil
}

func (s *MemStore) GetLimits(srcDBID int) (domain.ConnectionLimits, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limits[srcDBID]
	if !ok {
		return domain.DefaultLimits(srcDBID), false, nil
	}
	return l, true, nil
}

func (s *MemStore) PutLimits(limits domain.ConnectionLimits) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limits[limits.SrcDBID] = limits
	return nil
}

func (s *MemStore) AllLimits() ([]domain.ConnectionLimits, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ConnectionLimits, 0, len(s.limits))
	for _, l := range s.limits {
		out = append(out, l)
	}
	return out, nil
}

func (s *MemStore) WithAdmission(srcDBID int, fn func(snap AdmissionSnapshot) (*domain.BatchRegistration, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	running := s.scanRunningLocked(srcDBID)
	usage := 0
	for _, reg := range running {
		usage += reg.ParallelHint
	}
	waiting := 0
	for k, reg := range s.regs {
		if k.SrcDBID == srcDBID && reg.Status == domain.StatusWaiting {
			waiting++
		}
	}

	snap := AdmissionSnapshot{
		Usage:   usage,
		Running: running,
		Waiting: waiting,
		Get: func(key Key) (*domain.BatchRegistration, error) {
			reg, ok := s.regs[key]
			if !ok {
				return nil, nil
			}
			return &reg, nil
		},
	}

	reg, err := fn(snap)
	if err != nil {
		return err
	}
	if reg != nil {
		s.regs[Key{SrcDBID: reg.SrcDBID, DAGRunID: reg.DAGRunID}] = *reg
	}
	return nil
}

func (s *MemStore) Close() error { return nil }

// ClearForTest empties the registration map. Test-only helper, mirroring
// connection_registry.py's clear_mock_registry().
func (s *MemStore) ClearForTest() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regs = make(map[Key]domain.BatchRegistration)
}
