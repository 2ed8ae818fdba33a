package registry

import (
	"sync"
	"testing"
	"time"

	"github.com/dataplatform/admissionctl/internal/domain"
)

func TestMemStore_PutGetRoundTrip(t *testing.T) {
	s := NewMemStore()
	reg := domain.BatchRegistration{
		SrcDBID: 4, DAGRunID: "run-1", ParallelHint: 4,
		Status: domain.StatusRunning, StartedAt: time.Now(), TTL: time.Now().Add(time.Hour).Unix(),
	}
	if err := s.Put(reg); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := s.Get(Key{SrcDBID: 4, DAGRunID: "run-1"})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil || got.ParallelHint != 4 {
		t.Fatalf("Get = %+v, want ParallelHint 4", got)
	}
}

func TestMemStore_GetMissReturnsNilNil(t *testing.T) {
	s := NewMemStore()
	got, err := s.Get(Key{SrcDBID: 4, DAGRunID: "missing"})
	if err != nil || got != nil {
		t.Fatalf("Get(missing) = %+v, %v; want nil, nil", got, err)
	}
}

func TestMemStore_GetLimitsFallsBackToDefault(t *testing.T) {
	s := NewMemStore()
	limits, ok, err := s.GetLimits(999)
	if err != nil {
		t.Fatalf("GetLimits: %v", err)
	}
	if ok {
		t.Error("expected ok=false for an unconfigured source")
	}
	if limits.SrcDBID != 999 {
		t.Errorf("fallback limits SrcDBID = %d, want 999", limits.SrcDBID)
	}
}

func TestMemStore_GetLimitsSeededADW(t *testing.T) {
	s := NewMemStore()
	limits, ok, err := s.GetLimits(4)
	if err != nil || !ok {
		t.Fatalf("GetLimits(4) = %+v, %v, %v; want seeded ADW limits", limits, ok, err)
	}
	if limits.MaxConnections != 1000 {
		t.Errorf("MaxConnections = %d, want 1000", limits.MaxConnections)
	}
}

func TestMemStore_DeleteExpiredOnlyPurgesRunning(t *testing.T) {
	s := NewMemStore()
	past := time.Now().Add(-time.Hour).Unix()
	future := time.Now().Add(time.Hour).Unix()
	s.Put(domain.BatchRegistration{SrcDBID: 4, DAGRunID: "expired", Status: domain.StatusRunning, TTL: past})
	s.Put(domain.BatchRegistration{SrcDBID: 4, DAGRunID: "live", Status: domain.StatusRunning, TTL: future})
	s.Put(domain.BatchRegistration{SrcDBID: 4, DAGRunID: "expired-waiting", Status: domain.StatusWaiting, TTL: past})

	n, err := s.DeleteExpired(time.Now())
	if err != nil {
		t.Fatalf("DeleteExpired: %v", err)
	}
	if n != 1 {
		t.Errorf("purged %d entries, want 1 (only the expired RUNNING one)", n)
	}
	if got, _ := s.Get(Key{SrcDBID: 4, DAGRunID: "live"}); got == nil {
		t.Error("live registration was purged")
	}
	if got, _ := s.Get(Key{SrcDBID: 4, DAGRunID: "expired-waiting"}); got == nil {
		t.Error("non-RUNNING expired registration should not be purged")
	}
}

func TestMemStore_WithAdmissionSerializesConcurrentWrites(t *testing.T) {
	s := NewMemStore()
	const srcDBID = 4
	const n = 50

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.WithAdmission(srcDBID, func(snap AdmissionSnapshot) (*domain.BatchRegistration, error) {
				return &domain.BatchRegistration{
					SrcDBID:      srcDBID,
					DAGRunID:     string(rune('a' + i)),
					ParallelHint: 1,
					Status:       domain.StatusRunning,
					TTL:          time.Now().Add(time.Hour).Unix(),
				}, nil
			})
		}(i)
	}
	wg.Wait()

	usage, err := CurrentUsage(s, srcDBID)
	if err != nil {
		t.Fatalf("CurrentUsage: %v", err)
	}
	if usage != n {
		t.Errorf("usage = %d, want %d (every concurrent admit committed exactly once)", usage, n)
	}
}

func TestMemStore_WithAdmissionSnapshotReflectsPriorWrites(t *testing.T) {
	s := NewMemStore()
	s.Put(domain.BatchRegistration{SrcDBID: 4, DAGRunID: "r1", ParallelHint: 3, Status: domain.StatusRunning})
	s.Put(domain.BatchRegistration{SrcDBID: 4, DAGRunID: "r2", ParallelHint: 0, Status: domain.StatusWaiting})

	var gotUsage, gotWaiting int
	var gotRunning int
	var lookedUp *domain.BatchRegistration
	err := s.WithAdmission(4, func(snap AdmissionSnapshot) (*domain.BatchRegistration, error) {
		gotUsage = snap.Usage
		gotWaiting = snap.Waiting
		gotRunning = len(snap.Running)
		reg, err := snap.Get(Key{SrcDBID: 4, DAGRunID: "r1"})
		if err != nil {
			return nil, err
		}
		lookedUp = reg
		return nil, nil
	})
	if err != nil {
		t.Fatalf("WithAdmission: %v", err)
	}
	if gotUsage != 3 {
		t.Errorf("snap.Usage = %d, want 3", gotUsage)
	}
	if gotRunning != 1 {
		t.Errorf("len(snap.Running) = %d, want 1", gotRunning)
	}
	if gotWaiting != 1 {
		t.Errorf("snap.Waiting = %d, want 1", gotWaiting)
	}
	if lookedUp == nil || lookedUp.ParallelHint != 3 {
		t.Fatalf("snap.Get(r1) = %+v, want ParallelHint 3", lookedUp)
	}
}

func TestMemStore_WithAdmissionNilRegistrationPersistsNothing(t *testing.T) {
	s := NewMemStore()
	err := s.WithAdmission(4, func(snap AdmissionSnapshot) (*domain.BatchRegistration, error) {
		return nil, nil
	})
	if err != nil {
		t.Fatalf("WithAdmission: %v", err)
	}
	running, _ := s.ScanRunning(4)
	if len(running) != 0 {
		t.Errorf("expected no registrations persisted, got %d", len(running))
	}
}
