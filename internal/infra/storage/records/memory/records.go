// Package memory provides an in-memory record repository for testing and
// development, including backfill dry runs.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/jpfraneto/runner-miniapp-backend-sub000/internal/domain/feed"
	"github.com/jpfraneto/runner-miniapp-backend-sub000/internal/domain/tracking"
)

var _ tracking.RecordRepository = (*RecordStore)(nil)

// RecordStore implements tracking.RecordRepository in memory. It mirrors the
// PostgreSQL store's semantics, including the uniqueness guarantee on the
// cast hash, but does not enforce runner registration.
type RecordStore struct {
	mu      sync.Mutex
	records map[feed.CastHash]*tracking.Record
}

// NewRecordStore creates an empty in-memory record store.
func NewRecordStore() *RecordStore {
	return &RecordStore{records: make(map[feed.CastHash]*tracking.Record)}
}

// CreateIfAbsent inserts the record and reports whether the insert won.
func (s *RecordStore) CreateIfAbsent(ctx context.Context, record *tracking.Record) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[record.CastHash()]; exists {
		return false, nil
	}
	s.records[record.CastHash()] = copyRecord(record)
	return true, nil
}

// GetByHash loads the record for a cast hash, or ErrRecordNotFound.
func (s *RecordStore) GetByHash(ctx context.Context, hash feed.CastHash) (*tracking.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, exists := s.records[hash]
	if !exists {
		return nil, tracking.ErrRecordNotFound
	}
	return copyRecord(record), nil
}

// Update persists the record's current state.
func (s *RecordStore) Update(ctx context.Context, record *tracking.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[record.CastHash()]; !exists {
		return tracking.ErrRecordNotFound
	}
	s.records[record.CastHash()] = copyRecord(record)
	return nil
}

// Delete removes the record. Deleting a hash without a record is a no-op.
func (s *RecordStore) Delete(ctx context.Context, hash feed.CastHash) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, hash)
	return nil
}

// CountForRunnerSince counts a runner's non-FAILED records created at or
// after since.
func (s *RecordStore) CountForRunnerSince(ctx context.Context, fid int64, since time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for _, record := range s.records {
		if record.FID() != fid || record.Status() == tracking.RecordStatusFailed {
			continue
		}
		if record.CreatedAt().Before(since) {
			continue
		}
		count++
	}
	return count, nil
}

// MarkStaleFailed converts PROCESSING records not updated since olderThan to
// FAILED and reports what it reaped.
func (s *RecordStore) MarkStaleFailed(ctx context.Context, olderThan time.Time, reason string) ([]tracking.ReapedRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var reaped []tracking.ReapedRecord
	for hash, record := range s.records {
		if record.Status() != tracking.RecordStatusProcessing || !record.UpdatedAt().Before(olderThan) {
			continue
		}
		staleSince := record.UpdatedAt()
		failed := copyRecord(record)
		if err := failed.Fail(reason); err != nil {
			return nil, err
		}
		s.records[hash] = failed
		reaped = append(reaped, tracking.ReapedRecord{Hash: hash, FID: record.FID(), StaleSince: staleSince})
	}
	return reaped, nil
}

func copyRecord(r *tracking.Record) *tracking.Record {
	var workout *tracking.Workout
	if w := r.Workout(); w != nil {
		cp := *w
		workout = &cp
	}
	return tracking.ReconstructRecord(
		r.CastHash(),
		r.FID(),
		r.Status(),
		workout,
		r.Rationale(),
		r.FailureReason(),
		r.CreatedAt(),
		r.UpdatedAt(),
	)
}
