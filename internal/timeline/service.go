package timeline

import (
	"context"
	"strconv"
	"time"
)

// Service coordinates aggregation with the cache layer. Cached entries hold
// the pure aggregation result, so serving from cache keeps outputs identical
// to recomputing.
type Service struct {
	reader Reader
	cache  *Cache
	now    func() time.Time
}

// NewService wires a Reader with a Cache helper.
func NewService(reader Reader, cache *Cache) *Service {
	return &Service{reader: reader, cache: cache, now: time.Now}
}

// WithNow overrides the clock, used by tests and deterministic exports.
func (s *Service) WithNow(fn func() time.Time) {
	s.now = fn
}

// Bump invalidates cached aggregations after a ledger mutation.
func (s *Service) Bump(ctx context.Context) error {
	return s.cache.Bump(ctx)
}

// GetSnapshot returns the analytics snapshot for the trailing window.
func (s *Service) GetSnapshot(ctx context.Context, days int) (Snapshot, error) {
	now := s.now()
	key, err := s.cache.BuildKey(ctx, "flowledger", "analytics", "snapshot",
		strconv.Itoa(days), now.UTC().Format("2006-01-02T15:04"))
	if err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	err = s.cache.FetchJSON(ctx, key, &snap, func(ctx context.Context) (any, error) {
		return ComputeSnapshot(s.reader, now, days), nil
	})
	return snap, err
}

// GetExport returns the formatted export document for the trailing window.
func (s *Service) GetExport(ctx context.Context, days int) (ExportDocument, error) {
	snap, err := s.GetSnapshot(ctx, days)
	if err != nil {
		return ExportDocument{}, err
	}
	return BuildExport(snap, s.now()), nil
}

// GetTimeline returns the ordered custody history of one batch.
func (s *Service) GetTimeline(ctx context.Context, batchID string) ([]Event, error) {
	key, err := s.cache.BuildKey(ctx, "flowledger", "analytics", "timeline", batchID)
	if err != nil {
		return nil, err
	}
	var events []Event
	err = s.cache.FetchJSON(ctx, key, &events, func(ctx context.Context) (any, error) {
		return BuildTimeline(s.reader, batchID)
	})
	return events, err
}

// GetAudit returns the audit document for one batch.
func (s *Service) GetAudit(ctx context.Context, batchID string) (*AuditDocument, error) {
	return BuildAudit(s.reader, batchID, s.now())
}
