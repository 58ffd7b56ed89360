package audit

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"
)

// Repository provides the trail reads and retention delete.
type Repository interface {
	Window(ctx context.Context, f Filters, offset, limit int) ([]Entry, error)
	Prune(ctx context.Context, olderThan time.Time) (int64, error)
}

const (
	defaultPageSize  = 50
	maxPageSize      = 200
	exportLimit      = 10000
	defaultRetention = 90 * 24 * time.Hour
)

// Service coordinates decision trail queries.
type Service struct {
	repo Repository
}

// NewService creates a trail service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Trail loads one page of entries matching the filters, newest first.
func (s *Service) Trail(ctx context.Context, f Filters) (Result, error) {
	if s.repo == nil {
		return Result{}, fmt.Errorf("audit: repository not configured")
	}
	pageSize := f.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	page := f.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * pageSize
	rows, err := s.repo.Window(ctx, f, offset, pageSize+1)
	if err != nil {
		return Result{}, err
	}
	hasNext := len(rows) > pageSize
	if hasNext {
		rows = rows[:pageSize]
	}
	paging := PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	if hasNext {
		paging.NextPage = page + 1
	}
	return Result{Rows: rows, Paging: paging}, nil
}

// ExportTrail renders matching entries as CSV, capped at the export limit.
func (s *Service) ExportTrail(ctx context.Context, f Filters) ([]byte, error) {
	if s.repo == nil {
		return nil, fmt.Errorf("audit: repository not configured")
	}
	rows, err := s.repo.Window(ctx, f, 0, exportLimit)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	header := []string{"at", "subject", "kind", "resource_id", "action", "allowed", "reason", "rank", "matched_type", "matched_scope", "matched_role", "source"}
	if err := w.Write(header); err != nil {
		return nil, err
	}
	for _, e := range rows {
		record := []string{
			e.At.UTC().Format(time.RFC3339),
			e.Subject,
			e.Kind,
			strconv.FormatInt(e.ResourceID, 10),
			e.Action,
			strconv.FormatBool(e.Allowed),
			e.Reason,
			strconv.Itoa(e.Rank),
			e.MatchedType,
			strconv.FormatInt(e.MatchedScope, 10),
			strconv.FormatInt(e.MatchedRole, 10),
			e.Source,
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// PruneOlderThan deletes entries past the retention window and reports how
// many were removed.
func (s *Service) PruneOlderThan(ctx context.Context, retention time.Duration) (int64, error) {
	if s.repo == nil {
		return 0, fmt.Errorf("audit: repository not configured")
	}
	if retention <= 0 {
		retention = defaultRetention
	}
	return s.repo.Prune(ctx, time.Now().Add(-retention))
}
