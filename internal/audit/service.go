package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coop-ledger/coopledger/internal/shared"
)

// Recorder appends entries as part of an enclosing transaction. Domain transaction
// repositories implement it so the mutation and its log entry commit together.
type Recorder interface {
	RecordAudit(ctx context.Context, e Entry) error
}

// Apply converts the command into an entry and records it through rec. Any failure must
// abort the enclosing transaction.
func Apply(ctx context.Context, rec Recorder, cmd Command, actorID int64, at time.Time) error {
	entry, err := cmd.Entry(actorID, at)
	if err != nil {
		return err
	}
	return rec.RecordAudit(ctx, entry)
}

// Store is the persistence port of the audit service.
type Store interface {
	Append(ctx context.Context, e Entry) error
	Search(ctx context.Context, f Filters, limit, offset int) ([]Entry, error)
}

// Service records and queries the audit log.
type Service struct {
	repo Store
	now  func() time.Time
}

// NewService builds the audit service.
func NewService(repo Store) *Service {
	return &Service{repo: repo, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Record appends one entry in its own transaction. A store failure is returned to the
// caller, never swallowed.
func (s *Service) Record(ctx context.Context, action, entityType string, entityID any, before, after any, actorID int64) (Entry, error) {
	if s.repo == nil {
		return Entry{}, fmt.Errorf("audit: repository not configured")
	}
	entry, err := Command{Action: action, EntityType: entityType, EntityID: entityID, Before: before, After: after}.Entry(actorID, s.now())
	if err != nil {
		return Entry{}, err
	}
	if err := s.repo.Append(ctx, entry); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// Query returns a page of entries matching the filters.
func (s *Service) Query(ctx context.Context, filters Filters) (Result, error) {
	if s.repo == nil {
		return Result{}, fmt.Errorf("audit: repository not configured")
	}
	filters.EntityType = strings.TrimSpace(filters.EntityType)
	filters.EntityID = strings.TrimSpace(filters.EntityID)
	filters.Action = strings.TrimSpace(filters.Action)
	page := filters.Page.Normalize()
	offset := page.Offset()
	if filters.Before != nil {
		page.Page = 1
		offset = 0
	}
	entries, err := s.repo.Search(ctx, filters, page.PageSize+1, offset)
	if err != nil {
		return Result{}, err
	}
	hasNext := len(entries) > page.PageSize
	if hasNext {
		entries = entries[:page.PageSize]
	}
	if entries == nil {
		entries = []Entry{}
	}
	return Result{Entries: entries, Paging: shared.NewPagingInfo(page, hasNext)}, nil
}
