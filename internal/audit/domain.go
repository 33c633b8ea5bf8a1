package audit

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/coop-ledger/coopledger/internal/shared"
)

// Entity types recorded in the audit log.
const (
	EntityMember       = "member"
	EntityContribution = "contribution"
	EntityLoan         = "loan"
	EntityDeclaration  = "dividend_declaration"
	EntityDividend     = "member_dividend"
	EntityRole         = "role_assignment"
)

// Entry is one immutable audit log record.
type Entry struct {
	ID         uuid.UUID       `json:"id"`
	Action     string          `json:"action"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Before     json.RawMessage `json:"before,omitempty"`
	After      json.RawMessage `json:"after,omitempty"`
	ActorID    int64           `json:"actor_id"`
	At         time.Time       `json:"at"`
}

// Command pairs a domain mutation's identity with its before/after state. It is turned
// into an Entry inside the transaction that applies the mutation.
type Command struct {
	Action     string
	EntityType string
	EntityID   any
	Before     any
	After      any
}

// Entry snapshots the command for the given actor.
func (c Command) Entry(actorID int64, at time.Time) (Entry, error) {
	entityID := strings.TrimSpace(fmt.Sprint(c.EntityID))
	if c.EntityID == nil {
		entityID = ""
	}
	if strings.TrimSpace(c.Action) == "" || strings.TrimSpace(c.EntityType) == "" || entityID == "" {
		return Entry{}, shared.Validation("audit entry requires action, entity type and entity id")
	}
	if actorID <= 0 {
		return Entry{}, shared.Validation("audit entry requires an acting identity")
	}
	before, err := snapshot(c.Before)
	if err != nil {
		return Entry{}, fmt.Errorf("audit: encode before snapshot: %w", err)
	}
	after, err := snapshot(c.After)
	if err != nil {
		return Entry{}, fmt.Errorf("audit: encode after snapshot: %w", err)
	}
	return Entry{
		ID:         uuid.New(),
		Action:     c.Action,
		EntityType: c.EntityType,
		EntityID:   entityID,
		Before:     before,
		After:      after,
		ActorID:    actorID,
		At:         at.UTC(),
	}, nil
}

func snapshot(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if string(raw) == "null" {
		return nil, nil
	}
	return raw, nil
}

// Filters narrows an audit query.
type Filters struct {
	EntityType string
	EntityID   string
	Action     string
	ActorID    int64
	From       time.Time
	To         time.Time
	Page       shared.Page
	// Before restricts the query to entries strictly older than the cursor. When set,
	// Page only bounds the page size.
	Before *Cursor
}

// Cursor is a position in the newest-first log.
type Cursor struct {
	At time.Time
	ID uuid.UUID
}

// CursorOf returns the position of e.
func CursorOf(e Entry) *Cursor {
	return &Cursor{At: e.At, ID: e.ID}
}

// Result wraps a page of entries with paging metadata.
type Result struct {
	Entries []Entry           `json:"entries"`
	Paging  shared.PagingInfo `json:"paging"`
}
