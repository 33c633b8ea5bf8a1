// Package members manages cooperative member records and their lifecycle.
package members

import (
	"time"

	"github.com/coop-ledger/coopledger/internal/shared"
)

// Status of a member.
type Status string

const (
	StatusActive    Status = "active"
	StatusInactive  Status = "inactive"
	StatusSuspended Status = "suspended"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusSuspended:
		return true
	}
	return false
}

// Member is an enrolled cooperative member.
type Member struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone,omitempty"`
	Email     string    `json:"email,omitempty"`
	Status    Status    `json:"status"`
	JoinedAt  time.Time `json:"joined_at"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EnrollInput is the payload for Enroll.
type EnrollInput struct {
	Name     string    `json:"name" validate:"required,max=120"`
	Phone    string    `json:"phone" validate:"omitempty,max=32,printascii"`
	Email    string    `json:"email" validate:"omitempty,email,max=254"`
	JoinedAt time.Time `json:"joined_at"`
}

// ListFilters narrows member listings.
type ListFilters struct {
	Status Status
	Search string
	Page   shared.Page
}

// ListResult is a page of members.
type ListResult struct {
	Members []Member          `json:"members"`
	Paging  shared.PagingInfo `json:"paging"`
}

type memberSnapshot struct {
	ID       int64    `json:"id"`
	Name     string   `json:"name"`
	Phone    string   `json:"phone"`
	Email    string   `json:"email"`
	Status   Status   `json:"status"`
	JoinedAt string   `json:"joined_at"`
	Roles    []string `json:"roles,omitempty"`
}

func snapshot(m Member, roles []string) memberSnapshot {
	return memberSnapshot{
		ID:       m.ID,
		Name:     m.Name,
		Phone:    m.Phone,
		Email:    m.Email,
		Status:   m.Status,
		JoinedAt: m.JoinedAt.Format(shared.DateLayout),
		Roles:    roles,
	}
}
