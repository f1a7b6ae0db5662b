package store

import (
	"context"
	"fmt"
	"time"

	"github.com/hanwool-dev/wakebattle/internal/domain"
)

// Store is the uniform persistence contract over battles.
// Load returns (nil, nil) when the record does not exist.
type Store interface {
	Save(ctx context.Context, b *domain.Battle) error
	Load(ctx context.Context, id string) (*domain.Battle, error)
	LoadMany(ctx context.Context, f Filter) ([]*domain.Battle, error)
	Update(ctx context.Context, id string, p Patch) (*domain.Battle, error)
	Delete(ctx context.Context, id string) error
	Close() error
}

// Filter selects battles in LoadMany. All fields are optional and
// combine with logical AND.
type Filter struct {
	Type      domain.BattleType
	Status    domain.BattleStatus
	UserID    string // participant membership
	CreatorID string
	From      time.Time // start_time >= From
	To        time.Time // start_time <= To
}

// Matches reports whether b satisfies the filter. KV backends have no
// query capability, so they filter loaded records through this.
func (f Filter) Matches(b *domain.Battle) bool {
	if b == nil {
		return false
	}
	if f.Type != "" && b.Type != f.Type {
		return false
	}
	if f.Status != "" && b.Status != f.Status {
		return false
	}
	if f.CreatorID != "" && b.CreatorID != f.CreatorID {
		return false
	}
	if f.UserID != "" && b.Participant(f.UserID) == nil {
		return false
	}
	if !f.From.IsZero() && b.StartTime.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && b.StartTime.After(f.To) {
		return false
	}
	return true
}

// Patch is a partial update applied to a persisted battle. Nil fields
// are left untouched.
type Patch struct {
	Status       *domain.BattleStatus
	EndTime      *time.Time
	CompletedAt  *time.Time
	Participants []domain.Participant
	Result       *domain.BattleResult
}

// Apply mutates b in place with the non-nil patch fields and bumps
// UpdatedAt.
func (p Patch) Apply(b *domain.Battle) {
	if p.Status != nil {
		b.Status = *p.Status
	}
	if p.EndTime != nil {
		b.EndTime = *p.EndTime
	}
	if p.CompletedAt != nil {
		b.CompletedAt = p.CompletedAt
	}
	if p.Participants != nil {
		b.Participants = p.Participants
	}
	if p.Result != nil {
		b.Result = p.Result
	}
	b.UpdatedAt = time.Now()
}

// ErrNotFound is returned by Update and Delete when the record is absent.
var ErrNotFound = errf("battle record not found")

// BackendError marks a persistence failure with enough context for
// failure-rate scoring: which backend, which operation, which battle.
type BackendError struct {
	Backend string
	Op      string
	ID      string
	Err     error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s %s (battle=%s): %v", e.Backend, e.Op, e.ID, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

func backendErr(backend, op, id string, err error) error {
	return &BackendError{Backend: backend, Op: op, ID: id, Err: err}
}

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error         { return staticErr(s) }
