package store

import (
	"context"
	"sort"
	"sync"

	"github.com/hanwool-dev/wakebattle/internal/domain"
)

// Memory is an ephemeral in-process store used for tests and
// single-instance operation without durability.
type Memory struct {
	mu      sync.RWMutex
	battles map[string]*domain.Battle
}

func NewMemory() *Memory {
	return &Memory{battles: make(map[string]*domain.Battle)}
}

func (m *Memory) Save(ctx context.Context, b *domain.Battle) error {
	if b == nil || b.ID == "" {
		return backendErr("memory", "save", "", errf("nil or unidentified battle"))
	}
	cp := cloneBattle(b)
	m.mu.Lock()
	m.battles[b.ID] = cp
	m.mu.Unlock()
	return nil
}

func (m *Memory) Load(ctx context.Context, id string) (*domain.Battle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.battles[id]
	if !ok {
		return nil, nil
	}
	return cloneBattle(b), nil
}

func (m *Memory) LoadMany(ctx context.Context, f Filter) ([]*domain.Battle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []*domain.Battle{}
	for _, b := range m.battles {
		if f.Matches(b) {
			out = append(out, cloneBattle(b))
		}
	}
	// stable order for callers: newest start first
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].StartTime.After(out[j].StartTime)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) Update(ctx context.Context, id string, p Patch) (*domain.Battle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.battles[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := cloneBattle(b)
	p.Apply(cp)
	m.battles[id] = cp
	return cloneBattle(cp), nil
}

func (m *Memory) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.battles[id]; !ok {
		return ErrNotFound
	}
	delete(m.battles, id)
	return nil
}

func (m *Memory) Close() error { return nil }

// cloneBattle deep-copies the mutable slices so callers never share
// backing arrays with the stored record.
func cloneBattle(b *domain.Battle) *domain.Battle {
	cp := *b
	if b.Participants != nil {
		cp.Participants = make([]domain.Participant, len(b.Participants))
		copy(cp.Participants, b.Participants)
		for i := range cp.Participants {
			if ts := cp.Participants[i].CompletedTasks; ts != nil {
				cp.Participants[i].CompletedTasks = append([]string(nil), ts...)
			}
		}
	}
	if b.PrizePool != nil {
		cp.PrizePool = make(map[string]domain.RewardTier, len(b.PrizePool))
		for k, v := range b.PrizePool {
			cp.PrizePool[k] = v
		}
	}
	return &cp
}
