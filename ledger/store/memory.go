// Package store provides Store implementations.
package store

import (
	"context"
	"sync"

	"github.com/warp/food-ledger/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu      sync.RWMutex
	records []ledger.Record
	byID    map[ledger.ContentID]uint64 // first position carrying the id
}

func NewMemory() *Memory {
	return &Memory{
		byID: make(map[ledger.ContentID]uint64),
	}
}

// Append adds a record at the next position. Append-only.
func (m *Memory) Append(ctx context.Context, r ledger.Record) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	pos := uint64(len(m.records))
	m.records = append(m.records, r)
	if _, seen := m.byID[r.ContentID]; !seen {
		m.byID[r.ContentID] = pos
	}
	return pos, nil
}

func (m *Memory) Get(_ context.Context, position uint64) (ledger.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if position >= uint64(len(m.records)) {
		return ledger.Record{}, &ledger.PositionError{Position: position, Count: uint64(len(m.records))}
	}
	return m.records[position], nil
}

func (m *Memory) GetByContentID(_ context.Context, id ledger.ContentID) (ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	pos, ok := m.byID[id]
	if !ok {
		return ledger.Entry{}, ledger.ErrNotFound
	}
	return ledger.Entry{Position: pos, Record: m.records[pos]}, nil
}

func (m *Memory) Count(context.Context) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return uint64(len(m.records)), nil
}

// Range returns a copy of positions [from, to), clamped to the current length.
func (m *Memory) Range(_ context.Context, from, to uint64) ([]ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := uint64(len(m.records))
	if to > n {
		to = n
	}
	if from >= to {
		return []ledger.Entry{}, nil
	}
	result := make([]ledger.Entry, 0, to-from)
	for pos := from; pos < to; pos++ {
		result = append(result, ledger.Entry{Position: pos, Record: m.records[pos]})
	}
	return result, nil
}
