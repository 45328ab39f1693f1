/*
store.go - Persistence contract for the shipment ledger

APPEND-ONLY CONTRACT:
  - Append(): the ONLY write operation
  - NO Update() or Delete() methods exist
  - A failed Append leaves the store unchanged

TWO ACCESS PATHS:
  - Get(position):         sequential index, 0-based, dense
  - GetByContentID(id):    secondary index, first stored match wins

IMPLEMENTATIONS:
  - ledger/store/memory.go:  In-memory for tests and dev
  - store/sqlite/sqlite.go:  Durable SQLite
  - client/client.go:        Remote ledger host over HTTP
*/
package ledger

import "context"

// Store is the append-only record keeper.
type Store interface {
	// Append stores a fully formed record at the next position and returns
	// that position. The record is visible to reads once Append returns.
	Append(ctx context.Context, r Record) (uint64, error)

	// Get returns the record at position. ErrNotFound if position >= Count.
	Get(ctx context.Context, position uint64) (Record, error)

	// GetByContentID returns the first record carrying id.
	GetByContentID(ctx context.Context, id ContentID) (Entry, error)

	// Count returns the number of stored records. Never decreases.
	Count(ctx context.Context) (uint64, error)
}

// Reader is the read half of Store. Read-only sessions only need this.
type Reader interface {
	Get(ctx context.Context, position uint64) (Record, error)
	GetByContentID(ctx context.Context, id ContentID) (Entry, error)
	Count(ctx context.Context) (uint64, error)
}

// Appender is the write half of Store.
type Appender interface {
	Append(ctx context.Context, r Record) (uint64, error)
}

// RangeReader is implemented by stores that can return a run of positions in
// one round trip. Range returns entries for positions in [from, to), ordered by
// position. Implementations may return fewer entries than requested only if
// the ledger is shorter than to.
type RangeReader interface {
	Range(ctx context.Context, from, to uint64) ([]Entry, error)
}
