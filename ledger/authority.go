/*
authority.go - Single write authority for a ledger instance

PURPOSE:
  Serializes every append into one total order, enforces the validation
  boundary and the "any authenticated writer may append" rule, and announces
  each accepted record as a TransactionAdded event.

APPEND FLOW:
  1. Authorize the writer credential      -> ErrWriteRejected + ErrUnauthorized
  2. Validate the record                  -> *ValidationError
  3. Store.Append under the write lock    -> ErrWriteRejected on failure
  4. Publish TransactionAdded             -> failures logged, append stands

Reads bypass the write lock. Records are immutable, so a read racing an
append sees either the old count or the new one, never a torn record.
*/
package ledger

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// TransactionAdded is emitted once per successful append.
type TransactionAdded struct {
	ExternalID string
	Product    string
	Status     Status
	ContentID  ContentID
	Position   uint64
}

// Publisher receives TransactionAdded events after the append is durable.
type Publisher interface {
	Publish(ctx context.Context, ev TransactionAdded) error
}

// Authorizer decides whether a writer credential may append.
type Authorizer interface {
	Authorize(ctx context.Context, credential string) error
}

// TokenSet authorizes writers presenting one of a fixed set of tokens.
// An empty set rejects every writer.
type TokenSet struct {
	tokens [][]byte
}

// NewTokenSet builds a TokenSet, ignoring empty tokens.
func NewTokenSet(tokens ...string) *TokenSet {
	ts := &TokenSet{}
	for _, t := range tokens {
		if t != "" {
			ts.tokens = append(ts.tokens, []byte(t))
		}
	}
	return ts
}

// Authorize implements Authorizer.
func (ts *TokenSet) Authorize(_ context.Context, credential string) error {
	if credential == "" {
		return fmt.Errorf("%w: missing credential", ErrUnauthorized)
	}
	for _, t := range ts.tokens {
		if subtle.ConstantTimeCompare(t, []byte(credential)) == 1 {
			return nil
		}
	}
	return ErrUnauthorized
}

// AllowAll authorizes every writer. Intended for local development.
type AllowAll struct{}

// Authorize implements Authorizer.
func (AllowAll) Authorize(context.Context, string) error { return nil }

// PublishTimeout bounds how long Append waits on publishers once a record
// is committed.
const PublishTimeout = 5 * time.Second

// Authority owns writes to a Store.
type Authority struct {
	store      Store
	auth       Authorizer
	log        *slog.Logger
	publishers []Publisher

	mu sync.Mutex
}

// NewAuthority wraps store. A nil auth behaves like AllowAll.
func NewAuthority(store Store, auth Authorizer, log *slog.Logger, publishers ...Publisher) *Authority {
	if auth == nil {
		auth = AllowAll{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Authority{store: store, auth: auth, log: log, publishers: publishers}
}

// Append authorizes, validates and stores r. Blocks until the record is
// ordered or the append fails.
func (a *Authority) Append(ctx context.Context, credential string, r Record) (uint64, error) {
	if err := a.auth.Authorize(ctx, credential); err != nil {
		return 0, WriteRejected(err)
	}
	if err := r.Validate(); err != nil {
		return 0, err
	}

	a.mu.Lock()
	if err := ctx.Err(); err != nil {
		a.mu.Unlock()
		return 0, WriteRejected(err)
	}
	pos, err := a.store.Append(ctx, r)
	a.mu.Unlock()
	if err != nil {
		return 0, WriteRejected(err)
	}

	a.log.Info("transaction added",
		slog.Uint64("position", pos),
		slog.String("external_id", r.ExternalID),
		slog.String("content_id", r.ContentID.String()))

	ev := TransactionAdded{
		ExternalID: r.ExternalID,
		Product:    r.Product,
		Status:     r.Status,
		ContentID:  r.ContentID,
		Position:   pos,
	}
	// The record is committed; announcing it must not depend on the caller
	// staying connected.
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), PublishTimeout)
	defer cancel()
	for _, p := range a.publishers {
		if err := p.Publish(pubCtx, ev); err != nil {
			a.log.Warn("publish transaction added", slog.Uint64("position", pos), slog.Any("err", err))
		}
	}
	return pos, nil
}

// Get returns the record at position.
func (a *Authority) Get(ctx context.Context, position uint64) (Record, error) {
	return a.store.Get(ctx, position)
}

// GetByContentID returns the first record carrying id.
func (a *Authority) GetByContentID(ctx context.Context, id ContentID) (Entry, error) {
	return a.store.GetByContentID(ctx, id)
}

// Count returns the number of stored records.
func (a *Authority) Count(ctx context.Context) (uint64, error) {
	return a.store.Count(ctx)
}

// Range returns entries for [from, to), clamped to the current count. Uses the
// store's bulk read when available.
func (a *Authority) Range(ctx context.Context, from, to uint64) ([]Entry, error) {
	count, err := a.store.Count(ctx)
	if err != nil {
		return nil, err
	}
	if to > count {
		to = count
	}
	if from >= to {
		return []Entry{}, nil
	}
	if rr, ok := a.store.(RangeReader); ok {
		return rr.Range(ctx, from, to)
	}

	entries := make([]Entry, 0, to-from)
	for pos := from; pos < to; pos++ {
		r, err := a.store.Get(ctx, pos)
		if err != nil {
			return nil, err
		}
		entries = append(entries, Entry{Position: pos, Record: r})
	}
	return entries, nil
}

// As returns an Appender that appends through the authority with credential.
func (a *Authority) As(credential string) Appender {
	return boundWriter{a: a, credential: credential}
}

type boundWriter struct {
	a          *Authority
	credential string
}

func (w boundWriter) Append(ctx context.Context, r Record) (uint64, error) {
	return w.a.Append(ctx, w.credential, r)
}
