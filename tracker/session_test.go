/*
session_test.go - Tests for the sync and view layer

Tests for:
- Submit then view (append, refresh, search, status filter)
- Partial refresh tolerance (Missing positions)
- Validation gate (no ledger interaction on invalid drafts)
- State machine (Submit outside Connected)
- Refresh failure keeps the previous snapshot
- Cancel-and-restart refresh policy
*/
package tracker_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/food-ledger/ledger"
	"github.com/warp/food-ledger/ledger/store"
	"github.com/warp/food-ledger/tracker"
)

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newSession(r ledger.Reader) *tracker.Session {
	return tracker.NewSession(r,
		tracker.WithLogger(quietLogger()),
		tracker.WithClock(func() time.Time { return fixedNow }))
}

func wheatDraft() tracker.Draft {
	return tracker.Draft{
		ExternalID:          "SCE-002",
		Product:             "Wheat",
		Quantity:            "500 kg",
		Source:              "Farm A",
		SourceLocation:      "Kansas",
		Destination:         "Mill B",
		DestinationLocation: "Ohio",
		Status:              ledger.StatusPending,
		Date:                "2024-03-01",
	}
}

func seedRecord(id, product string, status ledger.Status) ledger.Record {
	return ledger.Record{
		ExternalID:          id,
		Product:             product,
		Quantity:            "10 kg",
		Source:              "Depot",
		SourceLocation:      "North",
		Destination:         "Store",
		DestinationLocation: "South",
		Status:              status,
		Date:                1700000000,
		ContentID:           ledger.DeriveContentID(id, product, fixedNow),
	}
}

func seed(t *testing.T, m *store.Memory, records ...ledger.Record) {
	t.Helper()
	for _, r := range records {
		_, err := m.Append(context.Background(), r)
		require.NoError(t, err)
	}
}

// countingAppender records whether Append was reached.
type countingAppender struct {
	calls atomic.Int32
	next  ledger.Appender
}

func (c *countingAppender) Append(ctx context.Context, r ledger.Record) (uint64, error) {
	c.calls.Add(1)
	return c.next.Append(ctx, r)
}

// pointReader exposes only per-position reads and fails Get at the listed
// positions.
type pointReader struct {
	inner   *store.Memory
	failAt  map[uint64]bool
	countFn func(ctx context.Context) (uint64, error)
}

func (p *pointReader) Get(ctx context.Context, pos uint64) (ledger.Record, error) {
	if p.failAt[pos] {
		return ledger.Record{}, ledger.Unavailable(errors.New("connection reset"))
	}
	return p.inner.Get(ctx, pos)
}

func (p *pointReader) GetByContentID(ctx context.Context, id ledger.ContentID) (ledger.Entry, error) {
	return p.inner.GetByContentID(ctx, id)
}

func (p *pointReader) Count(ctx context.Context) (uint64, error) {
	if p.countFn != nil {
		return p.countFn(ctx)
	}
	return p.inner.Count(ctx)
}

// =============================================================================
// SUBMIT AND VIEW
// =============================================================================

func TestSession_SubmitThenView(t *testing.T) {
	// GIVEN: A connected session over a ledger with one unrelated record
	ctx := context.Background()
	mem := store.NewMemory()
	seed(t, mem, seedRecord("SCE-001", "Rice", ledger.StatusDelivered))
	authority := ledger.NewAuthority(mem, ledger.NewTokenSet("writer"), quietLogger())

	s := newSession(authority)
	require.NoError(t, s.Connect(ctx, authority.As("writer")))
	before := s.Snapshot().Expected

	// WHEN: The wheat shipment is submitted
	entry, err := s.Submit(ctx, wheatDraft())

	// THEN: The ledger grew by one and the snapshot includes the new record
	require.NoError(t, err)
	assert.Equal(t, uint64(1), entry.Position)
	assert.Equal(t, ledger.DeriveContentID("SCE-002", "Wheat", fixedNow), entry.Record.ContentID)

	count, err := mem.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, before+1, count)
	assert.Equal(t, count, s.Snapshot().Expected)

	found := s.View(tracker.Filter{Search: "wheat"})
	require.Len(t, found, 1)
	assert.Equal(t, "SCE-002", found[0].Record.ExternalID)
	assert.Equal(t, uint64(1709251200), found[0].Record.Date)

	delivered := s.View(tracker.Filter{Status: tracker.OnlyStatus(ledger.StatusDelivered)})
	for _, e := range delivered {
		assert.NotEqual(t, "SCE-002", e.Record.ExternalID)
	}

	stored, err := mem.GetByContentID(ctx, entry.Record.ContentID)
	require.NoError(t, err)
	assert.Equal(t, entry, stored)
}

func TestSession_SubmitInvalidDraftNeverReachesLedger(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	writer := &countingAppender{next: mem}
	s := newSession(mem)
	require.NoError(t, s.Connect(ctx, writer))

	tests := []struct {
		name   string
		mutate func(*tracker.Draft)
		field  string
	}{
		{"empty product", func(d *tracker.Draft) { d.Product = "" }, "product"},
		{"whitespace source", func(d *tracker.Draft) { d.Source = "   " }, "source"},
		{"status out of range", func(d *tracker.Draft) { d.Status = 7 }, "status"},
		{"bad date", func(d *tracker.Draft) { d.Date = "03/01/2024" }, "date"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := wheatDraft()
			tt.mutate(&d)
			kept := d

			_, err := s.Submit(ctx, d)

			require.ErrorIs(t, err, ledger.ErrValidation)
			var ve *ledger.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
			assert.Equal(t, kept, d)
		})
	}

	assert.Zero(t, writer.calls.Load())
	count, _ := mem.Count(ctx)
	assert.Zero(t, count)
}

func TestSession_SubmitRequiresConnected(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	s := newSession(mem)

	_, err := s.Submit(ctx, wheatDraft())
	assert.ErrorIs(t, err, tracker.ErrNotConnected)

	require.NoError(t, s.OpenReadOnly(ctx))
	assert.Equal(t, tracker.ReadOnly, s.State())
	_, err = s.Submit(ctx, wheatDraft())
	assert.ErrorIs(t, err, tracker.ErrNotConnected)

	require.NoError(t, s.Connect(ctx, mem))
	assert.Equal(t, tracker.Connected, s.State())
	s.Disconnect()
	assert.Equal(t, tracker.Disconnected, s.State())
	_, err = s.Submit(ctx, wheatDraft())
	assert.ErrorIs(t, err, tracker.ErrNotConnected)

	count, _ := mem.Count(ctx)
	assert.Zero(t, count)
}

func TestSession_SubmitRejectedWriter(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	authority := ledger.NewAuthority(mem, ledger.NewTokenSet("writer"), quietLogger())
	s := newSession(authority)
	require.NoError(t, s.Connect(ctx, authority.As("intruder")))

	_, err := s.Submit(ctx, wheatDraft())

	assert.ErrorIs(t, err, ledger.ErrWriteRejected)
	assert.ErrorIs(t, err, ledger.ErrUnauthorized)
	count, _ := mem.Count(ctx)
	assert.Zero(t, count)
}

func TestSession_SubmitStoredButRefreshFailed(t *testing.T) {
	// GIVEN: A session whose reader starts failing after the initial refresh
	ctx := context.Background()
	mem := store.NewMemory()
	var broken atomic.Bool
	reader := &pointReader{inner: mem, countFn: func(ctx context.Context) (uint64, error) {
		if broken.Load() {
			return 0, errors.New("dial tcp: connection refused")
		}
		return mem.Count(ctx)
	}}
	s := newSession(reader)
	require.NoError(t, s.Connect(ctx, mem))
	broken.Store(true)

	// WHEN: A valid draft is submitted
	entry, err := s.Submit(ctx, wheatDraft())

	// THEN: The entry is reported as stored and the refresh error surfaces
	require.ErrorIs(t, err, ledger.ErrSyncUnavailable)
	assert.Equal(t, uint64(0), entry.Position)
	assert.Equal(t, "SCE-002", entry.Record.ExternalID)
	count, _ := mem.Count(ctx)
	assert.Equal(t, uint64(1), count)
}

func TestSession_SubmitSucceedsWhenFollowUpRefreshIsSuperseded(t *testing.T) {
	// GIVEN: A connected session whose post-append refresh blocks in Count
	ctx := context.Background()
	mem := store.NewMemory()
	entered := make(chan struct{})
	var calls atomic.Int32
	s := newSession(&pointReader{inner: mem, countFn: func(ctx context.Context) (uint64, error) {
		if calls.Add(1) == 2 {
			close(entered)
			<-ctx.Done()
			return 0, ctx.Err()
		}
		return mem.Count(ctx)
	}})
	require.NoError(t, s.Connect(ctx, mem))

	var wg sync.WaitGroup
	var entry ledger.Entry
	var submitErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		entry, submitErr = s.Submit(ctx, wheatDraft())
	}()
	<-entered

	// WHEN: Another refresh starts while Submit's refresh is in flight
	snap, err := s.Refresh(ctx)
	wg.Wait()

	// THEN: The newer refresh holds the record and Submit reports success
	require.NoError(t, err)
	assert.Len(t, snap.Entries, 1)
	require.NoError(t, submitErr)
	assert.Equal(t, uint64(0), entry.Position)
	assert.Equal(t, "SCE-002", entry.Record.ExternalID)
	assert.Equal(t, uint64(1), s.Expected())
}

// =============================================================================
// REFRESH
// =============================================================================

func TestSession_RefreshSkipsFailedPositions(t *testing.T) {
	// GIVEN: Three records where position 1 cannot be read
	ctx := context.Background()
	mem := store.NewMemory()
	seed(t, mem,
		seedRecord("A-0", "Corn", ledger.StatusPending),
		seedRecord("A-1", "Barley", ledger.StatusInTransit),
		seedRecord("A-2", "Oats", ledger.StatusDelivered))
	s := newSession(&pointReader{inner: mem, failAt: map[uint64]bool{1: true}})

	// WHEN: Refreshing
	snap, err := s.Refresh(ctx)

	// THEN: Two entries, position 1 missing, no error
	require.NoError(t, err)
	require.Len(t, snap.Entries, 2)
	assert.Equal(t, uint64(0), snap.Entries[0].Position)
	assert.Equal(t, uint64(2), snap.Entries[1].Position)
	assert.Equal(t, []uint64{1}, snap.Missing)
	assert.Equal(t, uint64(3), snap.Expected)
	assert.False(t, snap.Complete())
	assert.Equal(t, "2 of 3 records loaded", snap.Loaded())
	assert.Equal(t, fixedNow, snap.FetchedAt)
}

func TestSession_RefreshUsesRangeReader(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	seed(t, mem,
		seedRecord("B-0", "Corn", ledger.StatusPending),
		seedRecord("B-1", "Barley", ledger.StatusPending))
	s := newSession(mem)

	snap, err := s.Refresh(ctx)

	require.NoError(t, err)
	assert.True(t, snap.Complete())
	require.Len(t, snap.Entries, 2)
	assert.Equal(t, "B-1", snap.Entries[1].Record.ExternalID)
}

func TestSession_RefreshUnavailableKeepsPreviousSnapshot(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	seed(t, mem, seedRecord("C-0", "Corn", ledger.StatusPending))
	var broken atomic.Bool
	s := newSession(&pointReader{inner: mem, countFn: func(ctx context.Context) (uint64, error) {
		if broken.Load() {
			return 0, errors.New("no route to host")
		}
		return mem.Count(ctx)
	}})
	require.NoError(t, s.OpenReadOnly(ctx))

	broken.Store(true)
	_, err := s.Refresh(ctx)

	require.ErrorIs(t, err, ledger.ErrSyncUnavailable)
	snap := s.Snapshot()
	require.Len(t, snap.Entries, 1)
	assert.Equal(t, "C-0", snap.Entries[0].Record.ExternalID)
	assert.Equal(t, tracker.ReadOnly, s.State())
}

func TestSession_ConnectFailureLeavesStateUnchanged(t *testing.T) {
	mem := store.NewMemory()
	s := newSession(&pointReader{inner: mem, countFn: func(context.Context) (uint64, error) {
		return 0, errors.New("timeout")
	}})

	err := s.Connect(context.Background(), mem)

	assert.ErrorIs(t, err, ledger.ErrSyncUnavailable)
	assert.Equal(t, tracker.Disconnected, s.State())
}

func TestSession_NewRefreshCancelsInFlightRefresh(t *testing.T) {
	// GIVEN: A refresh blocked in Count until its context is cancelled
	ctx := context.Background()
	mem := store.NewMemory()
	seed(t, mem, seedRecord("D-0", "Corn", ledger.StatusPending))

	entered := make(chan struct{})
	var calls atomic.Int32
	s := newSession(&pointReader{inner: mem, countFn: func(ctx context.Context) (uint64, error) {
		if calls.Add(1) == 1 {
			close(entered)
			<-ctx.Done()
			return 0, ctx.Err()
		}
		return mem.Count(ctx)
	}})

	var wg sync.WaitGroup
	var firstErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, firstErr = s.Refresh(ctx)
	}()
	<-entered

	// WHEN: A second refresh starts
	snap, err := s.Refresh(ctx)
	wg.Wait()

	// THEN: The newer refresh wins and the first reports it was superseded
	require.NoError(t, err)
	assert.Len(t, snap.Entries, 1)
	assert.ErrorIs(t, firstErr, tracker.ErrSuperseded)
	assert.ErrorIs(t, firstErr, context.Canceled)
	assert.Len(t, s.Snapshot().Entries, 1)
}

func TestSession_SupersededRefreshResultIsDiscarded(t *testing.T) {
	// GIVEN: A first refresh that ignores cancellation and is released late
	ctx := context.Background()
	mem := store.NewMemory()
	seed(t, mem, seedRecord("E-0", "Corn", ledger.StatusPending))

	entered := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	s := newSession(&pointReader{inner: mem, countFn: func(ctx context.Context) (uint64, error) {
		if calls.Add(1) == 1 {
			close(entered)
			<-release
		}
		return mem.Count(context.Background())
	}})

	var wg sync.WaitGroup
	var firstErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, firstErr = s.Refresh(ctx)
	}()
	<-entered

	_, err := s.Refresh(ctx)
	require.NoError(t, err)

	// WHEN: The ledger grows and the stale refresh completes
	seed(t, mem, seedRecord("E-1", "Rye", ledger.StatusPending))
	close(release)
	wg.Wait()

	// THEN: Its larger result is not installed
	assert.ErrorIs(t, firstErr, tracker.ErrSuperseded)
	assert.Len(t, s.Snapshot().Entries, 1)
}

// =============================================================================
// VIEW
// =============================================================================

func TestSession_ViewFilters(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	seed(t, mem,
		seedRecord("F-0", "Wheat flour", ledger.StatusPending),
		seedRecord("F-1", "Apples", ledger.StatusDelivered),
		seedRecord("F-2", "Whole WHEAT", ledger.StatusInTransit),
		seedRecord("F-3", "Milk", ledger.StatusPending))
	s := newSession(mem)
	require.NoError(t, s.OpenReadOnly(ctx))
	all := s.Snapshot().Entries

	t.Run("empty filter returns everything", func(t *testing.T) {
		assert.Equal(t, all, s.View(tracker.Filter{}))
	})

	t.Run("search is case-insensitive and order preserving", func(t *testing.T) {
		got := s.View(tracker.Filter{Search: "WhEaT"})
		require.Len(t, got, 2)
		assert.Equal(t, uint64(0), got[0].Position)
		assert.Equal(t, uint64(2), got[1].Position)
	})

	t.Run("pending is not all", func(t *testing.T) {
		pending := s.View(tracker.Filter{Status: tracker.OnlyStatus(ledger.StatusPending)})
		assert.Len(t, pending, 2)
		assert.Len(t, s.View(tracker.Filter{Status: tracker.AllStatuses}), 4)
	})

	t.Run("search and status are combined", func(t *testing.T) {
		got := s.View(tracker.Filter{Search: "wheat", Status: tracker.OnlyStatus(ledger.StatusInTransit)})
		require.Len(t, got, 1)
		assert.Equal(t, "F-2", got[0].Record.ExternalID)
	})

	t.Run("view does not modify the snapshot", func(t *testing.T) {
		got := s.View(tracker.Filter{})
		got[0].Record.Product = "changed"
		assert.Equal(t, "Wheat flour", s.Snapshot().Entries[0].Record.Product)
	})
}
