/*
Package tracker is the client-side sync and view layer over a shipment ledger.

PURPOSE:
  Mirrors the ledger into a local Snapshot and answers filtered queries from
  that snapshot without further ledger round trips. New shipments are
  submitted through the session, which appends and then refreshes.

STATE MACHINE:
  Disconnected --OpenReadOnly--> ReadOnly --Connect--> Connected
       ^                                                   |
       +--------------------- Disconnect ------------------+

  Submit is only legal in Connected. Refresh and View work in every state;
  in Disconnected the snapshot is simply empty or stale.

REFRESH POLICY:
  One refresh in flight per session, cancel-and-restart: starting a refresh
  cancels the one already running. The superseded refresh returns
  ErrSuperseded and its partial result is thrown away. The snapshot is only
  ever replaced wholesale by a refresh that finished and was still current.

  Per-position read failures are logged and skipped; they show up in
  Snapshot.Missing. A failure to read the ledger count aborts the refresh
  with ErrSyncUnavailable and leaves the previous snapshot in place.

SEE ALSO:
  - filter.go: View predicates
  - draft.go: Submission input
  - poller.go: Periodic and event-driven refresh
*/
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/warp/food-ledger/ledger"
)

// State is the session's connection state.
type State int

const (
	Disconnected State = iota
	ReadOnly
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case ReadOnly:
		return "read-only"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

var (
	// ErrNotConnected is returned by Submit outside the Connected state.
	ErrNotConnected = errors.New("session has no write capability")

	// ErrSuperseded is returned by a refresh that was cancelled because a
	// newer refresh started.
	ErrSuperseded = fmt.Errorf("refresh superseded: %w", context.Canceled)
)

// maxPrealloc bounds the snapshot capacity reserved up front from a
// remote-reported count.
const maxPrealloc = 4096

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.log = l }
}

// WithClock overrides the wall clock used for content ids and snapshot times.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// Session owns one local mirror of the ledger.
type Session struct {
	reader ledger.Reader
	log    *slog.Logger
	now    func() time.Time

	mu            sync.Mutex
	state         State
	writer        ledger.Appender
	snapshot      Snapshot
	refreshGen    uint64
	cancelRefresh context.CancelFunc
}

// NewSession creates a Disconnected session reading from reader.
func NewSession(reader ledger.Reader, opts ...Option) *Session {
	s := &Session{
		reader: reader,
		log:    slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(slog.String("component", "tracker"))
	return s
}

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// OpenReadOnly establishes read access and performs the initial refresh.
// A session that is already Connected keeps its write capability.
func (s *Session) OpenReadOnly(ctx context.Context) error {
	if _, err := s.Refresh(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	if s.state == Disconnected {
		s.state = ReadOnly
	}
	s.mu.Unlock()
	s.log.Info("session opened", slog.String("state", s.State().String()))
	return nil
}

// Connect establishes write capability through writer and performs the
// initial refresh. On failure the state is unchanged.
func (s *Session) Connect(ctx context.Context, writer ledger.Appender) error {
	if writer == nil {
		return &ledger.ValidationError{Field: "writer", Message: "must not be nil"}
	}
	if _, err := s.Refresh(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	s.writer = writer
	s.state = Connected
	s.mu.Unlock()
	s.log.Info("session connected")
	return nil
}

// Disconnect drops write capability and returns to Disconnected. Any
// in-flight refresh is cancelled. The snapshot is kept but goes stale.
func (s *Session) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelRefresh != nil {
		s.cancelRefresh()
		s.cancelRefresh = nil
	}
	s.refreshGen++
	s.writer = nil
	s.state = Disconnected
}

// Snapshot returns a copy of the current snapshot.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot.clone()
}

// Expected returns the ledger count seen by the last installed refresh.
func (s *Session) Expected() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot.Expected
}

// View applies f to the current snapshot. Pure with respect to the snapshot;
// never touches the ledger.
func (s *Session) View(f Filter) []ledger.Entry {
	s.mu.Lock()
	entries := s.snapshot.Entries
	s.mu.Unlock()
	// Entries is replaced wholesale, never appended to in place, so reading
	// the captured slice outside the lock is safe.
	return f.Apply(entries)
}

// =============================================================================
// REFRESH
// =============================================================================

// Refresh rebuilds the snapshot from the ledger and installs it.
func (s *Session) Refresh(ctx context.Context) (Snapshot, error) {
	ctx, gen, cancel := s.beginRefresh(ctx)
	defer cancel()

	snap, err := s.fetch(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	current := gen == s.refreshGen
	if current {
		s.cancelRefresh = nil
	}
	if err != nil {
		if !current && errors.Is(err, context.Canceled) {
			return Snapshot{}, ErrSuperseded
		}
		return Snapshot{}, err
	}
	if !current {
		return Snapshot{}, ErrSuperseded
	}

	s.snapshot = snap
	if !snap.Complete() {
		s.log.Warn("partial refresh", slog.String("loaded", snap.Loaded()), slog.Int("missing", len(snap.Missing)))
	}
	return snap.clone(), nil
}

func (s *Session) beginRefresh(parent context.Context) (context.Context, uint64, context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelRefresh != nil {
		s.cancelRefresh()
	}
	s.refreshGen++
	ctx, cancel := context.WithCancel(parent)
	s.cancelRefresh = cancel
	return ctx, s.refreshGen, cancel
}

func (s *Session) fetch(ctx context.Context) (Snapshot, error) {
	count, err := s.reader.Count(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Snapshot{}, ctxErr
		}
		return Snapshot{}, ledger.Unavailable(err)
	}

	snap := Snapshot{Expected: count}
	if count == 0 {
		snap.Entries = []ledger.Entry{}
		snap.FetchedAt = s.now()
		return snap, nil
	}

	if rr, ok := s.reader.(ledger.RangeReader); ok {
		entries, err := rr.Range(ctx, 0, count)
		if err == nil {
			snap.Entries, snap.Missing = reconcile(entries, count)
			snap.FetchedAt = s.now()
			return snap, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Snapshot{}, ctxErr
		}
		s.log.Warn("bulk read failed, reading positions one by one", slog.Any("err", err))
	}

	snap.Entries = make([]ledger.Entry, 0, min(count, maxPrealloc))
	for pos := uint64(0); pos < count; pos++ {
		if err := ctx.Err(); err != nil {
			return Snapshot{}, err
		}
		r, err := s.reader.Get(ctx, pos)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Snapshot{}, ctxErr
			}
			s.log.Warn("skipping position", slog.Uint64("position", pos), slog.Any("err", err))
			snap.Missing = append(snap.Missing, pos)
			continue
		}
		snap.Entries = append(snap.Entries, ledger.Entry{Position: pos, Record: r})
	}
	snap.FetchedAt = s.now()
	return snap, nil
}

// reconcile keeps the entries of a bulk read that fall in [0, count), in
// position order, and lists the positions it did not return.
func reconcile(entries []ledger.Entry, count uint64) ([]ledger.Entry, []uint64) {
	kept := make([]ledger.Entry, 0, len(entries))
	var missing []uint64
	next := uint64(0)
	for _, e := range entries {
		if e.Position < next || e.Position >= count {
			continue
		}
		for ; next < e.Position; next++ {
			missing = append(missing, next)
		}
		kept = append(kept, e)
		next = e.Position + 1
	}
	for ; next < count; next++ {
		missing = append(missing, next)
	}
	return kept, missing
}

// =============================================================================
// SUBMIT
// =============================================================================

// Submit validates d, appends it and refreshes. Validation failures never
// reach the ledger. If the append succeeds but the follow-up refresh fails,
// the stored entry is returned together with the refresh error. A follow-up
// refresh superseded by a newer one is not a failure: the newer refresh
// started after the append and sees the record.
func (s *Session) Submit(ctx context.Context, d Draft) (ledger.Entry, error) {
	s.mu.Lock()
	state, writer := s.state, s.writer
	s.mu.Unlock()
	if state != Connected || writer == nil {
		return ledger.Entry{}, ErrNotConnected
	}

	rec, err := d.Record(s.now())
	if err != nil {
		return ledger.Entry{}, err
	}
	if err := ctx.Err(); err != nil {
		return ledger.Entry{}, err
	}

	pos, err := writer.Append(ctx, rec)
	if err != nil {
		if errors.Is(err, ledger.ErrValidation) || errors.Is(err, context.Canceled) {
			return ledger.Entry{}, err
		}
		return ledger.Entry{}, ledger.WriteRejected(err)
	}

	entry := ledger.Entry{Position: pos, Record: rec}
	s.log.Info("submitted",
		slog.Uint64("position", pos),
		slog.String("external_id", rec.ExternalID),
		slog.String("content_id", rec.ContentID.String()))

	if _, err := s.Refresh(ctx); err != nil && !errors.Is(err, ErrSuperseded) {
		return entry, fmt.Errorf("stored at position %d, refresh failed: %w", pos, err)
	}
	return entry, nil
}
