/*
poller.go - Keeps a Session's snapshot fresh

DESIGN:
  - Polling is the baseline: a background goroutine refreshes on a ticker
  - Follow refreshes when a TransactionAdded event announces a position the
    snapshot has not seen yet
  - Refresh errors are logged and the previous snapshot stays in place

USAGE:
  poller := tracker.NewPoller(session, 30*time.Second)
  poller.Start(ctx)
  // ... later
  poller.Stop()
*/
package tracker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/warp/food-ledger/ledger"
)

// Poller refreshes a Session periodically.
type Poller struct {
	Session  *Session
	Interval time.Duration

	// OnRefresh, if set, is called after every successful refresh. It may be
	// called from the ticker loop and from Follow concurrently.
	OnRefresh func(Snapshot)

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	runs    int
	lastErr error
}

// NewPoller creates a poller. interval <= 0 defaults to 30s.
func NewPoller(s *Session, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Poller{Session: s, Interval: interval}
}

// Start begins polling until Stop is called or ctx is done. Calling Start on
// a running poller is a no-op.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}

	ctx, p.cancel = context.WithCancel(ctx)
	p.wg.Add(1)
	go p.run(ctx)

	p.Session.log.Info("poller started", slog.Duration("interval", p.Interval))
}

// Stop stops polling and waits for the loop to exit.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
		p.wg.Wait()
		p.Session.log.Info("poller stopped")
	}
}

// Stats returns the number of completed refresh attempts and the last error.
func (p *Poller) Stats() (runs int, lastErr error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.runs, p.lastErr
}

func (p *Poller) run(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.refresh(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (p *Poller) refresh(ctx context.Context) {
	snap, err := p.Session.Refresh(ctx)
	if err != nil && ctx.Err() != nil {
		return
	}

	p.mu.Lock()
	p.runs++
	p.lastErr = err
	p.mu.Unlock()

	if err != nil {
		if !errors.Is(err, ErrSuperseded) {
			p.Session.log.Warn("poll refresh failed", slog.Any("err", err))
		}
		return
	}
	if p.OnRefresh != nil {
		p.OnRefresh(snap)
	}
}

// Follow refreshes the session whenever an event reports a position beyond
// the current snapshot. It returns when events is closed or ctx is done.
func (p *Poller) Follow(ctx context.Context, events <-chan ledger.TransactionAdded) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if ev.Position < p.Session.Expected() {
				continue
			}
			p.refresh(ctx)
		}
	}
}
