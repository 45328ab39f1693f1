package cli

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/warp/food-ledger/api"
	"github.com/warp/food-ledger/ledger"
	"github.com/warp/food-ledger/tracker"
)

// eventSource is implemented by backends that can push TransactionAdded
// events, such as client.Client.
type eventSource interface {
	Events(ctx context.Context) (<-chan ledger.TransactionAdded, error)
}

func newWatchCommand(opts *RootOptions) *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print new records as they are appended",
		Long: `Print every record already on the ledger, then each new record as it
arrives. Polls at --interval and, when the host offers an event stream,
also refreshes as soon as an append is announced. Stops on interrupt.`,
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("interval") && opts.cfg.Client.PollInterval > 0 {
				interval = opts.cfg.Client.PollInterval
			}
			return runWatch(cmd, opts, interval)
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 30*time.Second, "poll interval")
	return cmd
}

func runWatch(cmd *cobra.Command, opts *RootOptions, interval time.Duration) error {
	f := opts.formatter(cmd)
	ctx := cmd.Context()

	b, err := opts.backend(f)
	if err != nil {
		return err
	}
	s := opts.session(b, f)
	if err := s.OpenReadOnly(ctx); err != nil {
		return f.Fail("cannot load ledger", err)
	}

	// Each position is printed once, including positions that were missing
	// from an earlier refresh and load later.
	var (
		mu      sync.Mutex
		printed = make(map[uint64]bool)
	)
	emit := func(snap tracker.Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		for _, e := range snap.Entries {
			if printed[e.Position] {
				continue
			}
			f.Success(api.ToTransactionDTO(e), func(w io.Writer) {
				r := e.Record
				fmt.Fprintf(w, "#%d %s %s %s %s -> %s %s\n",
					e.Position, tracker.FormatDate(r.Date), r.ExternalID, r.Product, r.Source, r.Destination, r.Status)
			})
			printed[e.Position] = true
		}
	}
	emit(s.Snapshot())

	poller := tracker.NewPoller(s, interval)
	poller.OnRefresh = emit
	poller.Start(ctx)
	defer poller.Stop()

	var following sync.WaitGroup
	defer following.Wait()
	if src, ok := b.(eventSource); ok {
		stream, err := src.Events(ctx)
		if err != nil {
			f.VerboseLog("event stream unavailable, polling only: %v", err)
		} else {
			following.Add(1)
			go func() {
				defer following.Done()
				poller.Follow(ctx, stream)
			}()
		}
	}

	// Runs until interrupted; cancellation is the normal way out.
	<-ctx.Done()
	return nil
}
