package cli

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/warp/food-ledger/api"
	"github.com/warp/food-ledger/ledger"
	"github.com/warp/food-ledger/tracker"
)

// =============================================================================
// COUNT
// =============================================================================

// CountResult is the JSON payload of count.
type CountResult struct {
	Count uint64 `json:"count"`
}

func newCountCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "count",
		Short:         "Print the number of records on the ledger",
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := opts.formatter(cmd)
			b, err := opts.backend(f)
			if err != nil {
				return err
			}
			n, err := b.Count(cmd.Context())
			if err != nil {
				return f.Fail("cannot read ledger count", err)
			}
			return f.Success(CountResult{Count: n}, func(w io.Writer) {
				fmt.Fprintf(w, "%d records\n", n)
			})
		},
	}
}

// =============================================================================
// LIST
// =============================================================================

// ListResult is the JSON payload of list.
type ListResult struct {
	Transactions []api.TransactionDTO `json:"transactions"`
	Shown        int                  `json:"shown"`
	Total        uint64               `json:"total"`
	Missing      []uint64             `json:"missing"`
	Summary      *SummaryResult       `json:"summary,omitempty"`
}

// SummaryResult is the JSON form of tracker.Summary.
type SummaryResult struct {
	ByStatus   map[string]int    `json:"by_status"`
	Quantities map[string]string `json:"quantities"`
	Unparsed   int               `json:"unparsed"`
}

type listOptions struct {
	search  string
	status  string
	summary bool
}

func newListCommand(opts *RootOptions) *cobra.Command {
	lo := &listOptions{}
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List ledger records, optionally filtered",
		Long: `List ledger records in position order.

--search matches id, product, source and destination, ignoring case.
--status takes All, a status name (Pending, InTransit, Delivered,
Cancelled) or its number 0..3.`,
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd, opts, lo)
		},
	}
	cmd.Flags().StringVar(&lo.search, "search", "", "case-insensitive text to search for")
	cmd.Flags().StringVar(&lo.status, "status", "All", "status to show")
	cmd.Flags().BoolVar(&lo.summary, "summary", false, "append status counts and quantity totals")
	return cmd
}

func runList(cmd *cobra.Command, opts *RootOptions, lo *listOptions) error {
	f := opts.formatter(cmd)
	status, err := tracker.ParseStatusFilter(lo.status)
	if err != nil {
		return f.Fail("invalid --status", err)
	}

	b, err := opts.backend(f)
	if err != nil {
		return err
	}
	s := opts.session(b, f)
	if err := s.OpenReadOnly(cmd.Context()); err != nil {
		return f.Fail("cannot load ledger", err)
	}

	snap := s.Snapshot()
	shown := s.View(tracker.Filter{Search: lo.search, Status: status})

	result := ListResult{
		Transactions: make([]api.TransactionDTO, 0, len(shown)),
		Shown:        len(shown),
		Total:        snap.Expected,
		Missing:      append([]uint64{}, snap.Missing...),
	}
	for _, e := range shown {
		result.Transactions = append(result.Transactions, api.ToTransactionDTO(e))
	}
	var summary tracker.Summary
	if lo.summary {
		summary = tracker.Summarize(shown)
		result.Summary = toSummaryResult(summary)
	}

	return f.Success(result, func(w io.Writer) {
		if len(shown) == 0 {
			fmt.Fprintln(w, "No matching records")
		} else {
			writeTable(w, shown)
		}
		fmt.Fprintf(w, "\nShowing %d of %d records\n", len(shown), snap.Expected)
		if !snap.Complete() {
			fmt.Fprintf(w, "Warning: %s, missing positions %v\n", snap.Loaded(), snap.Missing)
		}
		if lo.summary {
			writeSummary(w, summary)
		}
	})
}

func writeTable(w io.Writer, entries []ledger.Entry) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "POS\tID\tPRODUCT\tQUANTITY\tSOURCE\tDESTINATION\tSTATUS\tDATE")
	for _, e := range entries {
		r := e.Record
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.Position, r.ExternalID, r.Product, r.Quantity, r.Source, r.Destination,
			r.Status, tracker.FormatDate(r.Date))
	}
	tw.Flush()
}

func toSummaryResult(s tracker.Summary) *SummaryResult {
	out := &SummaryResult{
		ByStatus:   make(map[string]int, len(s.ByStatus)),
		Quantities: make(map[string]string, len(s.Quantities)),
		Unparsed:   s.Unparsed,
	}
	for st, n := range s.ByStatus {
		out.ByStatus[st.String()] = n
	}
	for unit, total := range s.Quantities {
		out.Quantities[unit] = total.String()
	}
	return out
}

func writeSummary(w io.Writer, s tracker.Summary) {
	fmt.Fprintln(w, "\nBy status:")
	for _, st := range ledger.Statuses {
		fmt.Fprintf(w, "  %-10s %d\n", st, s.ByStatus[st])
	}

	units := make([]string, 0, len(s.Quantities))
	for unit := range s.Quantities {
		units = append(units, unit)
	}
	sort.Strings(units)
	fmt.Fprintln(w, "Quantities:")
	for _, unit := range units {
		fmt.Fprintf(w, "  %s %s\n", s.Quantities[unit].String(), unit)
	}
	if s.Unparsed > 0 {
		fmt.Fprintf(w, "  (%d not summable)\n", s.Unparsed)
	}
}

// =============================================================================
// GET
// =============================================================================

type getOptions struct {
	position string
	id       string
}

func newGetCommand(opts *RootOptions) *cobra.Command {
	g := &getOptions{}
	cmd := &cobra.Command{
		Use:           "get (--position N | --id 0x...)",
		Short:         "Show one record by position or content id",
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(cmd, opts, g)
		},
	}
	cmd.Flags().StringVar(&g.position, "position", "", "ledger position")
	cmd.Flags().StringVar(&g.id, "id", "", "content id (0x-prefixed hex)")
	cmd.MarkFlagsMutuallyExclusive("position", "id")
	cmd.MarkFlagsOneRequired("position", "id")
	return cmd
}

func runGet(cmd *cobra.Command, opts *RootOptions, g *getOptions) error {
	f := opts.formatter(cmd)
	ctx := cmd.Context()

	var (
		pos uint64
		id  ledger.ContentID
		err error
	)
	if g.id != "" {
		if id, err = ledger.ParseContentID(g.id); err != nil {
			return f.Fail("invalid --id", err)
		}
	} else if pos, err = strconv.ParseUint(g.position, 10, 64); err != nil {
		return f.Fail("invalid --position", &ledger.ValidationError{Field: "position", Message: err.Error()})
	}

	b, err := opts.backend(f)
	if err != nil {
		return err
	}

	var entry ledger.Entry
	if g.id != "" {
		entry, err = b.GetByContentID(ctx, id)
	} else {
		var r ledger.Record
		r, err = b.Get(ctx, pos)
		entry = ledger.Entry{Position: pos, Record: r}
	}
	if err != nil {
		return f.Fail("cannot read record", err)
	}

	return f.Success(api.ToTransactionDTO(entry), func(w io.Writer) {
		writeEntry(w, entry)
	})
}

func writeEntry(w io.Writer, e ledger.Entry) {
	r := e.Record
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Position:\t%d\n", e.Position)
	fmt.Fprintf(tw, "External ID:\t%s\n", r.ExternalID)
	fmt.Fprintf(tw, "Product:\t%s\n", r.Product)
	fmt.Fprintf(tw, "Quantity:\t%s\n", r.Quantity)
	fmt.Fprintf(tw, "Source:\t%s (%s)\n", r.Source, r.SourceLocation)
	fmt.Fprintf(tw, "Destination:\t%s (%s)\n", r.Destination, r.DestinationLocation)
	fmt.Fprintf(tw, "Status:\t%s (%d)\n", r.Status, uint8(r.Status))
	fmt.Fprintf(tw, "Date:\t%s\n", tracker.FormatDate(r.Date))
	fmt.Fprintf(tw, "Content ID:\t%s\n", r.ContentID)
	tw.Flush()
}
