package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/warp/food-ledger/api"
	"github.com/warp/food-ledger/ledger"
	"github.com/warp/food-ledger/tracker"
)

// SubmitResult is the JSON payload of submit.
type SubmitResult struct {
	Transaction api.TransactionDTO `json:"transaction"`
	Total       uint64             `json:"total"`
	Warning     string             `json:"warning,omitempty"`
}

type submitOptions struct {
	draft  tracker.Draft
	status string
}

func newSubmitCommand(opts *RootOptions) *cobra.Command {
	so := &submitOptions{}
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Append a shipment to the ledger",
		Long: `Append a shipment to the ledger and print where it landed.

Every field is required. --date is YYYY-MM-DD and defaults to today (UTC).
The content id is derived from --id, --product and the submission time.`,
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubmit(cmd, opts, so)
		},
	}
	d := &so.draft
	cmd.Flags().StringVar(&d.ExternalID, "id", "", "external shipment id")
	cmd.Flags().StringVar(&d.Product, "product", "", "product name")
	cmd.Flags().StringVar(&d.Quantity, "quantity", "", `amount with unit, e.g. "500 kg"`)
	cmd.Flags().StringVar(&d.Source, "source", "", "shipper")
	cmd.Flags().StringVar(&d.SourceLocation, "source-location", "", "shipper location")
	cmd.Flags().StringVar(&d.Destination, "destination", "", "receiver")
	cmd.Flags().StringVar(&d.DestinationLocation, "destination-location", "", "receiver location")
	cmd.Flags().StringVar(&so.status, "status", "Pending", "Pending, InTransit, Delivered, Cancelled or 0..3")
	cmd.Flags().StringVar(&d.Date, "date", "", "shipment date (YYYY-MM-DD)")
	return cmd
}

func runSubmit(cmd *cobra.Command, opts *RootOptions, so *submitOptions) error {
	f := opts.formatter(cmd)
	ctx := cmd.Context()

	d := so.draft
	status, err := ledger.ParseStatus(so.status)
	if err != nil {
		return f.Fail("invalid --status", err)
	}
	d.Status = status
	if d.Date == "" {
		d.Date = opts.now().UTC().Format(tracker.DateLayout)
	}
	if err := d.Validate(); err != nil {
		return f.Fail("invalid shipment", err)
	}

	b, err := opts.backend(f)
	if err != nil {
		return err
	}
	s := opts.session(b, f)
	if err := s.Connect(ctx, b); err != nil {
		return f.Fail("cannot connect to ledger", err)
	}

	entry, err := s.Submit(ctx, d)
	if err != nil && entry.Record.ContentID.IsZero() {
		return f.Fail("shipment not recorded", err)
	}

	result := SubmitResult{
		Transaction: api.ToTransactionDTO(entry),
		Total:       s.Snapshot().Expected,
	}
	if err != nil {
		// Stored, but the local view could not be brought up to date.
		result.Warning = err.Error()
	}
	out := f.Success(result, func(w io.Writer) {
		fmt.Fprintf(w, "Recorded %s (%s) at position %d\n", entry.Record.ExternalID, entry.Record.Product, entry.Position)
		fmt.Fprintf(w, "Content ID: %s\n", entry.Record.ContentID)
		if result.Warning != "" {
			fmt.Fprintf(w, "Warning: %s\n", result.Warning)
		}
	})
	if err != nil {
		return &ExitError{Code: ExitCommandError, Message: "recorded but refresh failed", Err: err}
	}
	return out
}
