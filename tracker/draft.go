package tracker

import (
	"fmt"
	"strings"
	"time"

	"github.com/warp/food-ledger/ledger"
)

// DateLayout is the human date format accepted in drafts.
const DateLayout = "2006-01-02"

// Draft is a shipment entered by a caller, not yet on the ledger. Submit takes
// it by value and never modifies it, so a failed submission can be corrected
// and retried as is.
type Draft struct {
	ExternalID          string
	Product             string
	Quantity            string
	Source              string
	SourceLocation      string
	Destination         string
	DestinationLocation string
	Status              ledger.Status
	Date                string // YYYY-MM-DD, interpreted as UTC midnight
}

// Validate checks every field without touching the ledger.
func (d Draft) Validate() error {
	_, err := d.record(ledger.ContentID{})
	return err
}

// Record builds the ledger record, deriving the content id from now.
func (d Draft) Record(now time.Time) (ledger.Record, error) {
	return d.record(ledger.DeriveContentID(strings.TrimSpace(d.ExternalID), strings.TrimSpace(d.Product), now))
}

func (d Draft) record(id ledger.ContentID) (ledger.Record, error) {
	r := ledger.Record{
		ExternalID:          strings.TrimSpace(d.ExternalID),
		Product:             strings.TrimSpace(d.Product),
		Quantity:            strings.TrimSpace(d.Quantity),
		Source:              strings.TrimSpace(d.Source),
		SourceLocation:      strings.TrimSpace(d.SourceLocation),
		Destination:         strings.TrimSpace(d.Destination),
		DestinationLocation: strings.TrimSpace(d.DestinationLocation),
		Status:              d.Status,
		ContentID:           id,
	}
	if err := r.Validate(); err != nil {
		return ledger.Record{}, err
	}

	date, err := ParseDate(d.Date)
	if err != nil {
		return ledger.Record{}, err
	}
	r.Date = date
	return r, nil
}

// ParseDate converts YYYY-MM-DD to seconds since epoch at UTC midnight.
func ParseDate(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, &ledger.ValidationError{Field: "date", Message: "must not be empty"}
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return 0, &ledger.ValidationError{Field: "date", Message: fmt.Sprintf("expected YYYY-MM-DD, got %q", s)}
	}
	if t.Unix() < 0 {
		return 0, &ledger.ValidationError{Field: "date", Message: "must not be before 1970-01-01"}
	}
	return uint64(t.Unix()), nil
}

// FormatDate renders epoch seconds in DateLayout.
func FormatDate(epoch uint64) string {
	return time.Unix(int64(epoch), 0).UTC().Format(DateLayout)
}
