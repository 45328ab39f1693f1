/*
Package ledger provides the append-only shipment ledger core.

PURPOSE:
  Records discrete food-logistics shipment events as immutable transaction
  records. Every record is reachable two ways: by its sequential position
  (assigned at append time) and by its content identifier (derived by the
  submitting client before the write).

KEY CONCEPTS IN THIS FILE (types.go):
  - Status: Shipment lifecycle state with fixed wire values 0..3
  - ContentID: 32-byte secondary lookup key
  - Record: An immutable ledger entry
  - Entry: A record paired with its position

DESIGN PRINCIPLES:
  1. Immutability: Records are never modified or deleted
  2. Ordering: Position order == append order, positions never reused
  3. Strict wire values: Unknown status values are rejected, never coerced

SEE ALSO:
  - store.go: Store contract
  - authority.go: Single write authority that serializes appends
  - contentid.go: Content identifier derivation
*/
package ledger

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// =============================================================================
// STATUS - Shipment lifecycle state
// =============================================================================

// Status is the shipment state. Wire values are fixed.
type Status uint8

const (
	StatusPending   Status = 0
	StatusInTransit Status = 1
	StatusDelivered Status = 2
	StatusCancelled Status = 3
)

// Statuses lists every valid status in wire order.
var Statuses = []Status{StatusPending, StatusInTransit, StatusDelivered, StatusCancelled}

var statusNames = map[Status]string{
	StatusPending:   "Pending",
	StatusInTransit: "InTransit",
	StatusDelivered: "Delivered",
	StatusCancelled: "Cancelled",
}

// Valid reports whether s is one of the four wire values.
func (s Status) Valid() bool {
	return s <= StatusCancelled
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

// ParseStatus accepts a wire value ("0".."3") or a case-insensitive name
// ("pending", "in transit", "InTransit", ...).
func ParseStatus(s string) (Status, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseUint(s, 10, 8); err == nil {
		st := Status(n)
		if !st.Valid() {
			return 0, &ValidationError{Field: "status", Message: fmt.Sprintf("unknown status value %d", n)}
		}
		return st, nil
	}

	normalized := strings.ToLower(strings.NewReplacer(" ", "", "_", "", "-", "").Replace(s))
	for st, name := range statusNames {
		if strings.ToLower(name) == normalized {
			return st, nil
		}
	}
	return 0, &ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %q", s)}
}

// =============================================================================
// CONTENT ID - 32-byte secondary key
// =============================================================================

// ContentID is the content-derived identifier of a record.
type ContentID [32]byte

// String returns the 0x-prefixed lowercase hex form.
func (c ContentID) String() string {
	return "0x" + hex.EncodeToString(c[:])
}

// IsZero reports whether c is all zero bytes.
func (c ContentID) IsZero() bool {
	return c == ContentID{}
}

// ParseContentID parses a 64-digit hex string with or without a 0x prefix.
func ParseContentID(s string) (ContentID, error) {
	var id ContentID
	raw := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	if len(raw) != hex.EncodedLen(len(id)) {
		return id, &ValidationError{Field: "content_id", Message: fmt.Sprintf("expected 64 hex digits, got %d", len(raw))}
	}
	if _, err := hex.Decode(id[:], []byte(raw)); err != nil {
		return id, &ValidationError{Field: "content_id", Message: err.Error()}
	}
	return id, nil
}

// MarshalText implements encoding.TextMarshaler.
func (c ContentID) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *ContentID) UnmarshalText(b []byte) error {
	id, err := ParseContentID(string(b))
	if err != nil {
		return err
	}
	*c = id
	return nil
}

// =============================================================================
// RECORD - Immutable ledger entry
// =============================================================================

// Record is a single shipment event. Immutable once appended.
type Record struct {
	ExternalID          string
	Product             string
	Quantity            string // free-form amount + unit, e.g. "500 tons"
	Source              string
	SourceLocation      string
	Destination         string
	DestinationLocation string
	Status              Status
	Date                uint64 // seconds since epoch
	ContentID           ContentID
}

// Validate checks the record against the write boundary rules:
// every string field non-empty and status one of the wire values.
func (r Record) Validate() error {
	fields := []struct {
		name  string
		value string
	}{
		{"external_id", r.ExternalID},
		{"product", r.Product},
		{"quantity", r.Quantity},
		{"source", r.Source},
		{"source_location", r.SourceLocation},
		{"destination", r.Destination},
		{"destination_location", r.DestinationLocation},
	}
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			return &ValidationError{Field: f.name, Message: "must not be empty"}
		}
	}
	if !r.Status.Valid() {
		return &ValidationError{Field: "status", Message: fmt.Sprintf("unknown status value %d", uint8(r.Status))}
	}
	return nil
}

// Entry pairs a record with the position the ledger assigned it.
type Entry struct {
	Position uint64
	Record   Record
}
