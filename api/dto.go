/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for the ledger host API. These types decouple
  ledger.Record from the wire contract; the client package decodes the same
  types.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Response wrappers

WIRE FORMATS:
  - status: numeric wire value 0..3, status_name is informational
  - date: seconds since epoch
  - content_id: 0x-prefixed lowercase hex, 32 bytes

SEE ALSO:
  - handlers.go: Uses these types
  - client/client.go: Decodes these types
*/
package api

import (
	"strings"

	"github.com/warp/food-ledger/ledger"
)

// =============================================================================
// TRANSACTIONS
// =============================================================================

// TransactionDTO is a stored record with its position.
type TransactionDTO struct {
	Position            uint64 `json:"position"`
	ExternalID          string `json:"id"`
	Product             string `json:"product"`
	Quantity            string `json:"quantity"`
	Source              string `json:"source"`
	SourceLocation      string `json:"source_location"`
	Destination         string `json:"destination"`
	DestinationLocation string `json:"destination_location"`
	Status              uint8  `json:"status"`
	StatusName          string `json:"status_name"`
	Date                uint64 `json:"date"`
	ContentID           string `json:"content_id"`
}

// AppendRequest is the body of POST /api/transactions. ContentID may be
// omitted, in which case the host derives it from id, product and its clock.
type AppendRequest struct {
	ExternalID          string `json:"id"`
	Product             string `json:"product"`
	Quantity            string `json:"quantity"`
	Source              string `json:"source"`
	SourceLocation      string `json:"source_location"`
	Destination         string `json:"destination"`
	DestinationLocation string `json:"destination_location"`
	Status              uint8  `json:"status"`
	Date                uint64 `json:"date"`
	ContentID           string `json:"content_id,omitempty"`
}

// AppendResponse reports where a record landed.
type AppendResponse struct {
	Position  uint64 `json:"position"`
	ContentID string `json:"content_id"`
}

// CountResponse is the body of GET /api/transactions/count.
type CountResponse struct {
	Count uint64 `json:"count"`
}

// RangeResponse is one page of GET /api/transactions. To is exclusive and may
// be below the requested bound when the page was capped.
type RangeResponse struct {
	From         uint64           `json:"from"`
	To           uint64           `json:"to"`
	Count        uint64           `json:"count"`
	Transactions []TransactionDTO `json:"transactions"`
}

// HealthResponse is the body of GET /api/health.
type HealthResponse struct {
	Status string `json:"status"`
	Count  uint64 `json:"count"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

// ToTransactionDTO converts a ledger entry to its wire form.
func ToTransactionDTO(e ledger.Entry) TransactionDTO {
	r := e.Record
	return TransactionDTO{
		Position:            e.Position,
		ExternalID:          r.ExternalID,
		Product:             r.Product,
		Quantity:            r.Quantity,
		Source:              r.Source,
		SourceLocation:      r.SourceLocation,
		Destination:         r.Destination,
		DestinationLocation: r.DestinationLocation,
		Status:              uint8(r.Status),
		StatusName:          r.Status.String(),
		Date:                r.Date,
		ContentID:           r.ContentID.String(),
	}
}

// Entry converts the DTO back to a ledger entry.
func (d TransactionDTO) Entry() (ledger.Entry, error) {
	id, err := ledger.ParseContentID(d.ContentID)
	if err != nil {
		return ledger.Entry{}, err
	}
	return ledger.Entry{
		Position: d.Position,
		Record: ledger.Record{
			ExternalID:          d.ExternalID,
			Product:             d.Product,
			Quantity:            d.Quantity,
			Source:              d.Source,
			SourceLocation:      d.SourceLocation,
			Destination:         d.Destination,
			DestinationLocation: d.DestinationLocation,
			Status:              ledger.Status(d.Status),
			Date:                d.Date,
			ContentID:           id,
		},
	}, nil
}

// NewAppendRequest encodes r for POST /api/transactions.
func NewAppendRequest(r ledger.Record) AppendRequest {
	req := AppendRequest{
		ExternalID:          r.ExternalID,
		Product:             r.Product,
		Quantity:            r.Quantity,
		Source:              r.Source,
		SourceLocation:      r.SourceLocation,
		Destination:         r.Destination,
		DestinationLocation: r.DestinationLocation,
		Status:              uint8(r.Status),
		Date:                r.Date,
	}
	if !r.ContentID.IsZero() {
		req.ContentID = r.ContentID.String()
	}
	return req
}

// Record converts the request to a ledger record. A missing content id is
// left zero for the caller to derive.
func (req AppendRequest) Record() (ledger.Record, error) {
	r := ledger.Record{
		ExternalID:          req.ExternalID,
		Product:             req.Product,
		Quantity:            req.Quantity,
		Source:              req.Source,
		SourceLocation:      req.SourceLocation,
		Destination:         req.Destination,
		DestinationLocation: req.DestinationLocation,
		Status:              ledger.Status(req.Status),
		Date:                req.Date,
	}
	if strings.TrimSpace(req.ContentID) != "" {
		id, err := ledger.ParseContentID(req.ContentID)
		if err != nil {
			return ledger.Record{}, err
		}
		r.ContentID = id
	}
	return r, nil
}
