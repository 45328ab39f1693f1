package events

import (
	"github.com/warp/food-ledger/ledger"
)

// Message is the JSON wire form of a TransactionAdded event, shared by the
// Kafka topic and the HTTP event stream.
type Message struct {
	ExternalID string `json:"id"`
	Product    string `json:"product"`
	Status     uint8  `json:"status"`
	ContentID  string `json:"transaction_id"`
	Position   uint64 `json:"position"`
}

// NewMessage encodes ev.
func NewMessage(ev ledger.TransactionAdded) Message {
	return Message{
		ExternalID: ev.ExternalID,
		Product:    ev.Product,
		Status:     uint8(ev.Status),
		ContentID:  ev.ContentID.String(),
		Position:   ev.Position,
	}
}

// Event decodes m back into a TransactionAdded.
func (m Message) Event() (ledger.TransactionAdded, error) {
	id, err := ledger.ParseContentID(m.ContentID)
	if err != nil {
		return ledger.TransactionAdded{}, err
	}
	status := ledger.Status(m.Status)
	if !status.Valid() {
		return ledger.TransactionAdded{}, &ledger.ValidationError{Field: "status", Message: status.String() + " is not a known status"}
	}
	return ledger.TransactionAdded{
		ExternalID: m.ExternalID,
		Product:    m.Product,
		Status:     status,
		ContentID:  id,
		Position:   m.Position,
	}, nil
}
