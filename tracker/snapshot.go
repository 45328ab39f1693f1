package tracker

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/food-ledger/ledger"
)

// Snapshot is the locally cached copy of the ledger as of the last completed
// refresh. Entries are in position order. Positions whose fetch failed are
// listed in Missing and absent from Entries.
type Snapshot struct {
	Entries   []ledger.Entry
	Expected  uint64 // ledger count observed at the start of the refresh
	Missing   []uint64
	FetchedAt time.Time
}

// Complete reports whether every expected position was loaded.
func (s Snapshot) Complete() bool {
	return len(s.Missing) == 0
}

// Loaded renders "N of M records loaded".
func (s Snapshot) Loaded() string {
	return fmt.Sprintf("%d of %d records loaded", len(s.Entries), s.Expected)
}

func (s Snapshot) clone() Snapshot {
	c := s
	c.Entries = append([]ledger.Entry(nil), s.Entries...)
	c.Missing = append([]uint64(nil), s.Missing...)
	return c
}

// Summary aggregates a set of entries for display.
type Summary struct {
	Total      int
	ByStatus   map[ledger.Status]int
	Quantities map[string]decimal.Decimal // unit -> total
	Unparsed   int                        // quantities that are not "<number> <unit>"
}

// Summarize counts entries by status and totals parseable quantities by unit.
func Summarize(entries []ledger.Entry) Summary {
	s := Summary{
		Total:      len(entries),
		ByStatus:   make(map[ledger.Status]int, len(ledger.Statuses)),
		Quantities: make(map[string]decimal.Decimal),
	}
	for _, st := range ledger.Statuses {
		s.ByStatus[st] = 0
	}
	for _, e := range entries {
		s.ByStatus[e.Record.Status]++
		q, ok := ledger.ParseQuantity(e.Record.Quantity)
		if !ok {
			s.Unparsed++
			continue
		}
		s.Quantities[q.Unit] = s.Quantities[q.Unit].Add(q.Value)
	}
	return s
}
