package tracker

import (
	"strings"

	"github.com/warp/food-ledger/ledger"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// StatusFilter constrains a view to one status. The zero value is AllStatuses,
// which is distinct from OnlyStatus(ledger.StatusPending).
type StatusFilter struct {
	status ledger.Status
	set    bool
}

// AllStatuses applies no status constraint.
var AllStatuses = StatusFilter{}

// OnlyStatus keeps records with exactly status s.
func OnlyStatus(s ledger.Status) StatusFilter {
	return StatusFilter{status: s, set: true}
}

// IsAll reports whether f is the AllStatuses sentinel.
func (f StatusFilter) IsAll() bool { return !f.set }

// Status returns the constrained status; ok is false for AllStatuses.
func (f StatusFilter) Status() (s ledger.Status, ok bool) {
	return f.status, f.set
}

func (f StatusFilter) String() string {
	if !f.set {
		return "All"
	}
	return f.status.String()
}

// ParseStatusFilter accepts "All" (any case) or an empty string for no
// constraint, otherwise anything ledger.ParseStatus accepts.
func ParseStatusFilter(s string) (StatusFilter, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" || strings.EqualFold(trimmed, "all") {
		return AllStatuses, nil
	}
	st, err := ledger.ParseStatus(trimmed)
	if err != nil {
		return StatusFilter{}, err
	}
	return OnlyStatus(st), nil
}

// Filter is a view predicate: a case-insensitive substring search OR-matched
// across external id, product, source and destination, AND-ed with a status
// constraint. The zero Filter matches everything.
type Filter struct {
	Search string
	Status StatusFilter
}

// IsEmpty reports whether f matches every record.
func (f Filter) IsEmpty() bool {
	return strings.TrimSpace(f.Search) == "" && f.Status.IsAll()
}

// Apply returns the entries matching f, in their original order. entries is
// never modified; the result is always a fresh slice.
func (f Filter) Apply(entries []ledger.Entry) []ledger.Entry {
	out := make([]ledger.Entry, 0, len(entries))
	if f.IsEmpty() {
		return append(out, entries...)
	}

	m := newMatcher(f)
	for _, e := range entries {
		if m.match(e.Record) {
			out = append(out, e)
		}
	}
	return out
}

// Match reports whether a single record satisfies f.
func (f Filter) Match(r ledger.Record) bool {
	return newMatcher(f).match(r)
}

// matcher holds a Caser, which is stateful and must not be shared across
// goroutines, so one is built per Apply call.
type matcher struct {
	fold   cases.Caser
	needle string
	status StatusFilter
}

func newMatcher(f Filter) *matcher {
	m := &matcher{fold: cases.Fold(), status: f.Status}
	if search := strings.TrimSpace(f.Search); search != "" {
		m.needle = m.normalize(search)
	}
	return m
}

func (m *matcher) normalize(s string) string {
	return m.fold.String(norm.NFC.String(s))
}

func (m *matcher) match(r ledger.Record) bool {
	if want, ok := m.status.Status(); ok && r.Status != want {
		return false
	}
	if m.needle == "" {
		return true
	}
	for _, field := range []string{r.ExternalID, r.Product, r.Source, r.Destination} {
		if strings.Contains(m.normalize(field), m.needle) {
			return true
		}
	}
	return false
}
