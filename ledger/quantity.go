package ledger

import (
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// Quantity is a parsed free-form quantity such as "500 tons".
type Quantity struct {
	Value decimal.Decimal
	Unit  string
}

// ParseQuantity splits a leading decimal amount from the unit that follows it.
// The unit is lowercased; "1,200 kg" parses as 1200 kg. ok is false when the
// string does not start with a number. Quantity stays free-form on the ledger,
// so callers must treat a failed parse as "not summable", never as invalid.
func ParseQuantity(s string) (q Quantity, ok bool) {
	s = strings.TrimSpace(s)
	end := 0
	for end < len(s) {
		c := rune(s[end])
		if !unicode.IsDigit(c) && c != '.' && c != ',' && !(end == 0 && c == '-') {
			break
		}
		end++
	}
	if end == 0 {
		return Quantity{}, false
	}

	value, err := decimal.NewFromString(strings.ReplaceAll(s[:end], ",", ""))
	if err != nil {
		return Quantity{}, false
	}
	return Quantity{
		Value: value,
		Unit:  strings.ToLower(strings.TrimSpace(s[end:])),
	}, true
}
