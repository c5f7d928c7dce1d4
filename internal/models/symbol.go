package models

import (
	"fmt"
	"strings"
	"time"

	apperrors "github.com/johnayoung/go-kline-cache/internal/errors"
)

// DateLayout is the dd-mm-yyyy layout used for start dates.
const DateLayout = "02-01-2006"

// SplitSymbol splits a BASE-QUOTE symbol. ok is false when there is no separator.
func SplitSymbol(symbol string) (base, quote string, ok bool) {
	parts := strings.Split(symbol, "-")
	if len(parts) < 2 {
		return symbol, "", false
	}
	return parts[0], parts[len(parts)-1], true
}

// MatchesSymbol reports whether symbol has the given base and quote. Empty
// filters match anything; comparison is done on upper-cased filters.
func MatchesSymbol(symbol, base, quote string) bool {
	b, q, _ := SplitSymbol(symbol)
	if base != "" && b != strings.ToUpper(base) {
		return false
	}
	if quote != "" && q != strings.ToUpper(quote) {
		return false
	}
	return true
}

// ParseDate parses a dd-mm-yyyy date at midnight in loc.
func ParseDate(value string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation(DateLayout, strings.TrimSpace(value), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q, provide something in this format: dd-mm-yyyy",
			apperrors.ErrMalformedDate, value)
	}
	return t, nil
}

// StartOfDay returns midnight of the calendar day containing t in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// SameDay reports whether a and b fall on the same calendar day in loc.
func SameDay(a, b time.Time, loc *time.Location) bool {
	return StartOfDay(a, loc).Equal(StartOfDay(b, loc))
}

// Window is one exchange call's [Start, End] range in epoch seconds.
type Window struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// Candles returns how many whole candles of step seconds fit in the window.
func (w Window) Candles(step int64) int64 {
	if step <= 0 {
		return 0
	}
	return (w.End - w.Start) / step
}
