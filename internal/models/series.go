package models

import "sort"

// Series is an ordered run of candles for one (symbol, timeframe). A normalized
// series is strictly increasing by timestamp.
type Series []Candle

// Normalize returns a copy sorted ascending by timestamp with duplicate
// timestamps removed. When two candles share a timestamp the later one in the
// input wins, so appending fresh data after cached data replaces stale rows.
func Normalize(candles []Candle) Series {
	if len(candles) == 0 {
		return Series{}
	}

	out := make(Series, len(candles))
	copy(out, candles)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp < out[j].Timestamp
	})

	n := 0
	for i := range out {
		if n > 0 && out[n-1].Timestamp == out[i].Timestamp {
			out[n-1] = out[i]
			continue
		}
		out[n] = out[i]
		n++
	}
	return out[:n]
}

// Merge concatenates existing and fresh and normalizes the result. Candles
// from fresh take precedence over existing ones with the same timestamp.
func Merge(existing, fresh Series) Series {
	all := make([]Candle, 0, len(existing)+len(fresh))
	all = append(all, existing...)
	all = append(all, fresh...)
	return Normalize(all)
}

// Last returns the candle with the greatest timestamp.
func (s Series) Last() (Candle, bool) {
	if len(s) == 0 {
		return Candle{}, false
	}
	return s[len(s)-1], true
}

// Since returns the suffix of s with timestamps >= ts. s must be normalized.
func (s Series) Since(ts int64) Series {
	i := sort.Search(len(s), func(i int) bool { return s[i].Timestamp >= ts })
	return s[i:]
}

// Tail returns the last n candles, or all of them when n <= 0 or n >= len(s).
func (s Series) Tail(n int) Series {
	if n <= 0 || n >= len(s) {
		return s
	}
	return s[len(s)-n:]
}

// IsNormalized reports whether timestamps are strictly increasing.
func (s Series) IsNormalized() bool {
	for i := 1; i < len(s); i++ {
		if s[i].Timestamp <= s[i-1].Timestamp {
			return false
		}
	}
	return true
}

// Gap is a run of missing candles between two present ones.
type Gap struct {
	From    int64 // timestamp of the first missing candle
	To      int64 // timestamp of the next present candle
	Missing int
}

// Gaps lists holes in a normalized series for the given step in seconds.
// Exchanges skip intervals without trades, so gaps are informational.
func (s Series) Gaps(step int64) []Gap {
	if step <= 0 {
		return nil
	}
	var gaps []Gap
	for i := 1; i < len(s); i++ {
		delta := s[i].Timestamp - s[i-1].Timestamp
		if delta > step {
			gaps = append(gaps, Gap{
				From:    s[i-1].Timestamp + step,
				To:      s[i].Timestamp,
				Missing: int(delta/step) - 1,
			})
		}
	}
	return gaps
}
