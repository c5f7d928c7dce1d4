// Package models provides the data structures shared by the kline cache:
// candles, candle series, time windows, timeframes and symbols.
package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Candle represents OHLCV price and volume data for one timeframe interval.
// Timestamp is the interval's open time in epoch seconds and is aligned to the
// timeframe's duration grid.
type Candle struct {
	Timestamp int64   `json:"timestamp"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	Amount    float64 `json:"amount"`
}

// ValidationError represents a candle validation error with specific field context.
type ValidationError struct {
	Field   string // Field is the name of the field that failed validation
	Message string // Message is a descriptive error message explaining the validation failure
}

// Error implements the error interface for ValidationError.
func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field %s: %s", e.Field, e.Message)
}

// ParseCandle builds a candle from the decimal strings an exchange returns.
// Values are parsed with decimal so malformed numbers are rejected instead of
// silently becoming zero.
func ParseCandle(timestamp int64, open, high, low, close, volume, amount string) (Candle, error) {
	fields := []struct {
		name  string
		value string
	}{
		{"open", open},
		{"high", high},
		{"low", low},
		{"close", close},
		{"volume", volume},
		{"amount", amount},
	}

	parsed := make([]float64, len(fields))
	for i, f := range fields {
		d, err := decimal.NewFromString(f.value)
		if err != nil {
			return Candle{}, &ValidationError{Field: f.name, Message: fmt.Sprintf("invalid %s format: %v", f.name, err)}
		}
		parsed[i] = d.InexactFloat64()
	}

	candle := Candle{
		Timestamp: timestamp,
		Open:      parsed[0],
		High:      parsed[1],
		Low:       parsed[2],
		Close:     parsed[3],
		Volume:    parsed[4],
		Amount:    parsed[5],
	}
	if err := candle.Validate(); err != nil {
		return Candle{}, err
	}
	return candle, nil
}

// Validate checks the OHLC relationships: prices are positive, volume and
// amount are non-negative, high >= max(open, close) and low <= min(open, close).
func (c *Candle) Validate() error {
	if c.Timestamp <= 0 {
		return &ValidationError{Field: "timestamp", Message: "timestamp must be positive"}
	}

	open := decimal.NewFromFloat(c.Open)
	high := decimal.NewFromFloat(c.High)
	low := decimal.NewFromFloat(c.Low)
	closePrice := decimal.NewFromFloat(c.Close)

	for _, p := range []struct {
		name  string
		value decimal.Decimal
	}{{"open", open}, {"high", high}, {"low", low}, {"close", closePrice}} {
		if !p.value.IsPositive() {
			return &ValidationError{Field: p.name, Message: p.name + " price must be greater than 0"}
		}
	}

	if c.Volume < 0 {
		return &ValidationError{Field: "volume", Message: "volume must be greater than or equal to 0"}
	}
	if c.Amount < 0 {
		return &ValidationError{Field: "amount", Message: "amount must be greater than or equal to 0"}
	}

	if maxOpenClose := decimal.Max(open, closePrice); high.LessThan(maxOpenClose) {
		return &ValidationError{
			Field:   "high",
			Message: fmt.Sprintf("high price (%s) must be greater than or equal to max(open, close) (%s)", high, maxOpenClose),
		}
	}

	if minOpenClose := decimal.Min(open, closePrice); low.GreaterThan(minOpenClose) {
		return &ValidationError{
			Field:   "low",
			Message: fmt.Sprintf("low price (%s) must be less than or equal to min(open, close) (%s)", low, minOpenClose),
		}
	}

	return nil
}

// Time returns the candle open time in UTC.
func (c Candle) Time() time.Time {
	return time.Unix(c.Timestamp, 0).UTC()
}

// String returns a human-readable representation of the candle.
func (c Candle) String() string {
	return fmt.Sprintf("Candle{Timestamp: %s, O: %g, H: %g, L: %g, C: %g, V: %g, A: %g}",
		c.Time().Format(time.RFC3339), c.Open, c.High, c.Low, c.Close, c.Volume, c.Amount)
}
