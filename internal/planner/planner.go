// Package planner splits a requested time range into exchange-sized windows.
//
// Exchanges cap how many candles one kline call returns. Plan walks backward
// from the end of the range in steps of limit*duration so every window holds at
// most limit candles, then returns the boundaries in ascending order.
package planner

import (
	"fmt"

	apperrors "github.com/johnayoung/go-kline-cache/internal/errors"
	"github.com/johnayoung/go-kline-cache/internal/models"
)

// DefaultExchangeLimit is the maximum number of candles per KuCoin kline call.
const DefaultExchangeLimit = 1500

// Plan returns ascending window boundaries covering [start, end]. The first
// element is start, the last is end, and each consecutive pair spans at most
// limit candles of tf.
func Plan(start, end int64, tf models.Timeframe, limit int) ([]int64, error) {
	if start >= end {
		return nil, fmt.Errorf("%w: start %d must be less than end %d", apperrors.ErrInvalidRange, start, end)
	}
	step := tf.Seconds()
	if step <= 0 {
		return nil, fmt.Errorf("%w: %q", apperrors.ErrInvalidTimeframe, tf)
	}
	if limit <= 0 {
		return nil, fmt.Errorf("%w: exchange limit must be positive, got %d", apperrors.ErrInvalidConfiguration, limit)
	}

	remaining := (end - start) / step
	span := step * int64(limit)

	boundary := end
	boundaries := []int64{boundary}
	for remaining > int64(limit) {
		boundary -= span
		remaining -= int64(limit)
		boundaries = append(boundaries, boundary)
	}
	boundaries = append(boundaries, start)

	for i, j := 0, len(boundaries)-1; i < j; i, j = i+1, j-1 {
		boundaries[i], boundaries[j] = boundaries[j], boundaries[i]
	}
	return boundaries, nil
}

// Windows pairs consecutive boundaries into windows.
func Windows(boundaries []int64) []models.Window {
	if len(boundaries) < 2 {
		return nil
	}
	windows := make([]models.Window, 0, len(boundaries)-1)
	for i := 0; i+1 < len(boundaries); i++ {
		windows = append(windows, models.Window{Start: boundaries[i], End: boundaries[i+1]})
	}
	return windows
}

// PlanWindows is Plan followed by Windows.
func PlanWindows(start, end int64, tf models.Timeframe, limit int) ([]models.Window, error) {
	boundaries, err := Plan(start, end, tf, limit)
	if err != nil {
		return nil, err
	}
	return Windows(boundaries), nil
}
