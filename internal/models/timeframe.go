package models

import (
	"fmt"
	"sort"
	"strings"
	"time"

	apperrors "github.com/johnayoung/go-kline-cache/internal/errors"
)

// Timeframe is a candle interval label such as "15min" or "1day".
type Timeframe string

// Timeframes maps every supported label to its duration in seconds.
var Timeframes = map[Timeframe]int64{
	"1min":   60,
	"3min":   180,
	"5min":   300,
	"15min":  900,
	"30min":  1800,
	"1hour":  3600,
	"2hour":  7200,
	"4hour":  14400,
	"12hour": 43200,
	"1day":   86400,
}

// ParseTimeframe validates label against the registry.
func ParseTimeframe(label string) (Timeframe, error) {
	tf := Timeframe(strings.TrimSpace(label))
	if _, ok := Timeframes[tf]; !ok {
		return "", fmt.Errorf("%w: %q, must be one of %s",
			apperrors.ErrInvalidTimeframe, label, strings.Join(TimeframeLabels(), ", "))
	}
	return tf, nil
}

// Valid reports whether tf is a registered timeframe.
func (tf Timeframe) Valid() bool {
	_, ok := Timeframes[tf]
	return ok
}

// Seconds returns the timeframe duration in seconds, or 0 if unknown.
func (tf Timeframe) Seconds() int64 {
	return Timeframes[tf]
}

// Duration returns the timeframe duration, or 0 if unknown.
func (tf Timeframe) Duration() time.Duration {
	return time.Duration(Timeframes[tf]) * time.Second
}

func (tf Timeframe) String() string {
	return string(tf)
}

// TimeframeLabels returns all labels ordered by duration.
func TimeframeLabels() []string {
	labels := make([]string, 0, len(Timeframes))
	for tf := range Timeframes {
		labels = append(labels, string(tf))
	}
	sort.Slice(labels, func(i, j int) bool {
		return Timeframes[Timeframe(labels[i])] < Timeframes[Timeframe(labels[j])]
	})
	return labels
}
