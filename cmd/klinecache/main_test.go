package main

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/johnayoung/go-kline-cache/internal/errors"
	"github.com/johnayoung/go-kline-cache/internal/models"
)

func TestParseGlobalFlags(t *testing.T) {
	t.Setenv("KLINE_CONFIG_FILE", "")

	flags, rest, err := parseGlobalFlags([]string{"--config", "kline.yaml", "--env", "dev.env", "history", "--symbol", "BTC-USDT"})
	require.NoError(t, err)
	assert.Equal(t, "kline.yaml", flags.ConfigPath)
	assert.Equal(t, "dev.env", flags.EnvPath)
	assert.Equal(t, []string{"history", "--symbol", "BTC-USDT"}, rest)

	_, _, err = parseGlobalFlags([]string{"--config"})
	assert.Error(t, err)

	t.Setenv("KLINE_CONFIG_FILE", "from-env.json")
	flags, rest, err = parseGlobalFlags([]string{"serve"})
	require.NoError(t, err)
	assert.Equal(t, "from-env.json", flags.ConfigPath)
	assert.Equal(t, []string{"serve"}, rest)
}

func TestParseHistoryFlags(t *testing.T) {
	flags, err := parseHistoryFlags([]string{"-s", "ETH-USDT", "--timeframe", "1hour", "--since", "01-01-2022", "-l", "50", "-f", "csv"})
	require.NoError(t, err)
	assert.Equal(t, &HistoryFlags{
		Symbol: "ETH-USDT", Timeframe: "1hour", Since: "01-01-2022", Limit: 50, Format: "csv",
	}, flags)

	flags, err = parseHistoryFlags(nil)
	require.NoError(t, err)
	assert.Equal(t, "1day", flags.Timeframe)
	assert.Equal(t, "table", flags.Format)

	for _, args := range [][]string{
		{"--limit", "many"},
		{"--format", "xml"},
		{"--symbol"},
		{"--bogus"},
	} {
		_, err := parseHistoryFlags(args)
		assert.Error(t, err, "%v", args)
	}
}

func TestParseSymbolsAndCachedFlags(t *testing.T) {
	sf, err := parseSymbolsFlags([]string{"-b", "btc", "--quote", "usdt"})
	require.NoError(t, err)
	assert.Equal(t, "btc", sf.Base)
	assert.Equal(t, "usdt", sf.Quote)

	cf, err := parseCachedFlags([]string{"--symbol", "BTC-USDT", "-h"})
	require.NoError(t, err)
	assert.Equal(t, "BTC-USDT", cf.Symbol)
	assert.Equal(t, "1day", cf.Timeframe)
	assert.True(t, cf.Help)
}

func TestWriteSeries(t *testing.T) {
	series := models.Series{{Timestamp: 1640995200, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 3, Amount: 4.5}}

	var buf bytes.Buffer
	require.NoError(t, writeSeries(&buf, series, "json"))
	assert.Contains(t, buf.String(), `"timestamp": 1640995200`)

	buf.Reset()
	require.NoError(t, writeSeries(&buf, series, "csv"))
	assert.Contains(t, buf.String(), "Open,High,Low,Close,Volume,Amount,Timestamp")

	buf.Reset()
	require.NoError(t, writeSeries(&buf, series, "table"))
	assert.Contains(t, buf.String(), "2022-01-01 00:00:00")
	assert.Contains(t, buf.String(), "1 candles")

	buf.Reset()
	require.NoError(t, writeSeries(&buf, nil, "json"))
	assert.Equal(t, "[]\n", buf.String())
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{usageError(errors.New("--symbol is required")), ExitUsageError},
		{fmt.Errorf("%w: 7min", apperrors.ErrInvalidTimeframe), ExitUsageError},
		{fmt.Errorf("%w: bad backend", apperrors.ErrInvalidConfiguration), ExitConfigError},
		{fmt.Errorf("%w: after 8 attempts", apperrors.ErrFetchFailed), ExitConnectionErr},
		{errors.New("disk full"), ExitDataError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.code, exitCode(tt.err), tt.err.Error())
	}
}
