// Kline Cache CLI
// This application serves and maintains a local cache of KuCoin candlestick
// history. Every command shares the same configuration layers as the HTTP
// server.
//
// Usage:
//
//	klinecache serve
//	klinecache history --symbol BTC-USDT --timeframe 1day --since 01-01-2022
//	klinecache symbols --base BTC
//	klinecache refresh-catalog
//	klinecache cached --symbol BTC-USDT --timeframe 1hour
//
// For detailed help on any command, use: klinecache <command> --help
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/johnayoung/go-kline-cache/internal/config"
	"github.com/johnayoung/go-kline-cache/internal/di"
	apperrors "github.com/johnayoung/go-kline-cache/internal/errors"
	"github.com/johnayoung/go-kline-cache/internal/history"
	"github.com/johnayoung/go-kline-cache/internal/models"
	"github.com/johnayoung/go-kline-cache/internal/server"
	"github.com/johnayoung/go-kline-cache/internal/service"
)

// CLI version information
const (
	Version = "1.0.0"
	AppName = "klinecache"
)

// Exit codes following standard conventions
const (
	ExitSuccess       = 0
	ExitUsageError    = 1
	ExitConfigError   = 2
	ExitConnectionErr = 3
	ExitDataError     = 4
	ExitInterrupt     = 130
)

// GlobalFlags are accepted before the command name.
type GlobalFlags struct {
	ConfigPath string
	EnvPath    string
}

// HistoryFlags represents flags for the history command
type HistoryFlags struct {
	Symbol    string
	Timeframe string
	Since     string
	Limit     int
	Format    string
	Help      bool
}

// SymbolsFlags represents flags for the symbols command
type SymbolsFlags struct {
	Base  string
	Quote string
	Help  bool
}

// CachedFlags represents flags for the cached command
type CachedFlags struct {
	Symbol    string
	Timeframe string
	Help      bool
}

// CLI represents the main CLI application
type CLI struct {
	config  *config.AppConfig
	app     *server.App
	cleanup func()
	out     io.Writer
}

func main() {
	global, rest, err := parseGlobalFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
		printUsage()
		os.Exit(ExitUsageError)
	}
	if len(rest) < 1 {
		printUsage()
		os.Exit(ExitUsageError)
	}

	command, args := rest[0], rest[1:]
	switch command {
	case "--version", "-v", "version":
		fmt.Printf("%s version %s\n", AppName, Version)
		return
	case "--help", "-h", "help":
		if len(args) > 0 {
			printCommandHelp(args[0])
		} else {
			printUsage()
		}
		return
	case "serve", "history", "symbols", "refresh-catalog", "cached":
	default:
		fmt.Fprintf(os.Stderr, "Error: Unknown command '%s'\n\n", command)
		printUsage()
		os.Exit(ExitUsageError)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cli := &CLI{out: os.Stdout}
	if err := cli.initialize(ctx, global); err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to initialize: %v\n", err)
		os.Exit(ExitConfigError)
	}

	err = cli.run(ctx, command, args)
	cli.cleanup()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if ctx.Err() != nil {
			os.Exit(ExitInterrupt)
		}
		os.Exit(exitCode(err))
	}
}

// initialize loads the configuration and builds the application graph.
func (cli *CLI) initialize(ctx context.Context, global *GlobalFlags) error {
	bootstrap := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	cfg, err := config.NewConfigManager(global.ConfigPath, global.EnvPath, bootstrap).LoadConfig(ctx)
	if err != nil {
		return err
	}
	cli.config = cfg

	app, cleanup, err := di.InitializeApp(cfg)
	if err != nil {
		return err
	}
	cli.app = app
	cli.cleanup = cleanup
	return nil
}

func (cli *CLI) run(ctx context.Context, command string, args []string) error {
	switch command {
	case "serve":
		return cli.app.Run(ctx)
	case "history":
		return cli.handleHistory(ctx, args)
	case "symbols":
		return cli.handleSymbols(ctx, args)
	case "refresh-catalog":
		return cli.handleRefreshCatalog(ctx)
	case "cached":
		return cli.handleCached(ctx, args)
	}
	return fmt.Errorf("unknown command %q", command)
}

// handleHistory refreshes and prints the history of one symbol.
func (cli *CLI) handleHistory(ctx context.Context, args []string) error {
	flags, err := parseHistoryFlags(args)
	if err != nil {
		return usageError(err)
	}
	if flags.Help {
		printCommandHelp("history")
		return nil
	}
	if flags.Symbol == "" {
		return usageError(errors.New("--symbol is required"))
	}

	series, err := cli.app.Service().QueryHistory(ctx, service.HistoryQuery{
		Symbol:    flags.Symbol,
		Timeframe: flags.Timeframe,
		Since:     flags.Since,
		Limit:     flags.Limit,
	})
	if err != nil {
		return err
	}
	return writeSeries(cli.out, series, flags.Format)
}

func (cli *CLI) handleSymbols(ctx context.Context, args []string) error {
	flags, err := parseSymbolsFlags(args)
	if err != nil {
		return usageError(err)
	}
	if flags.Help {
		printCommandHelp("symbols")
		return nil
	}

	symbols, err := cli.app.Service().ListSymbols(ctx, flags.Base, flags.Quote)
	if err != nil {
		return err
	}
	for _, s := range symbols {
		fmt.Fprintln(cli.out, s)
	}
	return nil
}

func (cli *CLI) handleRefreshCatalog(ctx context.Context) error {
	if err := cli.app.Service().RefreshCatalog(ctx); err != nil {
		return err
	}
	symbols, err := cli.app.Service().ListSymbols(ctx, "", "")
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "catalog refreshed: %d symbols\n", len(symbols))
	return nil
}

func (cli *CLI) handleCached(ctx context.Context, args []string) error {
	flags, err := parseCachedFlags(args)
	if err != nil {
		return usageError(err)
	}
	if flags.Help {
		printCommandHelp("cached")
		return nil
	}
	if flags.Symbol == "" {
		return usageError(errors.New("--symbol is required"))
	}

	cached, err := cli.app.Service().CheckCached(ctx, flags.Symbol, flags.Timeframe)
	if err != nil {
		return err
	}
	fmt.Fprintln(cli.out, strconv.FormatBool(cached))
	return nil
}

// writeSeries prints series as JSON, CSV in the cache file format, or a table.
func writeSeries(w io.Writer, series models.Series, format string) error {
	switch format {
	case "json":
		if series == nil {
			series = models.Series{}
		}
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(series)
	case "csv":
		data, err := history.Encode(series)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	default:
		fmt.Fprintf(w, "%-20s %14s %14s %14s %14s %16s\n", "TIME", "OPEN", "HIGH", "LOW", "CLOSE", "VOLUME")
		for _, c := range series {
			fmt.Fprintf(w, "%-20s %14g %14g %14g %14g %16g\n",
				c.Time().UTC().Format("2006-01-02 15:04:05"), c.Open, c.High, c.Low, c.Close, c.Volume)
		}
		fmt.Fprintf(w, "\n%d candles\n", len(series))
		return nil
	}
}

type cliUsageError struct{ err error }

func (e cliUsageError) Error() string { return e.err.Error() }
func (e cliUsageError) Unwrap() error { return e.err }

func usageError(err error) error { return cliUsageError{err: err} }

// exitCode maps an error kind to a process exit code.
func exitCode(err error) int {
	var ue cliUsageError
	switch {
	case errors.Is(err, apperrors.ErrInvalidConfiguration):
		return ExitConfigError
	case errors.As(err, &ue), apperrors.IsValidation(err):
		return ExitUsageError
	case errors.Is(err, apperrors.ErrFetchFailed):
		return ExitConnectionErr
	default:
		return ExitDataError
	}
}

// parseGlobalFlags consumes --config and --env ahead of the command.
func parseGlobalFlags(args []string) (*GlobalFlags, []string, error) {
	flags := &GlobalFlags{ConfigPath: os.Getenv(config.EnvPrefix + "CONFIG_FILE")}

	i := 0
	for ; i < len(args); i++ {
		switch args[i] {
		case "--config", "-c":
			if i+1 >= len(args) {
				return nil, nil, fmt.Errorf("--config requires a value")
			}
			flags.ConfigPath = args[i+1]
			i++
		case "--env":
			if i+1 >= len(args) {
				return nil, nil, fmt.Errorf("--env requires a value")
			}
			flags.EnvPath = args[i+1]
			i++
		default:
			return flags, args[i:], nil
		}
	}
	return flags, nil, nil
}

func parseHistoryFlags(args []string) (*HistoryFlags, error) {
	flags := &HistoryFlags{
		Timeframe: "1day",
		Format:    "table",
	}

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--symbol", "-s":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--symbol requires a value")
			}
			flags.Symbol = args[i+1]
			i++
		case "--timeframe", "-t":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--timeframe requires a value")
			}
			flags.Timeframe = args[i+1]
			i++
		case "--since":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--since requires a value")
			}
			flags.Since = args[i+1]
			i++
		case "--limit", "-l":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--limit requires a value")
			}
			limit, err := strconv.Atoi(args[i+1])
			if err != nil {
				return nil, fmt.Errorf("invalid limit value: %w", err)
			}
			flags.Limit = limit
			i++
		case "--format", "-f":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--format requires a value")
			}
			format := args[i+1]
			if format != "json" && format != "csv" && format != "table" {
				return nil, fmt.Errorf("invalid format, must be: json, csv, or table")
			}
			flags.Format = format
			i++
		case "--help", "-h":
			flags.Help = true
		default:
			return nil, fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	return flags, nil
}

func parseSymbolsFlags(args []string) (*SymbolsFlags, error) {
	flags := &SymbolsFlags{}

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--base", "-b":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--base requires a value")
			}
			flags.Base = args[i+1]
			i++
		case "--quote", "-q":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--quote requires a value")
			}
			flags.Quote = args[i+1]
			i++
		case "--help", "-h":
			flags.Help = true
		default:
			return nil, fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	return flags, nil
}

func parseCachedFlags(args []string) (*CachedFlags, error) {
	flags := &CachedFlags{Timeframe: "1day"}

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--symbol", "-s":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--symbol requires a value")
			}
			flags.Symbol = args[i+1]
			i++
		case "--timeframe", "-t":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--timeframe requires a value")
			}
			flags.Timeframe = args[i+1]
			i++
		case "--help", "-h":
			flags.Help = true
		default:
			return nil, fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	return flags, nil
}

func printUsage() {
	fmt.Printf(`%s - KuCoin kline cache v%s

USAGE:
    %s [--config FILE] [--env FILE] <command> [options]

COMMANDS:
    serve            Run the HTTP API and the periodic catalog refresh
    history          Refresh and print the cached history of a symbol
    symbols          List tradable symbols from the catalog
    refresh-catalog  Fetch the symbol list from the exchange
    cached           Report whether a symbol's history is cached

GLOBAL OPTIONS:
    --config, -c   JSON or YAML config file (default $KLINE_CONFIG_FILE)
    --env          .env file (default ./.env when present)
    --help, -h     Show help information
    --version, -v  Show version information

EXAMPLES:
    %s refresh-catalog
    %s symbols --quote USDT
    %s history --symbol BTC-USDT --timeframe 1day --since 01-01-2022 --format json
    %s serve

CONFIGURATION:
    Environment variables KLINE_* override the config file,
    e.g. KLINE_STORAGE_BACKEND=redis or KLINE_COLLECTOR_CONCURRENCY=8.
`, AppName, Version, AppName, AppName, AppName, AppName, AppName)
}

func printCommandHelp(command string) {
	switch command {
	case "serve":
		fmt.Printf(`Run the HTTP API until interrupted.

USAGE:
    %s serve
`, AppName)
	case "history":
		fmt.Printf(`Refresh and print the cached history of a symbol.

USAGE:
    %s history --symbol SYMBOL [options]

OPTIONS:
    --symbol, -s     Symbol such as BTC-USDT (required)
    --timeframe, -t  One of %v (default 1day)
    --since          Only candles from this dd-mm-yyyy date
    --limit, -l      Only the last N candles
    --format, -f     json, csv or table (default table)
`, AppName, models.TimeframeLabels())
	case "symbols":
		fmt.Printf(`List tradable symbols from the catalog.

USAGE:
    %s symbols [--base CUR] [--quote CUR]
`, AppName)
	case "refresh-catalog":
		fmt.Printf(`Fetch the symbol list from the exchange and store it.

USAGE:
    %s refresh-catalog
`, AppName)
	case "cached":
		fmt.Printf(`Report whether a symbol's history is cached.

USAGE:
    %s cached --symbol SYMBOL [--timeframe TF]
`, AppName)
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
	}
}
