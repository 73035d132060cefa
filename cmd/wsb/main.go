package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"wsb-sentiment/internal/logger"
	"wsb-sentiment/internal/trace"
)

const usage = `usage: wsb <command> [flags]

commands:
  headers   assign column headers to a headerless raw dump
  label     extract tickers and label sentiment, resuming where the output ends
  watch     label, then label again whenever the input grows
  tickers   build the ticker list from an HTML listing page
  report    sentiment distribution, per-period counts and top tickers
  ticker    sentiment timeline for one ticker
  status    recent runs from the ledger

Run 'wsb <command> -h' for command flags.
`

var commands = map[string]func(ctx context.Context, args []string) error{
	"headers": runHeaders,
	"label":   runLabel,
	"watch":   runWatch,
	"tickers": runTickers,
	"report":  runReport,
	"ticker":  runTicker,
	"status":  runStatus,
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	name := os.Args[1]
	if name == "-h" || name == "--help" || name == "help" {
		fmt.Print(usage)
		return
	}
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", name, usage)
		os.Exit(2)
	}

	if err := initializeSystem(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := cmd(ctx, os.Args[2:])
	stop()

	_ = trace.Shutdown(context.Background())
	if err != nil {
		logger.ErrorWithErr(ctx, "Aborted", err, "command", name)
		os.Exit(1)
	}
}
