// Command migrate applies pending database migrations from the configured
// source directories.
//
// Usage:
//
//	migrate [-config path] run [-dry-run]
//	migrate [-config path] init [-source name]...
//	migrate [-config path] status
//	migrate [-config path] pending
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

var version = "dev"

type command func(ctx context.Context, env *environment, args []string) error

var commands = map[string]command{
	"run":     runRun,
	"init":    runInit,
	"status":  runStatus,
	"pending": runPending,
}

func usage() {
	fmt.Fprintf(os.Stderr, `migrate - watermark-driven migration runner (version %s)

Usage:
  migrate [-config path] <command> [options]

Commands:
  run       Apply every pending migration (-dry-run to only list them)
  init      Record the latest existing migration of each source without a
            watermark as applied (-source to pick sources)
  status    Show each source's watermark and pending count
  pending   List the migrations the next run would apply

Configuration is read from ./configs/config.yaml or the -config file, and
from environment variables.
`, version)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}
