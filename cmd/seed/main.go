// Package main seeds the local execution history database with synthetic
// executions.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	seedcmd "github.com/louisbranch/benchhistory/internal/cmd/seed"
	entrypoint "github.com/louisbranch/benchhistory/internal/platform/cmd"
	"github.com/louisbranch/benchhistory/internal/platform/config"
)

func main() {
	cfg, err := seedcmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exitf("parse flags: %v", err)
	}
	log.SetPrefix("[SEED] ")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceSeed, func(ctx context.Context) error {
		return seedcmd.Run(ctx, cfg, os.Stdout)
	})
	if err != nil {
		config.Exitf("seed: %v", err)
	}
}
