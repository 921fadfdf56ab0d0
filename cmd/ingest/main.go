package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/zeromicro/go-zero/core/logx"

	"github.com/tndd/datadoggo-v3-alpaca/internal/cli"
	"github.com/tndd/datadoggo-v3-alpaca/internal/config"
	"github.com/tndd/datadoggo-v3-alpaca/internal/ingest"
	"github.com/tndd/datadoggo-v3-alpaca/internal/model"
	"github.com/tndd/datadoggo-v3-alpaca/internal/svc"
)

// Exit codes.
const (
	exitOK      = 0
	exitFailed  = 1
	exitPartial = 2
	exitConfig  = 64
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, svc.Options{})
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout io.Writer, opts svc.Options) int {
	fl, err := parseFlags(args, stdout)
	if err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintf(stdout, "ingest: %v\n", err)
		}
		return exitConfig
	}

	cfg, err := config.Load(fl.configFile)
	if err != nil {
		fmt.Fprintf(stdout, "ingest: %v\n", err)
		return exitConfig
	}
	if fl.env != "" {
		cfg.Env = fl.env
		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(stdout, "ingest: %v\n", err)
			return exitConfig
		}
	}
	logx.MustSetup(cfg.Log)
	logx.DisableStat()
	cli.LogConfigSummary(cfg)

	job, err := fl.job(cfg)
	if err == nil {
		err = job.Validate()
	}
	if err == nil && !fl.dryRun {
		_, err = cfg.DSN()
	}
	if err != nil {
		logx.Errorf("ingest: %v", err)
		return exitConfig
	}

	opts.DryRun = fl.dryRun
	sc, err := svc.NewServiceContext(ctx, *cfg, opts)
	if err != nil {
		logx.Errorf("ingest: setup: %v", err)
		return exitFailed
	}
	defer sc.Close()

	result, err := sc.Runner.Run(ctx, job)
	var cfgErr *ingest.ConfigError
	if errors.As(err, &cfgErr) {
		logx.Errorf("ingest: %v", err)
		return exitConfig
	}
	if err != nil {
		logx.Errorf("ingest: run %s: %v", result.ID, err)
	}

	c := result.Counters
	fmt.Fprintf(stdout, "run %s %s: pages=%d fetched=%d rejected=%d persisted=%d changed=%d failed_pages=%d\n",
		result.ID, result.Status, c.Pages, c.Fetched, c.Rejected, c.Persisted, c.Changed, c.FailedPages)
	return exitCode(result.Status)
}

func exitCode(status model.RunStatus) int {
	switch status {
	case model.RunSucceeded:
		return exitOK
	case model.RunPartial:
		return exitPartial
	default:
		return exitFailed
	}
}
