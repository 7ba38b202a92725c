package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/joshsymonds/sendersweep/internal/audit"
	"github.com/joshsymonds/sendersweep/internal/config"
	"github.com/joshsymonds/sendersweep/internal/rate"
	"github.com/joshsymonds/sendersweep/internal/retry"
	"github.com/joshsymonds/sendersweep/internal/runtime"
	"github.com/joshsymonds/sendersweep/internal/sweep"
)

const (
	exitOK      = 0
	exitSetup   = 1
	exitAborted = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	base, err := config.Load()
	if err != nil {
		runtime.DefaultLogger().Error("sendersweep failed", "error", err)
		return exitSetup
	}
	cfg, err := parseFlags(flag.CommandLine, os.Args[1:], base)
	if err != nil {
		return exitSetup
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration:\n%v\n", err)
		return exitSetup
	}

	logger := runtime.NewLogger(cfg.LogFormat, cfg.Verbose).With("run_id", uuid.NewString())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	client, err := runtime.NewClient(ctx, cfg)
	if err != nil {
		logger.Error("open mail session", "provider", cfg.Provider, "error", err)
		return exitSetup
	}

	var limiter rate.Limiter = rate.Unlimited{}
	if cfg.RPS > 0 {
		bucket := rate.NewTokenBucket(cfg.RPS)
		defer bucket.Stop()
		limiter = bucket
	}

	svc := sweep.NewService(client, retry.NewExecutor(cfg.MaxRetries, cfg.BaseDelay, logger), limiter, logger)
	svc.Pause = rate.Pause(cfg.ItemPause)

	if cfg.AuditPath != "" {
		sink, openErr := audit.Open(cfg.AuditPath)
		if openErr != nil {
			logger.Error("open audit log", "path", cfg.AuditPath, "error", openErr)
			return exitSetup
		}
		defer func() {
			if closeErr := sink.Close(); closeErr != nil {
				logger.Error("close audit log", "path", cfg.AuditPath, "error", closeErr)
			}
		}()
		svc.Recorder = sink
	}

	spec := sweep.Spec{
		Mailbox:         cfg.Mailbox,
		Sender:          cfg.Sender,
		Since:           cfg.Since(time.Now()),
		PageSize:        cfg.PageSize,
		Delete:          cfg.Delete,
		SkipFailedItems: cfg.SkipFailed,
	}
	logger.Info("starting sweep",
		"provider", cfg.Provider,
		"mailbox", spec.Mailbox,
		"sender", spec.Sender,
		"since", spec.Since.UTC().Format(time.RFC3339),
		"delete", spec.Delete,
	)

	sum, runErr := svc.Run(ctx, spec)
	if cfg.SummaryJSON != "" {
		if err := sweep.WriteJSON(sum, cfg.SummaryJSON); err != nil {
			logger.Error("write summary", "path", cfg.SummaryJSON, "error", err)
		}
	}
	switch {
	case runErr == nil:
		return exitOK
	case errors.Is(runErr, sweep.ErrScanAborted):
		fmt.Fprintf(os.Stderr, "run aborted: %v\n", runErr)
		if cfg.AuditPath != "" {
			fmt.Fprintf(os.Stderr, "rows written before the abort remain in %s\n", cfg.AuditPath)
		}
		_ = sweep.PrintSummary(sum, os.Stderr)
		return exitAborted
	default:
		logger.Error("sendersweep failed", "error", runErr)
		return exitSetup
	}
}

func parseFlags(fs *flag.FlagSet, args []string, base config.Config) (config.Config, error) {
	cfg := base
	fs.StringVar(&cfg.Provider, "provider", base.Provider, "mail provider: graph or gmail")
	fs.StringVar(&cfg.Mailbox, "mailbox", base.Mailbox, "mailbox to scan (user principal name or address)")
	fs.StringVar(&cfg.Sender, "sender", base.Sender, "sender text to look for in From, Sender and Return-Path")
	fs.IntVar(&cfg.SinceDays, "since-days", base.SinceDays, "only scan mail received in the last N days")
	fs.IntVar(&cfg.PageSize, "page-size", base.PageSize, "list page size")
	fs.IntVar(&cfg.MaxRetries, "max-retries", base.MaxRetries, "retries per call on 429/503")
	fs.DurationVar(&cfg.BaseDelay, "base-delay", base.BaseDelay, "base backoff delay")
	fs.DurationVar(&cfg.ItemPause, "item-pause", base.ItemPause, "pause after every message")
	fs.IntVar(&cfg.RPS, "rps", base.RPS, "max requests per second (0 disables)")
	fs.BoolVar(&cfg.Delete, "delete", base.Delete, "delete matched messages")
	fs.BoolVar(&cfg.SkipFailed, "skip-failed-items", base.SkipFailed, "skip messages whose detail fetch fails instead of aborting")
	fs.StringVar(&cfg.AuditPath, "audit", base.AuditPath, "append matched messages to this CSV file")
	fs.StringVar(&cfg.SummaryJSON, "summary-json", base.SummaryJSON, "write the run summary as JSON to this path")
	fs.StringVar(&cfg.LogFormat, "log-format", base.LogFormat, "log format: text or json")
	fs.BoolVar(&cfg.Verbose, "verbose", base.Verbose, "enable debug logging")
	fs.StringVar(&cfg.GmailCredentialsFile, "gmail-credentials", base.GmailCredentialsFile, "service account JSON for gmail")
	if err := fs.Parse(args); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}
