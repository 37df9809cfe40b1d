// Command staticd serves static files over HTTP/1.1 using an edge-
// triggered epoll event loop, a bounded worker pool, and zero-copy
// mmap/writev file emission.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/oneshot/staticd/internal/config"
	"github.com/oneshot/staticd/internal/loop"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := config.Default()

	cmd := &cobra.Command{
		Use:   "staticd [port]",
		Short: "serve a directory of static files over HTTP/1.1",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				port, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid port %q: %w", args[0], err)
				}
				cfg.Port = port
			}
			return run(cfg)
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&cfg.Port, "port", cfg.Port, "TCP port to listen on")
	flags.StringVar(&cfg.DocRoot, "doc-root", cfg.DocRoot, "directory served to clients")
	flags.IntVar(&cfg.Threads, "threads", cfg.Threads, "worker pool size")
	flags.IntVar(&cfg.MaxRequests, "max-requests", cfg.MaxRequests, "worker queue depth before requests are dropped")
	flags.DurationVar(&cfg.TimeSlot, "timeslot", cfg.TimeSlot, "reaper tick interval; idle deadline is 3x this value")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "logrus level: debug, info, warn, error")
	flags.BoolVar(&cfg.RespondBusy, "respond-busy", cfg.RespondBusy, "send 503 Service Unavailable on a saturated worker queue instead of silently dropping the request")

	return cmd
}

func run(cfg config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := logrus.New()
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}
	logger.SetLevel(level)
	entry := logger.WithField("component", "staticd")

	lp, err := loop.New(loop.Config{
		Port:        cfg.Port,
		DocRoot:     cfg.DocRoot,
		MaxFD:       cfg.MaxFD,
		MaxEvents:   cfg.MaxEvents,
		TimeSlot:    cfg.TimeSlot,
		Threads:     cfg.Threads,
		MaxRequests: cfg.MaxRequests,
		RespondBusy: cfg.RespondBusy,
	}, entry)
	if err != nil {
		entry.WithError(err).Error("failed to initialize event loop")
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	entry.WithField("port", cfg.Port).WithField("doc_root", cfg.DocRoot).Info("staticd listening")

	done := make(chan error, 1)
	go func() { done <- lp.Run(ctx) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		lp.Stop()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			entry.Warn("event loop did not exit promptly, continuing shutdown")
		}
		return nil
	}
}
