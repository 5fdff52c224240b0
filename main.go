package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/movinglive/autoagent/core/alarms"
	"github.com/movinglive/autoagent/core/command"
	"github.com/movinglive/autoagent/core/reconciler"
	"github.com/movinglive/autoagent/core/scheduler"
	"github.com/movinglive/autoagent/core/sse"
	"github.com/movinglive/autoagent/core/storage"
	"github.com/movinglive/autoagent/core/taskstore"
	"github.com/movinglive/autoagent/pkg/config"
	"github.com/movinglive/autoagent/services/bridge"
	"github.com/movinglive/autoagent/services/delivery"
	"github.com/movinglive/autoagent/services/notify"
	"github.com/movinglive/autoagent/webui"
	"github.com/mudler/xlog"
)

func main() {
	if err := run(); err != nil {
		xlog.Error("autoagent stopped", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// make sure state dir exists
	if err := os.MkdirAll(cfg.StateDir, 0755); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	kv, err := storage.Open(cfg.StorageOptions())
	if err != nil {
		return err
	}
	defer kv.Close()

	store := taskstore.New(kv)
	if err := store.Init(ctx); err != nil {
		return err
	}

	events := sse.NewManager(sse.WithRetained(bridge.EventMissedCount))
	defer events.Close()
	br := bridge.New(events, bridge.WithCreateTimeout(cfg.TabOpenTimeout))

	notifier := notify.Multi{notify.Log{}, br}
	if cfg.SlackWebhook != "" {
		notifier = append(notifier, notify.NewSlack(cfg.SlackWebhook))
	}
	if cfg.SMTPServer != "" {
		notifier = append(notifier, notify.NewEmail(cfg.EmailConfig()))
	}

	deliverer := delivery.New(br,
		delivery.WithSite(cfg.Site),
		delivery.WithLoadPolling(cfg.TabLoadAttempts, cfg.TabLoadBackoff),
	)

	rec := reconciler.New(store, deliverer,
		reconciler.WithSweepWindow(cfg.SweepWindow),
		reconciler.WithSpacing(cfg.ExecuteAllSpacing),
		reconciler.WithNotifier(notifier),
		reconciler.WithIndicator(br),
	)

	alarmService := alarms.New()
	alarmService.OnAlarm(func(ctx context.Context, name string) {
		if err := rec.OnAlarmFired(ctx, name); err != nil {
			xlog.Error("Alarm handling failed", "task_id", name, "error", err)
		}
	})
	engine := scheduler.NewEngine(store, alarmService)

	if err := engine.Restore(ctx); err != nil {
		return err
	}
	alarmService.Start()
	defer alarmService.Stop()

	sweeper := reconciler.NewSweeper(rec, cfg.SweepInterval)
	if err := sweeper.Start(); err != nil {
		return err
	}
	defer sweeper.Stop()

	if counts, err := store.Counts(ctx); err == nil {
		br.SetMissedCount(ctx, counts.Missed)
	}

	app := webui.NewApp(
		webui.WithApiKeys(cfg.APIKeys...),
		webui.WithStore(store),
		webui.WithDispatcher(command.NewDispatcher(store, engine, rec)),
		webui.WithBridge(br, events),
	)

	errs := make(chan error, 1)
	go func() {
		xlog.Info("Listening", "address", cfg.Listen, "storage", cfg.Storage, "site", cfg.Site)
		errs <- app.Listen(cfg.Listen)
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
		xlog.Info("Shutting down")
		events.Close()
		return app.ShutdownWithTimeout(10 * time.Second)
	}
}
