package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"blinkd/internal/api"
	"blinkd/internal/buffer"
	"blinkd/internal/config"
	"blinkd/internal/domain"
	"blinkd/internal/events"
	apphttp "blinkd/internal/http"
	"blinkd/internal/integrations/telegram"
	"blinkd/internal/integrations/webhook"
	"blinkd/internal/security/secretbox"
	"blinkd/internal/service/health"
	"blinkd/internal/service/session"
	syncsvc "blinkd/internal/service/sync"
	"blinkd/internal/service/tracker"
	storepkg "blinkd/internal/store"
	filestore "blinkd/internal/store/file"
	"blinkd/internal/store/memory"
	"blinkd/internal/store/postgres"
)

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		log.Printf("failed to load .env: %v", err)
	}
	cfg := config.Load()

	st := openStore(cfg)
	evlog := events.NewLog(cfg.EventLimit)
	hookEvents(evlog, cfg)
	client := api.NewClient(cfg.APIBaseURL, cfg.HTTPTimeout)

	buf := buffer.New(st)
	dropped, err := buf.Load()
	if err != nil {
		log.Fatalf("load pending blink queue: %v", err)
	}
	if dropped > 0 {
		log.Printf("dropped %d corrupted blink entries from the persisted queue", dropped)
	}

	engine := syncsvc.NewEngine(buf, st, client, evlog, cfg.SyncDebounce)
	auth := session.NewAuth(client, st, engine, evlog, cfg.StopGrace)
	trk := tracker.NewController(cfg.WSBaseURL, st, buf, engine, client, evlog, cfg.BufferEvery, cfg.HistoryLimit)

	// Anything buffered during the previous run drains as soon as the
	// agent is up, if a token survived the restart.
	engine.ScheduleSync()

	advisor := health.NewAdvisor(cfg.MinBlinksPerMinute, cfg.HealthWindow, cfg.HealthWarmup)

	srv := apphttp.NewServer(auth, trk, engine, buf, client, evlog, advisor)
	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      srv.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("blinkd dashboard listening on http://%s", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Leaving a camera running on the backend is worse than a slow
	// shutdown, so stop any live session before the server goes away.
	trk.Stop(ctx)
	engine.Stop()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}

// hookEvents fans the event feed out to the configured external sinks:
// every event mirrors to the webhook collector, failures additionally
// raise a telegram alert. Both run off a short background timeout so a
// slow sink never blocks the caller.
func hookEvents(evlog *events.Log, cfg config.Config) {
	hook := webhook.NewClient(cfg.EventsWebhookURL, cfg.WebhookTimeout)
	notifier := telegram.NewNotifier(cfg.TelegramBotToken, cfg.TelegramChatID)

	evlog.OnAppend(func(ev domain.Event) {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), cfg.WebhookTimeout)
			defer cancel()

			if err := hook.Publish(ctx, ev); err != nil {
				log.Printf("event webhook publish failed: %v", err)
			}
			if ev.Type == domain.EventSyncFailed || ev.Type == domain.EventTrackerError {
				text := "blinkd: " + string(ev.Type)
				if reason, ok := ev.Payload["error"].(string); ok && reason != "" {
					text += ": " + reason
				}
				if err := notifier.Notify(ctx, text); err != nil {
					log.Printf("telegram alert failed: %v", err)
				}
			}
		}()
	})
}

func openStore(cfg config.Config) storepkg.Store {
	switch cfg.StoreMode {
	case "postgres":
		if cfg.DatabaseURL != "" {
			pg, err := postgres.NewStore(cfg.DatabaseURL)
			if err == nil {
				return pg
			}
			log.Printf("postgres store unavailable, falling back to file store: %v", err)
		}
	case "memory":
		return memory.NewStore()
	}

	var box *secretbox.Box
	if cfg.StateKey != "" {
		b, err := secretbox.New(cfg.StateKey)
		if err != nil {
			log.Fatalf("bad STATE_ENCRYPTION_KEY: %v", err)
		}
		box = b
	}
	fs, err := filestore.NewStore(cfg.StateFile, box)
	if err != nil {
		log.Fatalf("open state file %s: %v", cfg.StateFile, err)
	}
	return fs
}
