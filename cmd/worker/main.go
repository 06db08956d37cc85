// The worker binary drains the delivery queue in time-boxed runs and
// performs the daily retention cleanup.
package main

import (
	"context"
	"database/sql"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/doar-mail/doar/internal/config"
	"github.com/doar-mail/doar/internal/mailing"
	"github.com/doar-mail/doar/internal/pkg/logger"
	"github.com/doar-mail/doar/internal/queue"
	"github.com/doar-mail/doar/internal/tracking"
	"github.com/doar-mail/doar/internal/worker"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	once := flag.Bool("once", false, "run a single time-boxed batch and exit (cron mode)")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger.SetLevel(logger.ParseLevel(cfg.Log.Level))
	if cfg.Log.RedactPII != nil {
		logger.SetRedactPII(*cfg.Log.RedactPII)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		pingCancel()
		logger.Error("failed to connect to redis", "addr", cfg.Redis.Addr, "error", err)
		os.Exit(1)
	}
	pingCancel()

	var store *mailing.Store
	if cfg.Database.URL != "" {
		db, err := sql.Open("postgres", cfg.Database.URL)
		if err != nil {
			logger.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(5 * time.Minute)
		store = mailing.NewStore(db)
	}

	q := queue.New(rdb, queue.Config{
		MaxTries:   cfg.Queue.MaxTries,
		RetryAfter: cfg.Queue.RetryAfter,
	})

	var sender worker.Sender
	if cfg.SenderMode() == config.SenderSES {
		sesSender, err := worker.NewSESSender(cfg.SES.AccessKey, cfg.SES.SecretKey, cfg.SES.Region)
		if err != nil {
			logger.Error("failed to initialize ses sender", "error", err)
			os.Exit(1)
		}
		sender = sesSender
	} else {
		sender = worker.NewSMTPSender(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.Username, cfg.SMTP.Password)
	}
	logger.Info("worker starting", "transport", sender.Name())

	injector := tracking.NewInjector(cfg.Tracking.Domain, cfg.Tracking.AppURL)
	dispatcher := worker.NewDispatcher(q, rdb, injector, sender, store,
		time.Duration(cfg.Queue.WorkerSleep)*time.Second,
		time.Duration(cfg.Queue.MaxRunTime)*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		logger.Info("shutdown signal received")
		cancel()
	}()

	for {
		dispatcher.RunCleanup(ctx, cfg.Queue.DaysToKeep)
		processed := dispatcher.Run(ctx)
		logger.Info("worker batch finished", "processed", processed)

		if *once || ctx.Err() != nil {
			return
		}
	}
}
