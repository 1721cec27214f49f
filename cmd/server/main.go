package main // Entry point package

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/reservation-ledger/internal/clock"
	"github.com/iliyamo/reservation-ledger/internal/config"
	"github.com/iliyamo/reservation-ledger/internal/database"
	"github.com/iliyamo/reservation-ledger/internal/handler"
	"github.com/iliyamo/reservation-ledger/internal/ledger"
	"github.com/iliyamo/reservation-ledger/internal/logging"
	"github.com/iliyamo/reservation-ledger/internal/middleware"
	"github.com/iliyamo/reservation-ledger/internal/queue"
	"github.com/iliyamo/reservation-ledger/internal/repository"
	"github.com/iliyamo/reservation-ledger/internal/router"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}
	log := logging.New(cfg.LogLevel)
	log.WithFields(logrus.Fields{"env": cfg.Env, "port": cfg.Port}).Info("starting reservation ledger")

	if cfg.JWTSecret == "" {
		log.Warn("JWT_SECRET not set; every caller is anonymous and role-protected routes are closed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Store: MySQL when configured, otherwise in memory.
	var (
		store   ledger.Store
		pingers []handler.Pinger
	)
	if cfg.UseDatabase() {
		db, err := database.Open(ctx, database.Options{
			User: cfg.DBUser, Pass: cfg.DBPass, Host: cfg.DBHost, Port: cfg.DBPort, Name: cfg.DBName,
		})
		if err != nil {
			log.WithError(err).Fatal("connect mysql")
		}
		defer db.Close()
		if err := database.ApplySchema(ctx, db); err != nil {
			log.WithError(err).Fatal("apply schema")
		}
		store = repository.NewReservationRepo(db)
		pingers = append(pingers, db)
		log.WithField("host", cfg.DBHost).Info("using mysql store")
	} else {
		store = ledger.NewMemoryStore()
		log.Warn("DB_HOST not set; using in-memory store")
	}

	rdb := config.NewRedisClient(ctx, cfg.Redis)
	if rdb != nil {
		defer rdb.Close()
	} else if cfg.Redis.Addr != "" {
		log.WithField("addr", cfg.Redis.Addr).Warn("redis unreachable; rate limiting and refund consumer disabled")
	}

	// Collaborators: RabbitMQ when configured, otherwise log only.
	opts := []ledger.Option{ledger.WithLogger(log), ledger.WithHoldDuration(cfg.HoldDuration)}
	if cfg.RabbitMQURL != "" {
		pub := queue.NewPublisher(cfg.RabbitMQURL, log)
		defer pub.Close()
		opts = append(opts, ledger.WithRefundTrigger(pub), ledger.WithReleaseNotifier(pub))
	} else {
		lo := queue.LogOnly{Log: log}
		opts = append(opts, ledger.WithRefundTrigger(lo), ledger.WithReleaseNotifier(lo))
		log.Warn("RABBITMQ_URL not set; refunds and releases are only logged")
	}

	l := ledger.New(store, clock.NewSystem(), opts...)
	sw := ledger.NewSweeper(l,
		ledger.WithSweepInterval(cfg.SweepInterval),
		ledger.WithSweepBatchSize(cfg.SweepBatchSize),
		ledger.WithSweeperLogger(log),
	)
	if cfg.PreciseExpiry {
		l.UseScheduler(sw)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sw.Run(ctx)
	}()

	if cfg.RabbitMQURL != "" {
		consumers := []*queue.Consumer{{
			URL:    cfg.RabbitMQURL,
			Queue:  queue.QueuePaymentDetected,
			Handle: queue.PaymentHandler(l, log),
			Log:    log,
		}}
		if rdb != nil {
			consumers = append(consumers, &queue.Consumer{
				URL:    cfg.RabbitMQURL,
				Queue:  queue.QueueRefundRequested,
				Handle: queue.RefundHandler(queue.NewRedisDeduper(rdb, "", 0), &queue.FileSink{Path: cfg.RefundLog}, log),
				Log:    log,
			})
		}
		for _, c := range consumers {
			wg.Add(1)
			go func(c *queue.Consumer) {
				defer wg.Done()
				_ = c.Run(ctx)
			}(c)
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(logging.RequestLogger(log))
	router.RegisterRoutes(e, pingers...)
	router.RegisterReservations(e,
		handler.NewReservationHandler(l, sw, log),
		cfg.JWTSecret,
		middleware.NewTokenBucket(cfg.RateLimit, rdb, log),
	)

	go func() {
		addr := ":" + cfg.Port
		log.WithField("addr", addr).Info("listening")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("http server")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("http shutdown")
	}
	wg.Wait()
}
