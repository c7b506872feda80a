package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fasthttp/router"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/valyala/fasthttp"

	"webmetrics/internal/config"
	"webmetrics/internal/db"
	"webmetrics/internal/discovery"
	"webmetrics/internal/http/handlers"
	appmw "webmetrics/internal/http/middleware"
	"webmetrics/internal/importer"
	"webmetrics/internal/logger"
	"webmetrics/internal/queue"
)

const (
	drainTimeout  = 30 * time.Second
	importTimeout = 5 * time.Second
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	log := logger.New(logger.ParseLevel(cfg.LogLevel))

	sqlDB, err := db.Connect(cfg)
	if err != nil {
		log.Error("failed to connect database: %v", err)
		os.Exit(1)
	}
	if err := db.EnsureBootstrapAdmin(sqlDB, cfg); err != nil {
		log.Error("failed to ensure bootstrap admin: %v", err)
		os.Exit(1)
	}

	store := db.NewStore(sqlDB)
	metrics := importer.NewMetrics(prometheus.DefaultRegisterer)
	proc := importer.NewProcessor(store, log, metrics)

	var sched *discovery.Scheduler
	q := queue.NewMemory(queue.Options{
		Size:            cfg.QueueSize,
		Workers:         cfg.Workers,
		MaxDeliveries:   cfg.MaxDeliveries,
		RedeliveryDelay: cfg.RedeliveryDelay,
		OnRedeliver: func(queue.Message, error) {
			metrics.Redeliveries.Inc()
		},
		OnDeadLetter: func(msg queue.Message, _ error) {
			sched.Release(msg.Item.FilePath)
		},
	}, log)
	sched = discovery.NewScheduler(discovery.NewDiscoverer(log), q, cfg.DataPath, cfg.PollInterval, log)

	handle := func(ctx context.Context, msg queue.Message) error {
		out, err := proc.Process(ctx, msg.Item)
		switch {
		case err == nil:
			log.Debug("[worker] %s: %s (attempt %d)", msg.Item.FilePath, out, msg.Attempt)
		case errors.Is(err, importer.ErrInput):
			log.Error("[worker] dropping %s (site=%s date=%s): %v",
				msg.Item.FilePath, msg.Item.Site, msg.Item.ReportDate.Format("2006-01-02"), err)
		default:
			return err
		}
		sched.Release(msg.Item.FilePath)
		return nil
	}

	consumerCtx, stopConsumers := context.WithCancel(context.Background())
	consumersDone := make(chan error, 1)
	go func() { consumersDone <- q.Subscribe(consumerCtx, handle) }()

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	sched.Start(sigCtx)

	r := router.New()
	admin := appmw.AdminAuth(sqlDB, cfg)

	r.GET("/healthz", handlers.Healthz)
	r.GET("/metrics", handlers.PrometheusHandler(prometheus.DefaultGatherer))

	r.POST("/v1/imports", admin(handlers.ImportHandler(sched, importTimeout, log)))
	r.GET("/v1/pages", admin(handlers.PageMetricsHandler(store, log)))
	r.GET("/v1/files", admin(handlers.ProcessedFilesHandler(store, log)))

	// Global middleware chain: request logger, then internal reporting, then router
	handler := handlers.RequestLogger(log)(appmw.InternalReporting(prometheus.DefaultRegisterer)(r.Handler))
	server := &fasthttp.Server{Handler: handler, Name: "webmetrics"}

	serverDone := make(chan error, 1)
	go func() {
		log.Info("webmetrics listening on %s", cfg.ListenAddr)
		serverDone <- server.ListenAndServe(cfg.ListenAddr)
	}()

	select {
	case <-sigCtx.Done():
		log.Info("shutting down")
	case err := <-serverDone:
		log.Error("server error: %v", err)
	}

	sched.Stop()
	q.Close()

	drained := make(chan struct{})
	go func() {
		q.Drain()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(drainTimeout):
		log.Warn("queue not drained after %s; %d files will be picked up by the next run", drainTimeout, sched.Pending())
	}
	stopConsumers()
	<-consumersDone

	if err := server.Shutdown(); err != nil {
		log.Error("server shutdown: %v", err)
	}
}
