package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"FinSignal/internal/usecase"
	"FinSignal/pkg/config"
	xhttp "FinSignal/pkg/http"
	pkgkafka "FinSignal/pkg/kafka"
	applogger "FinSignal/pkg/logger"
	"FinSignal/pkg/queue"
)

type closer struct {
	name string
	fn   func() error
}

// App encapsulates the entire application lifecycle.
type App struct {
	cfg        *config.Config
	l          *applogger.Logger
	httpServer *xhttp.Server

	feed      *usecase.PriceFeedCollector
	consumer  *pkgkafka.Consumer
	fh        pkgkafka.MessageHandler
	scheduler *usecase.Scheduler
	queue     *queue.RedisQueue
	closers   []closer
}

// New creates an App around the HTTP server. Background components are
// attached with the With* methods.
func New(cfg *config.Config, l *applogger.Logger, httpServer *xhttp.Server) *App {
	if l == nil {
		l = applogger.Nop()
	}
	return &App{cfg: cfg, l: l, httpServer: httpServer}
}

func (a *App) WithPriceFeed(c *usecase.PriceFeedCollector) { a.feed = c }

func (a *App) WithConsumer(c *pkgkafka.Consumer, h pkgkafka.MessageHandler) {
	a.consumer = c
	a.fh = h
}

func (a *App) WithScheduler(s *usecase.Scheduler) { a.scheduler = s }

func (a *App) WithQueue(q *queue.RedisQueue) { a.queue = q }

// AddCloser registers a resource released on shutdown, in registration order.
func (a *App) AddCloser(name string, fn func() error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.start(ctx); err != nil {
		a.shutdown(context.Background())
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	a.l.Info("shutdown signal received")
	cancel()
	a.shutdown(context.Background())
	return nil
}

func (a *App) start(ctx context.Context) error {
	if a.queue != nil {
		if err := a.queue.Start(ctx); err != nil {
			a.l.Error("job queue start error", applogger.Error(err))
			return err
		}
		a.l.Info("job queue started")
	}

	if a.feed != nil {
		if err := a.feed.Start(ctx); err != nil {
			// labeling falls back to REST prices
			a.l.Warn("price feed start error", applogger.Error(err))
		} else {
			a.l.Info("price feed started", applogger.Int("symbols", len(a.cfg.Symbols)))
		}
	}

	if a.consumer != nil && a.fh != nil {
		if err := a.consumer.RegisterHandler(a.fh); err != nil {
			return err
		}
		if err := a.consumer.Start(ctx); err != nil {
			a.l.Error("kafka consumer error", applogger.Error(err))
			return err
		}
		a.l.Info("kafka consumer started", applogger.String("topic", a.fh.Topic()))
	}

	if a.scheduler != nil {
		a.scheduler.Start(ctx)
		a.l.Info("scheduler started")
	}

	return a.httpServer.Start()
}

// shutdown stops producers of work first, then releases infrastructure.
func (a *App) shutdown(ctx context.Context) {
	a.l.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := a.httpServer.Stop(shutdownCtx); err != nil {
		a.l.Error("http shutdown error", applogger.Error(err))
	}
	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	if a.consumer != nil {
		if err := a.consumer.Stop(shutdownCtx); err != nil {
			a.l.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}
	if a.feed != nil {
		if err := a.feed.Shutdown(shutdownCtx); err != nil {
			a.l.Warn("price feed stop error", applogger.Error(err))
		}
	}
	if a.queue != nil {
		if err := a.queue.Stop(shutdownCtx); err != nil {
			a.l.Warn("job queue stop error", applogger.Error(err))
		}
	}

	// flush aggregated error logs while the producer is still open
	a.l.RemoveCollector()

	for _, c := range a.closers {
		if err := c.fn(); err != nil {
			a.l.Warn("close error", applogger.String("resource", c.name), applogger.Error(err))
		}
	}
	a.l.Info("shutdown complete")
}
