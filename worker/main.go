package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"

	"github.com/reportstack/report-manager/pkg/archive"
	"github.com/reportstack/report-manager/pkg/bus"
	"github.com/reportstack/report-manager/pkg/logger"
	"github.com/reportstack/report-manager/pkg/store"
)

const (
	fetchBatch = 10
	fetchWait  = 5 * time.Second
)

func main() {
	logger.Setup("report-worker")
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	shutdown, err := initTelemetry(ctx)
	if err != nil {
		logger.Fatal("telemetry init failed", err)
	}
	defer shutdown(ctx)

	pg, err := store.NewPostgres(ctx, postgresDSN())
	if err != nil {
		logger.Fatal("postgres connect failed", err)
	}
	defer pg.Close()
	if err := pg.EnsureSchema(ctx); err != nil {
		logger.Fatal("schema setup failed", err)
	}

	archiver := archive.NewClient(archive.DefaultConfig(archiveBaseURL()))
	registry, err := NewStrategyRegistry(archiver)
	if err != nil {
		logger.Fatal("strategy wiring failed", err)
	}

	busClient, err := bus.Connect(bus.Config{URL: natsURL(), Name: "report-worker"})
	if err != nil {
		logger.Fatal("nats connect failed", err)
	}
	defer busClient.Close()
	if _, err := busClient.EnsureStream(bus.ReportsStreamConfig()); err != nil {
		logger.Fatal("nats stream setup failed", err)
	}
	if _, err := busClient.EnsureStream(bus.EventsStreamConfig()); err != nil {
		logger.Fatal("nats stream setup failed", err)
	}
	consumerCfg := bus.DefaultConsumerConfig(bus.DurableName(bus.StreamReports, "worker"), bus.SubjectReportRequestedAll)
	if _, err := busClient.EnsureConsumer(bus.StreamReports, consumerCfg); err != nil {
		logger.Fatal("nats consumer setup failed", err)
	}
	sub, err := busClient.PullSubscribe(bus.SubjectReportRequestedAll, consumerCfg.Durable)
	if err != nil {
		logger.Fatal("nats subscribe failed", err)
	}

	svc := NewService(pg, registry, busClient)

	count := workerCount()
	slog.Info("worker: starting processors", "count", count)
	jobs := make(chan Message, count)
	go dispatchLoop(ctx, sub, jobs)

	var wg sync.WaitGroup
	for i := 0; i < count; i++ {
		workerID := i + 1
		wg.Add(1)
		go func() {
			defer wg.Done()
			processLoop(ctx, svc, jobs, workerID)
		}()
	}

	<-ctx.Done()
	slog.Info("shutting down worker...")
	wg.Wait()
	slog.Info("worker stopped")
}

// dispatchLoop pulls batches from the subscription and feeds the
// processing goroutines in fetch order. It closes jobs on shutdown so
// in-flight messages drain before the workers exit.
func dispatchLoop(ctx context.Context, sub Fetcher, jobs chan<- Message) {
	defer close(jobs)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgs, err := sub.Fetch(fetchBatch, nats.MaxWait(fetchWait))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) {
				continue
			}
			if errors.Is(err, context.Canceled) {
				return
			}
			logger.Error("worker: fetch failed", err)
			continue
		}

		for _, msg := range msgs {
			select {
			case jobs <- wrapMessage(msg):
			case <-ctx.Done():
				_ = msg.Nak()
				return
			}
		}
	}
}

func processLoop(ctx context.Context, svc *Service, jobs <-chan Message, workerID int) {
	for msg := range jobs {
		// In-flight messages finish even when the worker is shutting
		// down; only the dispatch loop observes cancellation.
		msgCtx := bus.ContextFromHeaders(context.WithoutCancel(ctx), msg.GetHeaders())
		if err := svc.ProcessMessage(msgCtx, msg); err != nil {
			logger.Error("worker: process failed", err, "worker_id", workerID)
		}
	}
}
