package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/suPer8Hu/playmate/internal/config"
	"github.com/suPer8Hu/playmate/internal/db"
	"github.com/suPer8Hu/playmate/internal/logger"
	"github.com/suPer8Hu/playmate/internal/messaging"
	"github.com/suPer8Hu/playmate/internal/store/rabbitmq"
)

const (
	maxAttempts = 5
	retryDelay  = 10 * time.Second
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	lg, err := logger.New(cfg.AppEnv)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer lg.Sync()

	gdb, err := db.Connect(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		lg.Fatal("database", "error", err)
	}

	deliverer := messaging.NewDeliverer(
		messaging.NewDeliveryRepo(gdb),
		messaging.NewHTTPChannel(cfg.ChannelURL, cfg.ChannelToken),
		lg,
	)

	// strict concurrency control
	concurrency := cfg.WorkerConcurrency

	consumer, err := rabbitmq.NewConsumer(cfg.RabbitURL, cfg.RabbitQueue, concurrency)
	if err != nil {
		lg.Fatal("rabbit consumer", "error", err)
	}
	defer consumer.Close()

	msgs, err := consumer.Consume()
	if err != nil {
		lg.Fatal("consume", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lg.Info("worker started", "queue", cfg.RabbitQueue, "concurrency", concurrency)

	// worker pool
	jobs := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			wlog := lg.With("worker", workerID)
			for d := range jobs {
				var m rabbitmq.DeliveryMessage
				if err := json.Unmarshal(d.Body, &m); err != nil || m.DeliveryID == "" {
					wlog.Warn("bad message", "error", err)
					_ = d.Nack(false, false)
					continue
				}

				start := time.Now()
				if err := deliverer.Handle(ctx, m.DeliveryID); err != nil {
					attempt := rabbitmq.Attempt(d) + 1
					wlog.Warn("delivery failed", "delivery_id", m.DeliveryID, "attempt", attempt, "cost", time.Since(start), "error", err)
					if rerr := consumer.Retry(ctx, d, retryDelay*time.Duration(attempt), maxAttempts); rerr != nil {
						wlog.Error("retry failed", "delivery_id", m.DeliveryID, "error", rerr)
					}
					continue
				}

				if err := d.Ack(false); err != nil {
					wlog.Error("ack failed", "delivery_id", m.DeliveryID, "error", err)
				}
			}
		}(i)
	}

	// dispatcher
	for {
		select {
		case <-ctx.Done():
			lg.Info("worker shutting down")
			close(jobs)
			wg.Wait()
			return

		case d, ok := <-msgs:
			if !ok {
				lg.Error("delivery channel closed")
				close(jobs)
				wg.Wait()
				return
			}
			jobs <- d
		}
	}
}
