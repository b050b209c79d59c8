package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"rollcall/internal/config"
	"rollcall/internal/queue"
	"rollcall/internal/store"
)

// Worker consumes logged-attendance messages and keeps the cached
// per-session attendance counters in Redis current, so course screens can
// refresh counts without hitting the store.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	redisClient := store.NewRedis(cfg.RedisAddr)
	if !redisClient.Healthy(ctx) {
		log.Printf("WARNING: redis not reachable at %s, counters will lag", cfg.RedisAddr)
	}

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "rollcall:attendance")
	}

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("worker started, waiting for messages...")
	for msg := range messages {
		if msg.SessionID == "" {
			continue
		}
		if err := redisClient.IncrSessionCount(ctx, msg.SessionID); err != nil {
			log.Printf("counter update failed for session %s: %v", msg.SessionID, err)
			continue
		}
		log.Printf("attendance %s: session %s counter bumped (student %s)", msg.AttendanceID, msg.SessionID, msg.StudentID)
	}

	log.Println("worker stopped")
}
