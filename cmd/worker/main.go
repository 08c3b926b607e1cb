package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/wafungi-nation/payments/internal/config"
	"github.com/wafungi-nation/payments/internal/database"
	"github.com/wafungi-nation/payments/internal/mpesa"
	"github.com/wafungi-nation/payments/internal/payment"
	"github.com/wafungi-nation/payments/internal/queue"
	"github.com/wafungi-nation/payments/internal/settlement"
	"github.com/wafungi-nation/payments/internal/store"
	"github.com/wafungi-nation/payments/internal/worker"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("Wafungi payment worker starting...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx := context.Background()

	// Initialize database
	db, err := database.NewDatabase(ctx, cfg.DatabaseURL, cfg.DBMinConns, cfg.DBMaxConns)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// Initialize queue
	q, err := queue.NewQueue(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to initialize queue: %v", err)
	}
	defer q.Close()

	// Initialize stores and services
	transactions := store.NewTransactionStore(db.Pool)
	bookings := store.NewBookingStore(db.Pool)
	notifications := store.NewNotificationStore(db.Pool)

	tokenService := mpesa.NewTokenService(
		cfg.MpesaConsumerKey,
		cfg.MpesaConsumerSecret,
		cfg.MpesaAuthURL,
	)
	gateway := mpesa.NewClient(tokenService, mpesa.Config{
		ShortCode:   cfg.MpesaShortCode,
		Passkey:     cfg.MpesaPasskey,
		STKPushURL:  cfg.MpesaSTKPushURL,
		QueryURL:    cfg.MpesaQueryURL,
		CallbackURL: cfg.MpesaCallbackURL,
	})

	settlementService := settlement.NewService(bookings, notifications)
	paymentService := payment.NewService(gateway, transactions, bookings, settlementService, payment.DefaultQueryRetry)

	// Register worker handlers
	processor := worker.NewProcessor(transactions, settlementService, paymentService, cfg.ReconcileStaleAfter)
	q.Mux.HandleFunc(worker.TypeProcessCallback, processor.ProcessCallback)
	q.Mux.HandleFunc(worker.TypeReconcileSweep, processor.ProcessReconcileSweep)

	redisOpt, serverCfg, err := queue.ServerConfig(cfg.RedisURL, cfg.WorkerConcurrency)
	if err != nil {
		log.Fatalf("Failed to create worker config: %v", err)
	}

	asynqServer := asynq.NewServer(redisOpt, serverCfg)

	// Periodic reconciliation sweep for transactions that never got a
	// callback and were never polled to completion. Runs from the
	// dedicated worker only, so deploying extra API replicas does not
	// multiply sweeps.
	scheduler := asynq.NewScheduler(redisOpt, nil)
	if _, err := scheduler.Register(cfg.ReconcileInterval, worker.NewReconcileSweepTask(), asynq.Queue("low")); err != nil {
		log.Fatalf("Failed to register reconcile sweep: %v", err)
	}

	go func() {
		log.Printf("Starting reconcile scheduler (%s)...", cfg.ReconcileInterval)
		if err := scheduler.Run(); err != nil {
			log.Fatalf("Scheduler failed: %v", err)
		}
	}()

	// Handle shutdown signals
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("Shutting down worker...")
		scheduler.Shutdown()
		asynqServer.Shutdown()
	}()

	log.Println("Worker started, processing tasks...")
	if err := asynqServer.Run(q.Mux); err != nil {
		log.Fatalf("Worker failed: %v", err)
	}

	log.Println("Worker shutdown complete")
}
