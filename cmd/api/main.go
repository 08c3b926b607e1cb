package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/wafungi-nation/payments/internal/config"
	"github.com/wafungi-nation/payments/internal/database"
	"github.com/wafungi-nation/payments/internal/handlers"
	"github.com/wafungi-nation/payments/internal/mpesa"
	"github.com/wafungi-nation/payments/internal/payment"
	"github.com/wafungi-nation/payments/internal/queue"
	"github.com/wafungi-nation/payments/internal/server"
	"github.com/wafungi-nation/payments/internal/settlement"
	"github.com/wafungi-nation/payments/internal/store"
	"github.com/wafungi-nation/payments/internal/worker"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("Wafungi payment service starting...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	cfg.LogSafeConfig()

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

	// Initialize stores
	transactions := store.NewTransactionStore(db.Pool)
	bookings := store.NewBookingStore(db.Pool)
	notifications := store.NewNotificationStore(db.Pool)

	// Initialize Safaricom client
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

	// Initialize services
	settlementService := settlement.NewService(bookings, notifications)
	paymentService := payment.NewService(gateway, transactions, bookings, settlementService, payment.DefaultQueryRetry)

	// Initialize HTTP handlers
	httpHandlers := handlers.NewHandler(db.Pool, paymentService, q.Client)

	// Register worker handlers on the embedded worker
	processor := worker.NewProcessor(transactions, settlementService, paymentService, cfg.ReconcileStaleAfter)
	q.Mux.HandleFunc(worker.TypeProcessCallback, processor.ProcessCallback)
	q.Mux.HandleFunc(worker.TypeReconcileSweep, processor.ProcessReconcileSweep)

	redisOpt, serverCfg, err := queue.ServerConfig(cfg.RedisURL, cfg.WorkerConcurrency)
	if err != nil {
		log.Fatalf("Failed to create worker config: %v", err)
	}

	asynqServer := asynq.NewServer(redisOpt, serverCfg)

	// Start Asynq worker in background
	go func() {
		log.Println("Starting embedded Asynq worker...")
		if err := asynqServer.Run(q.Mux); err != nil {
			log.Fatalf("Asynq worker failed: %v", err)
		}
	}()

	// Initialize HTTP server
	httpServer := server.NewServer(cfg, httpHandlers)

	// Start HTTP server in background
	go func() {
		if err := httpServer.Start(); err != nil {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down gracefully...")

	asynqServer.Shutdown()

	// Give time for cleanup
	time.Sleep(2 * time.Second)

	log.Println("Shutdown complete")
}
