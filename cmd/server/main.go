package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ecom-coordinator/config"
	"ecom-coordinator/internal/api"
	"ecom-coordinator/internal/broker"
	"ecom-coordinator/internal/notifier"
	"ecom-coordinator/internal/redisclient"
	"ecom-coordinator/internal/service"
	"ecom-coordinator/internal/store"
	"ecom-coordinator/internal/util"
	"ecom-coordinator/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting ecom coordinator")

	tp, err := util.InitTracer("ecom-coordinator", cfg.Observ.JaegerEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers)
	defer producer.Close()
	log.Println("Kafka producer initialized")

	publisher := broker.NewEventPublisher(producer, "ecom-coordinator")

	inventoryService := service.NewInventoryService(db, redisClient, publisher,
		cfg.Business.LockTTL, cfg.Business.SaveRetries)
	orderService := service.NewOrderService(db, inventoryService, publisher,
		redisClient, cfg.Business.SaveRetries)
	coordinator := service.NewSettlementCoordinator(orderService, inventoryService, db)

	sender := notifier.NewSMTPSender(cfg.SMTP.Host, cfg.SMTP.Port,
		cfg.SMTP.Username, cfg.SMTP.Password, cfg.SMTP.From)
	gate := notifier.NewGate(db, sender, cfg.Business.OpsEmail)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	orderEventsConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder, cfg.Kafka.NotificationGroup)
	orderNotifyWorker := worker.NewNotificationWorker(orderEventsConsumer, gate, publisher, cfg.Business.ConsumerRetries)
	go func() {
		if err := orderNotifyWorker.Start(workerCtx); err != nil {
			log.Printf("Order notification worker error: %v", err)
		}
	}()

	catalogEventsConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicCatalog, cfg.Kafka.NotificationGroup)
	catalogNotifyWorker := worker.NewNotificationWorker(catalogEventsConsumer, gate, publisher, cfg.Business.ConsumerRetries)
	go func() {
		if err := catalogNotifyWorker.Start(workerCtx); err != nil {
			log.Printf("Catalog notification worker error: %v", err)
		}
	}()

	settlementConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder, cfg.Kafka.SettlementGroup)
	settlementWorker := worker.NewSettlementWorker(settlementConsumer, coordinator, publisher, cfg.Business.ConsumerRetries)
	go func() {
		if err := settlementWorker.Start(workerCtx); err != nil {
			log.Printf("Settlement worker error: %v", err)
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()
	handler := api.NewHandler(orderService, inventoryService)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Printf("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	workerCancel()
	orderNotifyWorker.Stop()
	catalogNotifyWorker.Stop()
	settlementWorker.Stop()

	log.Println("Server exited")
}
