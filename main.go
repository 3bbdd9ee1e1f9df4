// File: tavolo/main.go
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tavolo/config"
	"tavolo/database"
	processedRepoPkg "tavolo/database/repository/processed"
	reservationRepoPkg "tavolo/database/repository/reservation"
	tenantRepoPkg "tavolo/database/repository/tenant"
	"tavolo/handlers"
	"tavolo/middleware"
	"tavolo/routes"
	"tavolo/services/availability"
	"tavolo/services/conversation"
	"tavolo/services/messaging"
	"tavolo/services/nlu"
	"tavolo/services/reply"
	"tavolo/services/session"
	"tavolo/services/tasks"
	"tavolo/utils"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
)

func main() {
	config.LoadConfig()
	logger := utils.GetLogger()

	database.InitDB()
	utils.InitSessionCache()

	location, err := time.LoadLocation(config.AppConfig.Timezone)
	if err != nil {
		logger.Sugar().Fatalf("main: invalid timezone %q: %v", config.AppConfig.Timezone, err)
	}

	// Create the Gin router.
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(utils.ErrorHandler())
	router.Use(gin.Logger())
	router.Use(middleware.RateLimitMiddleware())

	// repositories.
	tenantRepo := tenantRepoPkg.NewMongoTenantRepo()
	reservationRepo := reservationRepoPkg.NewMongoReservationRepo()
	processedRepo := processedRepoPkg.NewMongoProcessedMessageRepo()

	// collaborators.
	availabilityEngine := &availability.DefaultAvailabilityEngine{
		Reservations: reservationRepo,
		Location:     location,
	}

	sessionStore := session.NewRedisSessionStore(
		utils.GetSessionCacheClient(),
		time.Duration(config.AppConfig.SessionPendingTTLSec)*time.Second,
		config.AppConfig.HistoryLimit,
	)

	parser := nlu.NewGeminiParser(config.AppConfig.GeminiAPIKey, config.AppConfig.GeminiModel)
	generator := reply.NewGeminiGenerator(config.AppConfig.GeminiAPIKey, config.AppConfig.GeminiModel)
	sender := messaging.NewWhatsAppSender()

	var transcriber nlu.Transcriber
	if config.AppConfig.GoogleServiceAccountFile != "" {
		transcriber = nlu.NewGoogleTranscriber(config.AppConfig.GoogleServiceAccountFile)
	}

	// Background tasks (reservation reminders).
	redisTasksOpt := asynq.RedisClientOpt{
		Addr:     config.AppConfig.RedisAddr,
		Password: config.AppConfig.RedisPassword,
		DB:       config.AppConfig.RedisTasksDB,
	}
	taskClient := asynq.NewClient(redisTasksOpt)
	defer taskClient.Close()

	taskServer := asynq.NewServer(redisTasksOpt, asynq.Config{Concurrency: 5})
	reminderHandler := &tasks.ReminderHandler{Tenants: tenantRepo, Sender: sender}
	mux := asynq.NewServeMux()
	mux.HandleFunc(tasks.TypeSendReminder, reminderHandler.HandleReminder)
	go func() {
		if err := taskServer.Run(mux); err != nil {
			logger.Sugar().Fatalf("main: task server failed: %v", err)
		}
	}()

	engine := &conversation.Engine{
		Sessions:     sessionStore,
		Availability: availabilityEngine,
		Reservations: reservationRepo,
		Parser:       parser,
		Generator:    generator,
		Sender:       sender,
		Transcriber:  transcriber,
		Tasks:        taskClient,
		Location:     location,
		PendingTTL:   time.Duration(config.AppConfig.SessionPendingTTLSec) * time.Second,
		DedupeWindow: time.Duration(config.AppConfig.ReplyDedupeWindowMS) * time.Millisecond,
		ReminderLead: time.Duration(config.AppConfig.ReminderLeadMinutes) * time.Minute,
	}

	webhookHandler := handlers.NewWebhookHandler(tenantRepo, processedRepo, engine)
	availabilityHandler := handlers.NewAvailabilityHandler(availabilityEngine, reservationRepo, location)

	// Assemble the handler bundle.
	handlerBundle := &handlers.HandlerBundle{
		TenantRepo: tenantRepo,

		VerifyWebhookHandler:  webhookHandler.VerifyHandler,
		InboundWebhookHandler: webhookHandler.InboundHandler,

		CheckAvailabilityHandler: availabilityHandler.CheckHandler,
		FreeSlotsHandler:         availabilityHandler.FreeSlotsHandler,
		ListReservationsHandler:  availabilityHandler.ListReservationsHandler,
	}

	routes.RegisterRoutes(router, handlerBundle)

	// Start the HTTP server.
	port := config.AppConfig.AppPort
	if port == "" {
		port = "8080"
	}
	srv := &http.Server{
		Addr:    "0.0.0.0:" + port,
		Handler: router,
	}

	logger.Sugar().Infof("Starting server on %s...", srv.Addr)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Sugar().Fatalf("main: server failed to start: %v", err)
		}
	}()

	// Wait for an OS signal to gracefully shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Sugar().Info("main: server is shutting down...")

	taskServer.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Sugar().Fatalf("main: server forced to shutdown: %v", err)
	}

	logger.Sugar().Info("main: server stopped gracefully")
}
