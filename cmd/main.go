package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"celestra-auth/internal/config"
	"celestra-auth/internal/database/postgres"
	"celestra-auth/internal/database/redis"
	"celestra-auth/internal/event"
	"celestra-auth/internal/handlers"
	"celestra-auth/internal/repository"
	"celestra-auth/internal/services"
	"celestra-auth/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func setupLogging() (*os.File, error) {
	logDir := filepath.Join("/celestra", "log", "auth_service")
	err := os.MkdirAll(logDir, 0755)
	if err != nil {
		return nil, fmt.Errorf("failed to create log directory: %v", err)
	}

	currentTime := time.Now()
	logFileName := fmt.Sprintf("log_%s.log", currentTime.Format("2006-01-02"))
	logFile := filepath.Join(logDir, logFileName)

	file, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %v", err)
	}

	log.SetOutput(file)
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)

	return file, nil
}

func main() {
	logFile, err := setupLogging()
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	defer logFile.Close()

	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file loaded: %v", err)
	}

	cfg := config.New()

	db, err := postgres.ConnectAndCreateDB(cfg.PostgresCfg)
	if err != nil {
		log.Printf("error connect to database: %s", err)
		go postgres.RetryConnectOnFailed(30*time.Second, &db, cfg.PostgresCfg)
	}

	redisClient := redis.Connect(cfg.RedisCfg)

	var publisher event.MailPublisher
	rabbitConn, err := event.ConnectRabbitMQ(cfg.RabbitMQCfg)
	if err != nil {
		log.Printf("error connect to RabbitMQ: %s", err)
		publisher = event.NewNoopMailPublisher()
	} else {
		defer rabbitConn.Close()
		publisher = event.NewMailPublisher(rabbitConn)
	}

	// Repositories
	userRepo := repository.NewUserRepository(db)
	historyRepo := repository.NewPasswordHistoryRepository(db)
	failedRepo := repository.NewFailedLoginRepository(db)
	lockoutRepo := repository.NewLockoutRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	invitationRepo := repository.NewInvitationRepository(db)
	transactor := repository.NewTransactor(db)

	// Services
	passwordService := services.NewPasswordService(&cfg.Security)
	failedService := services.NewFailedLoginService(failedRepo, &cfg.Security)
	auditService := services.NewAuditService(auditRepo, cfg.AuthCfg.AuditSigningSecret, &cfg.Security)
	lockoutService := services.NewLockoutService(lockoutRepo, failedRepo, userRepo, sessionRepo, auditService, transactor, &cfg.Security)
	sessionService := services.NewSessionService(sessionRepo, userRepo, auditService, transactor, &cfg.Security)
	jwtService := services.NewJWTService(cfg.AuthCfg.JWTSecret)
	totpService := services.NewTOTPService(cfg.AuthCfg.TwoFactorIssuer)
	authService := services.NewAuthService(userRepo, historyRepo, passwordService, failedService, lockoutService, sessionService, auditService, jwtService, totpService, transactor, redisClient, publisher, &cfg.Security)
	userService := services.NewUserService(userRepo, sessionRepo, auditService, transactor)
	invitationService := services.NewInvitationService(invitationRepo, userRepo, passwordService, auditService, transactor, publisher, &cfg.Security)

	// Background maintenance
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	scheduler := worker.NewScheduler()
	scheduler.AddJob("lockout-sweep", 1*time.Minute, lockoutService.SweepExpired)
	scheduler.AddJob("session-sweep", 5*time.Minute, sessionService.CleanupExpired)
	scheduler.AddJob("invitation-expiry", 1*time.Hour, invitationService.CleanupExpiredInvitations)
	scheduler.AddJob("failed-login-retention", 24*time.Hour, func(ctx context.Context) (int64, error) {
		return failedService.CleanupOldRecords(ctx, cfg.Security.FailedLoginRetentionDays)
	})
	go scheduler.Run(ctx)

	// HTTP surface
	middleware := handlers.NewMiddleware(jwtService, authService)
	authHandler := handlers.NewAuthHandler(authService, sessionService, invitationService, middleware)
	adminHandler := handlers.NewAdminHandler(lockoutService, failedService, auditService, userService, invitationService, middleware)

	router := gin.Default()
	authHandler.RegisterRoutes(router)
	adminHandler.RegisterRoutes(router)

	log.Printf("auth service listening on :%s", cfg.Port)
	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}
