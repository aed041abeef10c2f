package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/viper"

	"github.com/coopbank/backend/internal/config"
	"github.com/coopbank/backend/internal/database"
	"github.com/coopbank/backend/internal/handlers"
	mW "github.com/coopbank/backend/internal/middleware"
	"github.com/coopbank/backend/internal/scheduler"
	"github.com/coopbank/backend/internal/services"
)

func main() {
	// Initialize config
	viper.SetConfigFile(".env") // explicitly point to .env file
	viper.AutomaticEnv()        // allow environment variables to override .env

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")
	viper.BindEnv("jwt.expiry_hours", "JWT_EXPIRY_HOURS")
	viper.BindEnv("settlement.schedule", "SETTLEMENT_SCHEDULE")
	viper.BindEnv("server.port", "PORT")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	cfg := config.Load()

	// Initialize storage; the handles are injected into every service.
	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	// Initialize services
	ledger := services.NewLedgerService(db)
	issuer := services.NewAccountNumberIssuer(db)
	transfers := services.NewTransferService(db, ledger)
	accounts := services.NewAccountService(db, ledger, issuer)
	memberships := services.NewMembershipService(db, ledger)
	settlement := services.NewSettlementService(db, ledger, transfers)
	authService := services.NewAuthService(db, redisClient)

	runner := scheduler.NewRunner(settlement, redisClient, cfg.SettlementSchedule)
	if err := runner.Start(); err != nil {
		log.Fatalf("Failed to start settlement scheduler: %v", err)
	}

	accountHandler := handlers.NewAccountHandler(accounts)
	transferHandler := handlers.NewTransferHandler(transfers)
	groupHandler := handlers.NewGroupHandler(memberships, runner)

	mW.InitAuthMiddleware(redisClient)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public endpoints (no auth required)
		r.Post("/auth/register", authService.Register)
		r.Post("/auth/login", authService.Login)
		r.Post("/auth/logout", authService.Logout)

		// Protected endpoints (auth required)
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			r.Post("/accounts", accountHandler.Open)
			r.Get("/accounts", accountHandler.List)
			r.Get("/accounts/{accountId}", accountHandler.Get)
			r.Get("/accounts/{accountId}/transactions", transferHandler.ListHistory)
			r.Get("/accounts/{accountId}/transactions/{txId}/memo", transferHandler.GetMemo)
			r.Put("/accounts/{accountId}/transactions/{txId}/memo", transferHandler.SetMemo)
			r.Delete("/accounts/{accountId}/transactions/{txId}/memo", transferHandler.ClearMemo)

			r.Post("/transfers", transferHandler.Transfer)

			r.Get("/groups", groupHandler.List)
			r.Get("/groups/{groupId}", groupHandler.Detail)
			r.Put("/groups/{groupId}/settings", groupHandler.UpdateSettings)
			r.Put("/groups/{groupId}/funding-account", groupHandler.AssignFundingAccount)
			r.Post("/groups/{groupId}/invitations", groupHandler.Invite)
			r.Post("/invitations/{token}/accept", groupHandler.Accept)

			r.Post("/settlement/run", groupHandler.TriggerSettlement)
		})
	})

	// Start server
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Server starting on :%s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")

	stopCtx := runner.Stop()
	<-stopCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}
