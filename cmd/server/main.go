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
	httpSwagger "github.com/swaggo/http-swagger"
	"github.com/thqlabel/backend/docs"
	"github.com/thqlabel/backend/internal/database"
	"github.com/thqlabel/backend/internal/handlers"
	mW "github.com/thqlabel/backend/internal/middleware"
	"github.com/thqlabel/backend/internal/services"
)

// @title THQ Label Ledger API
// @version 1.0
// @description Account ledger and withdrawal workflow for the THQ Label platform
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

func main() {
	// Initialize config
	viper.SetConfigFile(".env") // explicitly point to .env file
	viper.AutomaticEnv()        // allow environment variables to override .env
	viper.ReadInConfig()        // read .env file

	// Set environment variable prefix
	viper.SetEnvPrefix("")

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
	viper.BindEnv("argon2.time", "ARGON2_TIME")
	viper.BindEnv("argon2.memory", "ARGON2_MEMORY")
	viper.BindEnv("argon2.threads", "ARGON2_THREADS")
	viper.BindEnv("argon2.key_length", "ARGON2_KEY_LENGTH")
	viper.BindEnv("argon2.salt_length", "ARGON2_SALT_LENGTH")

	viper.BindEnv("ledger.currency", "LEDGER_CURRENCY")
	viper.BindEnv("withdrawal.min_amount", "WITHDRAWAL_MIN_AMOUNT")
	viper.BindEnv("webhook.token", "WEBHOOK_TOKEN")
	viper.BindEnv("app.base_url", "APP_BASE_URL")
	viper.BindEnv("reconcile.interval", "RECONCILE_INTERVAL")
	viper.BindEnv("reconcile.auto_repair", "RECONCILE_AUTO_REPAIR")
	viper.BindEnv("reconcile.admin_id", "RECONCILE_ADMIN_ID")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	// Initialize Swagger docs
	docs.SwaggerInfo.Title = "THQ Label Ledger API"
	docs.SwaggerInfo.Description = "Account ledger and withdrawal workflow for the THQ Label platform"
	docs.SwaggerInfo.Version = "1.0"
	docs.SwaggerInfo.Host = "localhost:8080"
	docs.SwaggerInfo.BasePath = "/api/v1"
	docs.SwaggerInfo.Schemes = []string{"http", "https"}

	// Initialize services
	db := database.InitDatabase()
	defer db.Close()

	if err := database.EnsureSchema(db); err != nil {
		log.Fatalf("Failed to ensure database schema: %v", err)
	}

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	authService := services.NewAuthService(db, redisClient)
	ledgerService := services.NewLedgerService(db)
	txlogService := services.NewTransactionLogService(db)
	withdrawalService := services.NewWithdrawalService(db, ledgerService)
	adjustmentService := services.NewAdjustmentService(db, ledgerService)
	balanceService := services.NewBalanceService(db, redisClient, ledgerService)
	reconciliationService := services.NewReconciliationService(db, txlogService, adjustmentService)
	receiptService := services.NewReceiptService(txlogService, redisClient)
	receiptHandler := handlers.NewReceiptHandler(receiptService)

	// Initialize auth middleware with Redis
	mW.InitAuthMiddleware(redisClient)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Access-Control-Allow-Origin"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	// Swagger documentation
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("http://localhost:8080/swagger/doc.json"),
	))

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public endpoints (no auth required)
		r.Post("/auth/register", authService.Register)
		r.Post("/auth/login", authService.Login)
		r.Post("/auth/logout", authService.Logout)

		// Payment provider callback, guarded by a shared token
		r.Post("/webhooks/deposit", balanceService.HandleDepositWebhook)

		// Protected endpoints (auth required)
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			r.Get("/auth/account", authService.GetUserAccount)

			r.Get("/balance", balanceService.GetBalance)
			r.Post("/purchases", balanceService.HandlePurchase)

			r.Get("/transactions", txlogService.ListTransactions)
			r.Get("/transactions/{txId}", txlogService.GetTransaction)

			r.Post("/withdrawals", withdrawalService.CreateWithdrawal)
			r.Get("/withdrawals", withdrawalService.ListWithdrawals)
			r.Get("/withdrawals/{id}", withdrawalService.GetWithdrawal)
			r.Delete("/withdrawals/{id}", withdrawalService.CancelWithdrawal)

			r.Get("/receipt/{txId}", receiptHandler.GetReceipt)
			r.Get("/receipt/{txId}/qr", receiptHandler.GetReceiptQR)

			// Admin endpoints
			r.Group(func(r chi.Router) {
				r.Use(mW.RequireAdmin)

				r.Patch("/withdrawals/{id}", withdrawalService.UpdateWithdrawal)
				r.Get("/admin/transactions", txlogService.AdminListTransactions)
				r.Post("/admin/transactions", adjustmentService.CreateAdjustment)
				r.Post("/admin/reconciliation", reconciliationService.RunReconciliation)
			})
		})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Background reconciliation
	reconcileCtx, stopReconcile := context.WithCancel(context.Background())
	defer stopReconcile()
	go reconciliationService.Run(reconcileCtx)

	// Start server
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Server starting on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	stopReconcile()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}
