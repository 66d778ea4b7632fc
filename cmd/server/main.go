package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/papertrade/papertrade-api/internal/auth"
	"github.com/papertrade/papertrade-api/internal/config"
	"github.com/papertrade/papertrade-api/internal/currency"
	"github.com/papertrade/papertrade-api/internal/database"
	"github.com/papertrade/papertrade-api/internal/markettime"
	"github.com/papertrade/papertrade-api/internal/quotes"
	"github.com/papertrade/papertrade-api/internal/rules"
	"github.com/papertrade/papertrade-api/internal/storage"
	"github.com/papertrade/papertrade-api/internal/trading"
	"github.com/papertrade/papertrade-api/pkg/middleware"
)

// init configures the application logging based on environment settings
// In development mode, it enables pretty printing with timestamps
// Debug logging can be enabled via DEBUG environment variable
func init() {
	// Configure pretty logging for development
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	// Set global log level
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// main initializes and runs the paper-trading API server with graceful
// shutdown support.
func main() {
	cfg, err := config.Load()
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	db, err := database.NewDatabase(cfg.DatabasePath)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}
	store := storage.NewDatabase(db)

	// Stored overrides win over environment values for the exchange and
	// fee rates, so operators can retune a running deployment.
	cfg.HKDToCNYRate = store.GetConfigFloat("hkd_to_cny_rate", cfg.HKDToCNYRate)
	cfg.USDToCNYRate = store.GetConfigFloat("usd_to_cny_rate", cfg.USDToCNYRate)
	cfg.CommissionRate = store.GetConfigFloat("commission_rate", cfg.CommissionRate)
	cfg.StampTaxRate = store.GetConfigFloat("stamp_tax_rate", cfg.StampTaxRate)
	cfg.TransferFeeRate = store.GetConfigFloat("transfer_fee_rate", cfg.TransferFeeRate)
	cfg.Validate()

	mtime, err := markettime.NewManager(markettime.NewStaticCalendar())
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to load market time zones")
	}

	currencyService := currency.NewService(cfg)
	ruleEngine := rules.NewEngine(cfg, currencyService, mtime)
	quoteService := quotes.NewService(mtime)

	tradingEngine := trading.NewEngine(store, ruleEngine, currencyService, mtime, quoteService)
	tradingHandlers := trading.NewGinHandlers(tradingEngine, mtime)

	authService := auth.NewService(cfg.JWTSecret, store, cfg.StartingBalance)
	authHandlers := auth.NewGinHandlers(authService)

	// Initialize router
	router := gin.Default()
	router.Use(middleware.RequestID())
	router.Use(middleware.RateLimit())

	setupRoutes(router, cfg, authHandlers, tradingHandlers)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Port),
		Handler: router,
	}

	// Graceful shutdown setup
	go func() {
		zlog.Info().Str("port", cfg.Port).Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	// Give outstanding operations 5 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	zlog.Info().Msg("Server exiting")
}

// setupRoutes configures all API endpoints and their handlers.
// Routes are grouped by functionality:
// - Auth routes: public registration and token issuance
// - Market and stock routes: public session and quote queries
// - Order and account routes: protected by JWT authentication
// - Internal routes: operational endpoints such as the trading-day
//   rollover, expected to sit behind network-level restriction
func setupRoutes(
	router *gin.Engine,
	cfg config.Config,
	authHandlers *auth.GinHandlers,
	tradingHandlers *trading.GinHandlers,
) {
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		// Auth routes
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/register", authHandlers.RegisterHandler())
			authGroup.POST("/token", authHandlers.GenerateTokenHandler())
		}

		// Market session routes
		markets := v1.Group("/markets")
		{
			markets.GET("/:market/session", tradingHandlers.SessionHandler())
			markets.GET("/:market/sessions", tradingHandlers.SessionsInfoHandler())
			markets.GET("/:market/can-place-order", tradingHandlers.CanPlaceOrderHandler())
		}

		// Stock quote routes
		stocks := v1.Group("/stocks")
		{
			stocks.GET("/search", tradingHandlers.SearchStocksHandler())
			stocks.GET("/:code/quote", tradingHandlers.QuoteHandler())
		}

		// Order routes
		orders := v1.Group("/orders")
		orders.Use(middleware.JWTAuth(cfg.JWTSecret))
		{
			orders.POST("/buy", tradingHandlers.PlaceBuyOrderHandler())
			orders.POST("/sell", tradingHandlers.PlaceSellOrderHandler())
			orders.POST("/:order_id/cancel", tradingHandlers.CancelOrderHandler())
			orders.GET("", tradingHandlers.ListOrdersHandler())
			orders.GET("/:order_id", tradingHandlers.GetOrderHandler())
		}

		// Account routes
		account := v1.Group("/account")
		account.Use(middleware.JWTAuth(cfg.JWTSecret))
		{
			account.GET("/summary", tradingHandlers.TradingSummaryHandler())
			account.GET("/positions", tradingHandlers.ListPositionsHandler())
		}

		// Internal routes (should be protected by internal network)
		internal := v1.Group("/internal")
		internal.Use(middleware.InternalAuth(cfg.JWTSecret))
		{
			internal.POST("/trading-day/advance", tradingHandlers.AdvanceTradingDayHandler())
			internal.POST("/trading-day/advance/:user_id", tradingHandlers.AdvanceTradingDayHandler())
		}
	}
}
