package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/papertrade/papertrade-api/internal/auth"
	"github.com/papertrade/papertrade-api/internal/config"
	"github.com/papertrade/papertrade-api/internal/currency"
	"github.com/papertrade/papertrade-api/internal/database"
	"github.com/papertrade/papertrade-api/internal/markettime"
	"github.com/papertrade/papertrade-api/internal/quotes"
	"github.com/papertrade/papertrade-api/internal/rules"
	"github.com/papertrade/papertrade-api/internal/storage"
	"github.com/papertrade/papertrade-api/internal/trading"
	"github.com/papertrade/papertrade-api/internal/types"
	"github.com/papertrade/papertrade-api/pkg/middleware"
)

const (
	minOrders     = 10
	maxOrders     = 60
	numWorkers    = 4
	serverAddress = "http://localhost:8080"
)

// One representative symbol pool per market so the simulation exercises
// all three fee schedules and both currencies.
var symbols = []struct {
	code   string
	market string
}{
	{"600519", "A"},
	{"000001", "A"},
	{"600036", "A"},
	{"00700", "HK"},
	{"09988", "HK"},
	{"AAPL", "US"},
	{"TSLA", "US"},
	{"MSFT", "US"},
}

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// routeStats tracks performance statistics for an API endpoint
type routeStats struct {
	name       string
	durations  []time.Duration
	totalCalls int
	failures   int
}

// addDuration records a new duration measurement for the route
func (rs *routeStats) addDuration(d time.Duration) {
	rs.durations = append(rs.durations, d)
	rs.totalCalls++
}

// calculate computes performance statistics from recorded durations
// Returns min, max, mean, median, 95th percentile, and 99th percentile durations
func (rs *routeStats) calculate() (min, max, mean, median, p95, p99 time.Duration) {
	if len(rs.durations) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	sort.Slice(rs.durations, func(i, j int) bool {
		return rs.durations[i] < rs.durations[j]
	})

	min = rs.durations[0]
	max = rs.durations[len(rs.durations)-1]

	var sum time.Duration
	for _, d := range rs.durations {
		sum += d
	}
	mean = sum / time.Duration(len(rs.durations))
	median = rs.durations[len(rs.durations)/2]

	p95idx := int(math.Ceil(float64(len(rs.durations))*0.95)) - 1
	p99idx := int(math.Ceil(float64(len(rs.durations))*0.99)) - 1
	p95 = rs.durations[p95idx]
	p99 = rs.durations[p99idx]

	return
}

// simulationClient handles HTTP communication with the paper-trading API
type simulationClient struct {
	baseURL   string
	authToken string
	client    *http.Client
	stats     map[string]*routeStats
}

// newSimulationClient registers a simulation account and prepares
// performance tracking.
func newSimulationClient() (*simulationClient, error) {
	client := &http.Client{
		Timeout: 10 * time.Second,
	}

	sc := &simulationClient{
		baseURL: serverAddress,
		client:  client,
		stats: map[string]*routeStats{
			"register": {name: "Register"},
			"buy":      {name: "Buy Order"},
			"sell":     {name: "Sell Order"},
			"cancel":   {name: "Cancel Order"},
			"quote":    {name: "Get Quote"},
			"advance":  {name: "Advance Day"},
			"summary":  {name: "Account Summary"},
		},
	}

	token, err := sc.register()
	if err != nil {
		return nil, fmt.Errorf("failed to register: %w", err)
	}
	sc.authToken = token

	return sc, nil
}

// envelope mirrors the API response wrapper.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// doJSON issues a request, unwraps the envelope and records timing.
func (sc *simulationClient) doJSON(statKey, method, path string, payload interface{}) (json.RawMessage, error) {
	start := time.Now()
	defer func() {
		sc.stats[statKey].addDuration(time.Since(start))
	}()

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewBuffer(raw)
	}

	req, err := http.NewRequest(method, sc.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if sc.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+sc.authToken)
	}

	resp, err := sc.client.Do(req)
	if err != nil {
		sc.stats[statKey].failures++
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		sc.stats[statKey].failures++
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	log.Debug().Str("path", path).Str("response", string(respBody)).Msg("API response")

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		sc.stats[statKey].failures++
		return nil, fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}

	if !env.Success {
		sc.stats[statKey].failures++
		if env.Error != nil {
			return nil, fmt.Errorf("%s: %s", env.Error.Code, env.Error.Message)
		}
		return nil, fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	return env.Data, nil
}

// register creates the simulation account and returns its JWT.
func (sc *simulationClient) register() (string, error) {
	data, err := sc.doJSON("register", "POST", "/api/v1/auth/register", map[string]string{
		"user_id":  fmt.Sprintf("sim-%s", uuid.NewString()[:8]),
		"nickname": "Simulation",
	})
	if err != nil {
		return "", err
	}

	var result struct {
		Auth struct {
			Token string `json:"jwt_token"`
		} `json:"auth"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", err
	}
	if result.Auth.Token == "" {
		return "", fmt.Errorf("no token in registration response")
	}
	return result.Auth.Token, nil
}

// getQuote fetches the current snapshot for a symbol.
func (sc *simulationClient) getQuote(code string) (*types.StockQuote, error) {
	data, err := sc.doJSON("quote", "GET", "/api/v1/stocks/"+code+"/quote", nil)
	if err != nil {
		return nil, err
	}
	var quote types.StockQuote
	if err := json.Unmarshal(data, &quote); err != nil {
		return nil, err
	}
	return &quote, nil
}

// placeOrder submits a buy or sell. A nil price places a market order.
func (sc *simulationClient) placeOrder(side, code string, volume int64, price *float64) (*types.Order, string, error) {
	statKey := "buy"
	if side == "SELL" {
		statKey = "sell"
	}

	payload := map[string]interface{}{
		"stock_code": code,
		"volume":     volume,
	}
	if price != nil {
		payload["price"] = *price
	}

	data, err := sc.doJSON(statKey, "POST", "/api/v1/orders/"+strings.ToLower(side), payload)
	if err != nil {
		return nil, "", err
	}

	var result struct {
		Message string      `json:"message"`
		Order   types.Order `json:"order"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, "", err
	}
	return &result.Order, result.Message, nil
}

// cancelOrder cancels a pending order.
func (sc *simulationClient) cancelOrder(orderID string) error {
	_, err := sc.doJSON("cancel", "POST", "/api/v1/orders/"+orderID+"/cancel", nil)
	return err
}

// advanceTradingDay triggers the T+1 rollover for every account.
func (sc *simulationClient) advanceTradingDay() error {
	_, err := sc.doJSON("advance", "POST", "/api/v1/internal/trading-day/advance", nil)
	return err
}

// getSummary fetches the account summary.
func (sc *simulationClient) getSummary() (*types.TradingSummary, error) {
	data, err := sc.doJSON("summary", "GET", "/api/v1/account/summary", nil)
	if err != nil {
		return nil, err
	}
	var summary types.TradingSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

// printPerformanceStats outputs formatted performance statistics for all API endpoints
func (sc *simulationClient) printPerformanceStats() {
	fmt.Println("\nAPI Performance Statistics")
	fmt.Println(strings.Repeat("-", 100))
	fmt.Printf("%-20s %10s %10s %10s %10s %10s %10s %10s %10s\n",
		"Endpoint", "Calls", "Errors", "Min", "Max", "Mean", "Median", "P95", "P99")
	fmt.Println(strings.Repeat("-", 100))

	for _, stats := range sc.stats {
		min, max, mean, median, p95, p99 := stats.calculate()
		fmt.Printf("%-20s %10d %10d %10s %10s %10s %10s %10s %10s\n",
			stats.name,
			stats.totalCalls,
			stats.failures,
			min.Round(time.Millisecond),
			max.Round(time.Millisecond),
			mean.Round(time.Millisecond),
			median.Round(time.Millisecond),
			p95.Round(time.Millisecond),
			p99.Round(time.Millisecond))
	}
	fmt.Println(strings.Repeat("-", 100))
}

// main runs the paper-trading simulation. It starts a local API server,
// drives concurrent order flow across all three markets, cancels a few
// pending orders, rolls the trading day and prints the account summary.
func main() {
	go func() {
		if err := startServer(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for server to start
	time.Sleep(2 * time.Second)

	simClient, err := newSimulationClient()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize simulation client")
	}

	targetOrders := rand.Intn(maxOrders-minOrders) + minOrders
	log.Info().Int("target_orders", targetOrders).Msg("Starting simulation")

	ordersChan := make(chan types.Order, targetOrders)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			placeOrdersHTTP(workerID, targetOrders/numWorkers, simClient, ordersChan)
		}(i)
	}

	wg.Wait()
	close(ordersChan)

	stats := struct {
		TotalOrders     int
		FilledOrders    int
		PendingOrders   int
		CancelledOrders int
		StartTime       time.Time
		Markets         map[string]int
	}{
		StartTime: time.Now(),
		Markets:   make(map[string]int),
	}

	var pending []string
	for order := range ordersChan {
		stats.TotalOrders++
		stats.Markets[string(order.Market)]++
		switch order.Status {
		case types.OrderFilled:
			stats.FilledOrders++
		case types.OrderPending:
			stats.PendingOrders++
			pending = append(pending, order.OrderID)
		}
	}

	// Cancel half of the queued orders to exercise the refund path.
	for i, orderID := range pending {
		if i%2 != 0 {
			continue
		}
		if err := simClient.cancelOrder(orderID); err != nil {
			log.Error().Err(err).Str("order_id", orderID).Msg("Failed to cancel order")
			continue
		}
		stats.CancelledOrders++
		log.Info().Str("order_id", orderID).Msg("Order cancelled")
	}

	// Roll the trading day so today's buys become sellable.
	if err := simClient.advanceTradingDay(); err != nil {
		log.Error().Err(err).Msg("Failed to advance trading day")
	}

	summary, err := simClient.getSummary()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to fetch account summary")
	}

	duration := time.Since(stats.StartTime)
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("PAPER TRADING SIMULATION SUMMARY")
	fmt.Println(strings.Repeat("=", 80))

	fmt.Printf(`
Order Statistics
----------------
Total Orders:     %d
Filled:           %d
Pending:          %d
Cancelled:        %d
Duration:         %v

Account
-------
Balance:          %.2f CNY
Total Assets:     %.2f CNY
Positions:        %d

Market Distribution
-------------------
`, stats.TotalOrders, stats.FilledOrders, stats.PendingOrders, stats.CancelledOrders,
		duration.Round(time.Millisecond),
		summary.User.Balance, summary.User.TotalAssets, len(summary.Positions))

	maxMarketCount := 0
	for _, count := range stats.Markets {
		if count > maxMarketCount {
			maxMarketCount = count
		}
	}
	for market, count := range stats.Markets {
		barLength := int(float64(count) / float64(maxMarketCount) * 20)
		bar := strings.Repeat("#", barLength)
		fmt.Printf("%-4s: %s (%d)\n", market, bar, count)
	}

	fmt.Println("\n" + strings.Repeat("=", 80))

	log.Info().
		Int("total_orders", stats.TotalOrders).
		Int("filled", stats.FilledOrders).
		Int("cancelled", stats.CancelledOrders).
		Float64("total_assets", summary.User.TotalAssets).
		Dur("duration", duration).
		Msg("Simulation completed")

	simClient.printPerformanceStats()
}

// placeOrdersHTTP generates and submits random orders to the API.
// Runs as a worker goroutine, sending placed orders to ordersChan.
func placeOrdersHTTP(workerID, numOrders int, simClient *simulationClient, ordersChan chan<- types.Order) {
	for i := 0; i < numOrders; i++ {
		sym := symbols[rand.Intn(len(symbols))]

		quote, err := simClient.getQuote(sym.code)
		if err != nil {
			log.Error().Err(err).Str("code", sym.code).Msg("Failed to fetch quote")
			continue
		}

		// A-share lots are 100 shares; HK and US accept any size here.
		volume := int64(rand.Intn(5)+1) * 100

		// Mix market orders with limit orders slightly below the quote so
		// some queue instead of filling.
		var price *float64
		if rand.Intn(2) == 0 {
			p := math.Floor(quote.CurrentPrice*(1-0.01*float64(rand.Intn(3)))*100) / 100
			price = &p
		}

		order, msg, err := simClient.placeOrder("BUY", sym.code, volume, price)
		if err != nil {
			log.Warn().Err(err).
				Int("worker_id", workerID).
				Str("code", sym.code).
				Msg("Order rejected")
			continue
		}

		ordersChan <- *order
		log.Info().
			Int("worker_id", workerID).
			Str("order_id", order.OrderID).
			Str("code", sym.code).
			Str("market", string(order.Market)).
			Str("status", string(order.Status)).
			Msg(msg)

		// Random sleep between orders
		time.Sleep(time.Duration(rand.Intn(300)) * time.Millisecond)
	}
}

// startServer initializes and starts the paper-trading API server with a
// throwaway database.
func startServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	cfg.DatabasePath = "simulation.db"

	db, err := database.NewDatabase(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	store := storage.NewDatabase(db)

	mtime, err := markettime.NewManager(markettime.NewStaticCalendar())
	if err != nil {
		return fmt.Errorf("failed to load market time zones: %w", err)
	}

	currencyService := currency.NewService(cfg)
	ruleEngine := rules.NewEngine(cfg, currencyService, mtime)
	quoteService := quotes.NewService(mtime)
	tradingEngine := trading.NewEngine(store, ruleEngine, currencyService, mtime, quoteService)

	authService := auth.NewService(cfg.JWTSecret, store, cfg.StartingBalance)

	router := gin.Default()
	router.Use(middleware.RequestID())

	authHandlers := auth.NewGinHandlers(authService)
	tradingHandlers := trading.NewGinHandlers(tradingEngine, mtime)

	v1 := router.Group("/api/v1")
	{
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/register", authHandlers.RegisterHandler())
			authGroup.POST("/token", authHandlers.GenerateTokenHandler())
		}

		stocks := v1.Group("/stocks")
		{
			stocks.GET("/search", tradingHandlers.SearchStocksHandler())
			stocks.GET("/:code/quote", tradingHandlers.QuoteHandler())
		}

		orders := v1.Group("/orders")
		orders.Use(middleware.JWTAuth(cfg.JWTSecret))
		{
			orders.POST("/buy", tradingHandlers.PlaceBuyOrderHandler())
			orders.POST("/sell", tradingHandlers.PlaceSellOrderHandler())
			orders.POST("/:order_id/cancel", tradingHandlers.CancelOrderHandler())
			orders.GET("", tradingHandlers.ListOrdersHandler())
		}

		account := v1.Group("/account")
		account.Use(middleware.JWTAuth(cfg.JWTSecret))
		{
			account.GET("/summary", tradingHandlers.TradingSummaryHandler())
		}

		internal := v1.Group("/internal")
		internal.Use(middleware.InternalAuth(cfg.JWTSecret))
		{
			internal.POST("/trading-day/advance", tradingHandlers.AdvanceTradingDayHandler())
		}
	}

	return router.Run(":8080")
}
