package trading

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/papertrade/papertrade-api/internal/markettime"
	"github.com/papertrade/papertrade-api/internal/types"
	"github.com/papertrade/papertrade-api/pkg/response"
)

// GinHandlers contains HTTP handlers for trading, market-session and
// quote endpoints.
type GinHandlers struct {
	engine *Engine
	mtime  *markettime.Manager
}

// NewGinHandlers creates the handler set for the trading API.
func NewGinHandlers(engine *Engine, mtime *markettime.Manager) *GinHandlers {
	return &GinHandlers{engine: engine, mtime: mtime}
}

// handleError maps engine errors onto the response envelope. Rule
// violations are 422, missing records 404, ownership violations 403;
// anything else is an upstream failure and answers 500 without leaking
// the underlying error.
func handleError(c *gin.Context, err error) {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		response.ValidationFailed(c, verr.Reason)
	case errors.Is(err, ErrUserNotFound), errors.Is(err, ErrOrderNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, ErrNotOrderOwner):
		response.Forbidden(c, err.Error())
	default:
		log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		response.InternalError(c, "an unexpected error occurred")
	}
}

// userID pulls the authenticated user id injected by the JWT middleware.
func userID(c *gin.Context) (string, bool) {
	id := c.GetString("userID")
	if id == "" {
		response.Unauthorized(c, "missing user identity")
		return "", false
	}
	return id, true
}

// PlaceBuyOrderHandler handles POST requests to place buy orders.
func (h *GinHandlers) PlaceBuyOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		uid, ok := userID(c)
		if !ok {
			return
		}

		var req types.PlaceOrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		order, msg, err := h.engine.PlaceBuyOrder(uid, req.StockCode, req.Volume, req.Price)
		if err != nil {
			handleError(c, err)
			return
		}
		response.Success(c, gin.H{"message": msg, "order": order})
	}
}

// PlaceSellOrderHandler handles POST requests to place sell orders.
func (h *GinHandlers) PlaceSellOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		uid, ok := userID(c)
		if !ok {
			return
		}

		var req types.PlaceOrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		order, msg, err := h.engine.PlaceSellOrder(uid, req.StockCode, req.Volume, req.Price)
		if err != nil {
			handleError(c, err)
			return
		}
		response.Success(c, gin.H{"message": msg, "order": order})
	}
}

// CancelOrderHandler handles POST requests to cancel pending orders.
// URL parameter: order_id
func (h *GinHandlers) CancelOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		uid, ok := userID(c)
		if !ok {
			return
		}

		msg, err := h.engine.CancelOrder(uid, c.Param("order_id"))
		if err != nil {
			handleError(c, err)
			return
		}
		response.Success(c, gin.H{"message": msg})
	}
}

// GetOrderHandler returns a single order owned by the caller.
func (h *GinHandlers) GetOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		uid, ok := userID(c)
		if !ok {
			return
		}

		order, err := h.engine.GetOrder(uid, c.Param("order_id"))
		if err != nil {
			handleError(c, err)
			return
		}
		response.Success(c, order)
	}
}

// ListOrdersHandler returns the caller's orders, most recent first.
func (h *GinHandlers) ListOrdersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		uid, ok := userID(c)
		if !ok {
			return
		}

		orders, err := h.engine.GetOrders(uid)
		if err != nil {
			handleError(c, err)
			return
		}
		response.Success(c, orders)
	}
}

// ListPositionsHandler returns the caller's positions.
func (h *GinHandlers) ListPositionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		uid, ok := userID(c)
		if !ok {
			return
		}

		positions, err := h.engine.GetPositions(uid)
		if err != nil {
			handleError(c, err)
			return
		}
		response.Success(c, positions)
	}
}

// TradingSummaryHandler returns the caller's account summary.
func (h *GinHandlers) TradingSummaryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		uid, ok := userID(c)
		if !ok {
			return
		}

		summary, err := h.engine.GetTradingSummary(uid)
		if err != nil {
			handleError(c, err)
			return
		}
		response.Success(c, summary)
	}
}

// parseMarket validates the :market URL parameter.
func parseMarket(c *gin.Context) (types.Market, bool) {
	market := types.Market(c.Param("market"))
	if !market.Valid() {
		response.BadRequest(c, "unknown market, expected one of A, HK, US")
		return "", false
	}
	return market, true
}

// parseAt reads the optional ?at= query as RFC 3339, defaulting to now.
func parseAt(c *gin.Context) (time.Time, bool) {
	raw := c.Query("at")
	if raw == "" {
		return time.Now(), true
	}
	at, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		response.BadRequest(c, "invalid 'at' timestamp, expected RFC 3339")
		return time.Time{}, false
	}
	return at, true
}

// SessionHandler resolves a market's session state at an instant.
// URL parameter: market; optional query: at (RFC 3339)
func (h *GinHandlers) SessionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		market, ok := parseMarket(c)
		if !ok {
			return
		}
		at, ok := parseAt(c)
		if !ok {
			return
		}
		response.Success(c, h.engine.ResolveSession(at, market))
	}
}

// SessionsInfoHandler lists a market's configured windows for a date.
func (h *GinHandlers) SessionsInfoHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		market, ok := parseMarket(c)
		if !ok {
			return
		}
		at, ok := parseAt(c)
		if !ok {
			return
		}
		response.Success(c, h.mtime.SessionsInfo(at, market))
	}
}

// CanPlaceOrderHandler reports order-time validity for a market.
func (h *GinHandlers) CanPlaceOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		market, ok := parseMarket(c)
		if !ok {
			return
		}
		at, ok := parseAt(c)
		if !ok {
			return
		}
		can, reason := h.mtime.CanPlaceOrder(at, market)
		response.Success(c, gin.H{"can_place_order": can, "reason": reason})
	}
}

// QuoteHandler returns a quote snapshot for a stock code.
func (h *GinHandlers) QuoteHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		quote, err := h.engine.quotes.GetQuote(c.Param("code"))
		if err != nil {
			response.NotFound(c, "no quote available for "+c.Param("code"))
			return
		}
		response.Success(c, quote)
	}
}

// SearchStocksHandler searches the listing universe by code or name.
// Query parameter: q
func (h *GinHandlers) SearchStocksHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		keyword := c.Query("q")
		if keyword == "" {
			response.BadRequest(c, "query parameter 'q' is required")
			return
		}
		listings, err := h.engine.quotes.SearchStocks(keyword)
		if err != nil {
			handleError(c, err)
			return
		}
		response.Success(c, listings)
	}
}

// AdvanceTradingDayHandler rolls the T+1 restriction over for one user,
// or for every user when no user_id parameter is present. Invoked by the
// external daily scheduler through the internal route group.
func (h *GinHandlers) AdvanceTradingDayHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if uid := c.Param("user_id"); uid != "" {
			if err := h.engine.AdvanceTradingDay(uid); err != nil {
				handleError(c, err)
				return
			}
			response.Success(c, gin.H{"message": "trading day advanced", "user_id": uid})
			return
		}

		n, err := h.engine.AdvanceTradingDayAll()
		if err != nil {
			handleError(c, err)
			return
		}
		response.Success(c, gin.H{"message": "trading day advanced", "users": n})
	}
}
