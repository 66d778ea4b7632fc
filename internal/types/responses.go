package types

// PlaceOrderRequest is the body for order-placement endpoints. A nil
// Price means a market order at the quote's buy/sell-side price.
type PlaceOrderRequest struct {
	StockCode string   `json:"stock_code" binding:"required"`
	Volume    int64    `json:"volume" binding:"required,gt=0"`
	Price     *float64 `json:"price,omitempty"`
}

// TradingSummary aggregates a user's account state. Monetary totals are
// in the settlement currency.
type TradingSummary struct {
	User             *User      `json:"user"`
	TotalMarketValue float64    `json:"total_market_value"`
	TotalProfitLoss  float64    `json:"total_profit_loss"`
	TotalPositions   int        `json:"total_positions"`
	PendingOrders    int        `json:"pending_orders"`
	Positions        []Position `json:"positions"`
	RecentOrders     []Order    `json:"recent_orders"`
}
