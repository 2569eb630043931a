package types

// Supported Binance trading environments.
const (
	EnvMainnet = "mainnet"
	EnvTestnet = "testnet"
)

// ValidEnvironment reports whether env is a recognized trading environment.
func ValidEnvironment(env string) bool {
	return env == EnvMainnet || env == EnvTestnet
}

// OrderRequest describes a single trading intent.
// Price <= 0 means a market order; TakeProfitPrice/StopLossPrice <= 0 means absent.
type OrderRequest struct {
	Symbol          string  `json:"symbol"`
	IsBuy           bool    `json:"is_buy"`
	Size            float64 `json:"size"`
	Price           float64 `json:"price"`
	Leverage        int     `json:"leverage"`
	TimeInForce     string  `json:"time_in_force"` // "Ioc" (default), "Gtc", "Alo" (post-only)
	ReduceOnly      bool    `json:"reduce_only"`
	TakeProfitPrice float64 `json:"take_profit_price"`
	StopLossPrice   float64 `json:"stop_loss_price"`
}

// OrderResult is the normalized outcome of one placement attempt.
// Status is always one of "filled", "resting", "error"; a placement call
// returns a result, never an error value, so callers always get a status.
type OrderResult struct {
	Status       string  `json:"status"`
	Environment  string  `json:"environment"`
	Exchange     string  `json:"exchange"`
	Symbol       string  `json:"symbol"`
	OrderID      string  `json:"order_id,omitempty"`
	FilledAmount float64 `json:"filled_amount"`
	AveragePrice float64 `json:"average_price"`
	Fee          float64 `json:"fee"`
	TPOrderID    string  `json:"tp_order_id,omitempty"`
	SLOrderID    string  `json:"sl_order_id,omitempty"`
	RawStatus    string  `json:"raw_status,omitempty"`
	Timestamp    int64   `json:"timestamp"`
	Error        string  `json:"error,omitempty"`
}

// Position is a normalized open futures position.
// Size is always positive; Side carries the direction. PositionAmt keeps the
// signed exchange-native amount for callers that need it.
type Position struct {
	Symbol           string  `json:"symbol"` // coin, e.g. "BTC"
	ExchangeSymbol   string  `json:"exchange_symbol"`
	Side             string  `json:"side"` // "long" or "short"
	PositionAmt      float64 `json:"position_amt"`
	Size             float64 `json:"size"`
	EntryPrice       float64 `json:"entry_price"`
	UnrealizedPnL    float64 `json:"unrealized_pnl"`
	PositionValue    float64 `json:"position_value"`
	MarginUsed       float64 `json:"margin_used"`
	LiquidationPrice float64 `json:"liquidation_price"`
	Leverage         int     `json:"leverage"`
}

// AccountState is the normalized USDT-margined account snapshot.
type AccountState struct {
	AccountID          string  `json:"account_id"`
	Environment        string  `json:"environment"`
	Exchange           string  `json:"exchange"`
	AvailableBalance   float64 `json:"available_balance"`
	TotalEquity        float64 `json:"total_equity"`
	UsedMargin         float64 `json:"used_margin"`
	MaintenanceMargin  float64 `json:"maintenance_margin"`
	MarginUsagePercent float64 `json:"margin_usage_percent"`
	Timestamp          int64   `json:"timestamp"`
}

// OpenOrder is a normalized pending order.
type OpenOrder struct {
	OrderID        string  `json:"order_id"`
	Symbol         string  `json:"symbol"` // coin, e.g. "BTC"
	ExchangeSymbol string  `json:"exchange_symbol"`
	OrderType      string  `json:"order_type"` // LIMIT/MARKET/STOP_MARKET/TAKE_PROFIT_MARKET
	Side           string  `json:"side"`       // BUY/SELL
	Status         string  `json:"status"`
	Price          float64 `json:"price"`
	Size           float64 `json:"size"`
	Filled         float64 `json:"filled"`
	Remaining      float64 `json:"remaining"`
	ReduceOnly     bool    `json:"reduce_only"`
	Direction      string  `json:"direction"` // "open" or "close"
	TriggerPrice   float64 `json:"trigger_price,omitempty"`
	Timestamp      int64   `json:"timestamp"`
}

// ClosedTrade is one historical user trade (fill) from the exchange.
type ClosedTrade struct {
	Symbol         string  `json:"symbol"` // coin, e.g. "BTC"
	Side           string  `json:"side"`   // "buy" or "sell"
	Size           float64 `json:"size"`
	ClosePrice     float64 `json:"close_price"`
	CloseTimestamp int64   `json:"close_timestamp"` // unix seconds
	CloseTime      string  `json:"close_time"`      // RFC3339 UTC
	RealizedPnL    float64 `json:"realized_pnl"`
}

// ConnectionStatus is the result of a credential/connectivity check.
type ConnectionStatus struct {
	Success          bool    `json:"success"`
	Exchange         string  `json:"exchange"`
	Environment      string  `json:"environment"`
	AvailableBalance float64 `json:"available_balance"`
	TotalEquity      float64 `json:"total_equity"`
}

// Trader is the execution contract consumed by the route layer.
// PlaceOrderWithTPSL never returns an error value: business failures are
// reflected in OrderResult.Status / OrderResult.Error.
type Trader interface {
	GetAccountState() (*AccountState, error)
	GetPositions() ([]Position, error)
	GetOpenOrders(symbol string) ([]OpenOrder, error)
	PlaceOrderWithTPSL(req *OrderRequest) *OrderResult
	CancelOrder(orderID, symbol string) bool
	GetRecentClosedTrades(limit int) ([]ClosedTrade, error)
	TestConnection() (*ConnectionStatus, error)
}
