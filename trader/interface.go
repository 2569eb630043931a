package trader

import "futurex/trader/types"

// Re-export types for callers that only import the trader package
type (
	Trader           = types.Trader
	OrderRequest     = types.OrderRequest
	OrderResult      = types.OrderResult
	Position         = types.Position
	AccountState     = types.AccountState
	OpenOrder        = types.OpenOrder
	ClosedTrade      = types.ClosedTrade
	ConnectionStatus = types.ConnectionStatus
)
