package trader

import (
	"encoding/json"
	"futurex/logger"
	"futurex/trader/types"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// binanceOrder /fapi/v1/order 响应（下单与查询共用同一形状）
type binanceOrder struct {
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Symbol        string `json:"symbol"`
	Status        string `json:"status"`
	Price         string `json:"price"`
	AvgPrice      string `json:"avgPrice"`
	OrigQty       string `json:"origQty"`
	ExecutedQty   string `json:"executedQty"`
	CumQuote      string `json:"cumQuote"`
	StopPrice     string `json:"stopPrice"`
	TimeInForce   string `json:"timeInForce"`
	Type          string `json:"type"`
	ReduceOnly    bool   `json:"reduceOnly"`
	Side          string `json:"side"`
	Time          int64  `json:"time"`
	UpdateTime    int64  `json:"updateTime"`
	WorkingTime   int64  `json:"workingTime"`
}

// genClientOrderID 生成客户端订单 ID（币安限制 36 字符以内）
func genClientOrderID() string {
	id := "x-fx" + strings.ReplaceAll(uuid.New().String(), "-", "")
	if len(id) > 32 {
		id = id[:32]
	}
	return id
}

// setLeverageIfNeeded 下单前设置杠杆
// 失败不致命：部分交易对/账户会拒绝重复设置杠杆
func (t *FuturesTrader) setLeverageIfNeeded(symbol string, leverage int) {
	if leverage <= 0 {
		return
	}
	_, err := t.doRequest("POST", binanceLeveragePath, map[string]interface{}{
		"symbol":   symbol,
		"leverage": leverage,
	}, true)
	if err != nil {
		logger.Warnf("⚠️ 设置 %s 杠杆 %dx 失败: %v", symbol, leverage, err)
	}
}

// setIsolatedMarginIfNeeded 每个交易对只尝试设置一次隔离保证金模式
// -4046 表示已经是隔离模式，视为成功；其他失败只记日志，不阻止下单
func (t *FuturesTrader) setIsolatedMarginIfNeeded(symbol string) {
	t.isolatedMutex.Lock()
	if _, done := t.isolatedInit[symbol]; done {
		t.isolatedMutex.Unlock()
		return
	}
	// 先占位再发请求，避免并发下单重复设置；失败也不再重试
	t.isolatedInit[symbol] = struct{}{}
	t.isolatedMutex.Unlock()

	_, err := t.doRequest("POST", binanceMarginTypePath, map[string]interface{}{
		"symbol":     symbol,
		"marginType": "ISOLATED",
	}, true)
	if err != nil {
		if apiErr, ok := err.(*APIError); ok && apiErr.Code == codeMarginTypeUnchanged {
			return
		}
		logger.Warnf("⚠️ 设置 %s 隔离保证金模式失败: %v", symbol, err)
	}
}

// placeReduceOnlyTriggerOrder 创建 reduce-only 触发市价单
// orderType 取值: TAKE_PROFIT_MARKET / STOP_MARKET
func (t *FuturesTrader) placeReduceOnlyTriggerOrder(formattedSymbol, side string, amount, triggerPrice float64, orderType string) (string, error) {
	if triggerPrice <= 0 || amount <= 0 {
		return "", nil
	}

	quantity, err := t.normalizeQuantity(formattedSymbol, amount)
	if err != nil {
		return "", err
	}
	stopPrice, err := t.normalizePrice(formattedSymbol, triggerPrice)
	if err != nil {
		return "", err
	}

	body, err := t.doRequest("POST", binanceOrderPath, map[string]interface{}{
		"symbol":           formattedSymbol,
		"side":             side,
		"type":             orderType,
		"quantity":         quantity,
		"stopPrice":        stopPrice,
		"reduceOnly":       true,
		"workingType":      "MARK_PRICE",
		"newClientOrderId": genClientOrderID(),
	}, true)
	if err != nil {
		return "", err
	}

	var created binanceOrder
	if err := json.Unmarshal(body, &created); err != nil {
		return "", err
	}
	if created.OrderID == 0 {
		return "", nil
	}
	return strconv.FormatInt(created.OrderID, 10), nil
}

// maybePlaceTPSLOrders 入场成交后挂 TP/SL reduce-only 触发单
// 两个触发单相互独立：TP 失败不影响 SL 的尝试，两者失败都不影响已成交的入场单
func (t *FuturesTrader) maybePlaceTPSLOrders(symbol, formattedSymbol string, isBuyEntry bool, amount, takeProfitPrice, stopLossPrice float64) (tpOrderID, slOrderID string) {
	closeSide := "SELL"
	if !isBuyEntry {
		closeSide = "BUY"
	}

	if takeProfitPrice > 0 {
		id, err := t.placeReduceOnlyTriggerOrder(formattedSymbol, closeSide, amount, takeProfitPrice, "TAKE_PROFIT_MARKET")
		if err != nil {
			logger.Warnf("⚠️ 挂止盈单失败: symbol=%s tp=%.8f err=%v", symbol, takeProfitPrice, err)
		} else {
			tpOrderID = id
		}
	}

	if stopLossPrice > 0 {
		id, err := t.placeReduceOnlyTriggerOrder(formattedSymbol, closeSide, amount, stopLossPrice, "STOP_MARKET")
		if err != nil {
			logger.Warnf("⚠️ 挂止损单失败: symbol=%s sl=%.8f err=%v", symbol, stopLossPrice, err)
		} else {
			slOrderID = id
		}
	}

	return tpOrderID, slOrderID
}

// normalizeOrderResult 将币安订单状态映射为统一结果
// FILLED -> filled；NEW/PARTIALLY_FILLED -> resting；
// CANCELED/REJECTED/EXPIRED -> error；未知状态按成交量推断
func (t *FuturesTrader) normalizeOrderResult(symbol string, order *binanceOrder, fallbackPrice float64) *types.OrderResult {
	rawStatus := strings.ToUpper(order.Status)
	filledAmount := safeFloat(order.ExecutedQty)
	averagePrice := safeFloat(order.AvgPrice)
	if averagePrice <= 0 {
		averagePrice = fallbackPrice
	}
	if averagePrice <= 0 && filledAmount > 0 {
		if cumQuote := safeFloat(order.CumQuote); cumQuote > 0 {
			averagePrice = cumQuote / filledAmount
		}
	}

	var status string
	switch rawStatus {
	case "FILLED":
		status = "filled"
	case "NEW", "PARTIALLY_FILLED":
		status = "resting"
	case "CANCELED", "REJECTED", "EXPIRED", "EXPIRED_IN_MATCH":
		status = "error"
	default:
		origQty := safeFloat(order.OrigQty)
		if filledAmount > 0 && (origQty <= 0 || filledAmount >= origQty) {
			status = "filled"
		} else {
			status = "resting"
		}
	}

	timestamp := order.UpdateTime
	if timestamp == 0 {
		timestamp = order.Time
	}

	var orderID string
	if order.OrderID != 0 {
		orderID = strconv.FormatInt(order.OrderID, 10)
	}

	return &types.OrderResult{
		Status:       status,
		Environment:  t.environment,
		Exchange:     "binance",
		Symbol:       symbol,
		OrderID:      orderID,
		FilledAmount: filledAmount,
		AveragePrice: averagePrice,
		RawStatus:    strings.ToLower(rawStatus),
		Timestamp:    timestamp,
	}
}

// fetchOrderByID 按订单 ID 查询订单状态，失败返回 nil
func (t *FuturesTrader) fetchOrderByID(formattedSymbol string, orderID int64) *binanceOrder {
	body, err := t.doRequest("GET", binanceOrderPath, map[string]interface{}{
		"symbol":  formattedSymbol,
		"orderId": orderID,
	}, true)
	if err != nil {
		return nil
	}

	var order binanceOrder
	if err := json.Unmarshal(body, &order); err != nil {
		return nil
	}
	return &order
}

// isTerminalOrderStatus 终态：不会再发生状态变化
func isTerminalOrderStatus(rawStatus string) bool {
	switch rawStatus {
	case "FILLED", "CANCELED", "REJECTED", "EXPIRED", "EXPIRED_IN_MATCH":
		return true
	}
	return false
}

// refreshOrderState 下单后的有界轮询
// 币安可能先以 NEW 确认 MARKET/IOC 订单、稍后才反映成交，
// 短暂轮询拿到 executedQty/avgPrice 供后续 TP/SL 逻辑使用
func (t *FuturesTrader) refreshOrderState(formattedSymbol string, order *binanceOrder) *binanceOrder {
	if order.OrderID == 0 {
		return order
	}

	latest := order
	for i := 0; i < orderPollMaxAttempts; i++ {
		refreshed := t.fetchOrderByID(formattedSymbol, order.OrderID)
		if refreshed == nil {
			break
		}

		latest = refreshed
		rawStatus := strings.ToUpper(refreshed.Status)
		if isTerminalOrderStatus(rawStatus) {
			break
		}
		if safeFloat(refreshed.ExecutedQty) > 0 && rawStatus != "NEW" {
			break
		}
		t.sleep(orderPollDelay)
	}

	return latest
}

// errorResult 构造校验/执行失败的统一错误结果
func (t *FuturesTrader) errorResult(symbol, message string) *types.OrderResult {
	return &types.OrderResult{
		Status:      "error",
		Environment: t.environment,
		Exchange:    "binance",
		Symbol:      symbol,
		Error:       message,
	}
}

// PlaceOrderWithTPSL 下主单，入场成交后自动挂 reduce-only 止盈/止损触发单
//
// 下单永远返回结构化结果，不返回 error：
// 校验失败（数量过小、精度不足）在任何网络请求前拦截并写入 Error 字段
func (t *FuturesTrader) PlaceOrderWithTPSL(req *types.OrderRequest) *types.OrderResult {
	formattedSymbol := formatSymbol(req.Symbol)
	side := "SELL"
	if req.IsBuy {
		side = "BUY"
	}

	amount := req.Size
	if amount < 0 {
		amount = -amount
	}
	if amount <= 0 {
		return t.errorResult(req.Symbol, "订单数量必须大于 0")
	}

	// 保证金模式与杠杆都是尽力而为，失败不阻止下单
	t.setIsolatedMarginIfNeeded(formattedSymbol)
	t.setLeverageIfNeeded(formattedSymbol, req.Leverage)

	quantity, err := t.normalizeQuantity(formattedSymbol, amount)
	if err != nil {
		return t.errorResult(req.Symbol, err.Error())
	}

	orderType := "MARKET"
	if req.Price > 0 {
		orderType = "LIMIT"
	}

	params := map[string]interface{}{
		"symbol":           formattedSymbol,
		"side":             side,
		"type":             orderType,
		"quantity":         quantity,
		"newClientOrderId": genClientOrderID(),
	}

	var fallbackPrice float64
	if orderType == "LIMIT" {
		normalizedPrice, err := t.normalizePrice(formattedSymbol, req.Price)
		if err != nil {
			return t.errorResult(req.Symbol, err.Error())
		}
		params["price"] = normalizedPrice
		params["timeInForce"] = mapTimeInForce(req.TimeInForce)
		fallbackPrice = safeFloat(normalizedPrice)
	}

	if req.ReduceOnly {
		params["reduceOnly"] = true
	}

	body, err := t.doRequest("POST", binanceOrderPath, params, true)
	if err != nil {
		logger.Errorf("❌ 币安下单失败: symbol=%s side=%s qty=%s err=%v", req.Symbol, side, quantity, err)
		return t.errorResult(req.Symbol, err.Error())
	}

	var order binanceOrder
	if err := json.Unmarshal(body, &order); err != nil {
		return t.errorResult(req.Symbol, "解析下单响应失败: "+err.Error())
	}

	// 市价单和 IOC 限价单可能在确认后才反映成交，短暂轮询
	if orderType == "MARKET" || mapTimeInForce(req.TimeInForce) == "IOC" {
		order = *t.refreshOrderState(formattedSymbol, &order)
	}

	result := t.normalizeOrderResult(req.Symbol, &order, fallbackPrice)

	// 非 reduce-only 的入场单有成交且设置了 TP/SL 时，按成交量挂保护单
	if !req.ReduceOnly && result.FilledAmount > 0 && (req.TakeProfitPrice > 0 || req.StopLossPrice > 0) {
		tpID, slID := t.maybePlaceTPSLOrders(
			req.Symbol, formattedSymbol, req.IsBuy,
			result.FilledAmount, req.TakeProfitPrice, req.StopLossPrice)
		result.TPOrderID = tpID
		result.SLOrderID = slID
	}

	return result
}

// CancelOrder 撤单（尽力而为）
// 任何失败都返回 false 并记日志，不抛错
func (t *FuturesTrader) CancelOrder(orderID, symbol string) bool {
	params := map[string]interface{}{
		"symbol": formatSymbol(symbol),
	}
	if id, err := strconv.ParseInt(strings.TrimSpace(orderID), 10, 64); err == nil {
		params["orderId"] = id
	} else {
		params["origClientOrderId"] = orderID
	}

	if _, err := t.doRequest("DELETE", binanceOrderPath, params, true); err != nil {
		logger.Errorf("❌ 撤销币安订单 %s (%s) 失败: %v", orderID, symbol, err)
		return false
	}
	return true
}

// GetOpenOrders 获取当前挂单，symbol 为空时查询全部
func (t *FuturesTrader) GetOpenOrders(symbol string) ([]types.OpenOrder, error) {
	params := map[string]interface{}{}
	if symbol != "" {
		params["symbol"] = formatSymbol(symbol)
	}

	body, err := t.doRequest("GET", binanceOpenOrdersPath, params, true)
	if err != nil {
		return nil, err
	}

	var orders []binanceOrder
	if err := json.Unmarshal(body, &orders); err != nil {
		return nil, err
	}

	result := make([]types.OpenOrder, 0, len(orders))
	for _, order := range orders {
		marketSymbol := strings.ToUpper(order.Symbol)
		origQty := safeFloat(order.OrigQty)
		executedQty := safeFloat(order.ExecutedQty)
		remaining := origQty - executedQty
		if remaining < 0 {
			remaining = 0
		}

		direction := "open"
		if order.ReduceOnly {
			direction = "close"
		}

		timestamp := order.UpdateTime
		if timestamp == 0 {
			timestamp = order.Time
		}
		if timestamp == 0 {
			timestamp = order.WorkingTime
		}

		result = append(result, types.OpenOrder{
			OrderID:        strconv.FormatInt(order.OrderID, 10),
			Symbol:         extractCoin(marketSymbol),
			ExchangeSymbol: marketSymbol,
			OrderType:      strings.ToUpper(order.Type),
			Side:           strings.ToUpper(order.Side),
			Status:         order.Status,
			Price:          safeFloat(order.Price),
			Size:           origQty,
			Filled:         executedQty,
			Remaining:      remaining,
			ReduceOnly:     order.ReduceOnly,
			Direction:      direction,
			TriggerPrice:   safeFloat(order.StopPrice),
			Timestamp:      timestamp,
		})
	}

	return result, nil
}
