package trader

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"futurex/trader/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testAPIKey    = "test-api-key"
	testAPISecret = "test-api-secret"
)

// newTestTrader 构造一个指向 mock 服务器的交易器
// 直接填充结构体跳过构造函数里的真实网络调用；
// lastTimeSync 设为当前时间避免测试里触发常规时间同步
func newTestTrader(baseURL string) *FuturesTrader {
	t := &FuturesTrader{
		accountID:    "acct-test",
		environment:  "testnet",
		apiKey:       testAPIKey,
		apiSecret:    testAPISecret,
		baseURL:      baseURL,
		recvWindowMs: defaultRecvWindowMs,
		httpClient:   &http.Client{Timeout: 5 * time.Second},
		symbolFilters: map[string]*symbolFilter{
			"BTCUSDT": {
				status:      "TRADING",
				stepSize:    "0.001",
				minQty:      "0.001",
				tickSize:    "0.10",
				minNotional: "100",
			},
			"ETHUSDT": {
				status:      "TRADING",
				stepSize:    "0.01",
				minQty:      "0.01",
				tickSize:    "0.01",
				minNotional: "20",
			},
		},
		isolatedInit: make(map[string]struct{}),
		now:          time.Now,
		sleep:        func(time.Duration) {},
	}
	t.lastTimeSync = time.Now()
	return t
}

// verifySignedRequest 校验请求携带合法的 HMAC-SHA256 签名
func verifySignedRequest(t *testing.T, r *http.Request) url.Values {
	t.Helper()

	assert.Equal(t, testAPIKey, r.Header.Get("X-MBX-APIKEY"))

	rawQuery := r.URL.RawQuery
	idx := strings.LastIndex(rawQuery, "&signature=")
	require.GreaterOrEqual(t, idx, 0, "签名请求必须携带 signature 参数")

	unsigned := rawQuery[:idx]
	signature := rawQuery[idx+len("&signature="):]

	h := hmac.New(sha256.New, []byte(testAPISecret))
	h.Write([]byte(unsigned))
	assert.Equal(t, hex.EncodeToString(h.Sum(nil)), signature, "签名必须是对规范化查询串的 HMAC-SHA256")

	values, err := url.ParseQuery(unsigned)
	require.NoError(t, err)
	assert.Equal(t, "5000", values.Get("recvWindow"))
	assert.NotEmpty(t, values.Get("timestamp"))
	return values
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func TestSignedRequestSignature(t *testing.T) {
	var sawOrder bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, binanceOpenOrdersPath, r.URL.Path)
		sawOrder = true

		values := verifySignedRequest(t, r)
		assert.Equal(t, "BTCUSDT", values.Get("symbol"))

		// url.Values.Encode 按 key 排序，未签名部分必须是有序的规范串
		unsigned := r.URL.RawQuery[:strings.LastIndex(r.URL.RawQuery, "&signature=")]
		keys := []string{}
		for _, pair := range strings.Split(unsigned, "&") {
			keys = append(keys, strings.SplitN(pair, "=", 2)[0])
		}
		for i := 1; i < len(keys); i++ {
			assert.LessOrEqual(t, keys[i-1], keys[i], "查询参数必须按 key 排序")
		}

		writeJSON(w, http.StatusOK, []map[string]interface{}{})
	}))
	defer server.Close()

	trader := newTestTrader(server.URL)
	orders, err := trader.GetOpenOrders("BTC")
	require.NoError(t, err)
	assert.Empty(t, orders)
	assert.True(t, sawOrder)
}

func TestTimestampErrorResyncAndRetry(t *testing.T) {
	var timeCalls, orderCalls int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case binanceTimePath:
			atomic.AddInt32(&timeCalls, 1)
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"serverTime": time.Now().UnixMilli() + 1500,
			})
		case binanceOrderPath:
			n := atomic.AddInt32(&orderCalls, 1)
			if n == 1 {
				// 首次返回时间戳漂移错误，应触发强制同步后重试一次
				writeJSON(w, http.StatusBadRequest, map[string]interface{}{
					"code": -1021,
					"msg":  "Timestamp for this request is outside of the recvWindow.",
				})
				return
			}
			verifySignedRequest(t, r)
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"orderId": 1001, "symbol": "BTCUSDT", "status": "FILLED",
				"origQty": "0.002", "executedQty": "0.002", "avgPrice": "50000",
			})
		default:
			t.Errorf("未预期的请求路径: %s", r.URL.Path)
		}
	}))
	defer server.Close()

	trader := newTestTrader(server.URL)
	// 回拨上次同步时间：在强制同步的节流窗口之外，但仍在常规同步间隔之内
	trader.lastTimeSync = time.Now().Add(-time.Minute)

	body, err := trader.doRequest("POST", binanceOrderPath, map[string]interface{}{
		"symbol": "BTCUSDT", "side": "BUY", "type": "MARKET", "quantity": "0.002",
	}, true)

	require.NoError(t, err)
	assert.Contains(t, string(body), `"orderId":1001`)
	assert.Equal(t, int32(1), atomic.LoadInt32(&timeCalls), "每次 -1021 只允许一次强制同步")
	assert.Equal(t, int32(2), atomic.LoadInt32(&orderCalls), "每次 -1021 只允许一次重试")
}

func TestTimestampErrorRetryOnlyOnce(t *testing.T) {
	var timeCalls, orderCalls int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case binanceTimePath:
			atomic.AddInt32(&timeCalls, 1)
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"serverTime": time.Now().UnixMilli(),
			})
		case binanceOrderPath:
			atomic.AddInt32(&orderCalls, 1)
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{
				"code": -1021,
				"msg":  "Timestamp for this request is outside of the recvWindow.",
			})
		default:
			t.Errorf("未预期的请求路径: %s", r.URL.Path)
		}
	}))
	defer server.Close()

	trader := newTestTrader(server.URL)
	trader.lastTimeSync = time.Now().Add(-time.Minute)

	_, err := trader.doRequest("POST", binanceOrderPath, map[string]interface{}{
		"symbol": "BTCUSDT", "side": "BUY", "type": "MARKET", "quantity": "0.002",
	}, true)

	require.Error(t, err)
	apiErr, ok := err.(*APIError)
	require.True(t, ok)
	assert.Equal(t, int64(-1021), apiErr.Code)
	assert.Equal(t, int32(2), atomic.LoadInt32(&orderCalls), "持续 -1021 时只允许两次尝试")
	assert.Equal(t, int32(1), atomic.LoadInt32(&timeCalls))
}

func TestForcedSyncThrottled(t *testing.T) {
	var timeCalls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == binanceTimePath {
			atomic.AddInt32(&timeCalls, 1)
			writeJSON(w, http.StatusOK, map[string]interface{}{"serverTime": time.Now().UnixMilli()})
		}
	}))
	defer server.Close()

	trader := newTestTrader(server.URL)
	// 刚同步过：哪怕强制同步也应跳过
	trader.lastTimeSync = time.Now()
	trader.syncServerTime(true)
	assert.Equal(t, int32(0), atomic.LoadInt32(&timeCalls))

	// 超出节流窗口后强制同步应生效
	trader.lastTimeSync = time.Now().Add(-time.Minute)
	trader.syncServerTime(true)
	assert.Equal(t, int32(1), atomic.LoadInt32(&timeCalls))
}

func TestPlaceOrderZeroSizeNoNetwork(t *testing.T) {
	var requests int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		writeJSON(w, http.StatusOK, map[string]interface{}{})
	}))
	defer server.Close()

	trader := newTestTrader(server.URL)
	result := trader.PlaceOrderWithTPSL(&types.OrderRequest{
		Symbol: "BTC", IsBuy: true, Size: 0,
	})

	assert.Equal(t, "error", result.Status)
	assert.NotEmpty(t, result.Error)
	assert.Equal(t, int32(0), atomic.LoadInt32(&requests), "数量为 0 必须在任何网络请求前拦截")
}

func TestPlaceMarketOrderWithTPSL(t *testing.T) {
	type capturedOrder struct {
		side        string
		orderType   string
		quantity    string
		stopPrice   string
		reduceOnly  string
		workingType string
	}
	var entryOrder capturedOrder
	var triggerOrders []capturedOrder
	var leverageSet, marginSet bool

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == binanceMarginTypePath:
			marginSet = true
			values := verifySignedRequest(t, r)
			assert.Equal(t, "ISOLATED", values.Get("marginType"))
			writeJSON(w, http.StatusOK, map[string]interface{}{"code": 200, "msg": "success"})

		case r.URL.Path == binanceLeveragePath:
			leverageSet = true
			values := verifySignedRequest(t, r)
			assert.Equal(t, "10", values.Get("leverage"))
			writeJSON(w, http.StatusOK, map[string]interface{}{"leverage": 10, "symbol": "BTCUSDT"})

		case r.URL.Path == binanceOrderPath && r.Method == http.MethodPost:
			values := verifySignedRequest(t, r)
			captured := capturedOrder{
				side:        values.Get("side"),
				orderType:   values.Get("type"),
				quantity:    values.Get("quantity"),
				stopPrice:   values.Get("stopPrice"),
				reduceOnly:  values.Get("reduceOnly"),
				workingType: values.Get("workingType"),
			}
			assert.NotEmpty(t, values.Get("newClientOrderId"))

			switch captured.orderType {
			case "MARKET":
				entryOrder = captured
				writeJSON(w, http.StatusOK, map[string]interface{}{
					"orderId": 100, "symbol": "BTCUSDT", "status": "NEW",
					"origQty": "0.002", "executedQty": "0", "avgPrice": "0",
				})
			case "TAKE_PROFIT_MARKET":
				triggerOrders = append(triggerOrders, captured)
				writeJSON(w, http.StatusOK, map[string]interface{}{"orderId": 222, "status": "NEW"})
			case "STOP_MARKET":
				triggerOrders = append(triggerOrders, captured)
				writeJSON(w, http.StatusOK, map[string]interface{}{"orderId": 333, "status": "NEW"})
			default:
				t.Errorf("未预期的订单类型: %s", captured.orderType)
			}

		case r.URL.Path == binanceOrderPath && r.Method == http.MethodGet:
			// 下单后的状态轮询：市价单已成交
			verifySignedRequest(t, r)
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"orderId": 100, "symbol": "BTCUSDT", "status": "FILLED",
				"origQty": "0.002", "executedQty": "0.002", "avgPrice": "50000",
				"updateTime": 1700000000000,
			})

		default:
			t.Errorf("未预期的请求: %s %s", r.Method, r.URL.Path)
		}
	}))
	defer server.Close()

	trader := newTestTrader(server.URL)
	result := trader.PlaceOrderWithTPSL(&types.OrderRequest{
		Symbol:          "BTC",
		IsBuy:           true,
		Size:            0.002,
		Leverage:        10,
		TakeProfitPrice: 55000,
		StopLossPrice:   48000,
	})

	assert.Equal(t, "filled", result.Status)
	assert.Equal(t, "100", result.OrderID)
	assert.Equal(t, 0.002, result.FilledAmount)
	assert.Equal(t, 50000.0, result.AveragePrice)
	assert.Equal(t, "222", result.TPOrderID)
	assert.Equal(t, "333", result.SLOrderID)

	assert.True(t, marginSet)
	assert.True(t, leverageSet)
	assert.Equal(t, "BUY", entryOrder.side)

	require.Len(t, triggerOrders, 2)
	for _, trigger := range triggerOrders {
		// 多头入场：平仓触发单必须是 SELL + reduceOnly + 标记价格触发
		assert.Equal(t, "SELL", trigger.side)
		assert.Equal(t, "true", trigger.reduceOnly)
		assert.Equal(t, "MARK_PRICE", trigger.workingType)
		assert.Equal(t, "0.002", trigger.quantity)
	}
	assert.Equal(t, "55000", triggerOrders[0].stopPrice)
	assert.Equal(t, "48000", triggerOrders[1].stopPrice)
}

func TestPlaceOrderTPFailureDoesNotBlockSL(t *testing.T) {
	var slPlaced bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == binanceMarginTypePath:
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{
				"code": -4046, "msg": "No need to change margin type.",
			})
		case r.URL.Path == binanceOrderPath && r.Method == http.MethodPost:
			values, _ := url.ParseQuery(r.URL.RawQuery)
			switch values.Get("type") {
			case "MARKET":
				writeJSON(w, http.StatusOK, map[string]interface{}{
					"orderId": 100, "symbol": "BTCUSDT", "status": "FILLED",
					"origQty": "0.002", "executedQty": "0.002", "avgPrice": "50000",
				})
			case "TAKE_PROFIT_MARKET":
				writeJSON(w, http.StatusBadRequest, map[string]interface{}{
					"code": -2021, "msg": "Order would immediately trigger.",
				})
			case "STOP_MARKET":
				slPlaced = true
				writeJSON(w, http.StatusOK, map[string]interface{}{"orderId": 333, "status": "NEW"})
			}
		case r.URL.Path == binanceOrderPath && r.Method == http.MethodGet:
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"orderId": 100, "symbol": "BTCUSDT", "status": "FILLED",
				"origQty": "0.002", "executedQty": "0.002", "avgPrice": "50000",
			})
		}
	}))
	defer server.Close()

	trader := newTestTrader(server.URL)
	result := trader.PlaceOrderWithTPSL(&types.OrderRequest{
		Symbol: "BTC", IsBuy: true, Size: 0.002,
		TakeProfitPrice: 49000, StopLossPrice: 48000,
	})

	// 入场单成功不受止盈单失败影响
	assert.Equal(t, "filled", result.Status)
	assert.Empty(t, result.TPOrderID)
	assert.Equal(t, "333", result.SLOrderID)
	assert.True(t, slPlaced, "止盈失败后仍必须尝试止损")
}

func TestIsolatedMarginSetOncePerSymbol(t *testing.T) {
	var marginCalls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == binanceMarginTypePath {
			atomic.AddInt32(&marginCalls, 1)
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{})
	}))
	defer server.Close()

	trader := newTestTrader(server.URL)
	trader.setIsolatedMarginIfNeeded("BTCUSDT")
	trader.setIsolatedMarginIfNeeded("BTCUSDT")
	trader.setIsolatedMarginIfNeeded("ETHUSDT")

	assert.Equal(t, int32(2), atomic.LoadInt32(&marginCalls), "每个交易对只设置一次隔离模式")
}

func TestRefreshOrderStateStopsOnPartialFill(t *testing.T) {
	var fetches int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, binanceOrderPath, r.URL.Path)
		require.Equal(t, http.MethodGet, r.Method)
		atomic.AddInt32(&fetches, 1)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"orderId": 100, "symbol": "BTCUSDT", "status": "PARTIALLY_FILLED",
			"origQty": "0.010", "executedQty": "0.004", "avgPrice": "50000",
		})
	}))
	defer server.Close()

	trader := newTestTrader(server.URL)
	submitted := &binanceOrder{OrderID: 100, Symbol: "BTCUSDT", Status: "NEW", OrigQty: "0.010"}
	latest := trader.refreshOrderState("BTCUSDT", submitted)

	// 已有成交且状态不再是 NEW：拿到状态后立即停止轮询
	assert.Equal(t, int32(1), atomic.LoadInt32(&fetches))
	assert.Equal(t, "PARTIALLY_FILLED", latest.Status)
	assert.Equal(t, "0.004", latest.ExecutedQty)
}

func TestRefreshOrderStateBoundedWhenNeverFilled(t *testing.T) {
	var fetches, sleeps int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&fetches, 1)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"orderId": 100, "symbol": "BTCUSDT", "status": "NEW",
			"origQty": "0.010", "executedQty": "0",
		})
	}))
	defer server.Close()

	trader := newTestTrader(server.URL)
	trader.sleep = func(time.Duration) { atomic.AddInt32(&sleeps, 1) }

	submitted := &binanceOrder{OrderID: 100, Symbol: "BTCUSDT", Status: "NEW", OrigQty: "0.010"}
	latest := trader.refreshOrderState("BTCUSDT", submitted)

	// 订单一直停留在 NEW：轮询受次数上限约束，不会无限重试
	assert.Equal(t, int32(6), atomic.LoadInt32(&fetches))
	assert.Equal(t, int32(6), atomic.LoadInt32(&sleeps))
	assert.Equal(t, "NEW", latest.Status)
}

func TestNormalizeOrderResultClassification(t *testing.T) {
	trader := newTestTrader("http://unused")

	tests := []struct {
		name       string
		order      binanceOrder
		wantStatus string
		wantFilled float64
		wantAvg    float64
	}{
		{
			name:       "完全成交",
			order:      binanceOrder{OrderID: 1, Status: "FILLED", OrigQty: "0.002", ExecutedQty: "0.002", AvgPrice: "50000"},
			wantStatus: "filled", wantFilled: 0.002, wantAvg: 50000,
		},
		{
			name:       "新订单挂单中",
			order:      binanceOrder{OrderID: 2, Status: "NEW", OrigQty: "0.002", ExecutedQty: "0"},
			wantStatus: "resting",
		},
		{
			name:       "部分成交仍在挂单",
			order:      binanceOrder{OrderID: 3, Status: "PARTIALLY_FILLED", OrigQty: "0.01", ExecutedQty: "0.004", AvgPrice: "50000"},
			wantStatus: "resting", wantFilled: 0.004, wantAvg: 50000,
		},
		{
			name:       "已撤销",
			order:      binanceOrder{OrderID: 4, Status: "CANCELED", OrigQty: "0.002"},
			wantStatus: "error",
		},
		{
			name:       "被拒绝",
			order:      binanceOrder{OrderID: 5, Status: "REJECTED"},
			wantStatus: "error",
		},
		{
			name:       "已过期",
			order:      binanceOrder{OrderID: 6, Status: "EXPIRED"},
			wantStatus: "error",
		},
		{
			name:       "未知状态按成交量推断为已成交",
			order:      binanceOrder{OrderID: 7, Status: "SOMETHING_NEW", OrigQty: "0.002", ExecutedQty: "0.002", AvgPrice: "50000"},
			wantStatus: "filled", wantFilled: 0.002, wantAvg: 50000,
		},
		{
			name:       "未知状态未成交推断为挂单",
			order:      binanceOrder{OrderID: 8, Status: "SOMETHING_NEW", OrigQty: "0.002", ExecutedQty: "0"},
			wantStatus: "resting",
		},
		{
			name:       "均价缺失时用成交额推算",
			order:      binanceOrder{OrderID: 9, Status: "FILLED", OrigQty: "0.002", ExecutedQty: "0.002", AvgPrice: "0", CumQuote: "100"},
			wantStatus: "filled", wantFilled: 0.002, wantAvg: 50000,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := trader.normalizeOrderResult("BTC", &tt.order, 0)
			assert.Equal(t, tt.wantStatus, result.Status)
			assert.Equal(t, tt.wantFilled, result.FilledAmount)
			assert.InDelta(t, tt.wantAvg, result.AveragePrice, 1e-9)
			assert.Equal(t, "binance", result.Exchange)
			assert.Equal(t, "testnet", result.Environment)
		})
	}
}

func TestCancelOrderByIDAndClientID(t *testing.T) {
	var gotOrderID, gotClientID string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		values := verifySignedRequest(t, r)
		gotOrderID = values.Get("orderId")
		gotClientID = values.Get("origClientOrderId")
		writeJSON(w, http.StatusOK, map[string]interface{}{"orderId": 100, "status": "CANCELED"})
	}))
	defer server.Close()

	trader := newTestTrader(server.URL)

	assert.True(t, trader.CancelOrder("100", "BTC"))
	assert.Equal(t, "100", gotOrderID)
	assert.Empty(t, gotClientID)

	assert.True(t, trader.CancelOrder("x-fx-custom-id", "BTC"))
	assert.Equal(t, "x-fx-custom-id", gotClientID)
}

func TestCancelOrderFailureReturnsFalse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"code": -2011, "msg": "Unknown order sent.",
		})
	}))
	defer server.Close()

	trader := newTestTrader(server.URL)
	assert.False(t, trader.CancelOrder("999", "BTC"))
}

func TestNewFuturesTraderRejectsInvalidEnvironment(t *testing.T) {
	_, err := NewFuturesTrader("acct", "key", "secret", "staging")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "staging")
}

func TestGenClientOrderID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := genClientOrderID()
		assert.True(t, strings.HasPrefix(id, "x-fx"))
		assert.LessOrEqual(t, len(id), 32)
		assert.False(t, seen[id], "客户端订单 ID 必须唯一")
		seen[id] = true
	}
}
