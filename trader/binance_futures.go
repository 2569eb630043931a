package trader

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"futurex/logger"
	"io"
	"net/http"
	neturl "net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Binance USD-M 合约 API 端点
const (
	binanceMainnetBaseURL = "https://fapi.binance.com"
	binanceTestnetBaseURL = "https://testnet.binancefuture.com"

	binanceTimePath         = "/fapi/v1/time"
	binanceExchangeInfoPath = "/fapi/v1/exchangeInfo"
	binanceOrderPath        = "/fapi/v1/order"
	binanceOpenOrdersPath   = "/fapi/v1/openOrders"
	binanceLeveragePath     = "/fapi/v1/leverage"
	binanceMarginTypePath   = "/fapi/v1/marginType"
	binanceAccountPath      = "/fapi/v2/account"
	binancePositionRiskPath = "/fapi/v2/positionRisk"
	binanceUserTradesPath   = "/fapi/v1/userTrades"
)

const (
	defaultRecvWindowMs   = 5000
	defaultRequestTimeout = 15 * time.Second

	// 时间同步：常规间隔 300 秒；距上次成功同步不足 10 秒时
	// 连强制同步也跳过，避免重试风暴放大签名请求
	timeSyncInterval   = 300 * time.Second
	forcedSyncThrottle = 10 * time.Second

	// 下单后状态轮询：最多 6 次，每次间隔 200ms
	orderPollMaxAttempts = 6
	orderPollDelay       = 200 * time.Millisecond
)

// Binance 错误码
const (
	// -1021: 请求时间戳超出 recvWindow，需要重新同步服务器时间
	codeTimestampOutOfRecvWindow = -1021
	// -4046: "No need to change margin type."（已经是隔离保证金模式）
	codeMarginTypeUnchanged = -4046
)

// APIError Binance REST API 错误
// Code == 0 表示传输层失败（DNS/连接/超时），没有交易所错误码
type APIError struct {
	Code       int64
	Msg        string
	HTTPStatus int
	Payload    []byte
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf(`binance {"code":%d,"msg":"%s"}`, e.Code, e.Msg)
	}
	return fmt.Sprintf("binance %s", e.Msg)
}

// FuturesTrader 币安 USD-M 合约交易器
//
// 环境：
// - "mainnet": 币安合约主网
// - "testnet": 币安合约测试网
type FuturesTrader struct {
	accountID   string
	environment string
	apiKey      string
	apiSecret   string
	baseURL     string

	recvWindowMs int64
	httpClient   *http.Client

	// 交易对精度规则（构造时一次性加载，之后只读）
	symbolFilters map[string]*symbolFilter

	// 已设置过隔离保证金模式的交易对
	isolatedInit  map[string]struct{}
	isolatedMutex sync.Mutex

	// 服务器时间偏移
	timeOffsetMs int64
	lastTimeSync time.Time
	timeMutex    sync.Mutex

	// 可注入的时钟与休眠（测试用确定性，生产默认 time.Now / time.Sleep）
	now   func() time.Time
	sleep func(time.Duration)
}

var _ Trader = (*FuturesTrader)(nil)

// noProxyFunc 返回一个始终返回 nil 的代理函数，用于禁用代理
// Docker 容器环境可能继承宿主机的代理环境变量，签名请求需要直连
func noProxyFunc(req *http.Request) (*neturl.URL, error) {
	return nil, nil
}

// NewFuturesTrader 创建币安合约交易器
// 构造时同步服务器时间并加载交易对精度规则；
// 精度规则加载失败时构造失败（没有精度规则无法安全下单）
func NewFuturesTrader(accountID, apiKey, apiSecret, environment string) (*FuturesTrader, error) {
	if environment != "mainnet" && environment != "testnet" {
		return nil, fmt.Errorf("无效的环境: %s（只支持 mainnet / testnet）", environment)
	}

	baseURL := binanceMainnetBaseURL
	if environment == "testnet" {
		baseURL = binanceTestnetBaseURL
	}

	t := &FuturesTrader{
		accountID:    accountID,
		environment:  environment,
		apiKey:       apiKey,
		apiSecret:    apiSecret,
		baseURL:      baseURL,
		recvWindowMs: defaultRecvWindowMs,
		httpClient: &http.Client{
			Timeout:   defaultRequestTimeout,
			Transport: &http.Transport{Proxy: noProxyFunc},
		},
		symbolFilters: make(map[string]*symbolFilter),
		isolatedInit:  make(map[string]struct{}),
		now:           time.Now,
		sleep:         time.Sleep,
	}

	t.syncServerTime(true)
	if err := t.loadExchangeInfo(); err != nil {
		return nil, fmt.Errorf("加载币安交易规则失败: %w", err)
	}

	logger.Infof("✅ 币安合约交易器已初始化: account=%s env=%s symbols=%d",
		accountID, environment, len(t.symbolFilters))

	return t, nil
}

// timestampMs 本地毫秒时间加上服务器偏移
func (t *FuturesTrader) timestampMs() int64 {
	t.timeMutex.Lock()
	offset := t.timeOffsetMs
	t.timeMutex.Unlock()
	return t.now().UnixMilli() + offset
}

// ensureTimeSync 签名请求前检查是否需要常规时间同步
func (t *FuturesTrader) ensureTimeSync() {
	t.timeMutex.Lock()
	stale := t.now().Sub(t.lastTimeSync) >= timeSyncInterval
	t.timeMutex.Unlock()
	if stale {
		t.syncServerTime(false)
	}
}

// syncServerTime 同步币安服务器时间
// 同步失败不致命：保留旧偏移（默认 0），只记日志
func (t *FuturesTrader) syncServerTime(force bool) {
	t.timeMutex.Lock()
	since := t.now().Sub(t.lastTimeSync)
	t.timeMutex.Unlock()

	if !force && since < timeSyncInterval {
		return
	}
	// 刚同步过就不再重复，哪怕是强制同步（-1021 重试风暴保护）
	if since < forcedSyncThrottle {
		return
	}

	body, err := t.doRequestWithRetry("GET", binanceTimePath, nil, false, false)
	if err != nil {
		logger.Warnf("⚠️ 同步币安服务器时间失败: %v", err)
		return
	}

	var payload struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.ServerTime <= 0 {
		logger.Warnf("⚠️ 解析币安服务器时间失败: %v", err)
		return
	}

	local := t.now()
	t.timeMutex.Lock()
	t.timeOffsetMs = payload.ServerTime - local.UnixMilli()
	t.lastTimeSync = local
	t.timeMutex.Unlock()
}

// sign 对查询字符串做 HMAC-SHA256 签名（十六进制小写）
func (t *FuturesTrader) sign(query string) string {
	h := hmac.New(sha256.New, []byte(t.apiSecret))
	h.Write([]byte(query))
	return hex.EncodeToString(h.Sum(nil))
}

// formatParamValue 序列化请求参数（布尔值固定为 "true"/"false"）
func formatParamValue(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case bool:
		if v {
			return "true"
		}
		return "false"
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// doRequest 执行一次 Binance REST 请求
// GET/POST/DELETE 都用查询字符串编码参数；signed 请求附加
// recvWindow、时钟校正后的 timestamp 和 HMAC 签名
func (t *FuturesTrader) doRequest(method, path string, params map[string]interface{}, signed bool) ([]byte, error) {
	return t.doRequestWithRetry(method, path, params, signed, true)
}

func (t *FuturesTrader) doRequestWithRetry(method, path string, params map[string]interface{}, signed, retryOnTimeSync bool) ([]byte, error) {
	values := neturl.Values{}
	for key, value := range params {
		if value == nil {
			continue
		}
		values.Set(key, formatParamValue(value))
	}

	if signed {
		t.ensureTimeSync()
		if values.Get("recvWindow") == "" {
			values.Set("recvWindow", strconv.FormatInt(t.recvWindowMs, 10))
		}
		values.Set("timestamp", strconv.FormatInt(t.timestampMs(), 10))
	}

	query := values.Encode()
	if signed {
		signature := t.sign(query)
		if query != "" {
			query = query + "&signature=" + signature
		} else {
			query = "signature=" + signature
		}
	}

	url := t.baseURL + path
	if query != "" {
		url = url + "?" + query
	}

	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		return nil, &APIError{Msg: err.Error()}
	}
	if signed {
		req.Header.Set("X-MBX-APIKEY", t.apiKey)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, &APIError{Msg: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &APIError{Msg: err.Error()}
	}

	// 成功响应可能是对象也可能是数组；只在对象里探测 code/msg
	var envelope struct {
		Code *int64 `json:"code"`
		Msg  string `json:"msg"`
	}
	_ = json.Unmarshal(body, &envelope)

	var apiErr *APIError
	if resp.StatusCode >= 400 {
		apiErr = &APIError{
			Msg:        strings.TrimSpace(string(body)),
			HTTPStatus: resp.StatusCode,
			Payload:    body,
		}
		if envelope.Code != nil {
			apiErr.Code = *envelope.Code
		}
		if envelope.Msg != "" {
			apiErr.Msg = envelope.Msg
		}
	} else if envelope.Code != nil && *envelope.Code < 0 {
		msg := envelope.Msg
		if msg == "" {
			msg = "Unknown Binance error"
		}
		apiErr = &APIError{
			Code:       *envelope.Code,
			Msg:        msg,
			HTTPStatus: resp.StatusCode,
			Payload:    body,
		}
	}

	if apiErr != nil {
		// -1021: 时间戳漂移，强制同步一次后重试一次；再次失败直接上抛
		if signed && retryOnTimeSync && apiErr.Code == codeTimestampOutOfRecvWindow {
			t.syncServerTime(true)
			return t.doRequestWithRetry(method, path, params, signed, false)
		}
		return nil, apiErr
	}

	return body, nil
}

// Environment 返回交易器绑定的环境
func (t *FuturesTrader) Environment() string {
	return t.environment
}

// AccountID 返回交易器绑定的账户 ID
func (t *FuturesTrader) AccountID() string {
	return t.accountID
}
