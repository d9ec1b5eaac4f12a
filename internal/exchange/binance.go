package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	jsoniter "github.com/json-iterator/go"

	"stopguard/internal/config"
	"stopguard/pkg/ratelimit"
	"stopguard/pkg/retry"
	"stopguard/pkg/utils"
)

// binance.go - подписанный REST клиент USDT-M фьючерсов
//
// Назначение:
// Выполняет запросы к /fapi с подписью HMAC-SHA256. Подпись и
// timestamp формируются заново на каждой попытке retry, иначе
// повтор после паузы уходит с протухшей подписью (код -1021).
//
// Функции:
// - GetServerTime / SyncTime: часы биржи и поправка локальных
// - GetListenKey / RenewListenKey / CloseListenKey: user-data stream
// - GetPositions / GetOpenOrders: снимок состояния аккаунта
// - GetKlines: свечи для мониторов
// - PlaceMarketOrder: рыночное закрытие позиции

// jsonFast - jsoniter в режиме совместимости со стандартной библиотекой
var jsonFast = jsoniter.ConfigCompatibleWithStandardLibrary

// Веса endpoint'ов (IP limit биржи считается в weight)
const (
	weightDefault    = 1
	weightPositions  = 5
	weightOpenOrders = 40 // без фильтра по символу
	weightKlines     = 1  // limit <= 100
)

// Client - REST клиент биржи
type Client struct {
	apiKey     string
	apiSecret  string
	baseURL    string
	recvWindow time.Duration

	httpClient *http.Client
	limiter    *ratelimit.RateLimiter
	log        *utils.Logger

	apiRetry   retry.Config
	orderRetry retry.Config

	// Поправка локальных часов к серверным, миллисекунды.
	// Обновляется SyncTime, читается при каждой подписи.
	timeOffset atomic.Int64
}

// NewClient создаёт REST клиент биржи
// Использует глобальный HTTP клиент с connection pooling
func NewClient(cfg config.BinanceConfig, log *utils.Logger) *Client {
	c := &Client{
		apiKey:     cfg.APIKey,
		apiSecret:  cfg.APISecret,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		recvWindow: cfg.RecvWindow,
		httpClient: GetGlobalHTTPClient().GetClient(),
		limiter:    ratelimit.NewRateLimiter(cfg.RateLimit, cfg.RateBurst),
		log:        log.WithComponent("exchange"),
	}

	c.apiRetry = retry.APIConfig()
	c.apiRetry.RetryIf = retry.IsRetryable
	c.apiRetry.OnRetry = c.logRetry

	c.orderRetry = retry.OrderConfig()
	c.orderRetry.RetryIf = retry.IsRetryable
	c.orderRetry.OnRetry = c.logRetry

	return c
}

func (c *Client) logRetry(attempt int, err error, delay time.Duration) {
	c.log.Warn("retrying exchange request",
		utils.Int("attempt", attempt),
		utils.Dur("delay", delay),
		utils.Err(err))
}

// sign создаёт подпись HMAC-SHA256 строки запроса
func (c *Client) sign(query string) string {
	h := hmac.New(sha256.New, []byte(c.apiSecret))
	h.Write([]byte(query))
	return hex.EncodeToString(h.Sum(nil))
}

// timestamp возвращает текущее время в миллисекундах с поправкой на часы биржи
func (c *Client) timestamp() int64 {
	return time.Now().UnixMilli() + c.timeOffset.Load()
}

// Now возвращает текущее время с поправкой на часы биржи
//
// Свечные границы (close time) живут в серверном времени: при
// дрейфе локальных часов сравнение с локальным временем открыло
// бы или закрыло свечу раньше срока.
func (c *Client) Now() time.Time {
	return utils.MillisToTime(c.timestamp())
}

// parseFloat парсит строку биржи в float64 с логированием ошибок
func (c *Client) parseFloat(value, field string) float64 {
	result, err := strconv.ParseFloat(value, 64)
	if err != nil && value != "" {
		c.log.Warn("failed to parse exchange field",
			utils.String("field", field),
			utils.String("value", value),
			utils.Err(err))
	}
	return result
}

// doRequest выполняет один запрос к API
//
// Подпись формируется здесь, поэтому каждая попытка retry получает
// свежие timestamp и signature.
func (c *Client) doRequest(ctx context.Context, method, endpoint string, params url.Values, signed bool, weight int) ([]byte, error) {
	if err := c.limiter.WaitN(ctx, weight); err != nil {
		return nil, err
	}

	query := url.Values{}
	for k, vs := range params {
		for _, v := range vs {
			query.Add(k, v)
		}
	}

	if signed {
		query.Set("timestamp", strconv.FormatInt(c.timestamp(), 10))
		query.Set("recvWindow", strconv.FormatInt(c.recvWindow.Milliseconds(), 10))
		query.Set("signature", c.sign(query.Encode()))
	}

	reqURL := c.baseURL + endpoint
	var reqBody string
	if method == http.MethodGet {
		if len(query) > 0 {
			reqURL += "?" + query.Encode()
		}
	} else {
		reqBody = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, strings.NewReader(reqBody))
	if err != nil {
		return nil, err
	}

	if method != http.MethodGet {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Set("X-MBX-APIKEY", c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		recordRequestError(endpoint, err)
		return nil, err
	}
	defer resp.Body.Close()
	RequestLatency.WithLabelValues(endpoint).Observe(float64(time.Since(start).Milliseconds()))

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, nil
	}

	apiErr := &APIError{Status: resp.StatusCode}

	var errResp struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if err := jsonFast.Unmarshal(body, &errResp); err == nil {
		apiErr.Code = errResp.Code
		apiErr.Message = errResp.Msg
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}

	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
			apiErr.RetryDelay = time.Duration(seconds) * time.Second
		}
	}

	recordRequestError(endpoint, apiErr)
	return nil, apiErr
}

// request выполняет запрос с retry для временных ошибок
func (c *Client) request(ctx context.Context, method, endpoint string, params url.Values, signed bool, weight int) ([]byte, error) {
	return retry.DoWithResult(ctx, func() ([]byte, error) {
		return c.doRequest(ctx, method, endpoint, params, signed, weight)
	}, c.apiRetry)
}

// ============================================================
// Время биржи
// ============================================================

// GetServerTime получает время сервера биржи
func (c *Client) GetServerTime(ctx context.Context) (time.Time, error) {
	body, err := c.request(ctx, http.MethodGet, "/fapi/v1/time", nil, false, weightDefault)
	if err != nil {
		return time.Time{}, err
	}

	var resp struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := jsonFast.Unmarshal(body, &resp); err != nil {
		return time.Time{}, fmt.Errorf("parse server time: %w", err)
	}

	return utils.MillisToTime(resp.ServerTime), nil
}

// SyncTime вычисляет поправку локальных часов к часам биржи
//
// Вызывается при старте: без поправки рассинхронизация больше
// recvWindow роняет каждый подписанный запрос.
func (c *Client) SyncTime(ctx context.Context) error {
	before := time.Now().UnixMilli()
	serverTime, err := c.GetServerTime(ctx)
	if err != nil {
		return err
	}
	after := time.Now().UnixMilli()

	// Компенсируем сетевую задержку серединой интервала
	local := before + (after-before)/2
	offset := serverTime.UnixMilli() - local
	c.timeOffset.Store(offset)

	c.log.Info("exchange clock synchronized", utils.Int64("offset_ms", offset))
	return nil
}

// ============================================================
// Listen key (user-data stream)
// ============================================================

// GetListenKey создаёт listen key для user-data stream
// Endpoint требует только API key, без подписи
func (c *Client) GetListenKey(ctx context.Context) (string, error) {
	body, err := c.request(ctx, http.MethodPost, "/fapi/v1/listenKey", nil, false, weightDefault)
	if err != nil {
		return "", err
	}

	var resp struct {
		ListenKey string `json:"listenKey"`
	}
	if err := jsonFast.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("parse listen key: %w", err)
	}
	if resp.ListenKey == "" {
		return "", fmt.Errorf("empty listen key in response")
	}

	return resp.ListenKey, nil
}

// RenewListenKey продлевает срок жизни listen key
// Биржа закрывает stream через 60 минут без продления
func (c *Client) RenewListenKey(ctx context.Context) error {
	_, err := c.request(ctx, http.MethodPut, "/fapi/v1/listenKey", nil, false, weightDefault)
	return err
}

// CloseListenKey закрывает listen key
func (c *Client) CloseListenKey(ctx context.Context) error {
	_, err := c.request(ctx, http.MethodDelete, "/fapi/v1/listenKey", nil, false, weightDefault)
	return err
}

// ============================================================
// Состояние аккаунта
// ============================================================

// GetPositions получает открытые позиции
//
// Позиции с нулевым количеством (закрытые) отбрасываются.
// Сторона определяется полем positionSide; в one-way режиме
// (BOTH) - знаком количества.
func (c *Client) GetPositions(ctx context.Context) ([]Position, error) {
	body, err := c.request(ctx, http.MethodGet, "/fapi/v2/positionRisk", nil, true, weightPositions)
	if err != nil {
		return nil, err
	}

	var raw []struct {
		Symbol           string `json:"symbol"`
		PositionAmt      string `json:"positionAmt"`
		EntryPrice       string `json:"entryPrice"`
		MarkPrice        string `json:"markPrice"`
		LiquidationPrice string `json:"liquidationPrice"`
		UnRealizedProfit string `json:"unRealizedProfit"`
		Leverage         string `json:"leverage"`
		PositionSide     string `json:"positionSide"`
		UpdateTime       int64  `json:"updateTime"`
	}
	if err := jsonFast.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("parse positions: %w", err)
	}

	positions := make([]Position, 0, len(raw))
	for _, p := range raw {
		amount := c.parseFloat(p.PositionAmt, "positionAmt")
		if amount == 0 {
			continue
		}

		side := p.PositionSide
		if side != PositionSideLong && side != PositionSideShort {
			// one-way режим: сторона из знака количества
			if amount > 0 {
				side = PositionSideLong
			} else {
				side = PositionSideShort
			}
		}

		positions = append(positions, Position{
			Symbol:           p.Symbol,
			Side:             side,
			Amount:           utils.Abs(amount),
			EntryPrice:       c.parseFloat(p.EntryPrice, "entryPrice"),
			MarkPrice:        c.parseFloat(p.MarkPrice, "markPrice"),
			LiquidationPrice: c.parseFloat(p.LiquidationPrice, "liquidationPrice"),
			UnrealizedPnl:    c.parseFloat(p.UnRealizedProfit, "unRealizedProfit"),
			Leverage:         int(c.parseFloat(p.Leverage, "leverage")),
			UpdatedAt:        utils.MillisToTime(p.UpdateTime),
		})
	}

	return positions, nil
}

// GetOpenOrders получает все открытые ордера аккаунта
func (c *Client) GetOpenOrders(ctx context.Context) ([]OrderInfo, error) {
	body, err := c.request(ctx, http.MethodGet, "/fapi/v1/openOrders", nil, true, weightOpenOrders)
	if err != nil {
		return nil, err
	}

	var raw []struct {
		OrderID      int64  `json:"orderId"`
		Symbol       string `json:"symbol"`
		Side         string `json:"side"`
		PositionSide string `json:"positionSide"`
		Type         string `json:"type"`
		Status       string `json:"status"`
		OrigQty      string `json:"origQty"`
		ExecutedQty  string `json:"executedQty"`
		Price        string `json:"price"`
		StopPrice    string `json:"stopPrice"`
		ReduceOnly   bool   `json:"reduceOnly"`
		UpdateTime   int64  `json:"updateTime"`
	}
	if err := jsonFast.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("parse open orders: %w", err)
	}

	orders := make([]OrderInfo, 0, len(raw))
	for _, o := range raw {
		orders = append(orders, OrderInfo{
			OrderID:      o.OrderID,
			Symbol:       o.Symbol,
			Side:         o.Side,
			PositionSide: o.PositionSide,
			Type:         o.Type,
			Status:       o.Status,
			Quantity:     c.parseFloat(o.OrigQty, "origQty"),
			ExecutedQty:  c.parseFloat(o.ExecutedQty, "executedQty"),
			Price:        c.parseFloat(o.Price, "price"),
			StopPrice:    c.parseFloat(o.StopPrice, "stopPrice"),
			ReduceOnly:   o.ReduceOnly,
			UpdatedAt:    utils.MillisToTime(o.UpdateTime),
		})
	}

	return orders, nil
}

// ============================================================
// Свечи
// ============================================================

// klineEntry - свеча в массивной форме биржи:
// [openTime, open, high, low, close, volume, closeTime, ...]
type klineEntry []jsoniter.RawMessage

// GetKlines получает последние limit свечей символа
//
// Свечи отсортированы по возрастанию времени; последняя может быть
// незакрытой - мониторы проверяют closeTime перед использованием.
func (c *Client) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]Candle, error) {
	if limit <= 0 {
		limit = 2
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	params.Set("limit", strconv.Itoa(limit))

	body, err := c.request(ctx, http.MethodGet, "/fapi/v1/klines", params, false, weightKlines)
	if err != nil {
		return nil, err
	}

	var raw []klineEntry
	if err := jsonFast.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("parse klines: %w", err)
	}

	candles := make([]Candle, 0, len(raw))
	for i, entry := range raw {
		candle, err := c.parseKline(entry)
		if err != nil {
			return nil, fmt.Errorf("parse kline %d: %w", i, err)
		}
		candles = append(candles, candle)
	}

	return candles, nil
}

// parseKline разбирает массивную форму свечи
func (c *Client) parseKline(entry klineEntry) (Candle, error) {
	if len(entry) < 7 {
		return Candle{}, fmt.Errorf("kline has %d fields, want >= 7", len(entry))
	}

	var candle Candle
	if err := jsonFast.Unmarshal(entry[0], &candle.OpenTime); err != nil {
		return Candle{}, fmt.Errorf("open time: %w", err)
	}
	if err := jsonFast.Unmarshal(entry[6], &candle.CloseTime); err != nil {
		return Candle{}, fmt.Errorf("close time: %w", err)
	}

	// Цены и объём приходят строками
	fields := []struct {
		idx  int
		dst  *float64
		name string
	}{
		{1, &candle.Open, "open"},
		{2, &candle.High, "high"},
		{3, &candle.Low, "low"},
		{4, &candle.Close, "close"},
		{5, &candle.Volume, "volume"},
	}
	for _, f := range fields {
		var s string
		if err := jsonFast.Unmarshal(entry[f.idx], &s); err != nil {
			return Candle{}, fmt.Errorf("%s: %w", f.name, err)
		}
		*f.dst = c.parseFloat(s, f.name)
	}

	return candle, nil
}

// ============================================================
// Ордера
// ============================================================

// PlaceMarketOrder размещает рыночный ордер
//
// Для закрытия LONG позиции side=SELL, для SHORT - BUY.
// positionSide передаётся только в hedge-режиме (LONG/SHORT);
// для BOTH биржа отклоняет этот параметр.
func (c *Client) PlaceMarketOrder(ctx context.Context, symbol, side, positionSide string, quantity float64) (*OrderInfo, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", side)
	params.Set("type", "MARKET")
	params.Set("quantity", utils.FormatQuantity(quantity))
	params.Set("newOrderRespType", "RESULT")
	if positionSide == PositionSideLong || positionSide == PositionSideShort {
		params.Set("positionSide", positionSide)
	}

	body, err := retry.DoWithResult(ctx, func() ([]byte, error) {
		return c.doRequest(ctx, http.MethodPost, "/fapi/v1/order", params, true, weightDefault)
	}, c.orderRetry)
	if err != nil {
		return nil, err
	}

	var raw struct {
		OrderID      int64  `json:"orderId"`
		Symbol       string `json:"symbol"`
		Side         string `json:"side"`
		PositionSide string `json:"positionSide"`
		Type         string `json:"type"`
		Status       string `json:"status"`
		OrigQty      string `json:"origQty"`
		ExecutedQty  string `json:"executedQty"`
		AvgPrice     string `json:"avgPrice"`
		UpdateTime   int64  `json:"updateTime"`
	}
	if err := jsonFast.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("parse order response: %w", err)
	}

	order := &OrderInfo{
		OrderID:      raw.OrderID,
		Symbol:       raw.Symbol,
		Side:         raw.Side,
		PositionSide: raw.PositionSide,
		Type:         raw.Type,
		Status:       raw.Status,
		Quantity:     c.parseFloat(raw.OrigQty, "origQty"),
		ExecutedQty:  c.parseFloat(raw.ExecutedQty, "executedQty"),
		Price:        c.parseFloat(raw.AvgPrice, "avgPrice"),
		UpdatedAt:    utils.MillisToTime(raw.UpdateTime),
	}

	if order.Status == OrderStatusRejected || order.Status == OrderStatusExpired {
		return order, fmt.Errorf("%w: status=%s", ErrOrderRejected, order.Status)
	}

	return order, nil
}
