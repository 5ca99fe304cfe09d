package quote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"sim-trader/internal/config"
)

// ErrUnavailable 表示行情服务不可用或无行情返回。
var ErrUnavailable = errors.New("quote: 行情不可用")

// Quote 表示某只股票的实时行情。
type Quote struct {
	Symbol    string
	Name      string
	Price     decimal.Decimal
	Timestamp time.Time
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type quotePayload struct {
	Symbol    string          `json:"symbol"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}

// Client 通过 HTTP 获取实时行情。
type Client struct {
	http   *resty.Client
	logger *zap.Logger
}

// NewClient 创建行情客户端。
func NewClient(cfg config.QuoteConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}

	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout)

	return &Client{
		http:   httpClient,
		logger: logger,
	}
}

// GetQuote 查询指定股票的当前价格。业务码非200一律视为行情不可用。
func (c *Client) GetQuote(ctx context.Context, symbol string) (Quote, error) {
	if symbol == "" {
		return Quote{}, errors.New("quote: 股票代码不能为空")
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("symbol", symbol).
		Get("/quote")
	if err != nil {
		return Quote{}, fmt.Errorf("%w: 请求行情失败: %v", ErrUnavailable, err)
	}

	if resp.StatusCode() != 200 {
		return Quote{}, fmt.Errorf("%w: HTTP %d", ErrUnavailable, resp.StatusCode())
	}

	var env envelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return Quote{}, fmt.Errorf("%w: 解析行情响应失败: %v", ErrUnavailable, err)
	}
	if env.Code != 200 {
		return Quote{}, fmt.Errorf("%w: 业务码 %d: %s", ErrUnavailable, env.Code, env.Message)
	}

	var payload quotePayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		return Quote{}, fmt.Errorf("%w: 解析行情数据失败: %v", ErrUnavailable, err)
	}
	if payload.Price.Sign() <= 0 {
		return Quote{}, fmt.Errorf("%w: 无效价格 %s", ErrUnavailable, payload.Price)
	}

	q := Quote{
		Symbol:    payload.Symbol,
		Name:      payload.Name,
		Price:     payload.Price,
		Timestamp: payload.Timestamp,
	}
	if q.Symbol == "" {
		q.Symbol = symbol
	}
	if q.Timestamp.IsZero() {
		q.Timestamp = time.Now()
	}

	c.logger.Debug("获取行情成功",
		zap.String("symbol", q.Symbol),
		zap.String("name", q.Name),
		zap.String("price", q.Price.String()),
	)

	return q, nil
}
