package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"sim-trader/internal/config"
)

// ErrAppFailure 表示传输层成功但业务码非200。
var ErrAppFailure = errors.New("remote: 服务返回业务错误")

// Client 封装策略/执行记录服务的 HTTP 接口。
type Client struct {
	http   *resty.Client
	logger *zap.Logger
}

// NewClient 创建远端服务客户端。重试策略由调用方控制，客户端只做单次请求。
func NewClient(cfg config.APIConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}

	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:   httpClient,
		logger: logger,
	}
}

// ListInstructions 拉取待执行的策略指令。
func (c *Client) ListInstructions(ctx context.Context) ([]Instruction, error) {
	data, err := c.do(ctx, func(r *resty.Request) (*resty.Response, error) {
		return r.Get("/strategies")
	})
	if err != nil {
		return nil, err
	}

	var list instructionList
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("remote: 解析策略列表失败: %w", err)
	}
	return list.Strategies, nil
}

// ListPositions 拉取服务端权威持仓快照，用于本地账本对账。
func (c *Client) ListPositions(ctx context.Context) ([]Position, error) {
	data, err := c.do(ctx, func(r *resty.Request) (*resty.Response, error) {
		return r.Get("/positions")
	})
	if err != nil {
		return nil, err
	}

	var list positionList
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("remote: 解析持仓快照失败: %w", err)
	}
	return list.Positions, nil
}

// UpdateInstructionStatus 回写指令执行状态。
func (c *Client) UpdateInstructionStatus(ctx context.Context, id int64, status string) error {
	_, err := c.do(ctx, func(r *resty.Request) (*resty.Response, error) {
		return r.
			SetBody(map[string]string{"execution_status": status}).
			Put(fmt.Sprintf("/strategies/%d/status", id))
	})
	return err
}

// PostExecution 上报一条成交记录。接口非幂等，重试由执行记录器负责。
func (c *Client) PostExecution(ctx context.Context, rec ExecutionRecord) error {
	_, err := c.do(ctx, func(r *resty.Request) (*resty.Response, error) {
		return r.SetBody(rec).Post("/executions")
	})
	return err
}

func (c *Client) do(ctx context.Context, call func(*resty.Request) (*resty.Response, error)) (json.RawMessage, error) {
	resp, err := call(c.http.R().SetContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("remote: 请求失败: %w", err)
	}

	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("remote: HTTP %d: %s", resp.StatusCode(), resp.String())
	}

	var env envelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return nil, fmt.Errorf("remote: 解析响应失败: %w", err)
	}
	if env.Code != 200 {
		return nil, fmt.Errorf("%w: code=%d msg=%s", ErrAppFailure, env.Code, env.Message)
	}

	return env.Data, nil
}

// IsRetryable 判断错误是否值得重试。上下文取消不重试，其余失败（网络、
// 非200传输码、业务码失败）都允许在尝试次数上限内重试。
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}
