package remote

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Instruction 为策略服务下发的交易指令，核心只读不创建。
type Instruction struct {
	ID              int64            `json:"id"`
	StockCode       string           `json:"stock_code"`
	Action          string           `json:"action"`         // buy/sell/add/trim/hold
	PositionRatio   int              `json:"position_ratio"` // 0-100 整数百分比
	PriceMin        *decimal.Decimal `json:"price_min"`
	PriceMax        *decimal.Decimal `json:"price_max"`
	ExecutionStatus string           `json:"execution_status"` // pending/partial/completed
}

// Position 为服务端返回的权威持仓快照条目。
type Position struct {
	StockCode string          `json:"stock_code"`
	Volume    int64           `json:"volume"`
	CostPrice decimal.Decimal `json:"cost_price"`
}

// ExecutionRecord 为上报的成交记录，生成后不再修改。
type ExecutionRecord struct {
	StrategyID     int64           `json:"strategy_id"`
	StockCode      string          `json:"stock_code"`
	Action         string          `json:"action"`
	ExecutionPrice decimal.Decimal `json:"execution_price"`
	Volume         int64           `json:"volume"`
	StrategyStatus string          `json:"strategy_status"`
	ExecutedAt     time.Time       `json:"executed_at"`
	Remarks        string          `json:"remarks"`
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type instructionList struct {
	Strategies []Instruction `json:"strategies"`
}

type positionList struct {
	Positions []Position `json:"positions"`
}
