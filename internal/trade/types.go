package trade

import (
	"time"

	"github.com/shopspring/decimal"
)

// Action 表示指令动作。
type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
	ActionAdd  Action = "add"
	ActionTrim Action = "trim"
	ActionHold Action = "hold"
)

// Status 表示指令执行状态。没有终态failed：意外错误把指令留在
// pending，作为引擎级错误向上反映。
type Status string

const (
	StatusPending   Status = "pending"
	StatusPartial   Status = "partial"
	StatusCompleted Status = "completed"
)

// Instruction 为一条已解析的交易指令。核心只读，不创建指令。
type Instruction struct {
	ID          int64
	Symbol      string
	Action      Action
	TargetRatio decimal.Decimal // 0-1；buy/sell相对总资产或当前持仓，add/trim相对原始建仓比例
	PriceMin    *decimal.Decimal
	PriceMax    *decimal.Decimal
	Status      Status
}

// Outcome 表示单次执行的归类结果。被拦截与算出零量都不是异常，
// 用标记结果表达，异常只留给持久化失败。
type Outcome string

const (
	OutcomeExecuted Outcome = "executed"
	OutcomeBlocked  Outcome = "blocked"
	OutcomeNoop     Outcome = "noop"
)

// Result 为执行结果摘要，每次调用都返回明确的状态与可读原因。
type Result struct {
	Outcome Outcome
	Status  Status // 执行后的指令状态
	Symbol  string
	Action  Action
	Volume  int64
	Price   decimal.Decimal
	Reason  string
	Cause   error // 被拦截时的错误种类，成交时为nil
}

// Fill 描述一笔已落账的成交，交给执行记录器上报。
// Fee 为已从现金中扣除的交易费用合计。
type Fill struct {
	InstructionID int64
	Symbol        string
	Action        Action
	Price         decimal.Decimal
	Volume        int64
	Fee           decimal.Decimal
	Status        Status
	ExecutedAt    time.Time
	Remark        string
}
