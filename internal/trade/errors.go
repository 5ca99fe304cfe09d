package trade

import "errors"

var (
	// ErrInsufficientFunds 表示现金不足以支撑本次买入。
	ErrInsufficientFunds = errors.New("trade: 现金不足")

	// ErrNoPosition 表示卖出/加减仓时该股没有持仓。
	ErrNoPosition = errors.New("trade: 当前无持仓")
)

// errNoAction 标记算出零量的"无需交易"，与被闸门拦截区分开。
var errNoAction = errors.New("trade: 无需操作")
