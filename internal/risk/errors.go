package risk

import "errors"

// 各道风控闸门抛出可区分的错误种类，交易执行器据此汇报
// 被拦截的具体原因，而不是一个笼统的布尔值。
var (
	// ErrInvalidTime 表示当前不在交易日历或盘中时段。
	ErrInvalidTime = errors.New("risk: 不在交易时段")

	// ErrFrequencyExceeded 表示滑动窗口内成交次数已达上限。
	ErrFrequencyExceeded = errors.New("risk: 交易频率超限")

	// ErrPriceNotMatched 表示现价落在委托价格区间的不利一侧。
	// 这是业务意义上的正常等待，不是故障。
	ErrPriceNotMatched = errors.New("risk: 价格未进入委托区间")

	// ErrPriceDeviationExceeded 表示现价相对参考价偏离过大。
	ErrPriceDeviationExceeded = errors.New("risk: 价格偏离超限")

	// ErrPositionLimitExceeded 表示买入后持仓占比将突破上限。
	ErrPositionLimitExceeded = errors.New("risk: 持仓比例超限")
)
