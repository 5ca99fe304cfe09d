package risk

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"sim-trader/internal/config"
)

// Side 表示委托方向，决定价格区间匹配的取舍。
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Manager 汇集全部风控闸门。每道闸门是独立谓词，第一道失败即返回，
// 不合并部分结果。
type Manager struct {
	cfg    config.RiskConfig
	freq   *FrequencyLimiter
	logger *zap.Logger

	start time.Duration // 盘中开始，相对当日零点
	end   time.Duration
	days  map[time.Weekday]bool
}

// NewManager 创建风控管理器。
func NewManager(cfg config.RiskConfig, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	start, err := parseIntraday(cfg.TradingStart)
	if err != nil {
		return nil, fmt.Errorf("risk: 解析盘中开始时间失败: %w", err)
	}
	end, err := parseIntraday(cfg.TradingEnd)
	if err != nil {
		return nil, fmt.Errorf("risk: 解析盘中结束时间失败: %w", err)
	}

	days := make(map[time.Weekday]bool, len(cfg.TradingDays))
	for _, day := range cfg.TradingDays {
		// 配置用 1=周一...7=周日，time.Weekday 用 0=周日。
		days[time.Weekday(day%7)] = true
	}

	return &Manager{
		cfg:    cfg,
		freq:   NewFrequencyLimiter(cfg.FrequencyLimit, cfg.FrequencyWindow),
		logger: logger,
		start:  start,
		end:    end,
		days:   days,
	}, nil
}

// CheckTradingTime 校验交易日历与盘中时段。
func (m *Manager) CheckTradingTime(now time.Time) error {
	if !m.days[now.Weekday()] {
		return fmt.Errorf("%w: %s 不是交易日", ErrInvalidTime, now.Weekday())
	}

	elapsed := time.Duration(now.Hour())*time.Hour +
		time.Duration(now.Minute())*time.Minute +
		time.Duration(now.Second())*time.Second
	if elapsed < m.start || elapsed > m.end {
		return fmt.Errorf("%w: %s 不在 %s-%s 盘中时段",
			ErrInvalidTime, now.Format("15:04:05"), m.cfg.TradingStart, m.cfg.TradingEnd)
	}

	return nil
}

// CheckFrequency 校验滑动窗口内的成交频率，通过即登记本次时间戳。
func (m *Manager) CheckFrequency(now time.Time) error {
	if !m.freq.Allow(now) {
		m.logger.Warn("交易频率达到上限",
			zap.Int("limit", m.cfg.FrequencyLimit),
			zap.Duration("window", m.cfg.FrequencyWindow),
		)
		return fmt.Errorf("%w: %s 内已有 %d 笔", ErrFrequencyExceeded, m.cfg.FrequencyWindow, m.cfg.FrequencyLimit)
	}
	return nil
}

// MatchPrice 按委托方向匹配价格区间。区间缺省的一侧不设限。
// 对买方更有利的低价、对卖方更有利的高价永远放行：有利成交
// 不应被过窄的区间挡住。
func MatchPrice(side Side, price decimal.Decimal, min, max *decimal.Decimal) error {
	switch side {
	case SideBuy:
		if max != nil && price.GreaterThan(*max) {
			return fmt.Errorf("%w: 现价 %s 高于最高买入价 %s", ErrPriceNotMatched, price, max)
		}
	case SideSell:
		if min != nil && price.LessThan(*min) {
			return fmt.Errorf("%w: 现价 %s 低于最低卖出价 %s", ErrPriceNotMatched, price, min)
		}
	}
	return nil
}

// CheckDeviation 校验现价相对参考价的偏离。参考价非正时视为无参考，
// 直接放行。
func (m *Manager) CheckDeviation(current, reference decimal.Decimal) error {
	if reference.Sign() <= 0 {
		return nil
	}

	deviation := current.Sub(reference).Abs().Div(reference)
	limit := decimal.NewFromFloat(m.cfg.PriceDeviationLimit)
	if deviation.GreaterThan(limit) {
		m.logger.Warn("价格偏离超限",
			zap.String("current", current.String()),
			zap.String("reference", reference.String()),
			zap.String("deviation", deviation.String()),
		)
		return fmt.Errorf("%w: 偏离 %s 超过上限 %s", ErrPriceDeviationExceeded, deviation.Round(4), limit)
	}
	return nil
}

// CheckPositionRatio 校验买入后的预计持仓占比。卖出与减仓不受限。
func (m *Manager) CheckPositionRatio(projectedValue, totalAssets decimal.Decimal) error {
	if totalAssets.Sign() <= 0 {
		return fmt.Errorf("%w: 总资产非法 %s", ErrPositionLimitExceeded, totalAssets)
	}

	ratio := projectedValue.Div(totalAssets)
	limit := decimal.NewFromFloat(m.cfg.MaxPositionRatio)
	if ratio.GreaterThan(limit) {
		m.logger.Warn("持仓比例将突破上限",
			zap.String("projected_ratio", ratio.Round(4).String()),
			zap.String("limit", limit.String()),
		)
		return fmt.Errorf("%w: 预计占比 %s 超过上限 %s", ErrPositionLimitExceeded, ratio.Round(4), limit)
	}
	return nil
}

func parseIntraday(value string) (time.Duration, error) {
	t, err := time.Parse("15:04:05", value)
	if err != nil {
		return 0, err
	}
	return time.Duration(t.Hour())*time.Hour +
		time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second, nil
}
