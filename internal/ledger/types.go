package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ErrDurability 表示账本锁或读写层面的失败。
var ErrDurability = errors.New("ledger: 账本持久化失败")

// PositionRecord 表示单只股票的持仓。持仓清零时记录整体删除，
// 不保留零量行。
type PositionRecord struct {
	Volume        int64           `json:"volume"`
	AvgCost       decimal.Decimal `json:"avg_cost"`
	OriginalRatio decimal.Decimal `json:"original_ratio"` // 首次建仓时的目标仓位比例(0-1)
	UpdatedAt     time.Time       `json:"updated_at"`
}

// PositionLedger 按股票代码索引全部持仓。
type PositionLedger map[string]PositionRecord

// AssetSnapshot 表示账户资产快照。TotalAssets 永远由
// Cash+TotalMarketValue 重新计算，避免三者漂移。
type AssetSnapshot struct {
	Cash             decimal.Decimal `json:"cash"`
	TotalMarketValue decimal.Decimal `json:"total_market_value"`
	TotalAssets      decimal.Decimal `json:"total_assets"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// RemotePosition 为对账时服务端下发的权威持仓。
type RemotePosition struct {
	Symbol  string
	Volume  int64
	AvgCost decimal.Decimal
}

func (p PositionRecord) validate(symbol string) error {
	if p.Volume < 0 {
		return fmt.Errorf("持仓 %s 数量为负: %d", symbol, p.Volume)
	}
	if p.AvgCost.Sign() < 0 {
		return fmt.Errorf("持仓 %s 成本为负: %s", symbol, p.AvgCost)
	}
	if p.OriginalRatio.Sign() < 0 || p.OriginalRatio.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("持仓 %s 原始建仓比例非法: %s", symbol, p.OriginalRatio)
	}
	return nil
}

func (l PositionLedger) validate() error {
	for symbol, record := range l {
		if symbol == "" {
			return errors.New("持仓存在空股票代码")
		}
		if err := record.validate(symbol); err != nil {
			return err
		}
	}
	return nil
}

func (s AssetSnapshot) validate() error {
	if s.Cash.Sign() < 0 {
		return fmt.Errorf("现金为负: %s", s.Cash)
	}
	if s.TotalMarketValue.Sign() < 0 {
		return fmt.Errorf("总市值为负: %s", s.TotalMarketValue)
	}
	return nil
}

// normalize 重算总资产并刷新时间戳。
func (s *AssetSnapshot) normalize(now time.Time) {
	s.TotalAssets = s.Cash.Add(s.TotalMarketValue)
	s.UpdatedAt = now
}
