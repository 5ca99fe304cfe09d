package sizing

import (
	"strings"

	"github.com/shopspring/decimal"
)

// FeeSchedule 描述一套交易费率。零值费率表示该项不收取，
// 四项全零即为免费通道。
type FeeSchedule struct {
	CommissionRate  decimal.Decimal // 佣金率
	MinCommission   decimal.Decimal // 单笔最低佣金
	StampDutyRate   decimal.Decimal // 印花税率，仅卖出收取
	TransferFeeRate decimal.Decimal // 过户费率，仅沪市股票收取
}

// FeeBreakdown 为一笔委托的费用明细。
type FeeBreakdown struct {
	Commission  decimal.Decimal
	StampDuty   decimal.Decimal
	TransferFee decimal.Decimal
}

// Total 返回费用合计。
func (b FeeBreakdown) Total() decimal.Decimal {
	return b.Commission.Add(b.StampDuty).Add(b.TransferFee)
}

// BuyFee 计算买入费用：佣金（不低于最低佣金）加沪市过户费。
func (s FeeSchedule) BuyFee(symbol string, amount decimal.Decimal) FeeBreakdown {
	if amount.Sign() <= 0 {
		return FeeBreakdown{}
	}
	return FeeBreakdown{
		Commission:  s.commission(amount),
		TransferFee: s.transferFee(symbol, amount),
	}
}

// SellFee 计算卖出费用：买入各项之外再收印花税。
func (s FeeSchedule) SellFee(symbol string, amount decimal.Decimal) FeeBreakdown {
	if amount.Sign() <= 0 {
		return FeeBreakdown{}
	}
	return FeeBreakdown{
		Commission:  s.commission(amount),
		StampDuty:   amount.Mul(s.StampDutyRate),
		TransferFee: s.transferFee(symbol, amount),
	}
}

func (s FeeSchedule) commission(amount decimal.Decimal) decimal.Decimal {
	commission := amount.Mul(s.CommissionRate)
	if commission.LessThan(s.MinCommission) {
		commission = s.MinCommission
	}
	return commission
}

// 过户费只对沪市（代码6开头）收取，深市不收。
func (s FeeSchedule) transferFee(symbol string, amount decimal.Decimal) decimal.Decimal {
	if !strings.HasPrefix(symbol, "6") {
		return decimal.Zero
	}
	return amount.Mul(s.TransferFeeRate)
}
