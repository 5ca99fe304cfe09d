// Package sizing 提供纯函数的委托数量计算：目标仓位换算、步长取整、
// 最小数量抬升与加权平均成本。
package sizing

import (
	"errors"

	"github.com/shopspring/decimal"
)

// ErrOriginalRatioInvalid 表示加仓/减仓指令引用的原始建仓比例非法，
// 无法作为分母参与换算。
var ErrOriginalRatioInvalid = errors.New("sizing: 原始建仓比例必须大于0")

// BuyInput 为买入数量计算的输入。
type BuyInput struct {
	Price          decimal.Decimal // 当前成交价
	TargetRatio    decimal.Decimal // 目标仓位比例(0-1)，相对总资产
	HoldingValue   decimal.Decimal // 当前该股持仓市值
	TotalAssets    decimal.Decimal // 账户总资产
	AvailableCash  decimal.Decimal // 可用现金
	VolumeStep     int64           // 交易步长
	MinVolume      int64           // 最小买入数量
	MaxTradeAmount decimal.Decimal // 单笔最大金额，零值表示不限
}

// SizeBuy 把目标仓位换算成可买入数量。需补仓金额不足一手时返回0，
// 这是"无需操作"而不是错误。
func SizeBuy(in BuyInput) int64 {
	if in.Price.Sign() <= 0 || in.TargetRatio.Sign() <= 0 || in.VolumeStep <= 0 {
		return 0
	}

	target := in.TotalAssets.Mul(in.TargetRatio)
	need := target.Sub(in.HoldingValue)
	if need.Sign() <= 0 {
		return 0
	}

	if in.MaxTradeAmount.Sign() > 0 && need.GreaterThan(in.MaxTradeAmount) {
		need = in.MaxTradeAmount
	}
	if need.GreaterThan(in.AvailableCash) {
		need = in.AvailableCash
	}

	volume := floorToStep(need, in.Price, in.VolumeStep)

	if volume < in.MinVolume {
		if affordable(in.MinVolume, in.Price, in.AvailableCash) {
			volume = in.MinVolume
		} else {
			return 0
		}
	}

	// 取整抬升可能越过现金上限，回落到现金能承担的数量。
	if !affordable(volume, in.Price, in.AvailableCash) {
		volume = floorToStep(in.AvailableCash, in.Price, in.VolumeStep)
		if volume < in.MinVolume {
			if affordable(in.MinVolume, in.Price, in.AvailableCash) {
				volume = in.MinVolume
			} else {
				return 0
			}
		}
	}

	return volume
}

// SizeSell 计算卖出数量。sellRatio 相对当前持仓而不是总资产。
// 取整后归零但确实意图卖出时，抬到最小卖出数量，且不超过当前持仓。
func SizeSell(currentVolume int64, sellRatio decimal.Decimal, volumeStep, minVolume int64) int64 {
	if currentVolume <= 0 || sellRatio.Sign() <= 0 || volumeStep <= 0 {
		return 0
	}

	intended := decimal.NewFromInt(currentVolume).Mul(sellRatio)
	lots := intended.Div(decimal.NewFromInt(volumeStep)).IntPart()
	volume := lots * volumeStep

	if volume == 0 && intended.Sign() > 0 && currentVolume >= minVolume {
		volume = minVolume
	}
	if volume > currentVolume {
		volume = currentVolume
	}

	return volume
}

// SizeRelative 计算加仓/减仓数量，instructionRatio 相对原始建仓比例。
// originalRatio 不大于零时必须显式报错，静默归零会掩盖数据问题。
func SizeRelative(currentVolume int64, instructionRatio, originalRatio decimal.Decimal, volumeStep int64) (int64, error) {
	if originalRatio.Sign() <= 0 {
		return 0, ErrOriginalRatioInvalid
	}
	if currentVolume <= 0 || instructionRatio.Sign() <= 0 || volumeStep <= 0 {
		return 0, nil
	}

	scaled := decimal.NewFromInt(currentVolume).Mul(instructionRatio).Div(originalRatio)
	lots := scaled.Div(decimal.NewFromInt(volumeStep)).IntPart()
	return lots * volumeStep, nil
}

// WeightedAverageCost 计算买入后的加权平均成本。全部清仓后成本归零。
func WeightedAverageCost(oldVolume int64, oldCost decimal.Decimal, newVolume int64, fillPrice decimal.Decimal) decimal.Decimal {
	totalVolume := oldVolume + newVolume
	if totalVolume <= 0 {
		return decimal.Zero
	}

	oldValue := decimal.NewFromInt(oldVolume).Mul(oldCost)
	newValue := decimal.NewFromInt(newVolume).Mul(fillPrice)
	return oldValue.Add(newValue).Div(decimal.NewFromInt(totalVolume))
}

func floorToStep(amount, price decimal.Decimal, step int64) int64 {
	shares := amount.Div(price)
	lots := shares.Div(decimal.NewFromInt(step)).IntPart()
	return lots * step
}

func affordable(volume int64, price, cash decimal.Decimal) bool {
	return decimal.NewFromInt(volume).Mul(price).LessThanOrEqual(cash)
}
