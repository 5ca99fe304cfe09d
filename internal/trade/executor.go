package trade

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"sim-trader/internal/config"
	"sim-trader/internal/ledger"
	"sim-trader/internal/quote"
	"sim-trader/internal/risk"
	"sim-trader/internal/sizing"
)

// 卖出侧的完成判定：剩余持仓与目标残量相差不超过100股即视为完成。
// 买入侧按目标市值的5%容差判定，两侧容差不同：相对总资产的目标
// 会随价格漂移，相对持仓的目标不会。
const (
	sellResidualTolerance = 100
	buyValueTolerance     = 0.05
)

type quoteService interface {
	GetQuote(ctx context.Context, symbol string) (quote.Quote, error)
}

type ledgerStore interface {
	Update(fn func(positions ledger.PositionLedger, snapshot *ledger.AssetSnapshot) error) error
}

// Reporter 异步上报成交，实现方自行负责重试与吞错。
type Reporter interface {
	Report(ctx context.Context, fill Fill)
}

// Executor 把一条目标仓位指令编排成具体的买卖动作：
// 行情 → 风控闸门 → 数量计算 → 账本变更 → 成交上报。
type Executor struct {
	trading config.TradingConfig
	fees    sizing.FeeSchedule
	risk    *risk.Manager
	store   ledgerStore
	quotes  quoteService
	rec     Reporter
	logger  *zap.Logger
	clock   func() time.Time
}

// NewExecutor 创建交易执行器。
func NewExecutor(trading config.TradingConfig, riskMgr *risk.Manager, store ledgerStore, quotes quoteService, rec Reporter, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		trading: trading,
		fees: sizing.FeeSchedule{
			CommissionRate:  decimal.NewFromFloat(trading.CommissionRate),
			MinCommission:   decimal.NewFromFloat(trading.MinCommission),
			StampDutyRate:   decimal.NewFromFloat(trading.StampDutyRate),
			TransferFeeRate: decimal.NewFromFloat(trading.TransferFeeRate),
		},
		risk:   riskMgr,
		store:  store,
		quotes: quotes,
		rec:    rec,
		logger: logger,
		clock:  time.Now,
	}
}

// Execute 按指令动作分派。返回的error仅在账本持久化失败时非空，
// 其余失败都折叠进带原因的Result。
func (e *Executor) Execute(ctx context.Context, ins Instruction) (Result, error) {
	switch ins.Action {
	case ActionBuy:
		return e.buy(ctx, ins, false)
	case ActionAdd:
		return e.buy(ctx, ins, true)
	case ActionSell:
		return e.sell(ctx, ins, false)
	case ActionTrim:
		return e.sell(ctx, ins, true)
	case ActionHold:
		return e.hold(ctx, ins), nil
	default:
		return Result{
			Outcome: OutcomeBlocked,
			Status:  StatusPending,
			Symbol:  ins.Symbol,
			Action:  ins.Action,
			Reason:  fmt.Sprintf("未知指令动作 %q", ins.Action),
		}, nil
	}
}

func (e *Executor) buy(ctx context.Context, ins Instruction, relative bool) (Result, error) {
	q, gateResult := e.gate(ctx, ins, risk.SideBuy)
	if gateResult != nil {
		return *gateResult, nil
	}

	price := q.Price
	now := e.clock()

	var fill Fill
	var noopReason string

	err := e.store.Update(func(positions ledger.PositionLedger, snapshot *ledger.AssetSnapshot) error {
		pos := positions[ins.Symbol]
		holdingValue := decimal.NewFromInt(pos.Volume).Mul(price)
		totalAssets := snapshot.Cash.Add(snapshot.TotalMarketValue)

		var volume int64
		if relative {
			if pos.Volume <= 0 {
				return fmt.Errorf("%w: %s 无法加仓", ErrNoPosition, ins.Symbol)
			}
			v, sizeErr := sizing.SizeRelative(pos.Volume, ins.TargetRatio, pos.OriginalRatio, e.trading.VolumeStep)
			if sizeErr != nil {
				return sizeErr
			}
			volume = v
		} else {
			volume = sizing.SizeBuy(sizing.BuyInput{
				Price:          price,
				TargetRatio:    ins.TargetRatio,
				HoldingValue:   holdingValue,
				TotalAssets:    totalAssets,
				AvailableCash:  snapshot.Cash,
				VolumeStep:     e.trading.VolumeStep,
				MinVolume:      e.trading.MinBuyVolume,
				MaxTradeAmount: decimal.NewFromFloat(e.trading.MaxTradeAmount),
			})
		}

		if volume <= 0 {
			noopReason = "计算买入数量为0，无需补仓"
			return errNoAction
		}

		amount := price.Mul(decimal.NewFromInt(volume))
		if e.trading.MinTradeAmount > 0 && amount.LessThan(decimal.NewFromFloat(e.trading.MinTradeAmount)) {
			noopReason = fmt.Sprintf("委托金额 %s 低于最小委托金额", amount)
			return errNoAction
		}

		// 持仓比例闸门作用在买入后的预计市值上。
		if ratioErr := e.risk.CheckPositionRatio(holdingValue.Add(amount), totalAssets); ratioErr != nil {
			return ratioErr
		}

		// 资金校验计入交易费用，费用不计入持仓市值。
		fee := e.fees.BuyFee(ins.Symbol, amount).Total()
		outlay := amount.Add(fee)
		if snapshot.Cash.LessThan(outlay) {
			return fmt.Errorf("%w: 含费用需要 %s, 可用 %s", ErrInsufficientFunds, outlay, snapshot.Cash)
		}

		newVolume := pos.Volume + volume
		newCost := sizing.WeightedAverageCost(pos.Volume, pos.AvgCost, volume, price)
		originalRatio := pos.OriginalRatio
		if pos.Volume == 0 {
			// 首次建仓，记下开仓比例作为日后加减仓的分母。
			originalRatio = ins.TargetRatio
		}

		positions[ins.Symbol] = ledger.PositionRecord{
			Volume:        newVolume,
			AvgCost:       newCost,
			OriginalRatio: originalRatio,
			UpdatedAt:     now,
		}
		snapshot.Cash = snapshot.Cash.Sub(outlay)
		snapshot.TotalMarketValue = snapshot.TotalMarketValue.Add(amount)

		status := StatusCompleted
		if !relative {
			target := totalAssets.Mul(ins.TargetRatio)
			newValue := decimal.NewFromInt(newVolume).Mul(price)
			floor := target.Mul(decimal.NewFromFloat(1 - buyValueTolerance))
			if newValue.LessThan(floor) {
				status = StatusPartial
			}
		}

		fill = Fill{
			InstructionID: ins.ID,
			Symbol:        ins.Symbol,
			Action:        ins.Action,
			Price:         price,
			Volume:        volume,
			Fee:           fee,
			Status:        status,
			ExecutedAt:    now,
			Remark:        fmt.Sprintf("模拟%s成交", ins.Action),
		}
		return nil
	})

	return e.finish(ctx, ins, price, fill, noopReason, err)
}

func (e *Executor) sell(ctx context.Context, ins Instruction, relative bool) (Result, error) {
	q, gateResult := e.gate(ctx, ins, risk.SideSell)
	if gateResult != nil {
		return *gateResult, nil
	}

	price := q.Price
	now := e.clock()

	var fill Fill
	var noopReason string

	err := e.store.Update(func(positions ledger.PositionLedger, snapshot *ledger.AssetSnapshot) error {
		pos, ok := positions[ins.Symbol]
		if !ok || pos.Volume <= 0 {
			return fmt.Errorf("%w: %s", ErrNoPosition, ins.Symbol)
		}

		var volume int64
		var intended decimal.Decimal
		if relative {
			v, sizeErr := sizing.SizeRelative(pos.Volume, ins.TargetRatio, pos.OriginalRatio, e.trading.VolumeStep)
			if sizeErr != nil {
				return sizeErr
			}
			if v > pos.Volume {
				v = pos.Volume
			}
			volume = v
			intended = decimal.NewFromInt(pos.Volume).Mul(ins.TargetRatio).Div(pos.OriginalRatio)
		} else {
			volume = sizing.SizeSell(pos.Volume, ins.TargetRatio, e.trading.VolumeStep, e.trading.MinSellVolume)
			intended = decimal.NewFromInt(pos.Volume).Mul(ins.TargetRatio)
		}

		if volume <= 0 {
			noopReason = "计算卖出数量为0，无需操作"
			return errNoAction
		}

		amount := price.Mul(decimal.NewFromInt(volume))
		fee := e.fees.SellFee(ins.Symbol, amount).Total()
		newVolume := pos.Volume - volume
		residualTarget := decimal.NewFromInt(pos.Volume).Sub(intended)

		if newVolume == 0 {
			// 清仓即删除记录，成本与原始建仓比例随之归零。
			delete(positions, ins.Symbol)
		} else {
			// 卖出不改成本。
			pos.Volume = newVolume
			pos.UpdatedAt = now
			positions[ins.Symbol] = pos
		}

		// 卖出到账为成交额扣除费用，市值仍按成交额全额扣减。
		snapshot.Cash = snapshot.Cash.Add(amount.Sub(fee))
		snapshot.TotalMarketValue = snapshot.TotalMarketValue.Sub(amount)
		if snapshot.TotalMarketValue.Sign() < 0 {
			// 现价高于上次估值时卖出额可能超出记录市值，下次对账修正。
			snapshot.TotalMarketValue = decimal.Zero
		}

		status := StatusPartial
		diff := decimal.NewFromInt(newVolume).Sub(residualTarget).Abs()
		if newVolume == 0 || diff.LessThanOrEqual(decimal.NewFromInt(sellResidualTolerance)) {
			status = StatusCompleted
		}

		fill = Fill{
			InstructionID: ins.ID,
			Symbol:        ins.Symbol,
			Action:        ins.Action,
			Price:         price,
			Volume:        volume,
			Fee:           fee,
			Status:        status,
			ExecutedAt:    now,
			Remark:        fmt.Sprintf("模拟%s成交", ins.Action),
		}
		return nil
	})

	return e.finish(ctx, ins, price, fill, noopReason, err)
}

// hold 不交易，直接以零量完成，用于关闭一条指令。
func (e *Executor) hold(ctx context.Context, ins Instruction) Result {
	now := e.clock()
	fill := Fill{
		InstructionID: ins.ID,
		Symbol:        ins.Symbol,
		Action:        ActionHold,
		Volume:        0,
		Status:        StatusCompleted,
		ExecutedAt:    now,
		Remark:        "hold指令，零量完成",
	}
	e.report(ctx, fill)

	return Result{
		Outcome: OutcomeExecuted,
		Status:  StatusCompleted,
		Symbol:  ins.Symbol,
		Action:  ActionHold,
		Reason:  "hold指令无需交易",
	}
}

// gate 取行情并依次跑日历、频率、价格区间、价格偏离四道闸门，
// 第一道失败立即返回。
func (e *Executor) gate(ctx context.Context, ins Instruction, side risk.Side) (quote.Quote, *Result) {
	q, err := e.quotes.GetQuote(ctx, ins.Symbol)
	if err != nil {
		e.logger.Error("获取行情失败", zap.String("symbol", ins.Symbol), zap.Error(err))
		res := e.blocked(ins, decimal.Zero, err)
		return q, &res
	}

	now := e.clock()

	if err := e.risk.CheckTradingTime(now); err != nil {
		res := e.blocked(ins, q.Price, err)
		return q, &res
	}
	if err := e.risk.CheckFrequency(now); err != nil {
		res := e.blocked(ins, q.Price, err)
		return q, &res
	}
	if err := risk.MatchPrice(side, q.Price, ins.PriceMin, ins.PriceMax); err != nil {
		res := e.blocked(ins, q.Price, err)
		return q, &res
	}
	if err := e.risk.CheckDeviation(q.Price, referencePrice(ins)); err != nil {
		res := e.blocked(ins, q.Price, err)
		return q, &res
	}

	return q, nil
}

func (e *Executor) finish(ctx context.Context, ins Instruction, price decimal.Decimal, fill Fill, noopReason string, err error) (Result, error) {
	switch {
	case err == nil:
		e.logger.Info("成交落账",
			zap.String("symbol", ins.Symbol),
			zap.String("action", string(ins.Action)),
			zap.Int64("volume", fill.Volume),
			zap.String("price", price.String()),
			zap.String("fee", fill.Fee.String()),
			zap.String("status", string(fill.Status)),
		)
		e.report(ctx, fill)
		return Result{
			Outcome: OutcomeExecuted,
			Status:  fill.Status,
			Symbol:  ins.Symbol,
			Action:  ins.Action,
			Volume:  fill.Volume,
			Price:   price,
			Reason:  fmt.Sprintf("%s成交 %d股 @%s", ins.Action, fill.Volume, price),
		}, nil

	case errors.Is(err, errNoAction):
		e.logger.Info("零量结果，指令保持pending",
			zap.String("symbol", ins.Symbol),
			zap.String("reason", noopReason),
		)
		return Result{
			Outcome: OutcomeNoop,
			Status:  StatusPending,
			Symbol:  ins.Symbol,
			Action:  ins.Action,
			Price:   price,
			Reason:  noopReason,
		}, nil

	case errors.Is(err, ledger.ErrDurability):
		// 持久化失败是致命错误，必须向调用方传播。
		e.logger.Error("账本持久化失败", zap.String("symbol", ins.Symbol), zap.Error(err))
		return Result{
			Outcome: OutcomeBlocked,
			Status:  StatusPending,
			Symbol:  ins.Symbol,
			Action:  ins.Action,
			Price:   price,
			Reason:  err.Error(),
			Cause:   err,
		}, err

	default:
		return e.blocked(ins, price, err), nil
	}
}

func (e *Executor) blocked(ins Instruction, price decimal.Decimal, cause error) Result {
	switch {
	case errors.Is(cause, risk.ErrPriceNotMatched):
		// 价格还没进区间是正常等待，低级别记录即可。
		e.logger.Info("价格未匹配，指令保持pending",
			zap.String("symbol", ins.Symbol),
			zap.String("price", price.String()),
		)
	case errors.Is(cause, risk.ErrFrequencyExceeded),
		errors.Is(cause, risk.ErrPriceDeviationExceeded),
		errors.Is(cause, risk.ErrPositionLimitExceeded):
		// 风控拦截意味着已接近限制，值得运维关注。
		e.logger.Warn("风控拦截交易",
			zap.String("symbol", ins.Symbol),
			zap.String("action", string(ins.Action)),
			zap.Error(cause),
		)
	default:
		e.logger.Warn("交易被拦截",
			zap.String("symbol", ins.Symbol),
			zap.String("action", string(ins.Action)),
			zap.Error(cause),
		)
	}

	return Result{
		Outcome: OutcomeBlocked,
		Status:  StatusPending,
		Symbol:  ins.Symbol,
		Action:  ins.Action,
		Price:   price,
		Reason:  cause.Error(),
		Cause:   cause,
	}
}

func (e *Executor) report(ctx context.Context, fill Fill) {
	if e.rec == nil {
		return
	}
	// 上报不阻塞交易路径，账本已是本地权威，远端记录允许滞后。
	go e.rec.Report(context.WithoutCancel(ctx), fill)
}

// referencePrice 返回偏离检查的参考价：区间双边齐全时取中点，
// 否则视为无参考。
func referencePrice(ins Instruction) decimal.Decimal {
	if ins.PriceMin == nil || ins.PriceMax == nil {
		return decimal.Zero
	}
	return ins.PriceMin.Add(*ins.PriceMax).Div(decimal.NewFromInt(2))
}
