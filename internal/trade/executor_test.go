package trade

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"sim-trader/internal/config"
	"sim-trader/internal/ledger"
	"sim-trader/internal/quote"
	"sim-trader/internal/risk"
	"sim-trader/internal/sizing"
)

// 2024-06-05 周三 10:00，处于默认盘中时段。
var tradingTime = time.Date(2024, 6, 5, 10, 0, 0, 0, time.Local)

type stubQuotes struct {
	price decimal.Decimal
	err   error
}

func (s *stubQuotes) GetQuote(_ context.Context, symbol string) (quote.Quote, error) {
	if s.err != nil {
		return quote.Quote{}, s.err
	}
	return quote.Quote{Symbol: symbol, Price: s.price, Timestamp: tradingTime}, nil
}

type memStore struct {
	positions ledger.PositionLedger
	snapshot  ledger.AssetSnapshot
	updateErr error
	updates   int
}

func (m *memStore) Update(fn func(positions ledger.PositionLedger, snapshot *ledger.AssetSnapshot) error) error {
	if m.updateErr != nil {
		return m.updateErr
	}
	m.updates++
	return fn(m.positions, &m.snapshot)
}

type chanReporter struct {
	fills chan Fill
}

func newChanReporter() *chanReporter {
	return &chanReporter{fills: make(chan Fill, 8)}
}

func (r *chanReporter) Report(_ context.Context, fill Fill) {
	r.fills <- fill
}

func (r *chanReporter) wait(t *testing.T) Fill {
	t.Helper()
	select {
	case fill := <-r.fills:
		return fill
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for reported fill")
		return Fill{}
	}
}

func (r *chanReporter) expectNone(t *testing.T) {
	t.Helper()
	select {
	case fill := <-r.fills:
		t.Fatalf("unexpected reported fill: %+v", fill)
	case <-time.After(50 * time.Millisecond):
	}
}

type execFixture struct {
	exec    *Executor
	store   *memStore
	quotes  *stubQuotes
	rec     *chanReporter
	trading config.TradingConfig
}

func newFixture(t *testing.T, riskCfg *config.RiskConfig) *execFixture {
	t.Helper()

	cfg := config.RiskConfig{
		TradingDays:         []int{1, 2, 3, 4, 5},
		TradingStart:        "09:30:00",
		TradingEnd:          "15:00:00",
		FrequencyLimit:      10,
		FrequencyWindow:     time.Minute,
		PriceDeviationLimit: 0.03,
		MaxPositionRatio:    0.30,
	}
	if riskCfg != nil {
		cfg = *riskCfg
	}

	riskMgr, err := risk.NewManager(cfg, nil)
	if err != nil {
		t.Fatalf("NewManager returned error: %v", err)
	}

	// 费率字段保持零值，基础用例按免费通道验证精确金额。
	trading := config.TradingConfig{
		VolumeStep:     100,
		MinBuyVolume:   100,
		MinSellVolume:  100,
		MinTradeAmount: 0,
		MaxTradeAmount: 500_000,
	}

	store := &memStore{
		positions: ledger.PositionLedger{},
		snapshot: ledger.AssetSnapshot{
			Cash:      decimal.NewFromInt(1_000_000),
			UpdatedAt: tradingTime,
		},
	}
	quotes := &stubQuotes{price: decimal.NewFromInt(10)}
	rec := newChanReporter()

	exec := NewExecutor(trading, riskMgr, store, quotes, rec, nil)
	exec.clock = func() time.Time { return tradingTime }

	return &execFixture{exec: exec, store: store, quotes: quotes, rec: rec, trading: trading}
}

// newFeeFixture 在基础fixture上启用默认费率。
func newFeeFixture(t *testing.T) *execFixture {
	t.Helper()
	f := newFixture(t, nil)
	f.exec.fees = sizing.FeeSchedule{
		CommissionRate:  decimal.NewFromFloat(0.00025),
		MinCommission:   decimal.NewFromInt(5),
		StampDutyRate:   decimal.NewFromFloat(0.001),
		TransferFeeRate: decimal.NewFromFloat(0.00002),
	}
	return f
}

func TestExecute_BuyOpensTargetPosition(t *testing.T) {
	f := newFixture(t, nil)
	f.quotes.price = decimal.NewFromFloat(25.50)

	result, err := f.exec.Execute(context.Background(), Instruction{
		ID:          1,
		Symbol:      "600519",
		Action:      ActionBuy,
		TargetRatio: decimal.NewFromFloat(0.10),
	})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}

	if result.Outcome != OutcomeExecuted {
		t.Fatalf("expected executed outcome, got %s (%s)", result.Outcome, result.Reason)
	}
	if result.Volume != 3900 {
		t.Errorf("unexpected volume: got %d want 3900", result.Volume)
	}
	if result.Status != StatusCompleted {
		t.Errorf("99450 of 100000 target is within tolerance, want completed, got %s", result.Status)
	}

	pos := f.store.positions["600519"]
	if pos.Volume != 3900 {
		t.Errorf("ledger volume: got %d want 3900", pos.Volume)
	}
	if !pos.AvgCost.Equal(decimal.NewFromFloat(25.50)) {
		t.Errorf("avg cost: got %s want 25.50", pos.AvgCost)
	}
	if !pos.OriginalRatio.Equal(decimal.NewFromFloat(0.10)) {
		t.Errorf("original ratio should be set on first open, got %s", pos.OriginalRatio)
	}

	if !f.store.snapshot.Cash.Equal(decimal.NewFromFloat(900_550)) {
		t.Errorf("cash after buy: got %s want 900550", f.store.snapshot.Cash)
	}
	if !f.store.snapshot.TotalMarketValue.Equal(decimal.NewFromFloat(99_450)) {
		t.Errorf("market value after buy: got %s want 99450", f.store.snapshot.TotalMarketValue)
	}

	fill := f.rec.wait(t)
	if fill.Volume != 3900 || fill.Status != StatusCompleted {
		t.Errorf("unexpected reported fill: %+v", fill)
	}
}

func TestExecute_BuyBlockedWhenPriceAboveBand(t *testing.T) {
	f := newFixture(t, nil)
	f.quotes.price = decimal.NewFromInt(30)
	max := decimal.NewFromInt(26)
	min := decimal.NewFromInt(25)

	result, err := f.exec.Execute(context.Background(), Instruction{
		ID:          2,
		Symbol:      "600519",
		Action:      ActionBuy,
		TargetRatio: decimal.NewFromFloat(0.10),
		PriceMin:    &min,
		PriceMax:    &max,
	})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}

	if result.Outcome != OutcomeBlocked {
		t.Fatalf("expected blocked outcome, got %s", result.Outcome)
	}
	if result.Status != StatusPending {
		t.Errorf("blocked instruction should stay pending, got %s", result.Status)
	}
	if !errors.Is(result.Cause, risk.ErrPriceNotMatched) {
		t.Errorf("expected ErrPriceNotMatched cause, got %v", result.Cause)
	}
	if f.store.updates != 0 {
		t.Errorf("blocked trade must not touch the ledger, updates=%d", f.store.updates)
	}
	f.rec.expectNone(t)
}

func TestExecute_BuyFavorablePriceBelowBandFills(t *testing.T) {
	f := newFixture(t, nil)
	// 现价 9.7 低于区间下限 9.8，对买方有利，区间不拦；
	// 相对区间中点 9.9 的偏离约 2%，也在上限内。
	f.quotes.price = decimal.NewFromFloat(9.7)
	min := decimal.NewFromFloat(9.8)
	max := decimal.NewFromInt(10)

	result, err := f.exec.Execute(context.Background(), Instruction{
		ID:          3,
		Symbol:      "600519",
		Action:      ActionBuy,
		TargetRatio: decimal.NewFromFloat(0.10),
		PriceMin:    &min,
		PriceMax:    &max,
	})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if result.Outcome != OutcomeExecuted {
		t.Fatalf("in-band buy should execute, got %s (%s)", result.Outcome, result.Reason)
	}
	f.rec.wait(t)
}

func TestExecute_DeviationGateBlocks(t *testing.T) {
	f := newFixture(t, nil)
	// 区间中点 10.5，现价 10.9 偏离约 3.8%，超过 3% 上限。
	f.quotes.price = decimal.NewFromFloat(10.9)
	min := decimal.NewFromInt(10)
	max := decimal.NewFromInt(11)

	result, err := f.exec.Execute(context.Background(), Instruction{
		ID:          4,
		Symbol:      "600519",
		Action:      ActionBuy,
		TargetRatio: decimal.NewFromFloat(0.10),
		PriceMin:    &min,
		PriceMax:    &max,
	})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if !errors.Is(result.Cause, risk.ErrPriceDeviationExceeded) {
		t.Fatalf("expected deviation block, got outcome=%s cause=%v", result.Outcome, result.Cause)
	}
	if f.store.updates != 0 {
		t.Errorf("blocked trade must not touch the ledger")
	}
}

func TestExecute_SellHalfKeepsCost(t *testing.T) {
	f := newFixture(t, nil)
	f.quotes.price = decimal.NewFromInt(25)
	f.store.positions["600519"] = ledger.PositionRecord{
		Volume:        1000,
		AvgCost:       decimal.NewFromInt(20),
		OriginalRatio: decimal.NewFromFloat(0.10),
		UpdatedAt:     tradingTime,
	}
	f.store.snapshot.Cash = decimal.NewFromInt(500_000)
	f.store.snapshot.TotalMarketValue = decimal.NewFromInt(25_000)

	result, err := f.exec.Execute(context.Background(), Instruction{
		ID:          5,
		Symbol:      "600519",
		Action:      ActionSell,
		TargetRatio: decimal.NewFromFloat(0.50),
	})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}

	if result.Outcome != OutcomeExecuted || result.Volume != 500 {
		t.Fatalf("expected executed 500 shares, got %s volume=%d", result.Outcome, result.Volume)
	}
	if result.Status != StatusCompleted {
		t.Errorf("exact half sell should complete, got %s", result.Status)
	}

	pos := f.store.positions["600519"]
	if pos.Volume != 500 {
		t.Errorf("remaining volume: got %d want 500", pos.Volume)
	}
	if !pos.AvgCost.Equal(decimal.NewFromInt(20)) {
		t.Errorf("sell must not change avg cost, got %s", pos.AvgCost)
	}
	if !f.store.snapshot.Cash.Equal(decimal.NewFromInt(512_500)) {
		t.Errorf("cash after sell: got %s want 512500", f.store.snapshot.Cash)
	}
	f.rec.wait(t)
}

func TestExecute_FullLiquidationDeletesRecord(t *testing.T) {
	f := newFixture(t, nil)
	f.quotes.price = decimal.NewFromInt(30)
	f.store.positions["600519"] = ledger.PositionRecord{
		Volume:        1000,
		AvgCost:       decimal.NewFromInt(20),
		OriginalRatio: decimal.NewFromFloat(0.10),
		UpdatedAt:     tradingTime,
	}
	f.store.snapshot.Cash = decimal.NewFromInt(500_000)
	f.store.snapshot.TotalMarketValue = decimal.NewFromInt(20_000)

	result, err := f.exec.Execute(context.Background(), Instruction{
		ID:          6,
		Symbol:      "600519",
		Action:      ActionSell,
		TargetRatio: decimal.NewFromInt(1),
	})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}

	if result.Status != StatusCompleted || result.Volume != 1000 {
		t.Fatalf("full liquidation should complete with 1000 shares, got %s volume=%d", result.Status, result.Volume)
	}
	if _, ok := f.store.positions["600519"]; ok {
		t.Errorf("liquidated position should be deleted")
	}
	// 卖出额 30000 超过记录市值 20000，市值只钳到零不转负。
	if !f.store.snapshot.TotalMarketValue.IsZero() {
		t.Errorf("market value should clamp at zero, got %s", f.store.snapshot.TotalMarketValue)
	}
	if !f.store.snapshot.Cash.Equal(decimal.NewFromInt(530_000)) {
		t.Errorf("cash after liquidation: got %s want 530000", f.store.snapshot.Cash)
	}
	f.rec.wait(t)
}

func TestExecute_SellWithoutPositionBlocked(t *testing.T) {
	f := newFixture(t, nil)

	result, err := f.exec.Execute(context.Background(), Instruction{
		ID:          7,
		Symbol:      "000001",
		Action:      ActionSell,
		TargetRatio: decimal.NewFromFloat(0.50),
	})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if !errors.Is(result.Cause, ErrNoPosition) {
		t.Fatalf("expected ErrNoPosition cause, got %v", result.Cause)
	}
	f.rec.expectNone(t)
}

func TestExecute_AddScalesFromOriginalRatio(t *testing.T) {
	f := newFixture(t, nil)
	f.quotes.price = decimal.NewFromInt(10)
	f.store.positions["600519"] = ledger.PositionRecord{
		Volume:        2000,
		AvgCost:       decimal.NewFromInt(8),
		OriginalRatio: decimal.NewFromFloat(0.10),
		UpdatedAt:     tradingTime,
	}
	f.store.snapshot.Cash = decimal.NewFromInt(970_000)
	f.store.snapshot.TotalMarketValue = decimal.NewFromInt(20_000)

	result, err := f.exec.Execute(context.Background(), Instruction{
		ID:          8,
		Symbol:      "600519",
		Action:      ActionAdd,
		TargetRatio: decimal.NewFromFloat(0.05),
	})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}

	// 2000 * 0.05 / 0.10 = 1000 股。
	if result.Outcome != OutcomeExecuted || result.Volume != 1000 {
		t.Fatalf("expected executed 1000 shares, got %s volume=%d (%s)", result.Outcome, result.Volume, result.Reason)
	}
	if result.Status != StatusCompleted {
		t.Errorf("add fills should complete, got %s", result.Status)
	}

	pos := f.store.positions["600519"]
	if pos.Volume != 3000 {
		t.Errorf("volume after add: got %d want 3000", pos.Volume)
	}
	// (2000*8 + 1000*10) / 3000 = 8.666...
	wantCost := decimal.NewFromInt(26_000).Div(decimal.NewFromInt(3000))
	if !pos.AvgCost.Equal(wantCost) {
		t.Errorf("weighted cost after add: got %s want %s", pos.AvgCost, wantCost)
	}
	if !pos.OriginalRatio.Equal(decimal.NewFromFloat(0.10)) {
		t.Errorf("add must not change original ratio, got %s", pos.OriginalRatio)
	}
	f.rec.wait(t)
}

func TestExecute_AddWithoutOriginalRatioBlocked(t *testing.T) {
	f := newFixture(t, nil)
	f.store.positions["600519"] = ledger.PositionRecord{
		Volume:    2000,
		AvgCost:   decimal.NewFromInt(8),
		UpdatedAt: tradingTime,
	}

	result, err := f.exec.Execute(context.Background(), Instruction{
		ID:          9,
		Symbol:      "600519",
		Action:      ActionAdd,
		TargetRatio: decimal.NewFromFloat(0.05),
	})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if result.Outcome != OutcomeBlocked {
		t.Fatalf("add without original ratio should block, got %s", result.Outcome)
	}
}

func TestExecute_TrimHalf(t *testing.T) {
	f := newFixture(t, nil)
	f.quotes.price = decimal.NewFromInt(10)
	f.store.positions["600519"] = ledger.PositionRecord{
		Volume:        2000,
		AvgCost:       decimal.NewFromInt(8),
		OriginalRatio: decimal.NewFromFloat(0.10),
		UpdatedAt:     tradingTime,
	}
	f.store.snapshot.Cash = decimal.NewFromInt(500_000)
	f.store.snapshot.TotalMarketValue = decimal.NewFromInt(20_000)

	result, err := f.exec.Execute(context.Background(), Instruction{
		ID:          10,
		Symbol:      "600519",
		Action:      ActionTrim,
		TargetRatio: decimal.NewFromFloat(0.05),
	})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}

	if result.Volume != 1000 || result.Status != StatusCompleted {
		t.Fatalf("expected completed 1000-share trim, got volume=%d status=%s", result.Volume, result.Status)
	}
	pos := f.store.positions["600519"]
	if pos.Volume != 1000 {
		t.Errorf("volume after trim: got %d want 1000", pos.Volume)
	}
	if !pos.OriginalRatio.Equal(decimal.NewFromFloat(0.10)) {
		t.Errorf("trim must keep original ratio, got %s", pos.OriginalRatio)
	}
	f.rec.wait(t)
}

func TestExecute_HoldCompletesWithoutTrade(t *testing.T) {
	f := newFixture(t, nil)

	result, err := f.exec.Execute(context.Background(), Instruction{
		ID:     11,
		Symbol: "600519",
		Action: ActionHold,
	})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}

	if result.Outcome != OutcomeExecuted || result.Status != StatusCompleted || result.Volume != 0 {
		t.Fatalf("hold should complete with zero volume, got %+v", result)
	}
	if f.store.updates != 0 {
		t.Errorf("hold must not touch the ledger")
	}

	fill := f.rec.wait(t)
	if fill.Volume != 0 || fill.Status != StatusCompleted {
		t.Errorf("unexpected hold fill: %+v", fill)
	}
}

func TestExecute_BuyAtTargetIsNoop(t *testing.T) {
	f := newFixture(t, nil)
	f.quotes.price = decimal.NewFromInt(10)
	f.store.positions["600519"] = ledger.PositionRecord{
		Volume:        10_000,
		AvgCost:       decimal.NewFromInt(10),
		OriginalRatio: decimal.NewFromFloat(0.10),
		UpdatedAt:     tradingTime,
	}
	f.store.snapshot.Cash = decimal.NewFromInt(900_000)
	f.store.snapshot.TotalMarketValue = decimal.NewFromInt(100_000)

	result, err := f.exec.Execute(context.Background(), Instruction{
		ID:          12,
		Symbol:      "600519",
		Action:      ActionBuy,
		TargetRatio: decimal.NewFromFloat(0.10),
	})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}

	if result.Outcome != OutcomeNoop {
		t.Fatalf("expected noop when already at target, got %s (%s)", result.Outcome, result.Reason)
	}
	if result.Status != StatusPending {
		t.Errorf("noop keeps instruction pending, got %s", result.Status)
	}
	f.rec.expectNone(t)
}

func TestExecute_BuyBelowMinTradeAmountIsNoop(t *testing.T) {
	f := newFixture(t, nil)
	f.exec.trading.MinTradeAmount = 5_000
	f.quotes.price = decimal.NewFromInt(10)

	// 目标金额 1000 元抬到最小一手后仍只有 1000 元，低于最小委托金额。
	result, err := f.exec.Execute(context.Background(), Instruction{
		ID:          13,
		Symbol:      "600519",
		Action:      ActionBuy,
		TargetRatio: decimal.NewFromFloat(0.001),
	})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if result.Outcome != OutcomeNoop {
		t.Fatalf("expected noop below min trade amount, got %s (%s)", result.Outcome, result.Reason)
	}
}

func TestExecute_PositionRatioGateBlocks(t *testing.T) {
	f := newFixture(t, nil)
	f.quotes.price = decimal.NewFromInt(10)

	result, err := f.exec.Execute(context.Background(), Instruction{
		ID:          14,
		Symbol:      "600519",
		Action:      ActionBuy,
		TargetRatio: decimal.NewFromFloat(0.50),
	})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if !errors.Is(result.Cause, risk.ErrPositionLimitExceeded) {
		t.Fatalf("expected position limit block, got outcome=%s cause=%v", result.Outcome, result.Cause)
	}
	if len(f.store.positions) != 0 {
		t.Errorf("blocked buy must not create a position")
	}
}

func TestExecute_PartialWhenCashCapsBuy(t *testing.T) {
	f := newFixture(t, nil)
	f.quotes.price = decimal.NewFromInt(10)
	f.store.positions["000001"] = ledger.PositionRecord{
		Volume:        95_000,
		AvgCost:       decimal.NewFromInt(10),
		OriginalRatio: decimal.NewFromFloat(0.20),
		UpdatedAt:     tradingTime,
	}
	f.store.snapshot.Cash = decimal.NewFromInt(50_000)
	f.store.snapshot.TotalMarketValue = decimal.NewFromInt(950_000)

	result, err := f.exec.Execute(context.Background(), Instruction{
		ID:          15,
		Symbol:      "600519",
		Action:      ActionBuy,
		TargetRatio: decimal.NewFromFloat(0.10),
	})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}

	// 目标市值 100000 元，现金只够 50000 元 → 5000 股，只完成一半。
	if result.Outcome != OutcomeExecuted || result.Volume != 5000 {
		t.Fatalf("expected executed 5000 shares, got %s volume=%d (%s)", result.Outcome, result.Volume, result.Reason)
	}
	if result.Status != StatusPartial {
		t.Errorf("cash-capped buy should be partial, got %s", result.Status)
	}
	fill := f.rec.wait(t)
	if fill.Status != StatusPartial {
		t.Errorf("reported fill should carry partial status, got %s", fill.Status)
	}
}

func TestExecute_FrequencyLimitBlocksSecondTrade(t *testing.T) {
	cfg := &config.RiskConfig{
		TradingDays:         []int{1, 2, 3, 4, 5},
		TradingStart:        "09:30:00",
		TradingEnd:          "15:00:00",
		FrequencyLimit:      1,
		FrequencyWindow:     time.Minute,
		PriceDeviationLimit: 0.03,
		MaxPositionRatio:    0.30,
	}
	f := newFixture(t, cfg)
	f.quotes.price = decimal.NewFromInt(10)

	first, err := f.exec.Execute(context.Background(), Instruction{
		ID: 16, Symbol: "600519", Action: ActionBuy, TargetRatio: decimal.NewFromFloat(0.10),
	})
	if err != nil {
		t.Fatalf("first Execute returned error: %v", err)
	}
	if first.Outcome != OutcomeExecuted {
		t.Fatalf("first trade should execute, got %s (%s)", first.Outcome, first.Reason)
	}
	f.rec.wait(t)

	second, err := f.exec.Execute(context.Background(), Instruction{
		ID: 17, Symbol: "000001", Action: ActionBuy, TargetRatio: decimal.NewFromFloat(0.10),
	})
	if err != nil {
		t.Fatalf("second Execute returned error: %v", err)
	}
	if !errors.Is(second.Cause, risk.ErrFrequencyExceeded) {
		t.Fatalf("second trade should hit frequency gate, got outcome=%s cause=%v", second.Outcome, second.Cause)
	}
}

func TestExecute_OutsideTradingTimeBlocked(t *testing.T) {
	f := newFixture(t, nil)
	f.exec.clock = func() time.Time {
		return time.Date(2024, 6, 8, 10, 0, 0, 0, time.Local) // 周六
	}

	result, err := f.exec.Execute(context.Background(), Instruction{
		ID: 18, Symbol: "600519", Action: ActionBuy, TargetRatio: decimal.NewFromFloat(0.10),
	})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if !errors.Is(result.Cause, risk.ErrInvalidTime) {
		t.Fatalf("expected trading-time block, got %v", result.Cause)
	}
}

func TestExecute_QuoteFailureBlocks(t *testing.T) {
	f := newFixture(t, nil)
	f.quotes.err = fmt.Errorf("%w: HTTP 503", quote.ErrUnavailable)

	result, err := f.exec.Execute(context.Background(), Instruction{
		ID: 19, Symbol: "600519", Action: ActionBuy, TargetRatio: decimal.NewFromFloat(0.10),
	})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if result.Outcome != OutcomeBlocked {
		t.Fatalf("quote failure should block, got %s", result.Outcome)
	}
	if !errors.Is(result.Cause, quote.ErrUnavailable) {
		t.Errorf("cause should carry quote error, got %v", result.Cause)
	}
}

func TestExecute_DurabilityErrorPropagates(t *testing.T) {
	f := newFixture(t, nil)
	f.quotes.price = decimal.NewFromInt(10)
	f.store.updateErr = fmt.Errorf("%w: 账本锁被占用", ledger.ErrDurability)

	result, err := f.exec.Execute(context.Background(), Instruction{
		ID: 20, Symbol: "600519", Action: ActionBuy, TargetRatio: decimal.NewFromFloat(0.10),
	})
	if !errors.Is(err, ledger.ErrDurability) {
		t.Fatalf("durability failure must propagate as error, got %v", err)
	}
	if result.Outcome != OutcomeBlocked || result.Status != StatusPending {
		t.Errorf("durability failure leaves instruction pending, got %+v", result)
	}
	f.rec.expectNone(t)
}

func TestExecute_UnknownActionBlocked(t *testing.T) {
	f := newFixture(t, nil)

	result, err := f.exec.Execute(context.Background(), Instruction{
		ID: 21, Symbol: "600519", Action: Action("short"),
	})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if result.Outcome != OutcomeBlocked {
		t.Fatalf("unknown action should block, got %s", result.Outcome)
	}
}

func TestExecute_BuyDebitsFees(t *testing.T) {
	f := newFeeFixture(t)
	f.quotes.price = decimal.NewFromInt(10)

	result, err := f.exec.Execute(context.Background(), Instruction{
		ID:          30,
		Symbol:      "600519",
		Action:      ActionBuy,
		TargetRatio: decimal.NewFromFloat(0.10),
	})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if result.Outcome != OutcomeExecuted || result.Volume != 10000 {
		t.Fatalf("expected executed 10000 shares, got %s volume=%d", result.Outcome, result.Volume)
	}

	// 成交额100000：佣金25 + 沪市过户费2 = 27。
	if !f.store.snapshot.Cash.Equal(decimal.NewFromInt(899_973)) {
		t.Errorf("cash after buy: got %s want 899973", f.store.snapshot.Cash)
	}
	if !f.store.snapshot.TotalMarketValue.Equal(decimal.NewFromInt(100_000)) {
		t.Errorf("fees must not inflate market value, got %s", f.store.snapshot.TotalMarketValue)
	}

	fill := f.rec.wait(t)
	if !fill.Fee.Equal(decimal.NewFromInt(27)) {
		t.Errorf("reported fee: got %s want 27", fill.Fee)
	}
}

func TestExecute_SellNetsFeesFromProceeds(t *testing.T) {
	f := newFeeFixture(t)
	f.quotes.price = decimal.NewFromInt(25)
	f.store.positions["600519"] = ledger.PositionRecord{
		Volume:        1000,
		AvgCost:       decimal.NewFromInt(20),
		OriginalRatio: decimal.NewFromFloat(0.10),
		UpdatedAt:     tradingTime,
	}
	f.store.snapshot.Cash = decimal.NewFromInt(500_000)
	f.store.snapshot.TotalMarketValue = decimal.NewFromInt(25_000)

	result, err := f.exec.Execute(context.Background(), Instruction{
		ID:          31,
		Symbol:      "600519",
		Action:      ActionSell,
		TargetRatio: decimal.NewFromFloat(0.50),
	})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if result.Outcome != OutcomeExecuted || result.Volume != 500 {
		t.Fatalf("expected executed 500 shares, got %s volume=%d", result.Outcome, result.Volume)
	}

	// 成交额12500：佣金封底5 + 印花税12.5 + 过户费0.25 = 17.75。
	if !f.store.snapshot.Cash.Equal(decimal.NewFromFloat(512_482.25)) {
		t.Errorf("cash after sell: got %s want 512482.25", f.store.snapshot.Cash)
	}
	if !f.store.snapshot.TotalMarketValue.Equal(decimal.NewFromInt(12_500)) {
		t.Errorf("market value deducts full traded amount, got %s", f.store.snapshot.TotalMarketValue)
	}

	fill := f.rec.wait(t)
	if !fill.Fee.Equal(decimal.NewFromFloat(17.75)) {
		t.Errorf("reported fee: got %s want 17.75", fill.Fee)
	}
}

func TestExecute_BuyBlockedWhenCashCannotCoverFees(t *testing.T) {
	f := newFeeFixture(t)
	f.quotes.price = decimal.NewFromInt(10)
	f.store.snapshot.Cash = decimal.NewFromInt(100_000)
	f.store.snapshot.TotalMarketValue = decimal.NewFromInt(900_000)

	result, err := f.exec.Execute(context.Background(), Instruction{
		ID:          32,
		Symbol:      "600519",
		Action:      ActionBuy,
		TargetRatio: decimal.NewFromFloat(0.10),
	})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if result.Outcome != OutcomeBlocked {
		t.Fatalf("cash covers amount but not fees, should block, got %s", result.Outcome)
	}
	if !errors.Is(result.Cause, ErrInsufficientFunds) {
		t.Errorf("expected insufficient funds cause, got %v", result.Cause)
	}
	if !f.store.snapshot.Cash.Equal(decimal.NewFromInt(100_000)) {
		t.Errorf("blocked trade must not touch cash, got %s", f.store.snapshot.Cash)
	}
	f.rec.expectNone(t)
}
