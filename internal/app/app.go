package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"sim-trader/internal/config"
	"sim-trader/internal/journal"
	"sim-trader/internal/ledger"
	"sim-trader/internal/quote"
	"sim-trader/internal/recorder"
	"sim-trader/internal/remote"
	"sim-trader/internal/risk"
	"sim-trader/internal/store"
	"sim-trader/internal/trade"
)

// App 聚合核心依赖并驱动周期性执行循环。
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.Store
}

// New 创建 App 实例。
func New(cfg *config.Config, logger *zap.Logger, store *store.Store) *App {
	return &App{
		cfg:    cfg,
		logger: logger,
		store:  store,
	}
}

// Run 组装各组件后进入主循环，每个周期拉取指令并顺序执行。
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("交易引擎已初始化",
		zap.String("environment", a.cfg.App.Environment),
		zap.String("api", a.cfg.API.BaseURL),
		zap.Duration("loop_interval", a.cfg.Scheduler.LoopInterval),
	)

	drv, err := newDriver(a.cfg, a.logger, a.store)
	if err != nil {
		return err
	}

	if err := drv.Tick(ctx); err != nil {
		a.logger.Error("首次执行失败", zap.Error(err))
	}

	ticker := time.NewTicker(a.cfg.Scheduler.LoopInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("系统异常退出: %w", err)
			}
			a.logger.Info("系统收到退出信号，正在停止")
			return nil
		case <-ticker.C:
			if err := drv.Tick(ctx); err != nil {
				a.logger.Error("执行调度失败", zap.Error(err))
			}
		}
	}
}

// driver 把远端指令转成执行器调用并留痕。
type driver struct {
	remote   *remote.Client
	quotes   *quote.Client
	ledger   *ledger.Store
	executor *trade.Executor
	journal  *journal.Service
	logger   *zap.Logger
}

func newDriver(cfg *config.Config, logger *zap.Logger, s *store.Store) (*driver, error) {
	quotes := quote.NewClient(cfg.Quote, logger)
	remoteClient := remote.NewClient(cfg.API, logger)

	ledgerStore, err := ledger.NewStore(cfg.Ledger, logger)
	if err != nil {
		return nil, fmt.Errorf("初始化账本失败: %w", err)
	}

	riskMgr, err := risk.NewManager(cfg.Risk, logger)
	if err != nil {
		return nil, fmt.Errorf("初始化风控失败: %w", err)
	}

	journalSvc, err := journal.NewService(s, logger)
	if err != nil {
		return nil, fmt.Errorf("初始化流水失败: %w", err)
	}

	rec := recorder.NewRecorder(remoteClient, cfg.API.Retry, logger)
	executor := trade.NewExecutor(cfg.Trading, riskMgr, ledgerStore, quotes, rec, logger)

	return &driver{
		remote:   remoteClient,
		quotes:   quotes,
		ledger:   ledgerStore,
		executor: executor,
		journal:  journalSvc,
		logger:   logger,
	}, nil
}

// Tick 执行一个调度周期：先对账，再顺序执行待处理指令。
func (d *driver) Tick(ctx context.Context) error {
	d.reconcile(ctx)

	instructions, err := d.remote.ListInstructions(ctx)
	if err != nil {
		return fmt.Errorf("拉取策略指令失败: %w", err)
	}

	for _, raw := range instructions {
		if raw.ExecutionStatus == string(trade.StatusCompleted) {
			continue
		}

		ins, ok := mapInstruction(raw)
		if !ok {
			d.logger.Warn("跳过无法识别的指令",
				zap.Int64("id", raw.ID),
				zap.String("action", raw.Action),
			)
			continue
		}

		result, execErr := d.executor.Execute(ctx, ins)
		d.append(ctx, ins, result)

		if execErr != nil {
			// 持久化失败不中断其余指令，留待下个周期重试。
			d.logger.Error("指令执行遇到持久化错误",
				zap.Int64("id", ins.ID),
				zap.Error(execErr),
			)
			continue
		}

		d.logger.Info("指令处理完成",
			zap.Int64("id", ins.ID),
			zap.String("symbol", ins.Symbol),
			zap.String("outcome", string(result.Outcome)),
			zap.String("status", string(result.Status)),
			zap.String("reason", result.Reason),
		)
	}

	return nil
}

// reconcile 用服务端权威持仓刷新本地账本。失败只告警，
// 本地账本继续以现状运转。
func (d *driver) reconcile(ctx context.Context) {
	positions, err := d.remote.ListPositions(ctx)
	if err != nil {
		d.logger.Warn("拉取远端持仓失败，跳过对账", zap.Error(err))
		return
	}

	mapped := make([]ledger.RemotePosition, 0, len(positions))
	for _, p := range positions {
		mapped = append(mapped, ledger.RemotePosition{
			Symbol:  p.StockCode,
			Volume:  p.Volume,
			AvgCost: p.CostPrice,
		})
	}

	if err := d.ledger.Reconcile(ctx, mapped, d.quotes); err != nil {
		d.logger.Warn("账本对账失败", zap.Error(err))
	}
}

func (d *driver) append(ctx context.Context, ins trade.Instruction, result trade.Result) {
	entry := journal.Entry{
		InstructionID: ins.ID,
		Symbol:        ins.Symbol,
		Action:        string(ins.Action),
		Outcome:       string(result.Outcome),
		Status:        string(result.Status),
		Price:         result.Price.String(),
		Volume:        result.Volume,
		Reason:        result.Reason,
	}
	if err := d.journal.Append(ctx, entry); err != nil {
		d.logger.Warn("写入执行流水失败", zap.Error(err))
	}
}

func mapInstruction(raw remote.Instruction) (trade.Instruction, bool) {
	action := trade.Action(raw.Action)
	switch action {
	case trade.ActionBuy, trade.ActionSell, trade.ActionAdd, trade.ActionTrim, trade.ActionHold:
	default:
		return trade.Instruction{}, false
	}
	if raw.StockCode == "" || raw.PositionRatio < 0 || raw.PositionRatio > 100 {
		return trade.Instruction{}, false
	}

	return trade.Instruction{
		ID:          raw.ID,
		Symbol:      raw.StockCode,
		Action:      action,
		TargetRatio: decimalPercent(raw.PositionRatio),
		PriceMin:    raw.PriceMin,
		PriceMax:    raw.PriceMax,
		Status:      trade.Status(raw.ExecutionStatus),
	}, true
}

// decimalPercent 把服务端的百分比整数换算为 0-1 的小数比例。
func decimalPercent(ratio int) decimal.Decimal {
	return decimal.NewFromInt(int64(ratio)).Div(decimal.NewFromInt(100))
}
