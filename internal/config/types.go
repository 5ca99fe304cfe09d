package config

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
)

// Config 聚合了系统运行所需的全部配置项。
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	API       APIConfig       `mapstructure:"api"`
	Quote     QuoteConfig     `mapstructure:"quote"`
	Trading   TradingConfig   `mapstructure:"trading"`
	Risk      RiskConfig      `mapstructure:"risk"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
}

// APIConfig 描述策略/执行记录服务的连接信息。
type APIConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
	Retry   RetryConfig   `mapstructure:"retry"`
}

// QuoteConfig 描述行情服务的连接信息。
type QuoteConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// RetryConfig 统一控制重试机制。
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	MinDelay    time.Duration `mapstructure:"min_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// TradingConfig 控制委托数量、金额约束与交易费率。
// 四项费率全部置零即为免费通道。
type TradingConfig struct {
	VolumeStep      int64   `mapstructure:"volume_step"`
	MinBuyVolume    int64   `mapstructure:"min_buy_volume"`
	MinSellVolume   int64   `mapstructure:"min_sell_volume"`
	MinTradeAmount  float64 `mapstructure:"min_trade_amount"`
	MaxTradeAmount  float64 `mapstructure:"max_trade_amount"`
	CommissionRate  float64 `mapstructure:"commission_rate"`
	MinCommission   float64 `mapstructure:"min_commission"`
	StampDutyRate   float64 `mapstructure:"stamp_duty_rate"`
	TransferFeeRate float64 `mapstructure:"transfer_fee_rate"`
}

// RiskConfig 管理风控参数。
type RiskConfig struct {
	TradingDays         []int         `mapstructure:"trading_days"` // 1=周一 ... 7=周日
	TradingStart        string        `mapstructure:"trading_start"`
	TradingEnd          string        `mapstructure:"trading_end"`
	FrequencyLimit      int           `mapstructure:"frequency_limit"`
	FrequencyWindow     time.Duration `mapstructure:"frequency_window"`
	PriceDeviationLimit float64       `mapstructure:"price_deviation_limit"`
	MaxPositionRatio    float64       `mapstructure:"max_position_ratio"`
}

// LedgerConfig 管理本地持仓/资产账本。
type LedgerConfig struct {
	PositionFile   string        `mapstructure:"position_file"`
	AssetsFile     string        `mapstructure:"assets_file"`
	InitialCash    float64       `mapstructure:"initial_cash"`
	ReconcileTTL   time.Duration `mapstructure:"reconcile_ttl"`
	LockTimeout    time.Duration `mapstructure:"lock_timeout"`
	LockRetries    int           `mapstructure:"lock_retries"`
	LockRetryDelay time.Duration `mapstructure:"lock_retry_delay"`
}

// DatabaseConfig 管理本地流水数据库连接。
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	BusyTimeout     time.Duration `mapstructure:"busy_timeout"`
	InMemory        bool          `mapstructure:"in_memory"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// SchedulerConfig 控制主循环节奏。
type SchedulerConfig struct {
	LoopInterval time.Duration `mapstructure:"loop_interval"`
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}
	if c.API.BaseURL == "" {
		err = multierr.Append(err, errors.New("api.base_url 不能为空"))
	}
	if c.API.Timeout <= 0 {
		err = multierr.Append(err, errors.New("api.timeout 必须大于0"))
	}
	if c.API.Retry.MaxAttempts <= 0 {
		err = multierr.Append(err, errors.New("api.retry.max_attempts 必须大于0"))
	}
	if c.API.Retry.MinDelay <= 0 || c.API.Retry.MaxDelay <= 0 {
		err = multierr.Append(err, errors.New("api.retry.delay 必须为正"))
	}
	if c.API.Retry.MinDelay > c.API.Retry.MaxDelay {
		err = multierr.Append(err, errors.New("api.retry.min_delay 不能大于 max_delay"))
	}
	if c.Quote.BaseURL == "" {
		err = multierr.Append(err, errors.New("quote.base_url 不能为空"))
	}
	if c.Quote.Timeout <= 0 {
		err = multierr.Append(err, errors.New("quote.timeout 必须大于0"))
	}
	if c.Trading.VolumeStep <= 0 {
		err = multierr.Append(err, errors.New("trading.volume_step 必须大于0"))
	}
	if c.Trading.MinBuyVolume <= 0 || c.Trading.MinBuyVolume%c.Trading.VolumeStep != 0 {
		err = multierr.Append(err, errors.New("trading.min_buy_volume 必须是 volume_step 的正整数倍"))
	}
	if c.Trading.MinSellVolume <= 0 || c.Trading.MinSellVolume%c.Trading.VolumeStep != 0 {
		err = multierr.Append(err, errors.New("trading.min_sell_volume 必须是 volume_step 的正整数倍"))
	}
	if c.Trading.MaxTradeAmount <= 0 {
		err = multierr.Append(err, errors.New("trading.max_trade_amount 必须大于0"))
	}
	if c.Trading.MinTradeAmount < 0 || c.Trading.MinTradeAmount > c.Trading.MaxTradeAmount {
		err = multierr.Append(err, errors.New("trading.min_trade_amount 必须位于[0, max_trade_amount]"))
	}
	if c.Trading.CommissionRate < 0 || c.Trading.CommissionRate >= 1 {
		err = multierr.Append(err, errors.New("trading.commission_rate 必须位于[0,1)"))
	}
	if c.Trading.MinCommission < 0 {
		err = multierr.Append(err, errors.New("trading.min_commission 不能为负"))
	}
	if c.Trading.StampDutyRate < 0 || c.Trading.StampDutyRate >= 1 {
		err = multierr.Append(err, errors.New("trading.stamp_duty_rate 必须位于[0,1)"))
	}
	if c.Trading.TransferFeeRate < 0 || c.Trading.TransferFeeRate >= 1 {
		err = multierr.Append(err, errors.New("trading.transfer_fee_rate 必须位于[0,1)"))
	}
	if len(c.Risk.TradingDays) == 0 {
		err = multierr.Append(err, errors.New("risk.trading_days 至少包含一个交易日"))
	}
	for _, day := range c.Risk.TradingDays {
		if day < 1 || day > 7 {
			err = multierr.Append(err, fmt.Errorf("risk.trading_days 含非法值 %d，必须位于[1,7]", day))
			break
		}
	}
	if _, parseErr := time.Parse("15:04:05", c.Risk.TradingStart); parseErr != nil {
		err = multierr.Append(err, errors.New("risk.trading_start 必须是 HH:MM:SS 格式"))
	}
	if _, parseErr := time.Parse("15:04:05", c.Risk.TradingEnd); parseErr != nil {
		err = multierr.Append(err, errors.New("risk.trading_end 必须是 HH:MM:SS 格式"))
	}
	if c.Risk.FrequencyLimit <= 0 {
		err = multierr.Append(err, errors.New("risk.frequency_limit 必须大于0"))
	}
	if c.Risk.FrequencyWindow <= 0 {
		err = multierr.Append(err, errors.New("risk.frequency_window 必须大于0"))
	}
	if c.Risk.PriceDeviationLimit <= 0 || c.Risk.PriceDeviationLimit > 1 {
		err = multierr.Append(err, errors.New("risk.price_deviation_limit 必须位于(0,1]"))
	}
	if c.Risk.MaxPositionRatio <= 0 || c.Risk.MaxPositionRatio > 1 {
		err = multierr.Append(err, errors.New("risk.max_position_ratio 必须位于(0,1]"))
	}
	if c.Ledger.PositionFile == "" {
		err = multierr.Append(err, errors.New("ledger.position_file 不能为空"))
	}
	if c.Ledger.AssetsFile == "" {
		err = multierr.Append(err, errors.New("ledger.assets_file 不能为空"))
	}
	if c.Ledger.InitialCash <= 0 {
		err = multierr.Append(err, errors.New("ledger.initial_cash 必须大于0"))
	}
	if c.Ledger.ReconcileTTL <= 0 {
		err = multierr.Append(err, errors.New("ledger.reconcile_ttl 必须大于0"))
	}
	if c.Ledger.LockTimeout <= 0 {
		err = multierr.Append(err, errors.New("ledger.lock_timeout 必须大于0"))
	}
	if c.Ledger.LockRetries <= 0 {
		err = multierr.Append(err, errors.New("ledger.lock_retries 必须大于0"))
	}
	if c.Ledger.LockRetryDelay <= 0 {
		err = multierr.Append(err, errors.New("ledger.lock_retry_delay 必须大于0"))
	}
	if c.Database.Path == "" && !c.Database.InMemory {
		err = multierr.Append(err, errors.New("database.path 不能为空"))
	}
	if c.Database.MaxOpenConns <= 0 {
		err = multierr.Append(err, errors.New("database.max_open_conns 必须大于0"))
	}
	if c.Database.MaxIdleConns < 0 {
		err = multierr.Append(err, errors.New("database.max_idle_conns 不能为负"))
	}
	if c.Database.ConnMaxLifetime < 0 {
		err = multierr.Append(err, errors.New("database.conn_max_lifetime 不能为负"))
	}
	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths 至少包含一个输出目标"))
	}
	if len(c.Logging.ErrorOutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.error_output_paths 至少包含一个输出目标"))
	}
	if c.Scheduler.LoopInterval <= 0 {
		err = multierr.Append(err, errors.New("scheduler.loop_interval 必须大于0"))
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}
