package config

import (
	"errors"
	"fmt"
	"strings"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	defaultConfigPath = "configs/config.yaml"
	envPrefix         = "simtrader"
)

// Load 读取配置文件并结合环境变量返回 Config。
func Load(path string) (*Config, error) {
	v := viper.New()

	if path == "" {
		path = defaultConfigPath
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix(envPrefix)
	replacer := strings.NewReplacer(".", "_")
	v.SetEnvKeyReplacer(replacer)
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("未找到配置文件 %q: %w", path, err)
		}
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.environment", "development")

	v.SetDefault("api.base_url", "http://127.0.0.1:5000/api/v1")
	v.SetDefault("api.timeout", "30s")
	v.SetDefault("api.retry.max_attempts", 3)
	v.SetDefault("api.retry.min_delay", "1s")
	v.SetDefault("api.retry.max_delay", "8s")

	v.SetDefault("quote.base_url", "http://127.0.0.1:5001/api/v1")
	v.SetDefault("quote.timeout", "10s")

	v.SetDefault("trading.volume_step", 100)
	v.SetDefault("trading.min_buy_volume", 100)
	v.SetDefault("trading.min_sell_volume", 100)
	v.SetDefault("trading.min_trade_amount", 1000)
	v.SetDefault("trading.max_trade_amount", 500000)
	v.SetDefault("trading.commission_rate", 0.00025)
	v.SetDefault("trading.min_commission", 5)
	v.SetDefault("trading.stamp_duty_rate", 0.001)
	v.SetDefault("trading.transfer_fee_rate", 0.00002)

	v.SetDefault("risk.trading_days", []int{1, 2, 3, 4, 5})
	v.SetDefault("risk.trading_start", "09:30:00")
	v.SetDefault("risk.trading_end", "15:00:00")
	v.SetDefault("risk.frequency_limit", 10)
	v.SetDefault("risk.frequency_window", "60s")
	v.SetDefault("risk.price_deviation_limit", 0.03)
	v.SetDefault("risk.max_position_ratio", 0.30)

	v.SetDefault("ledger.position_file", "data/positions.json")
	v.SetDefault("ledger.assets_file", "data/assets.json")
	v.SetDefault("ledger.initial_cash", 1000000)
	v.SetDefault("ledger.reconcile_ttl", "60s")
	v.SetDefault("ledger.lock_timeout", "5m")
	v.SetDefault("ledger.lock_retries", 5)
	v.SetDefault("ledger.lock_retry_delay", "200ms")

	v.SetDefault("database.path", "data/sim_trader.db")
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 4)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.busy_timeout", "5s")
	v.SetDefault("database.in_memory", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "console")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.output_paths", []string{"stdout"})
	v.SetDefault("logging.error_output_paths", []string{"stderr"})

	v.SetDefault("scheduler.loop_interval", "30s")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
