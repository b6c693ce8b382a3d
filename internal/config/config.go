// =================================
// File: internal/config/config.go
// =================================
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override: DLMM_BOT_RPC_LIST, DLMM_BOT_DEBUG_LOGGING, ...
const EnvPrefix = "DLMM_BOT"

type Config struct {
	RPCList      []string `mapstructure:"rpc_list"`
	RPCRateLimit float64  `mapstructure:"rpc_rate_limit"`
	WalletsFile  string   `mapstructure:"wallets_file"`
	MainWallet   string   `mapstructure:"main_wallet"`
	DebugLogging bool     `mapstructure:"debug_logging"`
	LogFile      string   `mapstructure:"log_file"`

	BatchConcurrency int `mapstructure:"batch_concurrency"`
	JitterMinMs      int `mapstructure:"jitter_min_ms"`
	JitterMaxMs      int `mapstructure:"jitter_max_ms"`

	OpenSettleMs   int    `mapstructure:"open_settle_ms"`
	RemoveSettleMs int    `mapstructure:"remove_settle_ms"`
	RepollDelayMs  int    `mapstructure:"repoll_delay_ms"`
	MaxRetryRounds int    `mapstructure:"max_retry_rounds"`
	RetryMode      string `mapstructure:"retry_mode"`
	RangeInterval  int32  `mapstructure:"range_interval"`

	PriorityFeeOpen   uint64 `mapstructure:"priority_fee_open"`
	PriorityFeeRemove uint64 `mapstructure:"priority_fee_remove"`
	ComputeUnits      uint32 `mapstructure:"compute_units"`
	TransactionMode   string `mapstructure:"transaction_mode"`

	MeteoraAPIURL   string  `mapstructure:"meteora_api_url"`
	JupiterAPIURL   string  `mapstructure:"jupiter_api_url"`
	JupiterAPIKey   string  `mapstructure:"jupiter_api_key"`
	SlippageBps     int     `mapstructure:"slippage_bps"`
	MinSellUIAmount float64 `mapstructure:"min_sell_ui_amount"`

	MonitorPollMs   int   `mapstructure:"monitor_poll_ms"`
	RotateWatchMs   int   `mapstructure:"rotate_watch_ms"`
	RotateThreshold int32 `mapstructure:"rotate_threshold"`

	JournalPath string `mapstructure:"journal_path"`
	MetricsAddr string `mapstructure:"metrics_addr"`
}

const (
	DefaultRPCRateLimit   = 10
	DefaultWalletsFile    = "configs/wallets.yaml"
	DefaultLogFile        = "logs/bot.log"
	DefaultJitterMinMs    = 1000
	DefaultJitterMaxMs    = 2000
	DefaultOpenSettleMs   = 7000
	DefaultRemoveSettleMs = 5000
	DefaultRepollDelayMs  = 2000
	DefaultMaxRetryRounds = 5
	DefaultRangeInterval  = 68
	DefaultPriorityFee    = 1_000_000
	DefaultComputeUnits   = 400_000
	DefaultMeteoraAPIURL  = "https://dlmm-api.meteora.ag"
	DefaultSlippageBps    = 500
	DefaultMinSellUI      = 5
	DefaultMonitorPollMs  = 20_000
	DefaultRotateWatchMs  = 30_000
	DefaultRotateThresh   = 5
	DefaultJournalPath    = "data/journal.db"
)

// flagKeys сопоставляет флаги командной строки ключам конфига.
var flagKeys = map[string]string{
	"rpc":         "rpc_list",
	"wallets":     "wallets_file",
	"main":        "main_wallet",
	"debug":       "debug_logging",
	"concurrency": "batch_concurrency",
	"retry-mode":  "retry_mode",
	"tx-mode":     "transaction_mode",
	"journal":     "journal_path",
	"metrics":     "metrics_addr",
}

// LoadConfig читает path (или configs/config.{yaml,json}, если path пуст),
// накладывает переменные DLMM_BOT_* и заданные флаги и валидирует результат.
// Отсутствие конфига по умолчанию не ошибка.
func LoadConfig(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath("configs")
		v.AddConfigPath(".")
	}

	defaults := map[string]interface{}{
		"rpc_rate_limit":      DefaultRPCRateLimit,
		"wallets_file":        DefaultWalletsFile,
		"main_wallet":         "",
		"debug_logging":       false,
		"batch_concurrency":   0,
		"log_file":            DefaultLogFile,
		"jitter_min_ms":       DefaultJitterMinMs,
		"jitter_max_ms":       DefaultJitterMaxMs,
		"open_settle_ms":      DefaultOpenSettleMs,
		"remove_settle_ms":    DefaultRemoveSettleMs,
		"repoll_delay_ms":     DefaultRepollDelayMs,
		"max_retry_rounds":    DefaultMaxRetryRounds,
		"retry_mode":          "auto",
		"range_interval":      DefaultRangeInterval,
		"priority_fee_open":   DefaultPriorityFee,
		"priority_fee_remove": DefaultPriorityFee,
		"compute_units":       DefaultComputeUnits,
		"transaction_mode":    "safe",
		"meteora_api_url":     DefaultMeteoraAPIURL,
		"jupiter_api_url":     "",
		"jupiter_api_key":     "",
		"slippage_bps":        DefaultSlippageBps,
		"min_sell_ui_amount":  DefaultMinSellUI,
		"monitor_poll_ms":     DefaultMonitorPollMs,
		"rotate_watch_ms":     DefaultRotateWatchMs,
		"rotate_threshold":    DefaultRotateThresh,
		"journal_path":        DefaultJournalPath,
		"metrics_addr":        "",
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	loadEnvironmentVariables(v)
	if err := bindFlags(v, flags); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.RPCList = cleanList(cfg.RPCList)

	return &cfg, validateConfig(&cfg)
}

func validateConfig(cfg *Config) error {
	if len(cfg.RPCList) == 0 {
		return errors.New("rpc_list is empty")
	}
	for _, rpcURL := range cfg.RPCList {
		if err := validateURLWithCache(rpcURL, "http"); err != nil {
			return fmt.Errorf("invalid RPC URL %q: %w", rpcURL, err)
		}
	}
	for key, u := range map[string]string{"meteora_api_url": cfg.MeteoraAPIURL, "jupiter_api_url": cfg.JupiterAPIURL} {
		if u == "" {
			continue
		}
		if err := validateURLWithCache(u, "http"); err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
	}
	if cfg.WalletsFile == "" {
		return errors.New("wallets_file is empty")
	}
	switch cfg.RetryMode {
	case "auto", "skip", "poll":
	default:
		return fmt.Errorf("invalid retry_mode %q (auto|skip|poll)", cfg.RetryMode)
	}
	switch cfg.TransactionMode {
	case "safe", "degen":
	default:
		return fmt.Errorf("invalid transaction_mode %q (safe|degen)", cfg.TransactionMode)
	}
	return validateNumericParams(cfg)
}

func validateNumericParams(cfg *Config) error {
	if cfg.RPCRateLimit < 0 {
		return errors.New("invalid rpc_rate_limit")
	}
	if cfg.BatchConcurrency < 0 {
		return errors.New("invalid batch_concurrency")
	}
	if cfg.JitterMinMs < 0 || cfg.JitterMaxMs < cfg.JitterMinMs {
		return errors.New("invalid jitter range")
	}
	if cfg.OpenSettleMs < 0 || cfg.RemoveSettleMs < 0 || cfg.RepollDelayMs < 0 {
		return errors.New("invalid settle delay")
	}
	if cfg.MaxRetryRounds < 0 {
		return errors.New("invalid max_retry_rounds")
	}
	if cfg.RangeInterval < 1 || cfg.RangeInterval > 69 {
		return fmt.Errorf("invalid range_interval %d (1..69)", cfg.RangeInterval)
	}
	if cfg.SlippageBps <= 0 || cfg.SlippageBps > 10_000 {
		return errors.New("invalid slippage_bps")
	}
	if cfg.MinSellUIAmount < 0 {
		return errors.New("invalid min_sell_ui_amount")
	}
	if cfg.MonitorPollMs <= 0 || cfg.RotateWatchMs <= 0 {
		return errors.New("invalid monitor interval")
	}
	if cfg.RotateThreshold < 0 {
		return errors.New("invalid rotate_threshold")
	}
	return nil
}

var urlCache sync.Map

func validateURLWithCache(rawURL string, protocol string) error {
	if _, ok := urlCache.Load(rawURL); ok {
		return nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return errors.New("invalid URL format")
	}
	if !strings.HasPrefix(parsed.Scheme, protocol) || parsed.Host == "" {
		return errors.New("invalid URL protocol")
	}
	urlCache.Store(rawURL, parsed)
	return nil
}

func loadEnvironmentVariables(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// списки в окружении задаются через запятую
	if env := v.GetString("RPC_LIST"); env != "" {
		v.Set("rpc_list", cleanList(strings.Split(env, ",")))
	}
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	if flags == nil {
		return nil
	}
	for name, key := range flagKeys {
		f := flags.Lookup(name)
		if f == nil || !f.Changed {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

func cleanList(items []string) []string {
	var out []string
	for _, item := range items {
		for _, part := range strings.Split(item, ",") {
			if clean := strings.TrimSpace(part); clean != "" {
				out = append(out, clean)
			}
		}
	}
	return out
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

func (c *Config) JitterMin() time.Duration { return ms(c.JitterMinMs) }
func (c *Config) JitterMax() time.Duration { return ms(c.JitterMaxMs) }
func (c *Config) OpenSettle() time.Duration { return ms(c.OpenSettleMs) }
func (c *Config) RemoveSettle() time.Duration { return ms(c.RemoveSettleMs) }
func (c *Config) RepollDelay() time.Duration { return ms(c.RepollDelayMs) }
func (c *Config) MonitorPoll() time.Duration { return ms(c.MonitorPollMs) }
func (c *Config) RotateWatch() time.Duration { return ms(c.RotateWatchMs) }
