package config

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Defaults substituted when a tunable is missing or out of range.
const (
	DefaultHKDToCNYRate    = 0.92
	DefaultUSDToCNYRate    = 7.20
	DefaultCommissionRate  = 0.0003
	DefaultStampTaxRate    = 0.001
	DefaultTransferFeeRate = 0.00002
	DefaultStartingBalance = 1000000
)

// Config holds every tunable of the trading core. Exchange and fee rates
// are validated on load; an out-of-range value is replaced by its default
// with a logged warning rather than substituted silently.
type Config struct {
	Port         string `mapstructure:"PORT"`
	DatabasePath string `mapstructure:"DATABASE_PATH"`
	JWTSecret    string `mapstructure:"JWT_SECRET"`

	StartingBalance float64 `mapstructure:"STARTING_BALANCE"`

	HKDToCNYRate float64 `mapstructure:"HKD_TO_CNY_RATE"`
	USDToCNYRate float64 `mapstructure:"USD_TO_CNY_RATE"`

	CommissionRate  float64 `mapstructure:"COMMISSION_RATE"`
	StampTaxRate    float64 `mapstructure:"STAMP_TAX_RATE"`
	TransferFeeRate float64 `mapstructure:"TRANSFER_FEE_RATE"`
}

// Load reads configuration from an optional app.env file and the
// environment, applies defaults and validates ranges.
func Load() (Config, error) {
	viper.AddConfigPath(".")
	viper.SetConfigName("app")
	viper.SetConfigType("env")
	viper.AutomaticEnv()

	viper.SetDefault("PORT", "8080")
	viper.SetDefault("DATABASE_PATH", "papertrade.db")
	viper.SetDefault("JWT_SECRET", "papertrade-secret-key")
	viper.SetDefault("STARTING_BALANCE", DefaultStartingBalance)
	viper.SetDefault("HKD_TO_CNY_RATE", DefaultHKDToCNYRate)
	viper.SetDefault("USD_TO_CNY_RATE", DefaultUSDToCNYRate)
	viper.SetDefault("COMMISSION_RATE", DefaultCommissionRate)
	viper.SetDefault("STAMP_TAX_RATE", DefaultStampTaxRate)
	viper.SetDefault("TRANSFER_FEE_RATE", DefaultTransferFeeRate)

	err := viper.ReadInConfig()
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		err = nil
	}
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	cfg.Validate()
	return cfg, nil
}

// Validate replaces out-of-range tunables with their defaults, logging
// each substitution.
func (c *Config) Validate() {
	c.HKDToCNYRate = validRate("HKD_TO_CNY_RATE", c.HKDToCNYRate, DefaultHKDToCNYRate)
	c.USDToCNYRate = validRate("USD_TO_CNY_RATE", c.USDToCNYRate, DefaultUSDToCNYRate)
	c.CommissionRate = validFeeRate("COMMISSION_RATE", c.CommissionRate, DefaultCommissionRate)
	c.StampTaxRate = validFeeRate("STAMP_TAX_RATE", c.StampTaxRate, DefaultStampTaxRate)
	c.TransferFeeRate = validFeeRate("TRANSFER_FEE_RATE", c.TransferFeeRate, DefaultTransferFeeRate)

	if c.StartingBalance <= 0 {
		log.Warn().
			Float64("value", c.StartingBalance).
			Float64("default", DefaultStartingBalance).
			Msg("STARTING_BALANCE out of range, using default")
		c.StartingBalance = DefaultStartingBalance
	}
}

func validRate(key string, value, fallback float64) float64 {
	if value <= 0 {
		log.Warn().
			Str("key", key).
			Float64("value", value).
			Float64("default", fallback).
			Msg("exchange rate out of range, using default")
		return fallback
	}
	return value
}

func validFeeRate(key string, value, fallback float64) float64 {
	// Fee rates are fractions of the traded amount; anything at or above
	// 100% is a configuration mistake.
	if value < 0 || value >= 1 {
		log.Warn().
			Str("key", key).
			Float64("value", value).
			Float64("default", fallback).
			Msg("fee rate out of range, using default")
		return fallback
	}
	return value
}
