// Package config loads the process configuration once at startup. The resulting Config is
// passed into component constructors and never read from request-handling code.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config is the immutable configuration of the ticket backend
type Config struct {
	Environment string            `mapstructure:"environment"`
	Server      ServerConfig      `mapstructure:"server"`
	Log         LogConfig         `mapstructure:"log"`
	Payment     PaymentConfig     `mapstructure:"payment"`
	Fulfillment FulfillmentConfig `mapstructure:"fulfillment"`
	Reconcile   ReconcileConfig   `mapstructure:"reconcile"`
}

type ServerConfig struct {
	Port   int    `mapstructure:"port"`
	Prefix string `mapstructure:"prefix"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

// PaymentConfig describes the settlement rail
type PaymentConfig struct {
	Network           string        `mapstructure:"network"`
	ChainID           int64         `mapstructure:"chain_id"`
	Token             string        `mapstructure:"token"`
	TokenName         string        `mapstructure:"token_name"`
	TokenVersion      string        `mapstructure:"token_version"`
	Decimals          int32         `mapstructure:"decimals"`
	Receiver          string        `mapstructure:"receiver"`
	RPCURL            string        `mapstructure:"rpc_url"`
	RelayerKey        string        `mapstructure:"relayer_key"`
	Bypass            bool          `mapstructure:"bypass"`
	SettlementTimeout time.Duration `mapstructure:"settlement_timeout"`
}

// FulfillmentConfig describes the ticketing chain
type FulfillmentConfig struct {
	RPCURL        string        `mapstructure:"rpc_url"`
	ModuleAddress string        `mapstructure:"module_address"`
	ProcessorKey  string        `mapstructure:"processor_key"`
	FallbackPrice string        `mapstructure:"fallback_price"`
	MaxGasAmount  uint64        `mapstructure:"max_gas_amount"`
	MintTimeout   time.Duration `mapstructure:"mint_timeout"`
}

// ReconcileConfig selects where orphaned settlements are stored
type ReconcileConfig struct {
	Backend       string `mapstructure:"backend"` // memory or redis
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	KeyPrefix     string `mapstructure:"key_prefix"`
}

// envBindings keeps the environment variable names the deployment already uses
var envBindings = map[string]string{
	"environment":                "NODE_ENV",
	"server.port":                "BACKEND_PORT",
	"payment.rpc_url":            "BASE_RPC_URL",
	"payment.relayer_key":        "BASE_RELAYER_PRIVATE_KEY",
	"payment.receiver":           "PAYMENT_RECEIVER_ADDRESS",
	"payment.bypass":             "PAYMENT_BYPASS",
	"fulfillment.rpc_url":        "MOVEMENT_RPC_URL",
	"fulfillment.module_address": "CONTRACT_MODULE_ADDRESS",
	"fulfillment.processor_key":  "PAYMENT_PROCESSOR_PRIVATE_KEY",
	"reconcile.redis_addr":       "REDIS_ADDR",
	"reconcile.redis_password":   "REDIS_PASSWORD",
}

// Load reads defaults, the optional YAML file at path and the environment, in increasing
// order of precedence. Any other key can be set as TICKETD_<SECTION>_<KEY>.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("TICKETD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range envBindings {
		if err := v.BindEnv(key, "TICKETD_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("server.port", 3001)
	v.SetDefault("server.prefix", "/api/tickets")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("payment.network", "base-sepolia")
	v.SetDefault("payment.chain_id", 84532)
	v.SetDefault("payment.token", "0x036CbD53842c5426634e7929541eC2318f3dCF7e")
	v.SetDefault("payment.token_name", "USD Coin")
	v.SetDefault("payment.token_version", "2")
	v.SetDefault("payment.decimals", 6)
	v.SetDefault("payment.rpc_url", "https://sepolia.base.org")
	v.SetDefault("payment.bypass", false)
	v.SetDefault("payment.settlement_timeout", 45*time.Second)

	v.SetDefault("fulfillment.rpc_url", "https://testnet.movementnetwork.xyz/v1")
	v.SetDefault("fulfillment.fallback_price", "5.00")
	v.SetDefault("fulfillment.max_gas_amount", 200000)
	v.SetDefault("fulfillment.mint_timeout", 45*time.Second)

	v.SetDefault("reconcile.backend", "memory")
	v.SetDefault("reconcile.redis_addr", "localhost:6379")
	v.SetDefault("reconcile.redis_db", 0)
	v.SetDefault("reconcile.key_prefix", "tickets:orphaned")
}

// nonProductionEnvironments lists the only environments where payments may be bypassed
var nonProductionEnvironments = map[string]bool{
	"development": true,
	"test":        true,
}

// Production reports whether the process must be treated as production: every
// environment other than development or test is.
func (c *Config) Production() bool {
	return !nonProductionEnvironments[strings.ToLower(strings.TrimSpace(c.Environment))]
}

// Validate fails on any configuration that would let a reachable operation run without
// the addresses or keys it needs
func (c *Config) Validate() error {
	var errs []error

	if !common.IsHexAddress(c.Payment.Receiver) {
		errs = append(errs, errors.New("PAYMENT_RECEIVER_ADDRESS must be a 0x-prefixed 20-byte address"))
	}
	if !common.IsHexAddress(c.Payment.Token) {
		errs = append(errs, errors.New("payment.token must be a 0x-prefixed 20-byte address"))
	}
	if c.Payment.ChainID <= 0 {
		errs = append(errs, errors.New("payment.chain_id must be positive"))
	}
	if c.Payment.Decimals < 0 || c.Payment.Decimals > 18 {
		errs = append(errs, fmt.Errorf("payment.decimals out of range: %d", c.Payment.Decimals))
	}
	if c.Payment.Bypass && c.Production() {
		errs = append(errs, fmt.Errorf("payment bypass is not allowed in production (environment %q); use development or test", c.Environment))
	}
	if !c.Payment.Bypass {
		if c.Payment.RelayerKey == "" {
			errs = append(errs, errors.New("BASE_RELAYER_PRIVATE_KEY is required when payments are enforced"))
		}
		if c.Payment.RPCURL == "" {
			errs = append(errs, errors.New("BASE_RPC_URL is required when payments are enforced"))
		}
	}

	if c.Fulfillment.ModuleAddress == "" {
		errs = append(errs, errors.New("CONTRACT_MODULE_ADDRESS is required"))
	}
	if c.Fulfillment.ProcessorKey == "" {
		errs = append(errs, errors.New("PAYMENT_PROCESSOR_PRIVATE_KEY is required"))
	}
	if c.Fulfillment.RPCURL == "" {
		errs = append(errs, errors.New("MOVEMENT_RPC_URL is required"))
	}
	if _, err := c.FallbackPrice(); err != nil {
		errs = append(errs, err)
	}

	switch c.Reconcile.Backend {
	case "memory":
		if c.Production() {
			errs = append(errs, errors.New("reconcile.backend must be redis in production"))
		}
	case "redis":
		if c.Reconcile.RedisAddr == "" {
			errs = append(errs, errors.New("reconcile.redis_addr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown reconcile backend: %q", c.Reconcile.Backend))
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid BACKEND_PORT: %d", c.Server.Port))
	}

	return errors.Join(errs...)
}

// FallbackPrice parses the price quoted when the price view is unavailable
func (c *Config) FallbackPrice() (decimal.Decimal, error) {
	price, err := decimal.NewFromString(c.Fulfillment.FallbackPrice)
	if err != nil || price.IsNegative() {
		return decimal.Zero, fmt.Errorf("invalid fulfillment.fallback_price: %q", c.Fulfillment.FallbackPrice)
	}
	return price, nil
}

// MarshalZerologObject logs the configuration without key material
func (c *Config) MarshalZerologObject(e *zerolog.Event) {
	e.Str("environment", c.Environment).
		Int("port", c.Server.Port).
		Str("prefix", c.Server.Prefix).
		Str("network", c.Payment.Network).
		Int64("chain_id", c.Payment.ChainID).
		Str("token", c.Payment.Token).
		Str("receiver", c.Payment.Receiver).
		Str("payment_rpc", c.Payment.RPCURL).
		Bool("relayer_key_set", c.Payment.RelayerKey != "").
		Bool("bypass", c.Payment.Bypass).
		Dur("settlement_timeout", c.Payment.SettlementTimeout).
		Str("fulfillment_rpc", c.Fulfillment.RPCURL).
		Str("module", c.Fulfillment.ModuleAddress).
		Bool("processor_key_set", c.Fulfillment.ProcessorKey != "").
		Dur("mint_timeout", c.Fulfillment.MintTimeout).
		Str("reconcile_backend", c.Reconcile.Backend)
}
