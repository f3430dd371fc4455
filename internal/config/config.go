package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"lottery/internal/logger"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var ErrInvalid = errors.New("config: invalid")

const (
	PayoutLedger = "ledger"
	PayoutTon    = "ton"

	// ProviderMock is the storage-backed coordinator run by the operator.
	ProviderMock = "mock"
)

// Duration reads "90s"-style strings from TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

type Lottery struct {
	Name        string   `toml:"name"`
	EntranceFee string   `toml:"entrance_fee"`
	Interval    Duration `toml:"interval"`
	DrawTimeout Duration `toml:"draw_timeout"`
}

type VRF struct {
	Provider         string `toml:"provider"`
	KeyHash          string `toml:"key_hash"`
	SubscriptionID   uint64 `toml:"subscription_id"`
	CallbackGasLimit uint32 `toml:"callback_gas_limit"`
	Fund             uint64 `toml:"fund"`
	BaseFee          uint64 `toml:"base_fee"`
	GasPriceLink     uint64 `toml:"gas_price_link"`

	// TrustOperatorRandomness acknowledges that whoever runs the mock
	// provider can choose the winner. Required for real-value payouts.
	TrustOperatorRandomness bool `toml:"trust_operator_randomness"`
}

type Payout struct {
	Mode             string `toml:"mode"`
	MinWalletBalance string `toml:"min_wallet_balance"`
}

type Wallet struct {
	Mnemonic string `toml:"mnemonic"`
	Version  string `toml:"version"`
}

type Events struct {
	WebhookURL     string   `toml:"webhook_url"`
	WebhookTimeout Duration `toml:"webhook_timeout"`
}

type Keeper struct {
	PollInterval Duration `toml:"poll_interval"`
	AutoFulfill  bool     `toml:"auto_fulfill"`
	Recover      bool     `toml:"recover"`
}

type Log struct {
	File      string `toml:"file"`
	ErrorFile string `toml:"error_file"`
	Level     string `toml:"level"`
	Console   bool   `toml:"console"`
}

type Config struct {
	DatabasePath   string `toml:"database_path"`
	AmountDecimals int32  `toml:"amount_decimals"`
	TonapiToken    string `toml:"tonapi_token"`
	MetricsAddr    string `toml:"metrics_addr"`

	Lottery Lottery `toml:"lottery"`
	VRF     VRF     `toml:"vrf"`
	Payout  Payout  `toml:"payout"`
	Wallet  Wallet  `toml:"wallet"`
	Events  Events  `toml:"events"`
	Keeper  Keeper  `toml:"keeper"`
	Log     Log     `toml:"log"`
}

func Default() *Config {
	return &Config{
		DatabasePath:   "lottery.db",
		AmountDecimals: 9,
		Lottery: Lottery{
			Name:        "main",
			EntranceFee: "0.01",
			Interval:    Duration{30 * time.Second},
		},
		VRF: VRF{
			Provider:         ProviderMock,
			KeyHash:          "0x474e34a077df58807dbe9c96d3c009b23b3c6d0cce433e59bbf5b34f823bc56c",
			CallbackGasLimit: 500_000,
			Fund:             2_000_000_000_000_000_000,
			BaseFee:          250_000_000_000_000_000,
			GasPriceLink:     1_000_000_000,
		},
		Payout: Payout{
			Mode: PayoutLedger,
		},
		Wallet: Wallet{
			Version: "V4R2",
		},
		Events: Events{
			WebhookTimeout: Duration{500 * time.Millisecond},
		},
		Keeper: Keeper{
			PollInterval: Duration{10 * time.Second},
		},
		Log: Log{
			Level:   "info",
			Console: true,
		},
	}
}

// Load layers defaults, the optional TOML file at path, a .env file in the
// working directory and finally the process environment.
func Load(path string) (*Config, error) {
	c := Default()

	if path != "" {
		if _, err := toml.DecodeFile(path, c); err != nil {
			return nil, fmt.Errorf("config: decoding %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: loading .env: %w", err)
	}

	if err := c.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}

	logger.Debug("config: loaded",
		zap.String("file", path),
		zap.String("lottery", c.Lottery.Name),
		zap.String("payout mode", c.Payout.Mode),
		zap.Bool("wallet mnemonic", c.Wallet.Mnemonic != ""),
	)
	return c, nil
}

type lookupFunc func(key string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	strs := map[string]*string{
		"DATABASE_PATH":             &c.DatabasePath,
		"TONAPI_TOKEN":              &c.TonapiToken,
		"METRICS_ADDR":              &c.MetricsAddr,
		"LOTTERY_NAME":              &c.Lottery.Name,
		"LOTTERY_ENTRANCE_FEE":      &c.Lottery.EntranceFee,
		"VRF_PROVIDER":              &c.VRF.Provider,
		"VRF_KEY_HASH":              &c.VRF.KeyHash,
		"PAYOUT_MODE":               &c.Payout.Mode,
		"PAYOUT_MIN_WALLET_BALANCE": &c.Payout.MinWalletBalance,
		"WALLET_MNEMONIC":           &c.Wallet.Mnemonic,
		"WALLET_VERSION":            &c.Wallet.Version,
		"EVENT_WEBHOOK_URL":         &c.Events.WebhookURL,
		"LOG_FILE":                  &c.Log.File,
		"LOG_ERROR_FILE":            &c.Log.ErrorFile,
		"LOG_LEVEL":                 &c.Log.Level,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}

	durations := map[string]*Duration{
		"LOTTERY_INTERVAL":      &c.Lottery.Interval,
		"LOTTERY_DRAW_TIMEOUT":  &c.Lottery.DrawTimeout,
		"EVENT_WEBHOOK_TIMEOUT": &c.Events.WebhookTimeout,
		"KEEPER_POLL_INTERVAL":  &c.Keeper.PollInterval,
	}
	for key, dst := range durations {
		if v, ok := lookup(key); ok {
			if err := dst.UnmarshalText([]byte(v)); err != nil {
				return fmt.Errorf("%w: %s: %w", ErrInvalid, key, err)
			}
		}
	}

	uints := map[string]*uint64{
		"VRF_SUBSCRIPTION_ID": &c.VRF.SubscriptionID,
		"VRF_FUND":            &c.VRF.Fund,
		"VRF_BASE_FEE":        &c.VRF.BaseFee,
		"VRF_GAS_PRICE_LINK":  &c.VRF.GasPriceLink,
	}
	for key, dst := range uints {
		if v, ok := lookup(key); ok {
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return fmt.Errorf("%w: %s: %w", ErrInvalid, key, err)
			}
			*dst = n
		}
	}

	if v, ok := lookup("VRF_CALLBACK_GAS_LIMIT"); ok {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return fmt.Errorf("%w: VRF_CALLBACK_GAS_LIMIT: %w", ErrInvalid, err)
		}
		c.VRF.CallbackGasLimit = uint32(n)
	}

	if v, ok := lookup("AMOUNT_DECIMALS"); ok {
		n, err := strconv.ParseInt(v, 10, 32)
		if err != nil {
			return fmt.Errorf("%w: AMOUNT_DECIMALS: %w", ErrInvalid, err)
		}
		c.AmountDecimals = int32(n)
	}

	bools := map[string]*bool{
		"KEEPER_AUTO_FULFILL":           &c.Keeper.AutoFulfill,
		"KEEPER_RECOVER":                &c.Keeper.Recover,
		"VRF_TRUST_OPERATOR_RANDOMNESS": &c.VRF.TrustOperatorRandomness,
		"LOG_CONSOLE":                   &c.Log.Console,
	}
	for key, dst := range bools {
		if v, ok := lookup(key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%w: %s: %w", ErrInvalid, key, err)
			}
			*dst = b
		}
	}

	return nil
}

func (c *Config) Validate() error {
	if c.Lottery.Name == "" {
		return fmt.Errorf("%w: empty lottery name", ErrInvalid)
	}

	if c.AmountDecimals < 0 || c.AmountDecimals > 18 {
		return fmt.Errorf("%w: amount decimals %d out of range", ErrInvalid, c.AmountDecimals)
	}

	fee, err := c.EntranceFee()
	if err != nil {
		return err
	}
	if fee == 0 {
		return fmt.Errorf("%w: entrance fee must be positive", ErrInvalid)
	}

	if c.Lottery.Interval.Duration <= 0 {
		return fmt.Errorf("%w: interval must be positive", ErrInvalid)
	}

	if c.Lottery.DrawTimeout.Duration < 0 {
		return fmt.Errorf("%w: negative draw timeout", ErrInvalid)
	}

	provider := strings.ToLower(c.VRF.Provider)
	if provider != ProviderMock {
		return fmt.Errorf("%w: unknown randomness provider %q", ErrInvalid, c.VRF.Provider)
	}

	switch strings.ToLower(c.Payout.Mode) {
	case PayoutLedger:
	case PayoutTon:
		if c.Wallet.Mnemonic == "" {
			return fmt.Errorf("%w: ton payout requires WALLET_MNEMONIC", ErrInvalid)
		}
		if provider == ProviderMock && !c.VRF.TrustOperatorRandomness {
			return fmt.Errorf("%w: ton payout with the %s randomness provider requires vrf.trust_operator_randomness", ErrInvalid, ProviderMock)
		}
	default:
		return fmt.Errorf("%w: unknown payout mode %q", ErrInvalid, c.Payout.Mode)
	}

	if c.Payout.MinWalletBalance != "" {
		if _, err := ParseAmount(c.Payout.MinWalletBalance, c.AmountDecimals); err != nil {
			return err
		}
	}

	if c.Log.Level != "" {
		if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
			return fmt.Errorf("%w: log level: %w", ErrInvalid, err)
		}
	}

	return nil
}

// EntranceFee returns the configured fee in base units.
func (c *Config) EntranceFee() (uint64, error) {
	return ParseAmount(c.Lottery.EntranceFee, c.AmountDecimals)
}

func (c *Config) MinWalletBalance() (uint64, error) {
	if c.Payout.MinWalletBalance == "" {
		return 0, nil
	}
	return ParseAmount(c.Payout.MinWalletBalance, c.AmountDecimals)
}

func (c *Config) LogConfiguration() logger.Configuration {
	return logger.Configuration{
		LogFile:   c.Log.File,
		ErrorFile: c.Log.ErrorFile,
		Level:     c.Log.Level,
		Console:   c.Log.Console,
	}
}
