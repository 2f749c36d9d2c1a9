// Package config loads service configuration from the environment and an
// optional config file.
package config

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g. BIDPILOT_HTTP_PORT
const EnvPrefix = "BIDPILOT"

// Config holds every setting of the service. Keys map to environment
// variables by upper-casing and prefixing, e.g. send_timeout is
// BIDPILOT_SEND_TIMEOUT.
type Config struct {
	DatabaseURL string `mapstructure:"database_url"`
	RedisURL    string `mapstructure:"redis_url" validate:"omitempty,url"`

	GeminiAPIKey  string `mapstructure:"gemini_api_key"`
	AnalysisModel string `mapstructure:"analysis_model"` // overrides the standard tier model

	SecretsKey string `mapstructure:"secrets_key"` // 32 bytes, base64

	HTTPPort int    `mapstructure:"http_port" validate:"min=1,max=65535"`
	LogJSON  bool   `mapstructure:"log_json"`
	LogLevel string `mapstructure:"log_level" validate:"oneof=debug info warn error"`

	NotifyConcurrency int           `mapstructure:"notify_concurrency" validate:"min=1,max=64"`
	SendTimeout       time.Duration `mapstructure:"send_timeout" validate:"min=1s"`
	AnalysisTimeout   time.Duration `mapstructure:"analysis_timeout" validate:"min=1s"`

	ScanSchedule string        `mapstructure:"scan_schedule" validate:"required"`
	ScanLookback time.Duration `mapstructure:"scan_lookback" validate:"min=1m"`

	VAPIDPrivateKeyPEM string `mapstructure:"vapid_private_key_pem"`
	VAPIDSubject       string `mapstructure:"vapid_subject" validate:"omitempty,startswith=mailto:|startswith=https://"`

	TwilioBaseURL    string `mapstructure:"twilio_base_url" validate:"omitempty,url"`
	TwilioAccountSID string `mapstructure:"twilio_account_sid"`
	TwilioAuthToken  string `mapstructure:"twilio_auth_token"`
	TwilioFrom       string `mapstructure:"twilio_from"`

	ChatAPIBaseURL string `mapstructure:"chat_api_base_url" validate:"omitempty,url"`

	ChannelRatePerSecond float64 `mapstructure:"channel_rate_per_second" validate:"min=0"`
	ChannelBurst         int     `mapstructure:"channel_burst" validate:"min=1"`

	RateLimitEnabled   bool     `mapstructure:"rate_limit_enabled"`
	RateLimitPerMinute int      `mapstructure:"rate_limit_per_minute" validate:"min=1"`
	RateLimitWhitelist []string `mapstructure:"rate_limit_whitelist" validate:"dive,ip"`
	RateLimitBlacklist []string `mapstructure:"rate_limit_blacklist" validate:"dive,ip"`
}

// SetDefaults registers every key with its default. Keys must be registered
// for environment variables to reach Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database_url", "")
	v.SetDefault("redis_url", "")
	v.SetDefault("gemini_api_key", "")
	v.SetDefault("analysis_model", "")
	v.SetDefault("secrets_key", "")

	v.SetDefault("http_port", 8080)
	v.SetDefault("log_json", false)
	v.SetDefault("log_level", "info")

	v.SetDefault("notify_concurrency", 3)
	v.SetDefault("send_timeout", 15*time.Second)
	v.SetDefault("analysis_timeout", 90*time.Second)

	v.SetDefault("scan_schedule", "@every 30m")
	v.SetDefault("scan_lookback", 24*time.Hour)

	v.SetDefault("vapid_private_key_pem", "")
	v.SetDefault("vapid_subject", "")

	v.SetDefault("twilio_base_url", "")
	v.SetDefault("twilio_account_sid", "")
	v.SetDefault("twilio_auth_token", "")
	v.SetDefault("twilio_from", "")

	v.SetDefault("chat_api_base_url", "https://api.green-api.com")

	v.SetDefault("channel_rate_per_second", 5.0)
	v.SetDefault("channel_burst", 10)

	v.SetDefault("rate_limit_enabled", true)
	v.SetDefault("rate_limit_per_minute", 600)
	v.SetDefault("rate_limit_whitelist", []string{})
	v.SetDefault("rate_limit_blacklist", []string{})
}

// NewViper returns a viper instance bound to the environment with defaults set
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// Load reads configuration from the environment and, when configFile is
// set, from that file (any format viper understands). Environment
// variables win over the file.
func Load(configFile string) (*Config, error) {
	v := NewViper()
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "failed to read config file %s", configFile)
		}
	}
	return LoadWithViper(v)
}

// LoadWithViper unmarshals and validates configuration from v
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges and formats. Whether optional integrations
// are usable is decided by the components that need them.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "config error")
	}
	if c.VAPIDPrivateKeyPEM != "" && c.VAPIDSubject == "" {
		return errors.New("config error: vapid_subject is required when vapid_private_key_pem is set")
	}
	return nil
}

// RequireDatabase reports an error when no database URL is configured
func (c *Config) RequireDatabase() error {
	if c.DatabaseURL == "" {
		return errors.WithHint(
			errors.New("config error: database_url is not set"),
			"set BIDPILOT_DATABASE_URL or run with --memory")
	}
	return nil
}
