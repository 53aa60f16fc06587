package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/lanternlabs/keyline/internal/users"
	"github.com/spf13/viper"
)

const (
	envPrefix           = "KEYLINE"
	defaultHTTPAddress  = "0.0.0.0:8080"
	defaultDatabasePath = "keyline.db"
	defaultLogLevel     = "info"
	defaultDigestScheme = users.DigestSchemeArgon2id
	defaultTokenTTLMin  = 30
	defaultOobTTLMin    = 60
	defaultSMTPPort     = 587
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress     string
	DatabasePath    string
	LogLevel        string
	SigningSecret   string
	TokenTTL        time.Duration
	OobTTL          time.Duration
	DigestScheme    string
	DigestPepper    string
	SMTPHost        string
	SMTPPort        int
	SMTPUsername    string
	SMTPPassword    string
	SMTPFromAddress string
}

// MailConfigured reports whether SMTP delivery settings are present. Deploys
// without them log out-of-band codes instead of emailing them.
func (c AppConfig) MailConfigured() bool {
	return strings.TrimSpace(c.SMTPHost) != "" && strings.TrimSpace(c.SMTPFromAddress) != ""
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("token.ttl_minutes", defaultTokenTTLMin)
	configViper.SetDefault("oob.ttl_minutes", defaultOobTTLMin)
	configViper.SetDefault("digest.scheme", defaultDigestScheme)
	configViper.SetDefault("smtp.port", defaultSMTPPort)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:     configViper.GetString("http.address"),
		DatabasePath:    configViper.GetString("database.path"),
		LogLevel:        configViper.GetString("log.level"),
		SigningSecret:   configViper.GetString("token.signing_secret"),
		TokenTTL:        time.Duration(configViper.GetInt("token.ttl_minutes")) * time.Minute,
		OobTTL:          time.Duration(configViper.GetInt("oob.ttl_minutes")) * time.Minute,
		DigestScheme:    configViper.GetString("digest.scheme"),
		DigestPepper:    configViper.GetString("digest.pepper"),
		SMTPHost:        configViper.GetString("smtp.host"),
		SMTPPort:        configViper.GetInt("smtp.port"),
		SMTPUsername:    configViper.GetString("smtp.username"),
		SMTPPassword:    configViper.GetString("smtp.password"),
		SMTPFromAddress: configViper.GetString("smtp.from"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("token.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	switch c.DigestScheme {
	case users.DigestSchemeSHA256:
	case users.DigestSchemeArgon2id:
		if strings.TrimSpace(c.DigestPepper) == "" {
			return fmt.Errorf("digest.pepper is required for the %s scheme", users.DigestSchemeArgon2id)
		}
	default:
		return fmt.Errorf("digest.scheme must be %s or %s", users.DigestSchemeSHA256, users.DigestSchemeArgon2id)
	}
	return nil
}
