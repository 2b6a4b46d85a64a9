package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/synthetichealth/vistaexport/internal/platform/fileman"
)

// DateLayout is the layout of EXPORT_DATE.
const DateLayout = "2006-01-02"

type Config struct {
	Env      string `mapstructure:"ENV"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	ExportMode string `mapstructure:"EXPORT_MODE"`
	ExportDate string `mapstructure:"EXPORT_DATE"`
	IENOffset  int64  `mapstructure:"IEN_OFFSET"`
	InputPath  string `mapstructure:"INPUT_PATH"`
	OutputPath string `mapstructure:"OUTPUT_PATH"`
	SQLitePath string `mapstructure:"SQLITE_PATH"`

	S3Bucket    string `mapstructure:"S3_BUCKET"`
	S3Region    string `mapstructure:"S3_REGION"`
	S3Endpoint  string `mapstructure:"S3_ENDPOINT"`
	S3PathStyle bool   `mapstructure:"S3_PATH_STYLE"`
	S3Prefix    string `mapstructure:"S3_PREFIX"`

	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBSchema    string `mapstructure:"DB_SCHEMA"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`

	Port           string `mapstructure:"PORT"`
	BodyLimit      string `mapstructure:"BODY_LIMIT"`
	UploadLimit    string `mapstructure:"UPLOAD_LIMIT"`
	AuthSigningKey string `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer     string `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string `mapstructure:"AUTH_AUDIENCE"`
}

var keys = []string{
	"ENV", "LOG_LEVEL",
	"EXPORT_MODE", "EXPORT_DATE", "IEN_OFFSET", "INPUT_PATH", "OUTPUT_PATH", "SQLITE_PATH",
	"S3_BUCKET", "S3_REGION", "S3_ENDPOINT", "S3_PATH_STYLE", "S3_PREFIX",
	"DATABASE_URL", "DB_SCHEMA", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"PORT", "BODY_LIMIT", "UPLOAD_LIMIT", "AUTH_SIGNING_KEY", "AUTH_ISSUER", "AUTH_AUDIENCE",
}

// Load reads the environment and an optional .env file in the working
// directory. Environment variables win over the file.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("EXPORT_MODE", fileman.PointerClean.String())
	v.SetDefault("IEN_OFFSET", 0)
	v.SetDefault("S3_REGION", "us-east-1")
	v.SetDefault("S3_PREFIX", "vista/")
	v.SetDefault("DB_SCHEMA", "public")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 1)
	v.SetDefault("PORT", "8000")
	v.SetDefault("BODY_LIMIT", "1M")
	v.SetDefault("UPLOAD_LIMIT", "64M")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Mode parses EXPORT_MODE.
func (c *Config) Mode() (fileman.Mode, error) {
	return fileman.ParseMode(c.ExportMode)
}

// ExportDay returns EXPORT_DATE, or the UTC calendar day of now when unset.
func (c *Config) ExportDay(now time.Time) (fileman.Date, error) {
	if c.ExportDate == "" {
		return fileman.DateOf(now.UTC()), nil
	}
	t, err := time.Parse(DateLayout, c.ExportDate)
	if err != nil {
		return fileman.Date{}, fmt.Errorf("EXPORT_DATE must be YYYY-MM-DD: %w", err)
	}
	return fileman.DateOf(t), nil
}

// Validate checks that the configuration is usable. Production requires a
// signing key of at least 32 bytes so the HTTP surface is never open.
func (c *Config) Validate() error {
	if _, err := c.Mode(); err != nil {
		return err
	}
	if _, err := c.ExportDay(time.Now()); err != nil {
		return err
	}
	if c.IENOffset < 0 {
		return fmt.Errorf("IEN_OFFSET must not be negative, got %d", c.IENOffset)
	}
	if c.DBMaxConns < 1 || c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) and DB_MAX_CONNS (%d) are inconsistent", c.DBMinConns, c.DBMaxConns)
	}
	if c.IsProduction() && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY is required in production")
	}
	if c.AuthSigningKey != "" && len(c.AuthSigningKey) < 32 {
		return fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 bytes, got %d", len(c.AuthSigningKey))
	}
	return nil
}
