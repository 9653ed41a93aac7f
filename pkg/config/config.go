package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	SQLite    SQLiteConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Grading   GradingConfig
	Upload    UploadConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Host          string
	Port          int
	ReadTimeout   int
	WriteTimeout  int
	BodyLimit     int
	TemplatesDir  string
	StaticDir     string
	IsDevelopment bool
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Enabled       bool
	Host          string
	Port          int
	Password      string
	DB            int
	StagingTTLSec int
}

type AuthConfig struct {
	JWTSecret              string
	TokenTTLMin            int
	CookieSecure           bool
	BootstrapAdminPassword string
}

type GradingConfig struct {
	UngradedWeight float64
}

type UploadConfig struct {
	MaxRows int
}

type RateLimitConfig struct {
	LoginPerMinute int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

// Load reads config.yaml (optional), a .env file (optional) and FIELDSALES_* variables.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/fieldsales")

	v.SetEnvPrefix("FIELDSALES")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) validate() error {
	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwtSecret must not be empty")
	}
	if c.Grading.UngradedWeight < 0 {
		return fmt.Errorf("grading.ungradedWeight must be >= 0, got %v", c.Grading.UngradedWeight)
	}
	if c.Upload.MaxRows <= 0 {
		return fmt.Errorf("upload.maxRows must be positive, got %d", c.Upload.MaxRows)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 5000)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)
	v.SetDefault("server.bodyLimit", 20*1024*1024)
	v.SetDefault("server.templatesDir", "./web/templates")
	v.SetDefault("server.staticDir", "./web/static")
	v.SetDefault("server.isDevelopment", false)

	v.SetDefault("sqlite.path", "./data/fieldsales.db")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.stagingTTLSec", 3600)

	v.SetDefault("auth.jwtSecret", "change-me")
	v.SetDefault("auth.tokenTTLMin", 12*60)
	v.SetDefault("auth.cookieSecure", false)
	v.SetDefault("auth.bootstrapAdminPassword", "adminpassword")

	v.SetDefault("grading.ungradedWeight", 0.5)

	v.SetDefault("upload.maxRows", 50000)

	v.SetDefault("rateLimit.loginPerMinute", 10)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stdout")
}
