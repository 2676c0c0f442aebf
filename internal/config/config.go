package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode string `mapstructure:"mode"`
	Port int    `mapstructure:"port"`

	SQLitePath string `mapstructure:"sqlite_path"`
	RedisAddr  string `mapstructure:"redis_addr"`

	AuthSecret       string        `mapstructure:"auth_secret"`
	CapabilitySecret string        `mapstructure:"capability_secret"`
	CapabilityTTL    time.Duration `mapstructure:"capability_ttl"`

	GraceDelay   time.Duration `mapstructure:"grace_delay"`
	RoomCapacity int           `mapstructure:"room_capacity"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("sqlite_path", "./soapbox.db")
	v.SetDefault("redis_addr", "")
	v.SetDefault("auth_secret", "dev-secret-change-me")
	v.SetDefault("capability_secret", "dev-capability-secret")
	v.SetDefault("capability_ttl", "6h")
	v.SetDefault("grace_delay", "30s")
	v.SetDefault("room_capacity", 100)

	v.SetEnvPrefix("soapbox")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("config file not found (%s), using defaults\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
