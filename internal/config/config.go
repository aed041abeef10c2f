package config

import "github.com/spf13/viper"

// Config carries the application settings that are read once at startup.
// Database and redis settings stay key-based in their own packages.
type Config struct {
	Port               string
	SettlementSchedule string // cron expression for the daily settlement run
}

// Load applies defaults and resolves the startup configuration.
func Load() *Config {
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("settlement.schedule", "0 0 * * *") // daily at midnight

	viper.SetDefault("jwt.expiry_hours", 24)
	viper.SetDefault("auth.lockout_minutes", 30)

	viper.SetDefault("argon2.time", 1)
	viper.SetDefault("argon2.memory", 64*1024)
	viper.SetDefault("argon2.threads", 4)
	viper.SetDefault("argon2.key_length", 32)
	viper.SetDefault("argon2.salt_length", 16)

	return &Config{
		Port:               viper.GetString("server.port"),
		SettlementSchedule: viper.GetString("settlement.schedule"),
	}
}
