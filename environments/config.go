package environments

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	VK        VKConfig
	Broadcast BroadcastConfig
	Scheduler SchedulerConfig
	Auth      AuthConfig
}

type ServerConfig struct {
	Port string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

type VKConfig struct {
	BaseURL string
	Version string
	Timeout time.Duration
}

type BroadcastConfig struct {
	// SendDelay is the mandatory pause between consecutive message sends.
	// VK throttles group tokens at roughly 2 req/s; do not lower this.
	SendDelay       time.Duration
	CheckpointEvery int
	StaleAfter      time.Duration
}

type SchedulerConfig struct {
	TickInterval time.Duration
}

type AuthConfig struct {
	AdminAPIKey     string
	SchedulerAPIKey string
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port: GetEnv("SERVER_PORT", "8080"),
		},
		Database: DatabaseConfig{
			Host:     GetEnv("DB_HOST", "localhost"),
			Port:     GetEnv("DB_PORT", "3306"),
			User:     GetEnv("DB_USER", "vkbot"),
			Password: GetEnv("DB_PASSWORD", "vkbot123"),
			DBName:   GetEnv("DB_NAME", "vkbot"),
		},
		Redis: RedisConfig{
			Host:     GetEnv("REDIS_HOST", "localhost"),
			Port:     GetEnv("REDIS_PORT", "6379"),
			Password: GetEnv("REDIS_PASSWORD", ""),
			DB:       GetEnvAsInt("REDIS_DB", 0),
		},
		VK: VKConfig{
			BaseURL: GetEnv("VK_API_BASE_URL", "https://api.vk.com/method"),
			Version: GetEnv("VK_API_VERSION", "5.199"),
			Timeout: time.Duration(GetEnvAsInt("VK_API_TIMEOUT_SECONDS", 30)) * time.Second,
		},
		Broadcast: BroadcastConfig{
			SendDelay:       GetEnvAsDuration("BROADCAST_SEND_DELAY", 500*time.Millisecond),
			CheckpointEvery: GetEnvAsInt("BROADCAST_CHECKPOINT_EVERY", 10),
			StaleAfter:      time.Duration(GetEnvAsInt("BROADCAST_STALE_AFTER_MINUTES", 30)) * time.Minute,
		},
		Scheduler: SchedulerConfig{
			TickInterval: GetEnvAsDuration("SCHEDULER_TICK_INTERVAL", time.Minute),
		},
		Auth: AuthConfig{
			AdminAPIKey:     GetEnv("ADMIN_API_KEY", ""),
			SchedulerAPIKey: GetEnv("SCHEDULER_API_KEY", ""),
		},
	}
}

func GetEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func GetEnvAsInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func GetEnvAsBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func GetEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
