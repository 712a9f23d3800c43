package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	AuthSecret            string
	AccessTokenTTLMinutes int
	MachineToken          string
	StatsTTLSeconds       int
	OfflineAfterSeconds   int
	LogFile               string
}

func Load() Config {
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	tokenTTL, err := strconv.Atoi(getEnv("ACCESS_TOKEN_TTL_MINUTES", "480"))
	if err != nil || tokenTTL < 1 {
		tokenTTL = 480
	}
	statsTTL, err := strconv.Atoi(getEnv("STATS_TTL_SECONDS", "10"))
	if err != nil || statsTTL < 1 {
		statsTTL = 10
	}
	offlineAfter, err := strconv.Atoi(getEnv("OFFLINE_AFTER_SECONDS", "120"))
	if err != nil || offlineAfter < 1 {
		offlineAfter = 120
	}

	cfg := Config{
		Port:                  getEnv("PORT", "8080"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               redisDB,
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: tokenTTL,
		MachineToken:          strings.TrimSpace(os.Getenv("MACHINE_TOKEN")),
		StatsTTLSeconds:       statsTTL,
		OfflineAfterSeconds:   offlineAfter,
		LogFile:               getEnv("LOG_FILE", "logs/server.log"),
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}
