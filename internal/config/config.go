package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Port                   string
	AllowedOrigin          string
	DatabaseURL            string
	RedisAddr              string
	RedisPassword          string
	RedisDB                int
	AuthSecret             string
	AccessTokenTTLMinutes  int
	CatalogCacheTTLSeconds int
}

func Load() Config {
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	tokenTTL, err := strconv.Atoi(getEnv("ACCESS_TOKEN_TTL_MINUTES", "480"))
	if err != nil || tokenTTL < 1 {
		tokenTTL = 480
	}
	catalogTTL, err := strconv.Atoi(getEnv("CATALOG_CACHE_TTL_SECONDS", "30"))
	if err != nil || catalogTTL < 1 {
		catalogTTL = 30
	}

	cfg := Config{
		Port:                   getEnv("PORT", "8080"),
		AllowedOrigin:          getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:            os.Getenv("DATABASE_URL"),
		RedisAddr:              os.Getenv("REDIS_ADDR"),
		RedisPassword:          os.Getenv("REDIS_PASSWORD"),
		RedisDB:                redisDB,
		AuthSecret:             strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes:  tokenTTL,
		CatalogCacheTTLSeconds: catalogTTL,
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
