package config

import (
	"os"
	"strings"
	"time"
)

// parseEnv overlays Config fields from environment variables. Secrets are
// expected to arrive this way in deployments.
//
// Recognized variables:
//
//	ADDRESS                  HTTP bind address (e.g., ":3000")
//	DATABASE_DSN             PostgreSQL DSN
//	JWT_SECRET               access-token signing secret
//	VK_APP_SECRET            VK launch-parameter signing secret
//	ACCESS_TOKEN_VALIDITY    duration string, e.g. "15m"
//	REFRESH_TOKEN_VALIDITY   duration string, e.g. "168h"
//	ALLOWED_ORIGINS          comma-separated CORS origin allow-list
//
// Malformed duration values panic: a half-applied token lifetime is worse
// than refusing to start.
func parseEnv(config *Config) {
	if v, ok := os.LookupEnv("ADDRESS"); ok {
		config.EndpointAddr = v
	}
	if v, ok := os.LookupEnv("DATABASE_DSN"); ok {
		config.DatabaseDSN = v
	}
	if v, ok := os.LookupEnv("JWT_SECRET"); ok {
		config.JWTSecret = v
	}
	if v, ok := os.LookupEnv("VK_APP_SECRET"); ok {
		config.VKAppSecret = v
	}
	if v, ok := os.LookupEnv("ACCESS_TOKEN_VALIDITY"); ok {
		config.AccessTokenValidityDuration = mustParseDuration(v)
	}
	if v, ok := os.LookupEnv("REFRESH_TOKEN_VALIDITY"); ok {
		config.RefreshTokenValidityDuration = mustParseDuration(v)
	}
	if v, ok := os.LookupEnv("ALLOWED_ORIGINS"); ok {
		config.AllowedOrigins = splitOrigins(v)
	}
}

func mustParseDuration(v string) time.Duration {
	d, err := time.ParseDuration(v)
	if err != nil {
		panic(err)
	}
	return d
}

func splitOrigins(v string) []string {
	parts := strings.Split(v, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	if len(origins) == 0 {
		return nil
	}
	return origins
}
