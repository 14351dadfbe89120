package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewConfigFromEnv(t *testing.T) {
	t.Setenv("SERVER_PORT", ":9090")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example ,")
	t.Setenv("MAX_MESSAGE_SIZE", "2048")
	t.Setenv("SEND_BUFFER_SIZE", "16")
	t.Setenv("RATE_LIMIT_BURST", "10")
	t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "3")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("DATABASE_DSN", "postgres://localhost/chat")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("REDIS_PRESENCE_KEY", "online")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg := NewConfigFromEnv().Sanitize()

	assert.Equal(t, ":9090", cfg.Port)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, int64(2048), cfg.MaxMessageSize)
	assert.Equal(t, 16, cfg.SendBufferSize)
	assert.Equal(t, 10, cfg.RateLimit.Burst)
	assert.Equal(t, 3*time.Second, cfg.RateLimit.RefillInterval)
	assert.Equal(t, "s3cret", cfg.JWTSecret)
	assert.Equal(t, "postgres://localhost/chat", cfg.DatabaseDSN)
	assert.Equal(t, RedisConfig{Addr: "localhost:6379", DB: 2, Key: "online"}, cfg.Redis)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestNewConfigFromEnvIgnoresBadNumbers(t *testing.T) {
	t.Setenv("MAX_MESSAGE_SIZE", "-1")
	t.Setenv("SEND_BUFFER_SIZE", "lots")
	t.Setenv("RATE_LIMIT_BURST", "0")
	t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "soon")
	t.Setenv("REDIS_DB", "-3")

	cfg := NewConfigFromEnv()
	def := NewConfig()

	assert.Equal(t, def.MaxMessageSize, cfg.MaxMessageSize)
	assert.Equal(t, def.SendBufferSize, cfg.SendBufferSize)
	assert.Equal(t, def.RateLimit, cfg.RateLimit)
	assert.Equal(t, 0, cfg.Redis.DB)
}

func TestSanitizeFillsDefaults(t *testing.T) {
	cfg := Config{AllowedOrigins: []string{" ", "http://x.example "}}.Sanitize()

	assert.Equal(t, defaultPort, cfg.Port)
	assert.Equal(t, int64(defaultMaxMessageSize), cfg.MaxMessageSize)
	assert.Equal(t, defaultSendBufferSize, cfg.SendBufferSize)
	assert.Equal(t, 5, cfg.RateLimit.Burst)
	assert.Equal(t, time.Second, cfg.RateLimit.RefillInterval)
	assert.Equal(t, defaultPresenceKey, cfg.Redis.Key)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, []string{"http://x.example"}, cfg.AllowedOrigins)
	assert.Empty(t, cfg.JWTSecret, "a secret is never filled in")
}

func TestSanitizeDoesNotMutateReceiver(t *testing.T) {
	orig := Config{AllowedOrigins: []string{" http://x.example"}}
	_ = orig.Sanitize()

	assert.Equal(t, " http://x.example", orig.AllowedOrigins[0])
	assert.Empty(t, orig.Port)
}
