package config

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var envKeys = []string{
	"PORT", "SERVER_ID", "LOG_LEVEL", "LOG_FORMAT",
	"JWT_SECRET", "JWT_ISSUER", "JWT_TTL", "AUTH_REQUIRED",
	"ADMIN_API_KEY_HASH", "MAX_CONNECTIONS_PER_IP", "ALLOWED_ORIGINS", "TRUST_PROXY",
	"MONGODB_URI", "MONGODB_DATABASE",
	"REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB", "REDIS_CHANNEL", "REDIS_PRESENCE_TTL",
	"WS_WRITE_WAIT", "WS_PONG_WAIT", "WS_PING_INTERVAL", "WS_READ_LIMIT",
	"SHUTDOWN_TIMEOUT",
}

// clearEnv unsets every key FromEnv reads; t.Setenv restores them afterwards.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range envKeys {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestFromEnvDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv failed: %v", err)
	}

	if cfg.Port != DefaultPort || cfg.ServerId != DefaultServerId {
		t.Errorf("unexpected port/server id %q/%q", cfg.Port, cfg.ServerId)
	}
	if cfg.AuthRequired || cfg.MaxConnectionsPerIP != 0 || cfg.AllowedOrigins != nil || cfg.TrustProxy {
		t.Errorf("unexpected access defaults %+v", cfg)
	}
	if cfg.RedisChannel != DefaultRedisChannel || cfg.RedisPresenceTTL != 3*54*time.Second {
		t.Errorf("unexpected redis defaults %q/%v", cfg.RedisChannel, cfg.RedisPresenceTTL)
	}
	if cfg.WS.PongWait != 60*time.Second || cfg.WS.PingInterval != 54*time.Second || cfg.WS.ReadLimit != 1<<20 {
		t.Errorf("unexpected ws defaults %+v", cfg.WS)
	}
	if cfg.JWTTTL != DefaultJWTTTL || cfg.ShutdownTimeout != DefaultShutdownTimeout {
		t.Errorf("unexpected durations %v/%v", cfg.JWTTTL, cfg.ShutdownTimeout)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("SERVER_ID", "node-b")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("AUTH_REQUIRED", "true")
	t.Setenv("MAX_CONNECTIONS_PER_IP", "3")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example,,")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("REDIS_CHANNEL", "chat:broadcast")
	t.Setenv("REDIS_PRESENCE_TTL", "45s")
	t.Setenv("TRUST_PROXY", "true")
	t.Setenv("WS_PONG_WAIT", "30s")
	t.Setenv("WS_PING_INTERVAL", "20s")
	t.Setenv("WS_READ_LIMIT", "512")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv failed: %v", err)
	}

	if cfg.Port != "9090" || cfg.ServerId != "node-b" {
		t.Errorf("unexpected port/server id %q/%q", cfg.Port, cfg.ServerId)
	}
	if !cfg.AuthRequired || cfg.MaxConnectionsPerIP != 3 {
		t.Errorf("unexpected access settings %+v", cfg)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example" {
		t.Errorf("unexpected origins %q", cfg.AllowedOrigins)
	}
	if cfg.RedisDB != 2 || cfg.WS.PongWait != 30*time.Second || cfg.WS.ReadLimit != 512 {
		t.Errorf("unexpected parsed values %+v", cfg)
	}
	if cfg.RedisChannel != "chat:broadcast" || cfg.RedisPresenceTTL != 45*time.Second || !cfg.TrustProxy {
		t.Errorf("unexpected relay/proxy settings %+v", cfg)
	}
}

func TestFromEnvErrors(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr error
		wantKey string
	}{
		{name: "bad duration", env: map[string]string{"WS_PONG_WAIT": "soon"}, wantKey: "WS_PONG_WAIT"},
		{name: "bad int", env: map[string]string{"REDIS_DB": "two"}, wantKey: "REDIS_DB"},
		{name: "bad bool", env: map[string]string{"AUTH_REQUIRED": "maybe"}, wantKey: "AUTH_REQUIRED"},
		{name: "auth without secret", env: map[string]string{"AUTH_REQUIRED": "true"}, wantErr: ErrJWTSecretRequired},
		{name: "ping slower than pong", env: map[string]string{"WS_PONG_WAIT": "10s", "WS_PING_INTERVAL": "10s"}, wantErr: ErrPingInterval},
		{name: "presence ttl within ping interval", env: map[string]string{"REDIS_PRESENCE_TTL": "30s"}, wantErr: ErrPresenceTTL},
		{name: "presence ttl without pings", env: map[string]string{"WS_PING_INTERVAL": "0s", "REDIS_PRESENCE_TTL": "5m"}, wantErr: ErrPresenceTTL},
		{name: "negative cap", env: map[string]string{"MAX_CONNECTIONS_PER_IP": "-1"}, wantKey: "MAX_CONNECTIONS_PER_IP"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := FromEnv()
			if err == nil {
				t.Fatal("expected an error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
			if tt.wantKey != "" && !strings.Contains(err.Error(), tt.wantKey) {
				t.Errorf("expected error to mention %s, got %v", tt.wantKey, err)
			}
		})
	}
}

func TestLoadEnvFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "7000")

	path := filepath.Join(t.TempDir(), "test.env")
	content := "PORT=9999\nSERVER_ID=from-file\nMAX_CONNECTIONS_PER_IP=4\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != "7000" {
		t.Errorf("environment should win over the env file, got port %q", cfg.Port)
	}
	if cfg.ServerId != "from-file" || cfg.MaxConnectionsPerIP != 4 {
		t.Errorf("unexpected values from env file %+v", cfg)
	}
}

func TestLoadMissingEnvFile(t *testing.T) {
	clearEnv(t)
	if _, err := Load(filepath.Join(t.TempDir(), "missing.env")); err == nil {
		t.Error("expected missing env file to fail")
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(&buf, "debug", "json")
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	logger.Debug("hello", "component", "test")
	if !strings.Contains(buf.String(), `"component":"test"`) {
		t.Errorf("expected json output, got %q", buf.String())
	}

	buf.Reset()
	logger, err = NewLogger(&buf, "warn", "text")
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	logger.Info("dropped")
	if buf.Len() != 0 {
		t.Errorf("expected info to be filtered at warn level, got %q", buf.String())
	}

	if _, err := NewLogger(&buf, "loud", "text"); err == nil {
		t.Error("expected invalid level to fail")
	}
	if _, err := NewLogger(&buf, "info", "xml"); err == nil {
		t.Error("expected invalid format to fail")
	}
}
