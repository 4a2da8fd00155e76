// Package config loads the server configuration from an optional .env file
// and the process environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	"wssimple/infrastructure/ws"

	"github.com/joho/godotenv"
)

const (
	DefaultPort            = "8080"
	DefaultServerId        = "server-1"
	DefaultJWTIssuer       = "wssimple"
	DefaultJWTTTL          = 15 * time.Minute
	DefaultShutdownTimeout = 10 * time.Second
	DefaultRedisChannel    = "wssimple:broadcast"
)

var (
	ErrJWTSecretRequired = errors.New("config: JWT_SECRET is required when AUTH_REQUIRED is set")
	ErrPingInterval      = errors.New("config: WS_PING_INTERVAL must be shorter than WS_PONG_WAIT")
	ErrPresenceTTL       = errors.New("config: REDIS_PRESENCE_TTL must be longer than WS_PING_INTERVAL")
)

type Config struct {
	Port     string
	ServerId string

	LogLevel  string
	LogFormat string

	JWTSecret    string
	JWTIssuer    string
	JWTTTL       time.Duration
	AuthRequired bool

	// AdminAPIKeyHash is a bcrypt hash; the admin API is open when empty.
	AdminAPIKeyHash string

	// MaxConnectionsPerIP caps concurrent websocket connections per client
	// address. Zero means no cap.
	MaxConnectionsPerIP int

	// AllowedOrigins lists accepted Origin headers for the upgrade. Empty
	// accepts any origin.
	AllowedOrigins []string

	// TrustProxy takes the client address from X-Forwarded-For / X-Real-IP.
	// Only enable it behind a proxy that overwrites those headers.
	TrustProxy bool

	MongoURI      string
	MongoDatabase string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisChannel  string

	// RedisPresenceTTL expires presence keys of connections whose node stopped
	// pinging. Live connections are refreshed on every ping.
	RedisPresenceTTL time.Duration

	WS ws.Config

	ShutdownTimeout time.Duration
}

// Load reads envFile into the environment, without overriding variables
// already set, and builds a Config from it. An empty envFile loads ./.env
// when present.
func Load(envFile string) (Config, error) {
	if envFile == "" {
		if _, err := os.Stat(".env"); err == nil {
			if err := godotenv.Load(); err != nil {
				return Config{}, fmt.Errorf("config: load .env: %w", err)
			}
		}
	} else if err := godotenv.Load(envFile); err != nil {
		return Config{}, fmt.Errorf("config: load %s: %w", envFile, err)
	}

	return FromEnv()
}

func FromEnv() (Config, error) {
	p := parser{}
	wsDefaults := ws.DefaultConfig()

	cfg := Config{
		Port:      stringEnv("PORT", DefaultPort),
		ServerId:  stringEnv("SERVER_ID", DefaultServerId),
		LogLevel:  stringEnv("LOG_LEVEL", "info"),
		LogFormat: stringEnv("LOG_FORMAT", "text"),

		JWTSecret:    os.Getenv("JWT_SECRET"),
		JWTIssuer:    stringEnv("JWT_ISSUER", DefaultJWTIssuer),
		JWTTTL:       p.durationEnv("JWT_TTL", DefaultJWTTTL),
		AuthRequired: p.boolEnv("AUTH_REQUIRED", false),

		AdminAPIKeyHash:     os.Getenv("ADMIN_API_KEY_HASH"),
		MaxConnectionsPerIP: p.intEnv("MAX_CONNECTIONS_PER_IP", 0),
		AllowedOrigins:      listEnv("ALLOWED_ORIGINS"),
		TrustProxy:          p.boolEnv("TRUST_PROXY", false),

		MongoURI:      os.Getenv("MONGODB_URI"),
		MongoDatabase: stringEnv("MONGODB_DATABASE", "wssimple"),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       p.intEnv("REDIS_DB", 0),
		RedisChannel:  stringEnv("REDIS_CHANNEL", DefaultRedisChannel),

		WS: ws.Config{
			WriteWait:    p.durationEnv("WS_WRITE_WAIT", wsDefaults.WriteWait),
			PongWait:     p.durationEnv("WS_PONG_WAIT", wsDefaults.PongWait),
			PingInterval: p.durationEnv("WS_PING_INTERVAL", wsDefaults.PingInterval),
			ReadLimit:    int64(p.intEnv("WS_READ_LIMIT", int(wsDefaults.ReadLimit))),
		},

		ShutdownTimeout: p.durationEnv("SHUTDOWN_TIMEOUT", DefaultShutdownTimeout),
	}

	var defaultPresenceTTL time.Duration
	if cfg.WS.PingInterval > 0 {
		defaultPresenceTTL = 3 * cfg.WS.PingInterval
	}
	cfg.RedisPresenceTTL = p.durationEnv("REDIS_PRESENCE_TTL", defaultPresenceTTL)

	if p.err != nil {
		return Config{}, p.err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.AuthRequired && c.JWTSecret == "" {
		return ErrJWTSecretRequired
	}
	if c.WS.PingInterval > 0 && c.WS.PongWait > 0 && c.WS.PingInterval >= c.WS.PongWait {
		return ErrPingInterval
	}
	if c.RedisPresenceTTL > 0 && (c.WS.PingInterval <= 0 || c.RedisPresenceTTL <= c.WS.PingInterval) {
		return ErrPresenceTTL
	}
	if c.MaxConnectionsPerIP < 0 {
		return errors.New("config: MAX_CONNECTIONS_PER_IP must not be negative")
	}
	return nil
}

// parser keeps the first parse error so FromEnv can read every key in one pass.
type parser struct {
	err error
}

func (p *parser) fail(key, value string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("config: invalid %s %q: %w", key, value, err)
	}
}

func (p *parser) durationEnv(key string, fallback time.Duration) time.Duration {
	value, ok := lookup(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		p.fail(key, value, err)
		return fallback
	}
	return d
}

func (p *parser) intEnv(key string, fallback int) int {
	value, ok := lookup(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		p.fail(key, value, err)
		return fallback
	}
	return n
}

func (p *parser) boolEnv(key string, fallback bool) bool {
	value, ok := lookup(key)
	if !ok {
		return fallback
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		p.fail(key, value, err)
		return fallback
	}
	return b
}

func lookup(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	value = strings.TrimSpace(value)
	return value, ok && value != ""
}

func stringEnv(key, fallback string) string {
	if value, ok := lookup(key); ok {
		return value
	}
	return fallback
}

func listEnv(key string) []string {
	value, ok := lookup(key)
	if !ok {
		return nil
	}
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
