package config

import (
	"fmt"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

// ServerConfig holds settings for the server runtime.
type ServerConfig struct {
	ListenAddr       string
	WebSocketAddr    string
	Database         DatabaseConfig
	JWT              JWTConfig
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	MaxFrameBytes    int
	SendBuffer       int
	HistoryLimit     int
	MaxContentLength int
	LogLevel         string
}

// ClientConfig holds settings for the terminal client.
type ClientConfig struct {
	ServerAddr    string
	CommandPrefix rune
}

// DatabaseConfig captures storage configuration. The admin account is seeded
// on migration when AdminPassword is set.
type DatabaseConfig struct {
	Path          string
	AdminUsername string
	AdminPassword string
}

// JWTConfig defines token issuance parameters.
type JWTConfig struct {
	Secret     string
	Issuer     string
	Expiration time.Duration
}

type serverEnv struct {
	ListenAddr       string        `env:"ROOMLINK_LISTEN_ADDR,default=:9000"`
	WebSocketAddr    string        `env:"ROOMLINK_WS_ADDR,default=:9080"`
	DBPath           string        `env:"ROOMLINK_DB_PATH,default=roomlink.db"`
	AdminUsername    string        `env:"ROOMLINK_ADMIN_USERNAME,default=admin"`
	AdminPassword    string        `env:"ROOMLINK_ADMIN_PASSWORD,default=admin123"`
	JWTSecret        string        `env:"ROOMLINK_JWT_SECRET,default=replace-me"`
	JWTIssuer        string        `env:"ROOMLINK_JWT_ISSUER,default=roomlink"`
	JWTExpiration    time.Duration `env:"ROOMLINK_JWT_EXPIRATION,default=24h"`
	ReadTimeout      time.Duration `env:"ROOMLINK_READ_TIMEOUT,default=15m"`
	WriteTimeout     time.Duration `env:"ROOMLINK_WRITE_TIMEOUT,default=15s"`
	MaxFrameBytes    int           `env:"ROOMLINK_MAX_FRAME_BYTES,default=1048576"`
	SendBuffer       int           `env:"ROOMLINK_SEND_BUFFER,default=64"`
	HistoryLimit     int           `env:"ROOMLINK_HISTORY_LIMIT,default=50"`
	MaxContentLength int           `env:"ROOMLINK_MAX_CONTENT_LENGTH,default=4000"`
	LogLevel         string        `env:"ROOMLINK_LOG_LEVEL,default=INFO"`
}

type clientEnv struct {
	ServerAddr    string `env:"ROOMLINK_SERVER_ADDR,default=localhost:9000"`
	CommandPrefix string `env:"ROOMLINK_COMMAND_PREFIX,default=/"`
}

// LoadServerConfig builds the server configuration from environment variables,
// reading a .env file first when one is present.
func LoadServerConfig() (ServerConfig, error) {
	_ = godotenv.Load()

	var e serverEnv
	if _, err := env.UnmarshalFromEnviron(&e); err != nil {
		return ServerConfig{}, fmt.Errorf("server config: %w", err)
	}
	cfg := ServerConfig{
		ListenAddr:    e.ListenAddr,
		WebSocketAddr: e.WebSocketAddr,
		Database: DatabaseConfig{
			Path:          e.DBPath,
			AdminUsername: e.AdminUsername,
			AdminPassword: e.AdminPassword,
		},
		JWT: JWTConfig{
			Secret:     e.JWTSecret,
			Issuer:     e.JWTIssuer,
			Expiration: e.JWTExpiration,
		},
		ReadTimeout:      e.ReadTimeout,
		WriteTimeout:     e.WriteTimeout,
		MaxFrameBytes:    e.MaxFrameBytes,
		SendBuffer:       e.SendBuffer,
		HistoryLimit:     e.HistoryLimit,
		MaxContentLength: e.MaxContentLength,
		LogLevel:         e.LogLevel,
	}
	return cfg, cfg.validate()
}

func (c ServerConfig) validate() error {
	switch {
	case c.SendBuffer <= 0:
		return fmt.Errorf("ROOMLINK_SEND_BUFFER must be positive, got %d", c.SendBuffer)
	case c.MaxFrameBytes <= 0:
		return fmt.Errorf("ROOMLINK_MAX_FRAME_BYTES must be positive, got %d", c.MaxFrameBytes)
	case c.JWT.Expiration <= 0:
		return fmt.Errorf("ROOMLINK_JWT_EXPIRATION must be positive, got %s", c.JWT.Expiration)
	}
	return nil
}

// LoadClientConfig builds the client configuration from environment variables.
func LoadClientConfig() (ClientConfig, error) {
	_ = godotenv.Load()

	var e clientEnv
	if _, err := env.UnmarshalFromEnviron(&e); err != nil {
		return ClientConfig{}, fmt.Errorf("client config: %w", err)
	}
	commandPrefix := '/'
	if runes := []rune(e.CommandPrefix); len(runes) > 0 {
		commandPrefix = runes[0]
	}
	return ClientConfig{ServerAddr: e.ServerAddr, CommandPrefix: commandPrefix}, nil
}
