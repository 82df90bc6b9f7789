package service

import (
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the resolved service configuration.  The mapstructure
// tags match the configuration keys.
type Config struct {
	HTTP      HTTPConfig      `mapstructure:"http"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Broadcast BroadcastConfig `mapstructure:"broadcast"`
	MQTT      MQTTConfig      `mapstructure:"mqtt"`
	Log       LogConfig       `mapstructure:"log"`
}

type HTTPConfig struct {
	Addr     string `mapstructure:"addr" validate:"required"`
	MaxConns int    `mapstructure:"maxConns" validate:"gte=1"`
	BasePath string `mapstructure:"basePath" validate:"omitempty,startswith=/"`
}

type StorageConfig struct {
	Driver string `mapstructure:"driver" validate:"oneof=mem bolt sqlite"`
	Path   string `mapstructure:"path" validate:"required_unless=Driver mem"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwtSecret"`
	Issuer    string        `mapstructure:"issuer"`
	KeyTTL    time.Duration `mapstructure:"keyTTL" validate:"gte=0"`

	// AccountTokens enables EdDSA tokens signed with Account keys.
	// Each such token is limited to its Account's tenant.
	AccountTokens bool `mapstructure:"accountTokens"`
}

type EngineConfig struct {
	Timeout time.Duration `mapstructure:"timeout" validate:"gt=0"`
	Retries int           `mapstructure:"retries" validate:"gte=1,lte=100"`
}

type BroadcastConfig struct {
	Concurrency     int           `mapstructure:"concurrency" validate:"gte=1"`
	DeliveryTimeout time.Duration `mapstructure:"deliveryTimeout" validate:"gte=0"`
}

type MQTTConfig struct {
	// Broker is empty to disable the bridge.
	Broker   string   `mapstructure:"broker" validate:"omitempty,url"`
	ClientID string   `mapstructure:"clientId" validate:"required_with=Broker"`
	Prefix   string   `mapstructure:"prefix" validate:"required_with=Broker"`
	Mirror   []string `mapstructure:"mirror"`
}

type LogConfig struct {
	Level   string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Console bool   `mapstructure:"console"`
}

// DefaultConfig returns the defaults.
func DefaultConfig() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Addr:     ":8080",
			MaxConns: 1024,
			BasePath: "/v1",
		},
		Storage: StorageConfig{
			Driver: "mem",
		},
		Auth: AuthConfig{
			Issuer: "automata",
			KeyTTL: 5 * time.Minute,
		},
		Engine: EngineConfig{
			Timeout: 250 * time.Millisecond,
			Retries: 3,
		},
		Broadcast: BroadcastConfig{
			Concurrency:     32,
			DeliveryTimeout: 2 * time.Second,
		},
		MQTT: MQTTConfig{
			ClientID: "automatad",
			Prefix:   "automata",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

var validate = validator.New()

// Validate checks the configuration.
func (c *Config) Validate() error {
	return validate.Struct(c)
}
