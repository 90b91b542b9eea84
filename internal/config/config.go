package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds application configuration
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	MQTT      MQTTConfig      `mapstructure:"mqtt"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	MDNS      MDNSConfig      `mapstructure:"mdns"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

type AppConfig struct {
	Port       int    `mapstructure:"port"`
	GatewayMAC string `mapstructure:"gateway_mac"`
	LogLevel   string `mapstructure:"log_level"`
	LogOutput  string `mapstructure:"log_output"`
	// APIToken protects the REST API when set
	APIToken string `mapstructure:"api_token"`
}

type MQTTConfig struct {
	Broker       string `mapstructure:"broker"`
	ClientID     string `mapstructure:"client_id"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	QoS          int    `mapstructure:"qos"`
	ControlTopic string `mapstructure:"control_topic"`
	CrudPrefix   string `mapstructure:"crud_prefix"`
}

type EngineConfig struct {
	CancelStaleTimers bool          `mapstructure:"cancel_stale_timers"`
	ProtocolType      string        `mapstructure:"protocol_type"`
	DefaultDevice     string        `mapstructure:"default_device"`
	NotifyTimeout     time.Duration `mapstructure:"notify_timeout"`
}

// DatabaseConfig enables the Postgres rule repository when URL is set
type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

// RedisConfig enables the device state mirror when Addr is set
type RedisConfig struct {
	Addr string        `mapstructure:"addr"`
	TTL  time.Duration `mapstructure:"ttl"`
}

// NotifyConfig enables send_message delivery when URL is set
type NotifyConfig struct {
	URL     string        `mapstructure:"url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type SchedulerConfig struct {
	ReloadSpec string `mapstructure:"reload_spec"`
	ResyncSpec string `mapstructure:"resync_spec"`
}

type MDNSConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	LocalName string `mapstructure:"local_name"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.port", 8080)
	v.SetDefault("app.gateway_mac", "")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_output", "stdout")
	v.SetDefault("app.api_token", "")

	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", "relaygate-engine")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.qos", 1)
	v.SetDefault("mqtt.control_topic", "modular")
	v.SetDefault("mqtt.crud_prefix", "automation")

	v.SetDefault("engine.cancel_stale_timers", true)
	v.SetDefault("engine.protocol_type", "Modular")
	v.SetDefault("engine.default_device", "RELAY")
	v.SetDefault("engine.notify_timeout", 10*time.Second)

	v.SetDefault("database.url", "")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.ttl", 24*time.Hour)

	v.SetDefault("notify.url", "")
	v.SetDefault("notify.token", "")
	v.SetDefault("notify.timeout", 10*time.Second)

	v.SetDefault("scheduler.reload_spec", "@every 5m")
	v.SetDefault("scheduler.resync_spec", "@every 1m")

	v.SetDefault("mdns.enabled", false)
	v.SetDefault("mdns.local_name", "relaygate.local")

	v.SetDefault("metrics.enabled", true)
}

// LoadConfig reads configuration from .env, config.yaml and env vars.
// Env vars use the upper-case key path, e.g. MQTT_BROKER or ENGINE_CANCEL_STALE_TIMERS.
func LoadConfig() (*Config, error) {
	// a missing .env is normal outside development
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/relaygate")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the engine cannot start with
func (c *Config) Validate() error {
	if c.MQTT.Broker == "" {
		return errors.New("mqtt.broker is required")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		return errors.New("mqtt.qos must be 0, 1 or 2")
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		return errors.New("app.port is out of range")
	}
	return nil
}
