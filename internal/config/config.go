package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dkeye/VoiceChat/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode        string        `mapstructure:"mode"`
	Port        int           `mapstructure:"port"`
	StaticPath  string        `mapstructure:"static_path"`
	Secret      string        `mapstructure:"secret"`
	LogLevel    string        `mapstructure:"log_level"`
	MaxSessions int           `mapstructure:"max_sessions"`
	LeaseTTL    time.Duration `mapstructure:"lease_ttl"`
	PromptModel string        `mapstructure:"prompt_model"`
	ReadLimit   int64         `mapstructure:"read_limit"`
	PingPeriod  time.Duration `mapstructure:"ping_period"`

	OpenAI    OpenAIConfig `mapstructure:"openai"`
	TokenRate RateConfig   `mapstructure:"token_rate"`
	Client    ClientConfig `mapstructure:"client"`
}

type OpenAIConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type RateConfig struct {
	Limit    int           `mapstructure:"limit"`
	Interval time.Duration `mapstructure:"interval"`
}

// ClientConfig drives cmd/voicechat.
type ClientConfig struct {
	BackendURL    string        `mapstructure:"backend_url"`
	RealtimeURL   string        `mapstructure:"realtime_url"`
	ControlAddr   string        `mapstructure:"control_addr"`
	SessionBudget time.Duration `mapstructure:"session_budget"`
	DevicePoll    time.Duration `mapstructure:"device_poll"`
	MeterPeriod   time.Duration `mapstructure:"meter_period"`
	ICEServers    []string      `mapstructure:"ice_servers"`
	// PipeDevices maps a device id to a raw PCM capture path.
	PipeDevices map[string]string `mapstructure:"pipe_devices"`
	Playback    string            `mapstructure:"playback"`

	Model        string  `mapstructure:"model"`
	Voice        string  `mapstructure:"voice"`
	Temperature  float64 `mapstructure:"temperature"`
	Instructions string  `mapstructure:"instructions"`
	MicrophoneID string  `mapstructure:"microphone_id"`
	StartMuted   bool    `mapstructure:"start_muted"`
}

func (c ClientConfig) Session() domain.SessionConfig {
	return domain.SessionConfig{
		Model:        c.Model,
		Voice:        c.Voice,
		Instructions: domain.TruncateInstructions(c.Instructions),
		Temperature:  c.Temperature,
		MicrophoneID: c.MicrophoneID,
		StartMuted:   c.StartMuted,
	}
}

func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || c.LogLevel == "" {
		return zerolog.InfoLevel
	}
	return lvl
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 3011)
	v.SetDefault("static_path", "./web")
	v.SetDefault("secret", "voicechat-dev-secret")
	v.SetDefault("log_level", "info")
	v.SetDefault("max_sessions", 20)
	v.SetDefault("lease_ttl", "7m")
	v.SetDefault("prompt_model", "gpt-3.5-turbo")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")

	v.SetDefault("openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.timeout", "30s")
	v.SetDefault("token_rate.limit", 10)
	v.SetDefault("token_rate.interval", "1m")

	v.SetDefault("client.backend_url", "http://localhost:3011")
	v.SetDefault("client.realtime_url", "https://api.openai.com/v1/realtime")
	v.SetDefault("client.control_addr", "127.0.0.1:3012")
	v.SetDefault("client.session_budget", "360s")
	v.SetDefault("client.device_poll", "2s")
	v.SetDefault("client.meter_period", "100ms")
	v.SetDefault("client.ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("client.pipe_devices", map[string]string{})
	v.SetDefault("client.playback", "")
	v.SetDefault("client.model", domain.DefaultModel)
	v.SetDefault("client.voice", domain.DefaultVoice)
	v.SetDefault("client.temperature", domain.DefaultTemperature)
	v.SetDefault("client.instructions", "")
	v.SetDefault("client.microphone_id", "")
	v.SetDefault("client.start_muted", false)
}

// Load reads config/config.<CONFIG_ENV>.yaml over the defaults. VOICE_*
// variables override file values; OPENAI_API_KEY is honoured as is.
func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)

	setDefaults(v)
	v.SetEnvPrefix("VOICE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("openai.api_key", "VOICE_OPENAI_API_KEY", "OPENAI_API_KEY"); err != nil {
		return nil, fmt.Errorf("bind env: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("config loaded")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Client.Session().Validate(); err != nil {
		return nil, fmt.Errorf("client session config: %w", err)
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Int("max_sessions", cfg.MaxSessions).Msg("config ready")
	return &cfg, nil
}
