package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	LogLevel string `mapstructure:"log_level"`

	// rendezvous server
	Mode             string        `mapstructure:"mode"`
	Port             int           `mapstructure:"port"`
	ReadLimit        int64         `mapstructure:"read_limit"`
	PingPeriod       time.Duration `mapstructure:"ping_period"`
	Secret           string        `mapstructure:"secret"`
	AnnounceLimit    int           `mapstructure:"announce_limit"`
	AnnounceInterval time.Duration `mapstructure:"announce_interval"`

	// client
	Trackers   []string `mapstructure:"trackers"`
	ICEServers []string `mapstructure:"ice_servers"`
	Room       string   `mapstructure:"room"`
	Nickname   string   `mapstructure:"nickname"`
	Microphone string   `mapstructure:"microphone"`
	RecordDir  string   `mapstructure:"record_dir"`
	VAD        bool     `mapstructure:"vad"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("read_limit", 65536)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("secret", "")
	v.SetDefault("announce_limit", 5)
	v.SetDefault("announce_interval", "10s")

	v.SetDefault("trackers", []string{"ws://127.0.0.1:8080/api/ws/signal"})
	v.SetDefault("ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("room", "")
	v.SetDefault("nickname", "")
	v.SetDefault("microphone", "")
	v.SetDefault("record_dir", "")
	v.SetDefault("vad", false)
}

// Load reads config/config.<CONFIG_ENV>.yaml over the defaults, then VOICE_*
// environment variables, then any flags that were set explicitly.
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	setDefaults(v)

	v.SetEnvPrefix("voice")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("failed to bind flags: %w", err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	log.Debug().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Strs("trackers", cfg.Trackers).Msg("config")
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.AnnounceLimit <= 0 {
		return fmt.Errorf("announce_limit must be positive, got %d", c.AnnounceLimit)
	}
	if c.PingPeriod <= 0 {
		return fmt.Errorf("ping_period must be positive, got %s", c.PingPeriod)
	}
	return nil
}
