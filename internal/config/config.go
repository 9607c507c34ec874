package config

import (
	"strings"

	nested "github.com/antonfisher/nested-logrus-formatter"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds everything the server needs to run. Values are resolved in
// order: defaults, config file, flags, environment.
type Config struct {
	Port            int     `mapstructure:"port"`
	DatabaseURL     string  `mapstructure:"database_url"`
	RedisURI        string  `mapstructure:"redis_uri"`
	CORSOrigin      string  `mapstructure:"cors_origin"`
	Level           string  `mapstructure:"level"`
	SessionTTLHours int     `mapstructure:"session_ttl_hours"`
	RateLimitRPS    float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst  int     `mapstructure:"rate_limit_burst"`
	IPSalt          string  `mapstructure:"ip_salt"`
}

// Load parses flags (typically os.Args[1:]) and merges them with the
// optional config file and the environment.
func Load(args []string) (Config, error) {
	v := viper.New()

	v.SetDefault("port", 8080)
	v.SetDefault("database_url", "sqlite://pollbox.db")
	v.SetDefault("redis_uri", "")
	v.SetDefault("cors_origin", "*")
	v.SetDefault("level", "info")
	v.SetDefault("session_ttl_hours", 72)
	v.SetDefault("rate_limit_rps", 1.0/3.0)
	v.SetDefault("rate_limit_burst", 1)
	v.SetDefault("ip_salt", "pollbox-dev-salt")

	fs := pflag.NewFlagSet("pollbox", pflag.ContinueOnError)
	fs.String("config_file", "config.yaml", "configuration filename")
	fs.Int("port", 8080, "HTTP listen port")
	fs.String("database_url", "", "sqlite:// or postgres:// connection string")
	fs.String("redis_uri", "", "address of the redis server, empty disables caching")
	fs.String("cors_origin", "", "allowed CORS origin")
	fs.String("level", "info", "log level")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if err := v.BindPFlags(fs); err != nil {
		return Config{}, err
	}

	v.SetConfigFile(v.GetString("config_file"))
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		log.Debugf("no config file loaded: %v", err)
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// InitLogging configures logrus from the configured level.
func InitLogging(level string) {
	if l, err := log.ParseLevel(level); err == nil {
		log.SetLevel(l)
	}
	log.SetFormatter(&nested.Formatter{
		HideKeys:    true,
		FieldsOrder: []string{"component", "category"},
	})
}
