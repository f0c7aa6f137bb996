package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/spf13/viper"
)

type Config struct {
	Database struct {
		Driver  string `mapstructure:"driver"` // sqlite | postgres
		Primary struct {
			DSN      string `mapstructure:"dsn"`
			MaxConns int32  `mapstructure:"max_conns"`
		} `mapstructure:"primary"`
		SQLite struct {
			Path string `mapstructure:"path"`
		} `mapstructure:"sqlite"`
	} `mapstructure:"database"`

	Redis struct {
		Address  string `mapstructure:"address"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
		URL      string `mapstructure:"url"` // overrides the fields above when set
	} `mapstructure:"redis"`

	Worker struct {
		Concurrency     int            `mapstructure:"concurrency"`
		Queues          map[string]int `mapstructure:"queues"`
		ShutdownTimeout time.Duration  `mapstructure:"shutdown_timeout"`
	} `mapstructure:"worker"`

	Transcription struct {
		Provider       string        `mapstructure:"provider"` // openai | gemini | whispercpp
		Model          string        `mapstructure:"model"`
		OpenaiApiKey   string        `mapstructure:"openai_api_key"`
		OpenaiBaseURL  string        `mapstructure:"openai_base_url"`
		GeminiApiKey   string        `mapstructure:"gemini_api_key"`
		Prompt         string        `mapstructure:"prompt"` // Gemini prompt file
		MaxRetries     int           `mapstructure:"max_retries"`
		RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`
		Timeout        time.Duration `mapstructure:"timeout"`
		Retention      time.Duration `mapstructure:"retention"` // how long asynq keeps finished tasks
		WhisperCPP     struct {
			Binary   string `mapstructure:"binary"`
			FFmpeg   string `mapstructure:"ffmpeg"`
			ModelDir string `mapstructure:"model_dir"`
			Threads  int    `mapstructure:"threads"`
		} `mapstructure:"whisper_cpp"`
	} `mapstructure:"transcription"`

	Storage struct {
		TempDir        string `mapstructure:"temp_dir"`
		MaxUploadBytes int64  `mapstructure:"max_upload_bytes"`
	} `mapstructure:"storage"`

	Janitor struct {
		Enabled    bool          `mapstructure:"enabled"`
		Interval   time.Duration `mapstructure:"interval"`
		Retention  time.Duration `mapstructure:"retention"`
		Extensions []string      `mapstructure:"extensions"`
	} `mapstructure:"janitor"`

	Server struct {
		Address string `mapstructure:"address"`
		Mode    string `mapstructure:"mode"` // gin mode: debug | release | test
	} `mapstructure:"server"`

	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"` // text | json
	} `mapstructure:"log"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.sqlite.path", "avtranscribe.db")
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("worker.concurrency", 2)
	v.SetDefault("worker.queues", map[string]int{"transcriptions": 1})
	v.SetDefault("worker.shutdown_timeout", "30s")
	v.SetDefault("transcription.provider", "openai")
	v.SetDefault("transcription.model", "whisper-1")
	v.SetDefault("transcription.max_retries", 3)
	v.SetDefault("transcription.retry_base_delay", "60s")
	v.SetDefault("transcription.timeout", "2h")
	v.SetDefault("transcription.retention", "24h")
	v.SetDefault("transcription.whisper_cpp.binary", "whisper-cli")
	v.SetDefault("storage.temp_dir", "/tmp")
	v.SetDefault("storage.max_upload_bytes", 100*1024*1024)
	v.SetDefault("janitor.enabled", true)
	v.SetDefault("janitor.interval", "1h")
	v.SetDefault("janitor.retention", "24h")
	v.SetDefault("janitor.extensions", []string{".mp3", ".wav", ".mp4", ".avi", ".mov", ".txt", ".csv"})
	v.SetDefault("server.address", ":8000")
	v.SetDefault("server.mode", "release")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// LoadConfig reads config.yaml from the working directory plus AVT_* environment variables.
func LoadConfig() (*Config, error) {
	return Load("")
}

// Load reads the config file at path, or config.yaml in the working directory when path is empty.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".") // Look for config.yaml in the current directory
	}
	setDefaults(v)

	// transcription.max_retries -> AVT_TRANSCRIPTION_MAX_RETRIES
	v.SetEnvPrefix("AVT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Well-known variables work without the prefix.
	v.BindEnv("transcription.openai_api_key", "AVT_TRANSCRIPTION_OPENAI_API_KEY", "OPENAI_API_KEY")
	v.BindEnv("transcription.gemini_api_key", "AVT_TRANSCRIPTION_GEMINI_API_KEY", "GEMINI_API_KEY")
	v.BindEnv("transcription.model", "AVT_TRANSCRIPTION_MODEL", "WHISPER_MODEL")
	v.BindEnv("redis.url", "AVT_REDIS_URL", "REDIS_URL")
	v.BindEnv("database.primary.dsn", "AVT_DATABASE_PRIMARY_DSN", "DATABASE_URL")

	if err := v.ReadInConfig(); err != nil {
		// It's okay if the config file doesn't exist, Viper might rely solely on env vars
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error decoding config: %w", err)
	}
	return &config, nil
}

// RedisOpt returns the asynq connection settings.
func (c *Config) RedisOpt() (asynq.RedisClientOpt, error) {
	if c.Redis.URL != "" {
		opt, err := asynq.ParseRedisURI(c.Redis.URL)
		if err != nil {
			return asynq.RedisClientOpt{}, fmt.Errorf("invalid redis.url: %w", err)
		}
		client, ok := opt.(asynq.RedisClientOpt)
		if !ok {
			return asynq.RedisClientOpt{}, fmt.Errorf("redis.url must point at a single redis server")
		}
		return client, nil
	}
	return asynq.RedisClientOpt{
		Addr:     c.Redis.Address,
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
	}, nil
}

// ModelName returns the configured model, falling back to each provider's default.
func (c *Config) ModelName() string {
	if c.Transcription.Model != "" {
		return c.Transcription.Model
	}
	switch c.Transcription.Provider {
	case "gemini":
		return "gemini-1.5-flash"
	case "whispercpp", "whisper.cpp":
		return "base"
	default:
		return "whisper-1"
	}
}
