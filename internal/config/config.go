package config

import (
	"os"
	"time"

	"subvox/pkg/logger"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

const configPath = "configs/config.yaml"

type Config struct {
	OpenAI struct {
		BaseURL  string        `yaml:"base_url" env:"OPENAI_BASE_URL"`
		APIKey   string        `yaml:"api_key" env:"OPENAI_API_KEY"`
		Model    string        `yaml:"model" env:"OPENAI_MODEL" env-default:"gpt-4o-mini"`
		CacheTTL time.Duration `yaml:"cache_ttl" env:"CHAT_CACHE_TTL" env-default:"1h"`
		Timeout  time.Duration `yaml:"timeout" env:"CHAT_TIMEOUT" env-default:"60s"`
	} `yaml:"openai"`

	TTS struct {
		Provider     string        `yaml:"provider" env:"TTS_PROVIDER" env-default:"openai"`
		Model        string        `yaml:"model" env:"TTS_MODEL" env-default:"tts-1"`
		APIKey       string        `yaml:"api_key" env:"TTS_API_KEY"`
		BaseURL      string        `yaml:"base_url" env:"TTS_BASE_URL"`
		Voice        string        `yaml:"voice" env:"TTS_VOICE"`
		Format       string        `yaml:"format" env:"TTS_FORMAT" env-default:"mp3"`
		SampleRate   int           `yaml:"sample_rate" env:"TTS_SAMPLE_RATE" env-default:"32000"`
		Speed        float64       `yaml:"speed" env:"TTS_SPEED" env-default:"1.0"`
		Gain         float64       `yaml:"gain" env:"TTS_GAIN" env-default:"0"`
		Streaming    bool          `yaml:"streaming" env:"TTS_STREAMING" env-default:"true"`
		Prompt       string        `yaml:"prompt" env:"TTS_PROMPT"`
		CacheEnabled bool          `yaml:"cache_enabled" env:"TTS_CACHE_ENABLED" env-default:"true"`
		CacheTTL     time.Duration `yaml:"cache_ttl" env:"TTS_CACHE_TTL" env-default:"720h"`
		Timeout      time.Duration `yaml:"timeout" env:"TTS_TIMEOUT" env-default:"120s"`
	} `yaml:"tts"`

	Cache struct {
		Backend string `yaml:"backend" env:"CACHE_BACKEND" env-default:"memory"`
		Redis   struct {
			Addr     string `yaml:"addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
			Password string `yaml:"password" env:"REDIS_PASSWORD" env-default:""`
			DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
		} `yaml:"redis"`
	} `yaml:"cache"`

	Worker struct {
		ThreadNum int `yaml:"thread_num" env:"THREAD_NUM" env-default:"4"`
	} `yaml:"worker"`

	Pipeline struct {
		TranslatePrompt string `yaml:"translate_prompt" env:"TRANSLATE_PROMPT" env-default:"Translate the following subtitle lines. Return exactly one output line per input line."`
	} `yaml:"pipeline"`

	Log struct {
		RequestLogPath string `yaml:"request_log_path" env:"REQUEST_LOG_PATH" env-default:"logs/api_requests.jsonl"`
		RotateSize     int64  `yaml:"rotate_size" env:"REQUEST_LOG_ROTATE_SIZE" env-default:"10485760"`
		Debug          bool   `yaml:"debug" env:"LOG_DEBUG" env-default:"false"`
	} `yaml:"log"`
}

func LoadConfig() (*Config, error) {
	// Load .env file
	_ = godotenv.Load()

	var cfg Config
	if _, err := os.Stat(configPath); err == nil {
		if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
			return nil, err
		}
	} else {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, err
		}
	}

	logger.Info("Config loaded successfully")
	return &cfg, nil
}
