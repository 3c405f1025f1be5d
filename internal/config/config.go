package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

const defaultExternalHTTPTimeout = 90 * time.Second
const defaultExternalHTTPTimeoutSeconds = int(defaultExternalHTTPTimeout / time.Second)

const DefaultBakeryName = "Panaderia Quilantan"

type Config struct {
	BakeryName string `yaml:"bakery_name"`
	TuningPath string `yaml:"tuning_path"`

	LLMProvider       string `yaml:"llm_provider"`
	LLMModel          string `yaml:"llm_model"`
	AnthropicAPIKey   string `yaml:"anthropic_api_key"`
	OpenAIAPIKey      string `yaml:"openai_api_key"`
	LLMTimeoutSeconds int    `yaml:"llm_timeout_seconds"`
	LLMMaxConcurrent  int    `yaml:"llm_max_concurrent"`

	AnalysisWorkers int `yaml:"analysis_workers"`
	JobWorkers      int `yaml:"job_workers"`
	JobQueueSize    int `yaml:"job_queue_size"`

	DBPath                     string `yaml:"db_path"`
	ReportOutputDir            string `yaml:"report_output_dir"`
	ExternalHTTPTimeoutSeconds int    `yaml:"external_http_timeout_seconds"`
	HTTPAddr                   string `yaml:"http_addr"`

	SlackBotToken   string `yaml:"slack_bot_token"`
	SlackAppToken   string `yaml:"slack_app_token"`
	ReportChannelID string `yaml:"report_channel_id"`

	ReanalysisSchedule string `yaml:"reanalysis_schedule"`
	Timezone           string `yaml:"timezone"`

	Location *time.Location `yaml:"-"` // computed from Timezone, not from YAML
}

func LoadConfig() Config {
	var cfg Config

	configPath := "config.yaml"
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		configPath = envPath
	}
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			log.Fatalf("Error parsing %s: %v", configPath, err)
		}
		log.Printf("Loaded config from %s", configPath)
	}

	envOverride(&cfg.BakeryName, "BAKERY_NAME")
	envOverride(&cfg.TuningPath, "TUNING_PATH")
	envOverride(&cfg.LLMProvider, "LLM_PROVIDER")
	envOverride(&cfg.LLMModel, "LLM_MODEL")
	envOverride(&cfg.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	envOverride(&cfg.OpenAIAPIKey, "OPENAI_API_KEY")
	envOverrideInt(&cfg.LLMTimeoutSeconds, "LLM_TIMEOUT_SECONDS")
	envOverrideInt(&cfg.LLMMaxConcurrent, "LLM_MAX_CONCURRENT")
	envOverrideInt(&cfg.AnalysisWorkers, "ANALYSIS_WORKERS")
	envOverrideInt(&cfg.JobWorkers, "JOB_WORKERS")
	envOverrideInt(&cfg.JobQueueSize, "JOB_QUEUE_SIZE")
	envOverride(&cfg.DBPath, "DB_PATH")
	envOverride(&cfg.ReportOutputDir, "REPORT_OUTPUT_DIR")
	envOverrideInt(&cfg.ExternalHTTPTimeoutSeconds, "EXTERNAL_HTTP_TIMEOUT_SECONDS")
	envOverride(&cfg.HTTPAddr, "HTTP_ADDR")
	envOverride(&cfg.SlackBotToken, "SLACK_BOT_TOKEN")
	envOverride(&cfg.SlackAppToken, "SLACK_APP_TOKEN")
	envOverride(&cfg.ReportChannelID, "REPORT_CHANNEL_ID")
	envOverrideAllowEmpty(&cfg.ReanalysisSchedule, "REANALYSIS_SCHEDULE")
	envOverride(&cfg.Timezone, "TIMEZONE")

	if cfg.BakeryName == "" {
		cfg.BakeryName = DefaultBakeryName
	}
	cfg.LLMProvider = strings.ToLower(strings.TrimSpace(cfg.LLMProvider))
	if cfg.LLMProvider == "" {
		switch {
		case cfg.AnthropicAPIKey != "":
			cfg.LLMProvider = "anthropic"
		case cfg.OpenAIAPIKey != "":
			cfg.LLMProvider = "openai"
		default:
			cfg.LLMProvider = "none"
		}
	}
	if cfg.LLMTimeoutSeconds == 0 {
		cfg.LLMTimeoutSeconds = 20
	}
	if cfg.LLMMaxConcurrent == 0 {
		cfg.LLMMaxConcurrent = 4
	}
	if cfg.AnalysisWorkers == 0 {
		cfg.AnalysisWorkers = 8
	}
	if cfg.JobWorkers == 0 {
		cfg.JobWorkers = 2
	}
	if cfg.JobQueueSize == 0 {
		cfg.JobQueueSize = 64
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "./panwhat.db"
	}
	if cfg.ReportOutputDir == "" {
		cfg.ReportOutputDir = "./reports"
	}
	if cfg.ExternalHTTPTimeoutSeconds == 0 {
		cfg.ExternalHTTPTimeoutSeconds = defaultExternalHTTPTimeoutSeconds
	}
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "Local"
	}

	if (cfg.SlackBotToken == "") != (cfg.SlackAppToken == "") {
		log.Fatalf("slack_bot_token and slack_app_token must be set together")
	}

	switch cfg.LLMProvider {
	case "none":
	case "anthropic":
		if cfg.AnthropicAPIKey == "" {
			log.Fatalf("anthropic_api_key is required when llm_provider=anthropic")
		}
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			log.Fatalf("openai_api_key is required when llm_provider=openai")
		}
	default:
		log.Fatalf("llm_provider must be 'none', 'anthropic' or 'openai', got '%s'", cfg.LLMProvider)
	}

	if strings.EqualFold(cfg.Timezone, "Local") {
		cfg.Location = time.Local
	} else {
		loc, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			log.Fatalf("invalid timezone '%s': %v", cfg.Timezone, err)
		}
		cfg.Location = loc
	}

	if cfg.ReanalysisSchedule != "" {
		if _, err := ParseSchedule(cfg.ReanalysisSchedule); err != nil {
			log.Fatalf("invalid reanalysis_schedule '%s': %v", cfg.ReanalysisSchedule, err)
		}
	}
	if cfg.LLMTimeoutSeconds < 1 {
		log.Fatalf("invalid llm_timeout_seconds '%d': must be >= 1", cfg.LLMTimeoutSeconds)
	}
	if cfg.LLMMaxConcurrent < 1 {
		log.Fatalf("invalid llm_max_concurrent '%d': must be >= 1", cfg.LLMMaxConcurrent)
	}
	if cfg.AnalysisWorkers < 1 {
		log.Fatalf("invalid analysis_workers '%d': must be >= 1", cfg.AnalysisWorkers)
	}
	if cfg.JobWorkers < 1 {
		log.Fatalf("invalid job_workers '%d': must be >= 1", cfg.JobWorkers)
	}
	if cfg.JobQueueSize < 1 {
		log.Fatalf("invalid job_queue_size '%d': must be >= 1", cfg.JobQueueSize)
	}
	if cfg.ExternalHTTPTimeoutSeconds < 5 {
		log.Fatalf("invalid external_http_timeout_seconds '%d': must be >= 5", cfg.ExternalHTTPTimeoutSeconds)
	}
	if cfg.TuningPath != "" {
		if _, err := os.Stat(cfg.TuningPath); err != nil {
			log.Fatalf("invalid tuning_path '%s': %v", cfg.TuningPath, err)
		}
	}

	return cfg
}

func envOverride(field *string, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = val
	}
}

func envOverrideAllowEmpty(field *string, envKey string) {
	if val, ok := os.LookupEnv(envKey); ok {
		*field = val
	}
}

func envOverrideInt(field *int, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			log.Fatalf("invalid %s '%s': %v", envKey, val, err)
		}
		*field = parsed
	}
}

func (c Config) SlackConfigured() bool {
	return c.SlackBotToken != "" && c.SlackAppToken != ""
}

func (c Config) LLMEnabled() bool {
	return c.LLMProvider != "" && c.LLMProvider != "none"
}

func (c Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLMTimeoutSeconds) * time.Second
}

// ParseSchedule parses a standard 5-field cron expression.
func ParseSchedule(spec string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return parser.Parse(spec)
}
