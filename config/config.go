package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the report service
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Search    SearchConfig    `mapstructure:"search"`
	Workflow  WorkflowConfig  `mapstructure:"workflow"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
}

// ServerConfig contains HTTP server and auth settings
type ServerConfig struct {
	Address        string        `mapstructure:"address"`
	APIKeys        []string      `mapstructure:"api_keys"`
	APIKeyHashes   []string      `mapstructure:"api_key_hashes"` // bcrypt hashes
	JWTSecret      string        `mapstructure:"jwt_secret"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	WarmupPeriod   time.Duration `mapstructure:"warmup_period"`
}

// Validate ensures at least one way of authenticating clients exists.
func (s ServerConfig) Validate() error {
	if len(s.APIKeys) == 0 && len(s.APIKeyHashes) == 0 && strings.TrimSpace(s.JWTSecret) == "" {
		return errors.New("server: one of api_keys, api_key_hashes or jwt_secret is required")
	}
	return nil
}

// LLMConfig contains LLM provider configurations and the model bound to each role
type LLMConfig struct {
	Providers map[string]LLMProvider `mapstructure:"providers"`
	Planner   RoleConfig             `mapstructure:"planner"`
	Writer    RoleConfig             `mapstructure:"writer"`
}

// LLMProvider represents a single LLM provider configuration
type LLMProvider struct {
	Type    string        `mapstructure:"type"` // openai, anthropic, ollama, groq
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// RoleConfig selects the provider and model used for a workflow role.
type RoleConfig struct {
	Provider    string  `mapstructure:"provider"`
	Model       string  `mapstructure:"model"`
	Temperature float64 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// Validate checks that every role points at a configured provider.
func (l LLMConfig) Validate() error {
	for role, rc := range map[string]RoleConfig{"planner": l.Planner, "writer": l.Writer} {
		if strings.TrimSpace(rc.Provider) == "" || strings.TrimSpace(rc.Model) == "" {
			return fmt.Errorf("llm.%s: provider and model are required", role)
		}
		if _, ok := l.Providers[rc.Provider]; !ok {
			return fmt.Errorf("llm.%s: provider %q is not configured under llm.providers", role, rc.Provider)
		}
	}
	return nil
}

// SearchConfig contains web search settings
type SearchConfig struct {
	API                string                          `mapstructure:"api"`
	APIConfig          map[string]interface{}          `mapstructure:"api_config"`
	Providers          map[string]SearchProviderConfig `mapstructure:"providers"`
	MaxResults         int                             `mapstructure:"max_results"`
	MaxTokensPerSource int                             `mapstructure:"max_tokens_per_source"`
	Timeout            time.Duration                   `mapstructure:"timeout"`
	RequestsPerSecond  float64                         `mapstructure:"requests_per_second"`
	Burst              int                             `mapstructure:"burst"`
	Fetch              FetchConfig                     `mapstructure:"fetch"`
	Rank               RankConfig                      `mapstructure:"rank"`
	Cache              CacheConfig                     `mapstructure:"cache"`
	Sources            SourcePolicyConfig              `mapstructure:"sources"`
}

// SearchProviderConfig holds credentials for one search API.
type SearchProviderConfig struct {
	APIKey   string `mapstructure:"api_key"`
	Endpoint string `mapstructure:"endpoint"`
}

// FetchConfig controls full-page content extraction for search hits.
type FetchConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Renderer string        `mapstructure:"renderer"` // http or chromedp
	MaxChars int           `mapstructure:"max_chars"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// RankConfig controls BM25 reranking of merged search hits.
type RankConfig struct {
	Enabled bool `mapstructure:"enabled"`
	TopK    int  `mapstructure:"top_k"`
}

// CacheConfig controls the redis-backed search context cache.
type CacheConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	TTL     time.Duration `mapstructure:"ttl"`
}

// Normalize applies defaults for unset search values.
func (s SearchConfig) Normalize() SearchConfig {
	s.API = strings.ToLower(strings.TrimSpace(s.API))
	if s.API == "" {
		s.API = "tavily"
	}
	if s.MaxResults <= 0 {
		s.MaxResults = 5
	}
	if s.MaxTokensPerSource <= 0 {
		s.MaxTokensPerSource = 1000
	}
	if s.Timeout <= 0 {
		s.Timeout = 15 * time.Second
	}
	if s.Burst <= 0 {
		s.Burst = 1
	}
	if s.Fetch.Renderer == "" {
		s.Fetch.Renderer = "http"
	}
	if s.Fetch.MaxChars <= 0 {
		s.Fetch.MaxChars = 8000
	}
	if s.Fetch.Timeout <= 0 {
		s.Fetch.Timeout = 20 * time.Second
	}
	if s.Rank.TopK <= 0 {
		s.Rank.TopK = 10
	}
	if s.Cache.TTL <= 0 {
		s.Cache.TTL = time.Hour
	}
	s.Sources = s.Sources.Normalize()
	return s
}

// Validate checks the search configuration.
func (s SearchConfig) Validate() error {
	switch s.Fetch.Renderer {
	case "http", "chromedp":
	default:
		return fmt.Errorf("search.fetch.renderer must be http or chromedp, got %q", s.Fetch.Renderer)
	}
	if s.RequestsPerSecond < 0 {
		return errors.New("search.requests_per_second cannot be negative")
	}
	return s.Sources.Validate()
}

// WorkflowConfig contains the report workflow defaults
type WorkflowConfig struct {
	ReportStructure       string        `mapstructure:"report_structure"`
	NumberOfQueries       int           `mapstructure:"number_of_queries"`
	MaxSearchDepth        int           `mapstructure:"max_search_depth"`
	StageTimeout          time.Duration `mapstructure:"stage_timeout"`
	MaxPlanRevisions      int           `mapstructure:"max_plan_revisions"`
	FallbackOnError       bool          `mapstructure:"fallback_on_error"`
	// 0 runs every section of a stage at once
	MaxConcurrentSections int           `mapstructure:"max_concurrent_sections"`
	StageRetries          int           `mapstructure:"stage_retries"`
	StageRetryDelay       time.Duration `mapstructure:"stage_retry_delay"`
}

// Normalize applies defaults for unset workflow values.
func (w WorkflowConfig) Normalize() WorkflowConfig {
	if strings.TrimSpace(w.ReportStructure) == "" {
		w.ReportStructure = DefaultReportStructure
	}
	if w.NumberOfQueries <= 0 {
		w.NumberOfQueries = 2
	}
	if w.MaxSearchDepth == 0 {
		w.MaxSearchDepth = 2
	}
	if w.MaxPlanRevisions <= 0 {
		w.MaxPlanRevisions = 3
	}
	return w
}

// Validate checks the workflow configuration.
func (w WorkflowConfig) Validate() error {
	if w.MaxSearchDepth < 0 {
		return errors.New("workflow.max_search_depth cannot be negative")
	}
	if w.StageTimeout < 0 {
		return errors.New("workflow.stage_timeout cannot be negative")
	}
	if w.MaxConcurrentSections < 0 {
		return errors.New("workflow.max_concurrent_sections cannot be negative")
	}
	if w.StageRetries < 0 || w.StageRetryDelay < 0 {
		return errors.New("workflow.stage_retries and stage_retry_delay cannot be negative")
	}
	return nil
}

// SchedulerConfig contains job admission and retention settings
type SchedulerConfig struct {
	MaxActiveJobs  int           `mapstructure:"max_active_jobs"`
	MaxJobAge      time.Duration `mapstructure:"max_job_age"`
	ReapInterval   time.Duration `mapstructure:"reap_interval"`
	PerJobEstimate time.Duration `mapstructure:"per_job_estimate"`
	// ReapSchedule is an optional cron expression; when set it replaces
	// ReapInterval.
	ReapSchedule   string        `mapstructure:"reap_schedule"`
}

// Normalize applies defaults for unset scheduler values.
func (s SchedulerConfig) Normalize() SchedulerConfig {
	if s.MaxActiveJobs <= 0 {
		s.MaxActiveJobs = 10
	}
	if s.MaxJobAge <= 0 {
		s.MaxJobAge = time.Hour
	}
	if s.ReapInterval <= 0 {
		s.ReapInterval = 5 * time.Minute
	}
	if s.PerJobEstimate <= 0 {
		s.PerJobEstimate = time.Minute
	}
	return s
}

// StorageConfig contains storage settings
type StorageConfig struct {
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Addr returns host:port.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%s", r.Host, r.Port)
}

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("storage.redis.host required")
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required")
	}
	return nil
}

// TelemetryConfig contains tracing settings
type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	ServiceName  string `mapstructure:"service_name"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

// Normalize fills the service metadata defaults.
func (c *Config) Normalize() {
	c.Search = c.Search.Normalize()
	c.Workflow = c.Workflow.Normalize()
	c.Scheduler = c.Scheduler.Normalize()
	if c.General.LogLevel == "" {
		c.General.LogLevel = "info"
	}
	if c.Server.Address == "" {
		c.Server.Address = ":8000"
	}
	if c.Server.WarmupPeriod <= 0 {
		c.Server.WarmupPeriod = 30 * time.Second
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "deeres"
	}
}

// Validate runs every section validator.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return err
	}
	if err := c.LLM.Validate(); err != nil {
		return err
	}
	if err := c.Search.Validate(); err != nil {
		return err
	}
	if err := c.Workflow.Validate(); err != nil {
		return err
	}
	if c.Search.Cache.Enabled {
		if err := c.Storage.Redis.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// LoadConfig loads config from file and DEERES_* environment variables
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("json")
	v.SetDefault("general.log_level", "info")
	v.SetDefault("server.address", ":8000")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("search.api", "tavily")
	v.SetDefault("workflow.number_of_queries", 2)
	v.SetDefault("workflow.max_search_depth", 2)
	v.SetDefault("scheduler.max_active_jobs", 10)
	v.SetDefault("scheduler.max_job_age", time.Hour)
	v.SetDefault("scheduler.reap_interval", 5*time.Minute)
	v.SetDefault("scheduler.per_job_estimate", time.Minute)

	if path == "" {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		if exe, err := os.Executable(); err == nil {
			exeDir := filepath.Dir(exe)
			v.AddConfigPath(exeDir)
			v.AddConfigPath(filepath.Join(exeDir, "..", "config"))
		}
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("DEERES")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DefaultReportStructure is the outline handed to the planner when none is configured.
const DefaultReportStructure = `Use this structure to create a report on the user-provided topic:

1. Introduction (no research needed)
   - Brief overview of the topic area

2. Main Body Sections:
   - Each section should focus on a sub-topic of the user-provided topic

3. Conclusion
   - Aim for 1 structural element (either a list or table) that distills the main body sections
   - Provide a concise summary of the report`
