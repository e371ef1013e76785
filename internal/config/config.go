// Package config loads process configuration from defaults, an optional YAML file,
// and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/palantir/compute-module-originality/internal/analysis"
	"github.com/palantir/compute-module-originality/internal/analysis/poll"
	"github.com/palantir/compute-module-originality/internal/analysis/report"
	"github.com/palantir/compute-module-originality/internal/analysis/similarity"
	"github.com/palantir/compute-module-originality/internal/analysis/websearch"
)

const (
	EnvPrefix  = "ORIGINALITY"
	ConfigName = "originality"
)

type Config struct {
	Log        Log                 `mapstructure:"log"`
	Gemini     Gemini              `mapstructure:"gemini"`
	Dandelion  Dandelion           `mapstructure:"dandelion"`
	Report     Report              `mapstructure:"plagiarismsearch"`
	Batch      Batch               `mapstructure:"batch"`
	Verdict    analysis.Thresholds `mapstructure:"verdict"`
	Module     Module              `mapstructure:"module"`
	OutputForm string              `mapstructure:"format"`
}

type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type Gemini struct {
	APIKey      string            `mapstructure:"api_key"`
	Model       string            `mapstructure:"model"`
	BaseURL     string            `mapstructure:"base_url"`
	Temperature float32           `mapstructure:"temperature"`
	Scoring     websearch.Scoring `mapstructure:"scoring"`
}

type Dandelion struct {
	Token    string        `mapstructure:"token"`
	Endpoint string        `mapstructure:"endpoint"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type Report struct {
	User            string        `mapstructure:"user"`
	APIKey          string        `mapstructure:"api_key"`
	BaseURL         string        `mapstructure:"base_url"`
	ProxyURL        string        `mapstructure:"proxy_url"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	PollMaxAttempts int           `mapstructure:"poll_max_attempts"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

type Batch struct {
	Workers        int           `mapstructure:"workers"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	RateLimitRPS   float64       `mapstructure:"rate_limit_rps"`
	FailFast       bool          `mapstructure:"fail_fast"`
}

// Module holds the compute-module runtime endpoints. They are read from the bare
// variable names the runtime injects.
type Module struct {
	GetJobURI       string `mapstructure:"get_job_uri"`
	PostResultURI   string `mapstructure:"post_result_uri"`
	ModuleAuthToken string `mapstructure:"module_auth_token"`
	DefaultCAPath   string `mapstructure:"default_ca_path"`
}

// bareEnv maps config keys to unprefixed variables also honoured for compatibility
// with existing deployments.
var bareEnv = map[string][]string{
	"gemini.api_key":           {"GEMINI_API_KEY"},
	"gemini.model":             {"GEMINI_MODEL"},
	"gemini.base_url":          {"GEMINI_BASE_URL"},
	"dandelion.token":          {"DANDELION_TOKEN"},
	"plagiarismsearch.user":    {"PLAGIARISMSEARCH_USER"},
	"plagiarismsearch.api_key": {"PLAGIARISMSEARCH_API_KEY"},
	"module.get_job_uri":       {"GET_JOB_URI"},
	"module.post_result_uri":   {"POST_RESULT_URI"},
	"module.module_auth_token": {"MODULE_AUTH_TOKEN"},
	"module.default_ca_path":   {"DEFAULT_CA_PATH"},
}

// SetDefaults registers every key so environment overrides are visible to Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("format", "text")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("gemini.api_key", "")
	v.SetDefault("gemini.model", websearch.DefaultModel)
	v.SetDefault("gemini.base_url", "")
	v.SetDefault("gemini.temperature", websearch.DefaultTemperature)
	v.SetDefault("gemini.scoring.penalty_per_source", websearch.DefaultScoring().PenaltyPerSource)
	v.SetDefault("gemini.scoring.no_source_score", websearch.DefaultScoring().NoSourceScore)

	v.SetDefault("dandelion.token", "")
	v.SetDefault("dandelion.endpoint", similarity.DefaultEndpoint)
	v.SetDefault("dandelion.timeout", "30s")

	v.SetDefault("plagiarismsearch.user", "")
	v.SetDefault("plagiarismsearch.api_key", "")
	v.SetDefault("plagiarismsearch.base_url", report.DefaultBaseURL)
	v.SetDefault("plagiarismsearch.proxy_url", report.DefaultProxyURL)
	v.SetDefault("plagiarismsearch.poll_interval", poll.DefaultInterval.String())
	v.SetDefault("plagiarismsearch.poll_max_attempts", poll.DefaultMaxAttempts)
	v.SetDefault("plagiarismsearch.timeout", "30s")

	v.SetDefault("batch.workers", 4)
	v.SetDefault("batch.max_retries", 2)
	v.SetDefault("batch.request_timeout", "3m")
	v.SetDefault("batch.rate_limit_rps", 0)
	v.SetDefault("batch.fail_fast", false)

	v.SetDefault("verdict.original", analysis.DefaultThresholds().Original)
	v.SetDefault("verdict.mixed", analysis.DefaultThresholds().Mixed)

	v.SetDefault("module.get_job_uri", "")
	v.SetDefault("module.post_result_uri", "")
	v.SetDefault("module.module_auth_token", "")
	v.SetDefault("module.default_ca_path", "")
}

// Prepare wires defaults, the config file search path, and environment lookups into v.
// configFile overrides the search path when non-empty.
func Prepare(v *viper.Viper, configFile string) error {
	SetDefaults(v)

	if strings.TrimSpace(configFile) != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName(ConfigName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", ConfigName))
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range bareEnv {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(append([]string{key, prefixed}, names...)...); err != nil {
			return err
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

// Load reads configuration into a Config. Flags bound to v take precedence.
func Load(v *viper.Viper) (Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks the values that have no engine to reject them later.
func (c Config) Validate() error {
	if c.Verdict.Mixed > c.Verdict.Original {
		return fmt.Errorf("verdict.mixed (%d) must not exceed verdict.original (%d)", c.Verdict.Mixed, c.Verdict.Original)
	}
	if c.Batch.Workers < 0 {
		return fmt.Errorf("batch.workers must be >= 0 (got %d)", c.Batch.Workers)
	}
	if c.Batch.MaxRetries < 0 {
		return fmt.Errorf("batch.max_retries must be >= 0 (got %d)", c.Batch.MaxRetries)
	}
	if c.Report.PollMaxAttempts < 0 {
		return fmt.Errorf("plagiarismsearch.poll_max_attempts must be >= 0 (got %d)", c.Report.PollMaxAttempts)
	}
	switch c.OutputForm {
	case "text", "json", "yaml":
	default:
		return fmt.Errorf("format must be text, json or yaml (got %q)", c.OutputForm)
	}
	return nil
}
