package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// envBindings is the recognized environment surface: each
// variable binds to its own viper key rather than relying on a
// blanket RANYA_ prefix, so these exact names are what operators
// set.
var envBindings = map[string]string{
	"provider":                         "LLM_PROVIDER",
	"anthropic_api_key":                "ANTHROPIC_API_KEY",
	"anthropic_api_key_parameter_name": "ANTHROPIC_API_KEY_PARAMETER_NAME",
	"bedrock_aws_accounts":             "BEDROCK_AWS_ACCOUNTS",
	"bedrock_aws_role_name":            "BEDROCK_AWS_ROLE_NAME",
	"bedrock_cri_region_override":      "BEDROCK_CRI_REGION_OVERRIDE",
	"table_name":                       "TABLE_NAME",
	"event_http_endpoint":              "EVENT_HTTP_ENDPOINT",
}

// Loader handles configuration loading
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// Load loads the configuration from file, then layers the recognized
// environment variables on top; environment always wins.
func (l *Loader) Load() (*Config, error) {
	configPath := l.configPath
	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".ranya", "ranya.json")
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind env %s: %w", env, err)
		}
	}

	if _, err := os.Stat(configPath); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if accounts := os.Getenv("BEDROCK_AWS_ACCOUNTS"); accounts != "" {
		cfg.BedrockAWSAccounts = splitAndTrim(accounts)
	}

	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, ".ranya")
	}

	if cfg.Logging.File == "" {
		cfg.Logging.File = filepath.Join(cfg.DataDir, "ranya-core.log")
	}

	return cfg, nil
}

func splitAndTrim(csv string) []string {
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Save writes the configuration back to its file, creating the parent
// directory and the file itself if they don't yet exist.
func (l *Loader) Save(cfg *Config) error {
	configPath := l.configPath
	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".ranya", "ranya.json")
	}

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")

	v.Set("provider", cfg.Provider)
	v.Set("anthropic_api_key", cfg.AnthropicAPIKey)
	v.Set("anthropic_api_key_parameter_name", cfg.AnthropicAPIKeyParameterName)
	v.Set("bedrock_aws_accounts", cfg.BedrockAWSAccounts)
	v.Set("bedrock_aws_role_name", cfg.BedrockAWSRoleName)
	v.Set("bedrock_cri_region_override", cfg.BedrockCRIRegionOverride)
	v.Set("table_name", cfg.TableName)
	v.Set("event_http_endpoint", cfg.EventHTTPEndpoint)
	v.Set("preferences", cfg.Preferences)
	v.Set("logging", cfg.Logging)
	v.Set("data_dir", cfg.DataDir)

	if err := v.WriteConfig(); err != nil {
		if os.IsNotExist(err) {
			if err := v.SafeWriteConfig(); err != nil {
				return fmt.Errorf("failed to write config file: %w", err)
			}
		} else {
			return fmt.Errorf("failed to write config file: %w", err)
		}
	}

	return nil
}

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	if l.configPath != "" {
		return l.configPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".ranya", "ranya.json")
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	loader := NewLoader(configPath)
	return loader.Load()
}
