package config

import (
	"fmt"
	"strings"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateAPIKey validates an API key format
func (v *Validator) ValidateAPIKey(key string, provider Provider) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", provider)
	}
	if provider == ProviderAnthropic && !strings.HasPrefix(key, "sk-ant-") {
		return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
	}
	return nil
}

// ValidateModel validates a model name is non-empty. Model ids come
// from the capability table, not a fixed
// enumeration here, so anything non-empty is accepted.
func (v *Validator) ValidateModel(model string) error {
	if model == "" {
		return fmt.Errorf("model name cannot be empty")
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateCRIRegion validates a Bedrock regional inference profile tag.
func (v *Validator) ValidateCRIRegion(region CRIRegion) error {
	switch region {
	case "", CRIRegionGlobal, CRIRegionUS, CRIRegionEU, CRIRegionAPAC, CRIRegionJP, CRIRegionAU:
		return nil
	default:
		return fmt.Errorf("invalid bedrock CRI region override: %s", region)
	}
}

// ValidateConfig performs comprehensive validation across the config,
// returning every violation found rather than stopping at the first.
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errs []error

	if cfg.Provider == ProviderAnthropic && cfg.AnthropicAPIKey != "" {
		if err := v.ValidateAPIKey(cfg.AnthropicAPIKey, cfg.Provider); err != nil {
			errs = append(errs, err)
		}
	}

	if err := v.ValidateCRIRegion(cfg.BedrockCRIRegionOverride); err != nil {
		errs = append(errs, err)
	}

	for i, agent := range cfg.Preferences.CustomAgents {
		if agent.Name == "" {
			errs = append(errs, fmt.Errorf("custom agent %d: name is required", i))
		}
		for j, server := range agent.MCPServers {
			if server.Name == "" {
				errs = append(errs, fmt.Errorf("custom agent %d (%s): mcp server %d: name is required", i, agent.Name, j))
			}
		}
	}

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errs = append(errs, err)
	}

	return errs
}
