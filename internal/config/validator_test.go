package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateAPIKey(t *testing.T) {
	v := NewValidator()

	t.Run("valid anthropic key", func(t *testing.T) {
		err := v.ValidateAPIKey("sk-ant-test123", ProviderAnthropic)
		assert.NoError(t, err)
	})

	t.Run("invalid anthropic key", func(t *testing.T) {
		err := v.ValidateAPIKey("invalid-key", ProviderAnthropic)
		assert.Error(t, err)
	})

	t.Run("bedrock key has no format constraint", func(t *testing.T) {
		err := v.ValidateAPIKey("whatever", ProviderBedrock)
		assert.NoError(t, err)
	})

	t.Run("empty key", func(t *testing.T) {
		err := v.ValidateAPIKey("", ProviderAnthropic)
		assert.Error(t, err)
	})
}

func TestValidateModel(t *testing.T) {
	v := NewValidator()

	t.Run("known model", func(t *testing.T) {
		err := v.ValidateModel("claude-sonnet-4")
		assert.NoError(t, err)
	})

	t.Run("custom model", func(t *testing.T) {
		err := v.ValidateModel("custom-model")
		assert.NoError(t, err)
	})

	t.Run("empty model", func(t *testing.T) {
		err := v.ValidateModel("")
		assert.Error(t, err)
	})
}

func TestValidateLogLevel(t *testing.T) {
	v := NewValidator()

	t.Run("valid levels", func(t *testing.T) {
		levels := []string{"debug", "info", "warn", "error"}
		for _, level := range levels {
			err := v.ValidateLogLevel(level)
			assert.NoError(t, err, "level %s should be valid", level)
		}
	})

	t.Run("invalid level", func(t *testing.T) {
		err := v.ValidateLogLevel("invalid")
		assert.Error(t, err)
	})
}

func TestValidateCRIRegion(t *testing.T) {
	v := NewValidator()

	t.Run("valid regions", func(t *testing.T) {
		regions := []CRIRegion{"", CRIRegionGlobal, CRIRegionUS, CRIRegionEU, CRIRegionAPAC, CRIRegionJP, CRIRegionAU}
		for _, region := range regions {
			err := v.ValidateCRIRegion(region)
			assert.NoError(t, err, "region %s should be valid", region)
		}
	})

	t.Run("invalid region", func(t *testing.T) {
		err := v.ValidateCRIRegion("antarctica")
		assert.Error(t, err)
	})
}

func TestValidateConfig(t *testing.T) {
	v := NewValidator()

	t.Run("valid config", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Provider = ProviderAnthropic
		cfg.AnthropicAPIKey = "sk-ant-test123"

		errors := v.ValidateConfig(cfg)
		assert.Empty(t, errors)
	})

	t.Run("multiple errors", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Provider = ProviderAnthropic
		cfg.AnthropicAPIKey = "invalid-key"
		cfg.BedrockCRIRegionOverride = "antarctica"
		cfg.Logging.Level = "invalid"
		cfg.Preferences.CustomAgents = []CustomAgentConfig{{SystemPrompt: "no name"}}

		errors := v.ValidateConfig(cfg)
		assert.NotEmpty(t, errors)
		assert.GreaterOrEqual(t, len(errors), 4)
	})
}
