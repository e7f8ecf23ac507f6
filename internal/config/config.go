package config

import (
	"encoding/json"
	"fmt"

	"github.com/harun/ranya-core/pkg/toolexecutor"
)

// Provider identifies which LLM back end the LLM Client dispatches to
type Provider string

const (
	ProviderBedrock   Provider = "bedrock"
	ProviderAnthropic Provider = "anthropic"
)

// CRIRegion is one of the Bedrock regional inference profiles
type CRIRegion string

const (
	CRIRegionGlobal CRIRegion = "global"
	CRIRegionUS     CRIRegion = "us"
	CRIRegionEU     CRIRegion = "eu"
	CRIRegionAPAC   CRIRegion = "apac"
	CRIRegionJP     CRIRegion = "jp"
	CRIRegionAU     CRIRegion = "au"
)

// Config is the process-wide configuration surface, loadable from a
// JSON file with the recognized environment variables layered on top.
type Config struct {
	// LLM_PROVIDER
	Provider Provider `json:"provider" mapstructure:"provider"`

	// ANTHROPIC_API_KEY / ANTHROPIC_API_KEY_PARAMETER_NAME
	AnthropicAPIKey              string `json:"anthropic_api_key" mapstructure:"anthropic_api_key"`
	AnthropicAPIKeyParameterName string `json:"anthropic_api_key_parameter_name" mapstructure:"anthropic_api_key_parameter_name"`

	// BEDROCK_AWS_ACCOUNTS / BEDROCK_AWS_ROLE_NAME / BEDROCK_CRI_REGION_OVERRIDE
	BedrockAWSAccounts       []string  `json:"bedrock_aws_accounts" mapstructure:"bedrock_aws_accounts"`
	BedrockAWSRoleName       string    `json:"bedrock_aws_role_name" mapstructure:"bedrock_aws_role_name"`
	BedrockCRIRegionOverride CRIRegion `json:"bedrock_cri_region_override" mapstructure:"bedrock_cri_region_override"`

	// OPENAI_TITLE_BASE_URL / OPENAI_TITLE_API_KEY / OPENAI_TITLE_MODEL: an
	// OpenAI-compatible gateway used only for title generation's cheap
	// model call, independent of the main Provider.
	OpenAITitleBaseURL string `json:"openai_title_base_url" mapstructure:"openai_title_base_url"`
	OpenAITitleAPIKey  string `json:"openai_title_api_key" mapstructure:"openai_title_api_key"`
	OpenAITitleModel   string `json:"openai_title_model" mapstructure:"openai_title_model"`

	// OPENAI_EMBEDDING_BASE_URL / OPENAI_EMBEDDING_API_KEY /
	// OPENAI_EMBEDDING_MODEL: same gateway-override shape as the title
	// fields above, but for the Memory Manager's Embedder. An empty
	// API key disables the vector half of Recall.
	OpenAIEmbeddingBaseURL string `json:"openai_embedding_base_url" mapstructure:"openai_embedding_base_url"`
	OpenAIEmbeddingAPIKey  string `json:"openai_embedding_api_key" mapstructure:"openai_embedding_api_key"`
	OpenAIEmbeddingModel   string `json:"openai_embedding_model" mapstructure:"openai_embedding_model"`

	// TABLE_NAME
	TableName string `json:"table_name" mapstructure:"table_name"`

	// EVENT_HTTP_ENDPOINT
	EventHTTPEndpoint string `json:"event_http_endpoint" mapstructure:"event_http_endpoint"`

	// Preferences carries process-wide defaults and agent definitions.
	Preferences PreferencesConfig `json:"preferences" mapstructure:"preferences"`

	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// PreferencesConfig holds the process-wide preferences: default
// model, common system-prompt suffix, and custom-agent definitions.
type PreferencesConfig struct {
	DefaultModel       string              `json:"default_model" mapstructure:"default_model"`
	CommonPromptSuffix string              `json:"common_prompt_suffix" mapstructure:"common_prompt_suffix"`
	CustomAgents       []CustomAgentConfig `json:"custom_agents" mapstructure:"custom_agents"`
}

// CustomAgentConfig is one named agent definition:
// a system prompt, the built-in tool names it may use, and its MCP
// server configuration.
type CustomAgentConfig struct {
	Name         string      `json:"name" mapstructure:"name"`
	SystemPrompt string      `json:"system_prompt" mapstructure:"system_prompt"`
	AllowedTools []string    `json:"allowed_tools" mapstructure:"allowed_tools"`
	MCPServers   []MCPServer `json:"mcp_servers" mapstructure:"mcp_servers"`
	// DeniedToolCategories blocks a whole risk class of built-in tools
	// (toolexecutor.ToolCategory values like "shell" or "write") for
	// this agent, regardless of whether AllowedTools names one of its
	// members individually.
	DeniedToolCategories []string `json:"denied_tool_categories" mapstructure:"denied_tool_categories"`
}

// MCPServer names an MCP server a custom agent can dispatch tools to.
// Transport itself is an external collaborator;
// this core only needs the server's logical name and tool names to
// decide whether a toolUse name should be routed there.
type MCPServer struct {
	Name      string   `json:"name" mapstructure:"name"`
	ToolNames []string `json:"tool_names" mapstructure:"tool_names"`
	// Command and Args launch the server as a stdio JSON-RPC child
	// process (toolexecutor.NewMCPServerAdapter). Left empty when the
	// server's tools are only being named for catalog purposes without
	// daemon-managed process lifecycle.
	Command string   `json:"command,omitempty" mapstructure:"command"`
	Args    []string `json:"args,omitempty" mapstructure:"args"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// DefaultConfig returns conservative defaults: Bedrock provider,
// info logging, and no custom agents configured.
func DefaultConfig() *Config {
	return &Config{
		Provider:                 ProviderBedrock,
		BedrockAWSRoleName:       "bedrock-remote-swe-role",
		BedrockCRIRegionOverride: CRIRegionUS,
		TableName:                "ranya-core",
		Preferences: PreferencesConfig{
			DefaultModel: "claude-sonnet-4",
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
	}
}

// String returns a JSON representation of the config.
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks the configuration for the invariants the LLM Client
// and its account rotation depend on.
func (c *Config) Validate() error {
	switch c.Provider {
	case ProviderBedrock, ProviderAnthropic:
	default:
		return fmt.Errorf("invalid provider %q (must be bedrock or anthropic)", c.Provider)
	}

	if c.Provider == ProviderAnthropic {
		if c.AnthropicAPIKey == "" && c.AnthropicAPIKeyParameterName == "" {
			return fmt.Errorf("anthropic provider requires ANTHROPIC_API_KEY or ANTHROPIC_API_KEY_PARAMETER_NAME")
		}
	}

	if c.Provider == ProviderBedrock && len(c.BedrockAWSAccounts) == 0 {
		return fmt.Errorf("bedrock provider requires at least one account in BEDROCK_AWS_ACCOUNTS")
	}

	switch c.BedrockCRIRegionOverride {
	case "", CRIRegionGlobal, CRIRegionUS, CRIRegionEU, CRIRegionAPAC, CRIRegionJP, CRIRegionAU:
	default:
		return fmt.Errorf("invalid bedrock CRI region override %q", c.BedrockCRIRegionOverride)
	}

	if c.TableName == "" {
		return fmt.Errorf("table name is required")
	}

	for i, agent := range c.Preferences.CustomAgents {
		if agent.Name == "" {
			return fmt.Errorf("custom agent %d: name is required", i)
		}
		for _, cat := range agent.DeniedToolCategories {
			if !toolexecutor.IsValidCategory(cat) {
				return fmt.Errorf("custom agent %d: invalid denied tool category %q", i, cat)
			}
		}
	}

	return nil
}
