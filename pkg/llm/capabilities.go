package llm

// ToolChoiceCapability is a bit set over the three toolChoice kinds a
// model might steer with: auto, any, and a forced single tool.
type ToolChoiceCapability uint8

const (
	ToolChoiceCapAuto ToolChoiceCapability = 1 << iota
	ToolChoiceCapAny
	ToolChoiceCapTool
)

// Supports reports whether kind is in the set.
func (s ToolChoiceCapability) Supports(kind ToolChoiceKind) bool {
	switch kind {
	case ToolChoiceAuto:
		return s&ToolChoiceCapAuto != 0
	case ToolChoiceAny:
		return s&ToolChoiceCapAny != 0
	case ToolChoiceTool:
		return s&ToolChoiceCapTool != 0
	default:
		return false
	}
}

// CacheCapability is a bit set over the three cache-point layers a
// model might honor: system prompt, tool catalog, and messages.
type CacheCapability uint8

const (
	CacheCapSystem CacheCapability = 1 << iota
	CacheCapTool
	CacheCapMessage
)

// Supports reports whether layer is in the set.
func (s CacheCapability) Supports(layer CacheCapability) bool {
	return s&layer != 0
}

// fullToolChoiceSupport and fullCacheSupport name the common case, a
// model that honors every kind/layer, so the table below reads less
// like a bit-twiddling exercise.
const (
	fullToolChoiceSupport = ToolChoiceCapAuto | ToolChoiceCapAny | ToolChoiceCapTool
	fullCacheSupport      = CacheCapSystem | CacheCapTool | CacheCapMessage
)

// ModelCapabilities is the per-model descriptor the LLM Client looks
// up during model selection.
type ModelCapabilities struct {
	ModelID                    string
	MaxOutputTokens            int
	ReasoningSupport           bool
	InterleavedThinkingSupport bool
	ToolChoiceSupport          ToolChoiceCapability
	CacheSupport               CacheCapability
	SupportedCRIProfiles       []string
}

var capabilityTable = map[string]ModelCapabilities{
	"claude-opus-4": {
		ModelID: "claude-opus-4", MaxOutputTokens: 32000,
		ReasoningSupport: true, InterleavedThinkingSupport: true,
		ToolChoiceSupport: fullToolChoiceSupport, CacheSupport: fullCacheSupport,
		SupportedCRIProfiles: []string{"global", "us", "eu", "apac"},
	},
	"claude-sonnet-4": {
		ModelID: "claude-sonnet-4", MaxOutputTokens: 64000,
		ReasoningSupport: true, InterleavedThinkingSupport: true,
		ToolChoiceSupport: fullToolChoiceSupport, CacheSupport: fullCacheSupport,
		SupportedCRIProfiles: []string{"global", "us", "eu", "apac", "jp", "au"},
	},
	"claude-haiku-4": {
		ModelID: "claude-haiku-4", MaxOutputTokens: 16000,
		ReasoningSupport: false, InterleavedThinkingSupport: false,
		// haiku steers with auto/any but never honors a forced single
		// tool choice, and only caches the system prompt, not tool
		// definitions or individual messages.
		ToolChoiceSupport: ToolChoiceCapAuto | ToolChoiceCapAny, CacheSupport: CacheCapSystem,
		SupportedCRIProfiles: []string{"global", "us"},
	},
}

// GetCapabilities returns the known descriptor for modelID, or a
// conservative fallback (no reasoning, no cache, no tool choice, 4096
// output tokens, global profile only) when the model isn't in the
// table, so an operator-configured custom model id never hard-fails
// selection.
func GetCapabilities(modelID string) ModelCapabilities {
	if caps, ok := capabilityTable[modelID]; ok {
		return caps
	}
	return ModelCapabilities{
		ModelID:              modelID,
		MaxOutputTokens:      4096,
		SupportedCRIProfiles: []string{"global"},
	}
}

// RegisterCapabilities lets callers (tests, or an operator extending
// the table at startup) add or override a model's descriptor.
func RegisterCapabilities(caps ModelCapabilities) {
	capabilityTable[caps.ModelID] = caps
}
