package config

// ToolsConfig controls the tool command layer and execution gateway.
type ToolsConfig struct {
	// CommandPrefix marks explicit tool commands in user text, e.g.
	// "/tool buscar_pedido {\"id\":\"42\"}".
	CommandPrefix string `yaml:"command_prefix"`

	// LLMToolCallsEnabled lets the LLM pick a tool when the text is not
	// an explicit command.
	LLMToolCallsEnabled bool `yaml:"llm_tool_calls_enabled"`

	// RequireAgentToolMapping rejects tools not mapped to the call's
	// published agent version.
	RequireAgentToolMapping bool `yaml:"require_agent_tool_mapping"`

	// ToolsPerMinute caps executions per call over a sliding 60 s
	// window, counted from persisted executions.
	ToolsPerMinute int `yaml:"tools_per_minute"`
}

// DefaultToolsConfig returns the built-in tool layer configuration.
func DefaultToolsConfig() *ToolsConfig {
	return &ToolsConfig{
		CommandPrefix:           "/tool",
		LLMToolCallsEnabled:     true,
		RequireAgentToolMapping: true,
		ToolsPerMinute:          10,
	}
}
