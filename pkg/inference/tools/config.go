package tools

import (
	"time"

	"github.com/mb0/glob"
	"github.com/rs/zerolog/log"
)

// ToolConfig controls how the Dispatcher runs tools.
type ToolConfig struct {
	ExecutionTimeout time.Duration `json:"execution_timeout" yaml:"execution_timeout"`
	// AllowedTools restricts which registered tools may run. Entries are glob patterns
	// ("search", "mcp_*"). nil allows all tools.
	AllowedTools []string `json:"allowed_tools" yaml:"allowed_tools"`
	// ValidateArguments checks arguments against tool schemas before invoking.
	ValidateArguments bool `json:"validate_arguments" yaml:"validate_arguments"`
}

// DefaultToolConfig returns a sensible default configuration.
func DefaultToolConfig() ToolConfig {
	return ToolConfig{
		ExecutionTimeout:  30 * time.Second,
		AllowedTools:      nil,
		ValidateArguments: true,
	}
}

func (tc ToolConfig) WithExecutionTimeout(timeout time.Duration) ToolConfig {
	tc.ExecutionTimeout = timeout
	return tc
}

func (tc ToolConfig) WithAllowedTools(toolNames []string) ToolConfig {
	tc.AllowedTools = toolNames
	return tc
}

func (tc ToolConfig) WithValidateArguments(validate bool) ToolConfig {
	tc.ValidateArguments = validate
	return tc
}

// IsToolAllowed checks if a tool is allowed based on the configuration.
func (tc *ToolConfig) IsToolAllowed(toolName string) bool {
	if tc.AllowedTools == nil {
		return true
	}

	for _, allowed := range tc.AllowedTools {
		if allowed == toolName {
			return true
		}
		matching, err := glob.Match(allowed, toolName)
		if err != nil {
			log.Warn().Err(err).Str("pattern", allowed).Msg("invalid allowed-tools pattern")
			continue
		}
		if matching {
			return true
		}
	}

	return false
}
