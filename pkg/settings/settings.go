package settings

import (
	_ "embed"
	"strings"
	"time"

	"github.com/go-go-golems/marionette/pkg/inference/tools"
	"github.com/huandu/go-clone"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

//go:embed "defaults.yaml"
var defaultsYAML []byte

// EnvPrefix is the prefix of environment variables overriding settings, e.g.
// MARIONETTE_API_API_KEY or MARIONETTE_LOOP_MAX_ITERATIONS.
const EnvPrefix = "MARIONETTE"

const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)

type APISettings struct {
	APIKey       string        `yaml:"api-key" mapstructure:"api-key"`
	BaseURL      string        `yaml:"base-url" mapstructure:"base-url"`
	Organization string        `yaml:"organization,omitempty" mapstructure:"organization"`
	Timeout      time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

type ChatSettings struct {
	// Provider selects the generation service: "openai" or "ollama".
	Provider          string  `yaml:"provider" mapstructure:"provider"`
	Model             string  `yaml:"model" mapstructure:"model"`
	Temperature       float64 `yaml:"temperature" mapstructure:"temperature"`
	MaxResponseTokens int     `yaml:"max-response-tokens" mapstructure:"max-response-tokens"`
	Stream            bool    `yaml:"stream" mapstructure:"stream"`
	// RequestsPerMinute limits generation calls; 0 disables limiting.
	RequestsPerMinute float64 `yaml:"requests-per-minute" mapstructure:"requests-per-minute"`
	Burst             int     `yaml:"burst" mapstructure:"burst"`
	LogTokens         bool    `yaml:"log-tokens" mapstructure:"log-tokens"`
}

// OllamaSettings are model options passed to Ollama; zero values are left to the model.
type OllamaSettings struct {
	NumCtx        int     `yaml:"num-ctx" mapstructure:"num-ctx"`
	TopK          int     `yaml:"top-k" mapstructure:"top-k"`
	TopP          float64 `yaml:"top-p" mapstructure:"top-p"`
	RepeatPenalty float64 `yaml:"repeat-penalty" mapstructure:"repeat-penalty"`
	Seed          int     `yaml:"seed" mapstructure:"seed"`
}

type LoopSettings struct {
	MaxIterations  int    `yaml:"max-iterations" mapstructure:"max-iterations"`
	StopPhrase     string `yaml:"stop-phrase" mapstructure:"stop-phrase"`
	PlanLanguage   string `yaml:"plan-language" mapstructure:"plan-language"`
	AllowEmptyPlan bool   `yaml:"allow-empty-plan" mapstructure:"allow-empty-plan"`
}

type MCPServer struct {
	Name    string            `yaml:"name" mapstructure:"name"`
	URL     string            `yaml:"url" mapstructure:"url"`
	Headers map[string]string `yaml:"headers,omitempty" mapstructure:"headers"`
}

type ToolSettings struct {
	// Enabled lists the built-in tools to register.
	Enabled           []string      `yaml:"enabled" mapstructure:"enabled"`
	ExecutionTimeout  time.Duration `yaml:"execution-timeout" mapstructure:"execution-timeout"`
	AllowedTools      []string      `yaml:"allowed-tools" mapstructure:"allowed-tools"`
	ValidateArguments bool          `yaml:"validate-arguments" mapstructure:"validate-arguments"`
	WeatherURL        string        `yaml:"weather-url" mapstructure:"weather-url"`
	SerpAPIKey        string        `yaml:"serpapi-key" mapstructure:"serpapi-key"`
	SerpAPIURL        string        `yaml:"serpapi-url" mapstructure:"serpapi-url"`
	DuckDuckGoURL     string        `yaml:"duckduckgo-url" mapstructure:"duckduckgo-url"`
	MCPServers        []MCPServer   `yaml:"mcp-servers" mapstructure:"mcp-servers"`
}

type TranscriptSettings struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Path    string `yaml:"path" mapstructure:"path"`
}

// Settings is the explicit configuration value handed to every component. Nothing below the
// CLI reads the environment.
type Settings struct {
	API        APISettings        `yaml:"api" mapstructure:"api"`
	Chat       ChatSettings       `yaml:"chat" mapstructure:"chat"`
	Ollama     OllamaSettings     `yaml:"ollama" mapstructure:"ollama"`
	Loop       LoopSettings       `yaml:"loop" mapstructure:"loop"`
	Tools      ToolSettings       `yaml:"tools" mapstructure:"tools"`
	Transcript TranscriptSettings `yaml:"transcript" mapstructure:"transcript"`
}

// NewSettings returns the built-in defaults.
func NewSettings() *Settings {
	s := &Settings{}
	if err := yaml.Unmarshal(defaultsYAML, s); err != nil {
		panic(errors.Wrap(err, "embedded defaults are invalid"))
	}
	return s
}

// FromYAML decodes b on top of the defaults.
func FromYAML(b []byte) (*Settings, error) {
	s := NewSettings()
	if err := yaml.Unmarshal(b, s); err != nil {
		return nil, errors.Wrap(err, "decode settings")
	}
	return s, s.Validate()
}

// ToYAML renders the settings, e.g. for `config` style output.
func (s *Settings) ToYAML() ([]byte, error) {
	return yaml.Marshal(s)
}

func (s *Settings) Clone() *Settings {
	return clone.Clone(s).(*Settings)
}

func (s *Settings) Validate() error {
	switch s.Chat.Provider {
	case ProviderOpenAI, ProviderOllama:
	default:
		return errors.Errorf("chat.provider must be %q or %q, got %q", ProviderOpenAI, ProviderOllama, s.Chat.Provider)
	}
	if s.Loop.MaxIterations < 0 {
		return errors.Errorf("loop.max-iterations must be >= 0, got %d", s.Loop.MaxIterations)
	}
	if s.Chat.Temperature < 0 || s.Chat.Temperature > 2 {
		return errors.Errorf("chat.temperature must be between 0 and 2, got %v", s.Chat.Temperature)
	}
	if s.Chat.RequestsPerMinute < 0 {
		return errors.Errorf("chat.requests-per-minute must be >= 0, got %v", s.Chat.RequestsPerMinute)
	}
	if s.Chat.RequestsPerMinute > 0 && s.Chat.Burst < 1 {
		return errors.New("chat.burst must be >= 1 when rate limiting is enabled")
	}
	if s.Tools.ExecutionTimeout < 0 {
		return errors.New("tools.execution-timeout must not be negative")
	}
	if strings.TrimSpace(s.Loop.StopPhrase) == "" {
		return errors.New("loop.stop-phrase must not be empty")
	}
	for i, srv := range s.Tools.MCPServers {
		if srv.URL == "" {
			return errors.Errorf("tools.mcp-servers[%d] has no url", i)
		}
	}
	if s.Transcript.Enabled && s.Transcript.Path == "" {
		return errors.New("transcript.path is required when transcripts are enabled")
	}
	return nil
}

// ToolConfig derives the dispatcher configuration.
func (s *Settings) ToolConfig() tools.ToolConfig {
	cfg := tools.DefaultToolConfig().
		WithExecutionTimeout(s.Tools.ExecutionTimeout).
		WithValidateArguments(s.Tools.ValidateArguments)
	if len(s.Tools.AllowedTools) > 0 {
		cfg = cfg.WithAllowedTools(append([]string(nil), s.Tools.AllowedTools...))
	}
	return cfg
}

// ConfigureViper registers every default as a viper default and enables environment overrides,
// so that each setting can come from a config file, MARIONETTE_* variables or bound flags.
func ConfigureViper(v *viper.Viper) error {
	var defaults map[string]interface{}
	if err := yaml.Unmarshal(defaultsYAML, &defaults); err != nil {
		return errors.Wrap(err, "decode defaults")
	}
	setDefaults(v, "", defaults)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return nil
}

func setDefaults(v *viper.Viper, prefix string, m map[string]interface{}) {
	for k, val := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := val.(map[string]interface{}); ok {
			setDefaults(v, key, nested)
			continue
		}
		v.SetDefault(key, val)
	}
}

// FromViper decodes the merged viper configuration.
func FromViper(v *viper.Viper) (*Settings, error) {
	s := NewSettings()
	if err := v.Unmarshal(s); err != nil {
		return nil, errors.Wrap(err, "unmarshal settings")
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}
