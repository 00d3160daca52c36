package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	DefaultPort           = 4141
	DefaultHost           = "127.0.0.1"
	DefaultConfigFilename = "config.json"
	DefaultYAMLFilename   = "config.yaml"
	DefaultTOMLFilename   = "config.toml"
	DefaultAccountType    = "individual"
	DefaultSmallModel     = "gpt-5-mini"
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "text"

	EnvPrefix = "COPILOT_GATEWAY_"

	// keyDelim separates nested keys. Model ids contain dots, so "." can't be used.
	keyDelim = "::"
)

// configFilenames is the lookup order when several config files exist.
var configFilenames = []string{DefaultYAMLFilename, "config.yml", DefaultTOMLFilename, DefaultConfigFilename}

const gpt5ExplorationPrompt = `## Exploration and reading files
- **Think first.** Before any tool call, decide ALL files/resources you will need.
- **Batch everything.** If you need multiple files (even from different places), read them together.
- **multi_tool_use.parallel** Use multi_tool_use.parallel to parallelize tool calls and only this.
- **Only make sequential calls if you truly cannot know the next file without seeing a result first.**
- **Workflow:** (a) plan all needed reads → (b) issue one parallel batch → (c) analyze results → (d) repeat if new, unpredictable reads arise.`

type RateLimitConfig struct {
	// Seconds is the minimum spacing between upstream requests. Zero disables the gate.
	Seconds int  `koanf:"seconds" json:"seconds" validate:"min=0"`
	Wait    bool `koanf:"wait" json:"wait"`
}

type LogConfig struct {
	Level  string `koanf:"level" json:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" json:"format" validate:"oneof=text json"`
}

// ModelFamilyConfig overrides the model id prefixes that select provider
// specific behavior. Empty values keep the built-in prefixes.
type ModelFamilyConfig struct {
	Claude      string   `koanf:"claude" json:"claude,omitempty"`
	Grok        string   `koanf:"grok" json:"grok,omitempty"`
	XHighEffort []string `koanf:"xhigh_effort" json:"xhigh_effort,omitempty"`
}

type Config struct {
	Host          string `koanf:"host" json:"host" validate:"required"`
	Port          int    `koanf:"port" json:"port" validate:"min=1,max=65535"`
	APIKey        string `koanf:"api_key" json:"api_key,omitempty"`
	AccountType   string `koanf:"account_type" json:"account_type" validate:"oneof=individual business enterprise"`
	GitHubToken   string `koanf:"github_token" json:"github_token,omitempty"`
	VSCodeVersion string `koanf:"vscode_version" json:"vscode_version,omitempty"`

	RateLimit RateLimitConfig `koanf:"rate_limit" json:"rate_limit"`
	Log       LogConfig       `koanf:"log" json:"log"`

	SmallModel            string            `koanf:"small_model" json:"small_model"`
	ExtraPrompts          map[string]string `koanf:"extra_prompts" json:"extra_prompts,omitempty"`
	ModelReasoningEfforts map[string]string `koanf:"model_reasoning_efforts" json:"model_reasoning_efforts,omitempty" validate:"dive,oneof=none minimal low medium high xhigh"`
	UseFunctionApplyPatch bool              `koanf:"use_function_apply_patch" json:"use_function_apply_patch"`
	WhitespaceRunLimit    int               `koanf:"whitespace_run_limit" json:"whitespace_run_limit,omitempty" validate:"min=0"`
	ModelFamilies         ModelFamilyConfig `koanf:"model_families" json:"model_families"`
}

// Default returns the configuration used when no file or env override is present.
func Default() *Config {
	return &Config{
		Host:        DefaultHost,
		Port:        DefaultPort,
		AccountType: DefaultAccountType,
		Log:         LogConfig{Level: DefaultLogLevel, Format: DefaultLogFormat},
		SmallModel:  DefaultSmallModel,
		ExtraPrompts: map[string]string{
			"gpt-5-mini":        gpt5ExplorationPrompt,
			"gpt-5.1-codex-max": gpt5ExplorationPrompt,
		},
		ModelReasoningEfforts: map[string]string{
			"gpt-5-mini": "low",
		},
		UseFunctionApplyPatch: true,
	}
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type Manager struct {
	baseDir     string
	environ     func() []string
	configValue atomic.Value
}

func NewManager(baseDir string) *Manager {
	return &Manager{
		baseDir: baseDir,
		environ: os.Environ,
	}
}

// Load merges defaults, the config file (when present) and COPILOT_GATEWAY_
// environment overrides, in that order. Nested env keys use "__", e.g.
// COPILOT_GATEWAY_RATE_LIMIT__SECONDS.
func (m *Manager) Load() (*Config, error) {
	k := koanf.New(keyDelim)

	defaults, err := toMap(Default())
	if err != nil {
		return nil, err
	}
	if err := k.Load(confmap.Provider(defaults, keyDelim), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := m.GetPath(); m.Exists() {
		parser, err := parserFor(path)
		if err != nil {
			return nil, err
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	envProvider := env.Provider(keyDelim, env.Opt{
		Prefix:        EnvPrefix,
		TransformFunc: transformEnv,
		EnvironFunc:   m.environ,
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m.configValue.Store(&cfg)
	return &cfg, nil
}

func (m *Manager) Get() *Config {
	if v := m.configValue.Load(); v != nil {
		return v.(*Config)
	}

	cfg, err := m.Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Save writes cfg in the format of the current config path.
func (m *Manager) Save(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	path := m.GetPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	parser, err := parserFor(path)
	if err != nil {
		return err
	}
	raw, err := toMap(cfg)
	if err != nil {
		return err
	}
	data, err := parser.Marshal(raw)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	// The file may hold the GitHub token.
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	m.configValue.Store(cfg)
	return nil
}

// GetPath returns the first existing config file, or the default JSON path.
func (m *Manager) GetPath() string {
	for _, name := range configFilenames {
		path := filepath.Join(m.baseDir, name)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return filepath.Join(m.baseDir, DefaultConfigFilename)
}

func (m *Manager) Exists() bool {
	_, err := os.Stat(m.GetPath())
	return err == nil
}

func parserFor(path string) (koanf.Parser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yamlParser{}, nil
	case ".toml":
		return toml.Parser(), nil
	case ".json":
		return jsonParser{}, nil
	default:
		return nil, fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}
}

// transformEnv maps COPILOT_GATEWAY_RATE_LIMIT__SECONDS to rate_limit::seconds.
func transformEnv(key, value string) (string, any) {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	return strings.ReplaceAll(key, "__", keyDelim), value
}

func toMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	normalizeNumbers(out)
	return out, nil
}

// normalizeNumbers turns whole JSON numbers back into ints so TOML and
// YAML output keeps integer fields integral.
func normalizeNumbers(m map[string]any) {
	for k, v := range m {
		switch tv := v.(type) {
		case float64:
			if tv == float64(int64(tv)) {
				m[k] = int64(tv)
			}
		case map[string]any:
			normalizeNumbers(tv)
		}
	}
}
