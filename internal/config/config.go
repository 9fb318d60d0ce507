package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/nidhogg/nora/internal/provider"
)

// Config is the typed view of the user configuration file.
type Config struct {
	Model        string                  `yaml:"model"`
	Ollama       ServerConfig            `yaml:"ollama"`
	Profiles     map[string]ServerConfig `yaml:"profiles,omitempty"`
	Orchestrator OrchestratorConfig      `yaml:"orchestrator"`
	History      HistoryConfig           `yaml:"history"`
	Index        IndexConfig             `yaml:"index"`
	Plugins      PluginsConfig           `yaml:"plugins"`
	Server       HTTPConfig              `yaml:"server"`
	Log          LogConfig               `yaml:"log"`
	Redis        RedisConfig             `yaml:"redis"`
	Postgres     PostgresConfig          `yaml:"postgres"`
	Neo4j        Neo4jConfig             `yaml:"neo4j"`
	Qdrant       QdrantConfig            `yaml:"qdrant"`
	Embedding    EmbeddingConfig         `yaml:"embedding"`
	Notify       NotifyConfig            `yaml:"notify"`
}

// ServerConfig describes one model server connection.
type ServerConfig struct {
	URL       string `yaml:"url"`
	VerifySSL bool   `yaml:"verify_ssl"`
	API       string `yaml:"api,omitempty"` // auto|ollama|openai
	APIKey    string `yaml:"api_key,omitempty"`
}

type OrchestratorConfig struct {
	MaxWorkers  int           `yaml:"max_workers"`
	TaskTimeout time.Duration `yaml:"task_timeout"`
}

type HistoryConfig struct {
	Path    string `yaml:"path"`
	Window  int    `yaml:"window"`
	Backend string `yaml:"backend"` // file|postgres
}

type IndexConfig struct {
	Path string `yaml:"path"`
}

type PluginsConfig struct {
	Dir string `yaml:"dir"`
}

type HTTPConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file,omitempty"`
}

type RedisConfig struct {
	URL string `yaml:"url,omitempty"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn,omitempty"`
}

type Neo4jConfig struct {
	URI      string `yaml:"uri,omitempty"`
	User     string `yaml:"user,omitempty"`
	Password string `yaml:"password,omitempty"`
}

type QdrantConfig struct {
	Host string `yaml:"host,omitempty"`
	Port int    `yaml:"port,omitempty"`
}

type EmbeddingConfig struct {
	Provider  string `yaml:"provider,omitempty"` // api|local
	Endpoint  string `yaml:"endpoint,omitempty"`
	Model     string `yaml:"model,omitempty"`
	APIKey    string `yaml:"api_key,omitempty"`
	Dimension int    `yaml:"dimension,omitempty"`
}

type NotifyConfig struct {
	SlackWebhook   string `yaml:"slack_webhook,omitempty"`
	DiscordWebhook string `yaml:"discord_webhook,omitempty"`
}

// DefaultModel is used when neither the config nor a flag names a model.
const DefaultModel = "deepseek-coder:6.7b"

// Dir returns the per-user state directory (~/.nora).
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".nora"
	}
	return filepath.Join(home, ".nora")
}

// DefaultPath returns the default config file location.
func DefaultPath() string { return filepath.Join(Dir(), "config.yaml") }

// Default returns the built-in configuration.
func Default() *Config {
	dir := Dir()
	return &Config{
		Model: DefaultModel,
		Ollama: ServerConfig{
			URL: provider.DefaultOllamaURL,
			API: provider.APIAuto,
		},
		Profiles:     map[string]ServerConfig{},
		Orchestrator: OrchestratorConfig{MaxWorkers: 4},
		History: HistoryConfig{
			Path:    filepath.Join(dir, "history.json"),
			Window:  10,
			Backend: "file",
		},
		Index:   IndexConfig{Path: filepath.Join(dir, "index.json")},
		Plugins: PluginsConfig{Dir: filepath.Join(dir, "agents")},
		Server:  HTTPConfig{Host: "127.0.0.1", Port: 8001},
		Log:     LogConfig{Level: "info"},
	}
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// expandEnv substitutes ${VAR} and ${VAR:default} with environment values.
func expandEnv(s string) string {
	return envVarRe.ReplaceAllStringFunc(s, func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		if v := os.Getenv(parts[1]); v != "" {
			return v
		}
		return parts[2]
	})
}

// Manager owns the config file. It keeps the raw YAML tree so dot-path
// edits round-trip keys the typed Config does not know about.
type Manager struct {
	path   string
	tree   map[string]any
	logger *zap.Logger
}

// Open loads path. A missing file yields the defaults; a malformed file is
// logged and also yields the defaults.
func Open(path string, logger *zap.Logger) *Manager {
	if path == "" {
		path = DefaultPath()
	}
	m := &Manager{path: expandHome(path), logger: logger}
	m.tree = m.load()
	return m
}

func (m *Manager) load() map[string]any {
	data, err := os.ReadFile(m.path)
	if errors.Is(err, os.ErrNotExist) {
		m.logger.Debug("config file not found, using defaults", zap.String("path", m.path))
		return defaultTree()
	}
	if err != nil {
		m.logger.Error("read config failed, using defaults", zap.String("path", m.path), zap.Error(err))
		return defaultTree()
	}

	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		m.logger.Error("parse config failed, using defaults", zap.String("path", m.path), zap.Error(err))
		return defaultTree()
	}
	if tree == nil {
		tree = map[string]any{}
	}
	m.logger.Debug("loaded config", zap.String("path", m.path))
	return tree
}

func defaultTree() map[string]any {
	return map[string]any{
		"model":    DefaultModel,
		"ollama":   map[string]any{"url": provider.DefaultOllamaURL, "verify_ssl": false},
		"profiles": map[string]any{},
	}
}

// Path returns the config file location.
func (m *Manager) Path() string { return m.path }

// Exists reports whether the config file is on disk.
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.path)
	return err == nil
}

// Config decodes the tree over the defaults, after environment substitution.
func (m *Manager) Config() (*Config, error) {
	raw, err := yaml.Marshal(m.tree)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal([]byte(expandEnv(string(raw))), cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", m.path, err)
	}
	cfg.History.Path = expandHome(cfg.History.Path)
	cfg.Index.Path = expandHome(cfg.Index.Path)
	cfg.Plugins.Dir = expandHome(cfg.Plugins.Dir)
	return cfg, nil
}

// Save writes the tree to disk, creating the directory if needed.
func (m *Manager) Save() error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(m.tree)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(m.path, data, 0o600); err != nil {
		return fmt.Errorf("write config %s: %w", m.path, err)
	}
	m.logger.Info("saved config", zap.String("path", m.path))
	return nil
}

// Get returns the value at a dot-separated path such as "ollama.url".
func (m *Manager) Get(dotPath string) (any, bool) {
	var cur any = m.tree
	for _, k := range strings.Split(dotPath, ".") {
		node, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = node[k]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// Set stores value at dotPath and saves. The value is parsed as a YAML
// scalar, so "true" and "8" become a bool and an int. The value "null"
// deletes the key instead.
func (m *Manager) Set(dotPath, value string) error {
	keys := strings.Split(dotPath, ".")
	if value == "null" {
		node := m.tree
		for _, k := range keys[:len(keys)-1] {
			next, ok := node[k].(map[string]any)
			if !ok {
				return nil
			}
			node = next
		}
		last := keys[len(keys)-1]
		if _, ok := node[last]; !ok {
			return nil
		}
		delete(node, last)
		m.logger.Info("deleted config key", zap.String("key", dotPath))
		return m.Save()
	}

	node := m.tree
	for _, k := range keys[:len(keys)-1] {
		next, ok := node[k].(map[string]any)
		if !ok {
			next = map[string]any{}
			node[k] = next
		}
		node = next
	}
	node[keys[len(keys)-1]] = parseScalar(value)
	m.logger.Info("set config key", zap.String("key", dotPath))
	return m.Save()
}

func parseScalar(s string) any {
	var v any
	if err := yaml.Unmarshal([]byte(s), &v); err != nil || v == nil {
		return s
	}
	switch v.(type) {
	case map[string]any, []any:
		return s
	}
	return v
}

// Profiles returns the configured profile names, sorted.
func (m *Manager) Profiles() []string {
	profiles, _ := m.tree["profiles"].(map[string]any)
	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// UseProfile copies the named profile over the active server settings.
func (m *Manager) UseProfile(name string) error {
	profiles, _ := m.tree["profiles"].(map[string]any)
	p, ok := profiles[name]
	if !ok {
		return fmt.Errorf("no such profile: %s", name)
	}
	m.tree["ollama"] = p
	m.logger.Info("switched profile", zap.String("profile", name))
	return m.Save()
}

// TestConnection probes the configured server and returns its version.
func (m *Manager) TestConnection(ctx context.Context) (string, error) {
	cfg, err := m.Config()
	if err != nil {
		return "", err
	}
	p := provider.NewOllamaProvider(provider.ProviderConfig{
		Endpoint:  cfg.Ollama.URL,
		Timeout:   5 * time.Second,
		VerifySSL: cfg.Ollama.VerifySSL,
	}, m.logger)
	v, err := p.Version(ctx)
	if err != nil {
		return "", fmt.Errorf("connect %s: %w", cfg.Ollama.URL, err)
	}
	return v, nil
}

// ProviderConfig converts the active server settings for the provider package.
func (c *Config) ProviderConfig() provider.ProviderConfig {
	return provider.ProviderConfig{
		ID:        "default",
		Name:      c.Ollama.URL,
		Type:      c.Ollama.API,
		Endpoint:  c.Ollama.URL,
		APIKey:    c.Ollama.APIKey,
		VerifySSL: c.Ollama.VerifySSL,
	}
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
