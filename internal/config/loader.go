package config

import (
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR_NAME} patterns in strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ExpandEnvVars replaces ${VAR} patterns with environment variable values.
// Unset variables are left unchanged.
func ExpandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

// ExpandValue applies ExpandEnvVars to every string inside a nested
// map/slice structure and returns the expanded copy.
func ExpandValue(v any) any {
	switch val := v.(type) {
	case string:
		return ExpandEnvVars(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = ExpandValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = ExpandValue(item)
		}
		return out
	default:
		return v
	}
}

// LoadEnvFile loads KEY=VALUE pairs from a .env file into the process
// environment without overriding variables that are already set.
// A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return &ConfigError{Message: "failed to load env file: " + err.Error()}
	}
	return nil
}

// Load reads the config file, applies environment overrides, and returns
// a merged Config. Missing files produce defaults only.
func Load(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(&cfg)
			return cfg, nil
		}
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	expandSensitiveFields(&cfg)
	return cfg, nil
}

// expandSensitiveFields processes environment variable references in fields
// that commonly point at deployment-specific locations or secrets.
func expandSensitiveFields(cfg *Config) {
	cfg.AgentsFile = ExpandEnvVars(cfg.AgentsFile)
	cfg.Store.Path = ExpandEnvVars(cfg.Store.Path)
	cfg.Server.Token = ExpandEnvVars(cfg.Server.Token)
	for i := range cfg.Workflow.ToolServers {
		ts := &cfg.Workflow.ToolServers[i]
		ts.URL = ExpandEnvVars(ts.URL)
		ts.Token = ExpandEnvVars(ts.Token)
	}
	for i := range cfg.Agents {
		expandAgentEntry(&cfg.Agents[i])
	}
}

func expandAgentEntry(a *AgentEntry) {
	a.AgentID = ExpandEnvVars(a.AgentID)
	a.Name = ExpandEnvVars(a.Name)
	a.Endpoint = ExpandEnvVars(a.Endpoint)
	a.Protocol = ExpandEnvVars(a.Protocol)
	for i, c := range a.Capabilities {
		a.Capabilities[i] = ExpandEnvVars(c)
	}
	if a.InputSchema != nil {
		a.InputSchema = ExpandValue(a.InputSchema).(map[string]any)
	}
	if a.OutputSchema != nil {
		a.OutputSchema = ExpandValue(a.OutputSchema).(map[string]any)
	}
	if a.Metadata != nil {
		a.Metadata = ExpandValue(a.Metadata).(map[string]any)
	}
}

// LoadRaw reads the config file into a generic map for path-based access.
func LoadRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, err
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

// SaveRaw writes a generic map back to a YAML config file.
func SaveRaw(path string, raw map[string]any) error {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// applyDefaults fills zero-value fields with sensible defaults.
func applyDefaults(cfg *Config) {
	def := Defaults()
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = def.Logging.Level
	}
	if cfg.Logging.ConsoleStyle == "" {
		cfg.Logging.ConsoleStyle = def.Logging.ConsoleStyle
	}
	if cfg.Delegation.RetryBackoff == 0 {
		cfg.Delegation.RetryBackoff = def.Delegation.RetryBackoff
	}
	if cfg.Delegation.Timeout == 0 {
		cfg.Delegation.Timeout = def.Delegation.Timeout
	}
	if cfg.Delegation.DiscoveryCacheTTL == 0 {
		cfg.Delegation.DiscoveryCacheTTL = def.Delegation.DiscoveryCacheTTL
	}
	if cfg.Delegation.CircuitBreaker.Threshold == 0 {
		cfg.Delegation.CircuitBreaker.Threshold = def.Delegation.CircuitBreaker.Threshold
	}
	if cfg.Delegation.CircuitBreaker.Cooldown == 0 {
		cfg.Delegation.CircuitBreaker.Cooldown = def.Delegation.CircuitBreaker.Cooldown
	}
	if cfg.Delegation.Idempotency.TTL == 0 {
		cfg.Delegation.Idempotency.TTL = def.Delegation.Idempotency.TTL
	}
	if cfg.Delegation.Idempotency.MaxSize == 0 {
		cfg.Delegation.Idempotency.MaxSize = def.Delegation.Idempotency.MaxSize
	}
	if cfg.Workflow.RetryBackoff == 0 {
		cfg.Workflow.RetryBackoff = def.Workflow.RetryBackoff
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = def.Server.Addr
	}
	if cfg.Miner.MinFrequency == 0 {
		cfg.Miner.MinFrequency = def.Miner.MinFrequency
	}
	if cfg.Miner.MinSuccessRate == 0 {
		cfg.Miner.MinSuccessRate = def.Miner.MinSuccessRate
	}
	if cfg.Miner.MaxSequenceLength == 0 {
		cfg.Miner.MaxSequenceLength = def.Miner.MaxSequenceLength
	}
	if cfg.Miner.SessionBucket == 0 {
		cfg.Miner.SessionBucket = def.Miner.SessionBucket
	}
}

// applyEnvOverrides reads CONDUCTOR_* environment variables and overrides config values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CONDUCTOR_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("CONDUCTOR_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Delegation.MaxRetries = n
		}
	}
	if v := os.Getenv("CONDUCTOR_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Delegation.Timeout = d
		}
	}
	if v := os.Getenv("CONDUCTOR_AGENTS_FILE"); v != "" {
		cfg.AgentsFile = v
	}
	if v := os.Getenv("CONDUCTOR_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("CONDUCTOR_METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}
	if v := os.Getenv("CONDUCTOR_SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
}
