package config

import "time"

// Config is the root configuration for conductor.
type Config struct {
	Logging    LoggingConfig    `yaml:"logging,omitempty"`
	Delegation DelegationConfig `yaml:"delegation,omitempty"`
	Workflow   WorkflowConfig   `yaml:"workflow,omitempty"`
	Miner      MinerConfig      `yaml:"miner,omitempty"`
	Store      StoreConfig      `yaml:"store,omitempty"`
	Metrics    MetricsConfig    `yaml:"metrics,omitempty"`
	Server     ServerConfig     `yaml:"server,omitempty"`
	AgentsFile string           `yaml:"agentsFile,omitempty"` // external agent registry document
	Agents     []AgentEntry     `yaml:"agents,omitempty"`     // inline agents, merged after AgentsFile
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level        string `yaml:"level,omitempty"`        // "silent" | "fatal" | "error" | "warn" | "info" | "debug" | "trace"
	ConsoleStyle string `yaml:"consoleStyle,omitempty"` // "pretty" | "json"
}

// DelegationConfig tunes the resilient delegation client.
type DelegationConfig struct {
	MaxRetries        int                  `yaml:"maxRetries,omitempty"`
	RetryBackoff      time.Duration        `yaml:"retryBackoff,omitempty"` // base; attempt i waits base * 2^i
	Timeout           time.Duration        `yaml:"timeout,omitempty"`      // per-attempt default
	ChunkTimeout      time.Duration        `yaml:"chunkTimeout,omitempty"` // per streamed chunk, 0 = none
	RateLimit         float64              `yaml:"rateLimit,omitempty"`    // attempts per second, 0 = unlimited
	DiscoveryCacheTTL time.Duration        `yaml:"discoveryCacheTTL,omitempty"`
	CircuitBreaker    CircuitBreakerConfig `yaml:"circuitBreaker,omitempty"`
	Idempotency       IdempotencyConfig    `yaml:"idempotency,omitempty"`
}

// CircuitBreakerConfig configures the shared failure breaker.
type CircuitBreakerConfig struct {
	Threshold int           `yaml:"threshold,omitempty"`
	Cooldown  time.Duration `yaml:"cooldown,omitempty"`
}

// IdempotencyConfig configures the idempotent response cache.
type IdempotencyConfig struct {
	TTL     time.Duration `yaml:"ttl,omitempty"`
	MaxSize int           `yaml:"maxSize,omitempty"`
}

// WorkflowConfig tunes the workflow engine.
type WorkflowConfig struct {
	RetryBackoff time.Duration      `yaml:"retryBackoff,omitempty"`
	MaxParallel  int                `yaml:"maxParallel,omitempty"` // 0 = unlimited per level
	Routes       map[string]string  `yaml:"routes,omitempty"`      // tool name -> agent id
	ToolServers  []ToolServerConfig `yaml:"toolServers,omitempty"` // consulted after local tools and agents
	Record       bool               `yaml:"record,omitempty"`      // persist step calls for mining
}

// ToolServerConfig points at a remote conductor tool server.
type ToolServerConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token,omitempty"`
}

// MinerConfig holds pattern mining thresholds.
type MinerConfig struct {
	MinFrequency      int           `yaml:"minFrequency,omitempty"`
	MinSuccessRate    float64       `yaml:"minSuccessRate,omitempty"`
	MaxSequenceLength int           `yaml:"maxSequenceLength,omitempty"`
	SessionBucket     time.Duration `yaml:"sessionBucket,omitempty"`
}

// StoreConfig locates the call-log database.
type StoreConfig struct {
	Path string `yaml:"path,omitempty"` // empty = <base>/data/conductor.db
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Addr string `yaml:"addr,omitempty"` // e.g. "127.0.0.1:9464"; empty disables
}

// ServerConfig controls the tool server started by "conductor serve".
type ServerConfig struct {
	Addr           string   `yaml:"addr,omitempty"`
	Token          string   `yaml:"token,omitempty"` // bearer token; falls back to CONDUCTOR_SERVER_TOKEN
	AllowedOrigins []string `yaml:"allowedOrigins,omitempty"`
}

// AgentsDocument is the external agent registry document.
type AgentsDocument struct {
	Agents []AgentEntry `yaml:"agents"`
}

// AgentEntry describes one remote agent as written in config.
type AgentEntry struct {
	AgentID           string         `yaml:"agent_id"`
	Name              string         `yaml:"name,omitempty"`
	Endpoint          string         `yaml:"endpoint"`
	Protocol          string         `yaml:"protocol,omitempty"` // "http" | "sse" | "websocket"
	Capabilities      []string       `yaml:"capabilities,omitempty"`
	InputSchema       map[string]any `yaml:"input_schema,omitempty"`
	OutputSchema      map[string]any `yaml:"output_schema,omitempty"`
	CostEstimate      float64        `yaml:"cost_estimate,omitempty"`
	LatencyEstimate   float64        `yaml:"latency_estimate,omitempty"` // seconds
	SupportsStreaming bool           `yaml:"supports_streaming,omitempty"`
	Metadata          map[string]any `yaml:"metadata,omitempty"`
}
