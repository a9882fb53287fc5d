package tools

import "time"

// Config specifies how tools are executed.
type Config struct {
	ExecutionTimeout time.Duration `json:"execution_timeout"`
	AllowedTools     []string      `json:"allowed_tools"`
	ValidateInput    bool          `json:"validate_input"`
	RetryConfig      RetryConfig   `json:"retry_config"`
	// MaxConcurrency caps simultaneous tool executions across the executor.
	// Zero means unlimited.
	MaxConcurrency int64 `json:"max_concurrency"`
}

// RetryConfig defines retry behavior for tool execution.
type RetryConfig struct {
	MaxRetries    int           `json:"max_retries"`
	BackoffBase   time.Duration `json:"backoff_base"`
	BackoffFactor float64       `json:"backoff_factor"`
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	return Config{
		ExecutionTimeout: 30 * time.Second,
		AllowedTools:     nil, // nil means all tools are allowed
		ValidateInput:    true,
		RetryConfig: RetryConfig{
			MaxRetries:    2,
			BackoffBase:   time.Second,
			BackoffFactor: 2.0,
		},
	}
}

func (c Config) WithExecutionTimeout(timeout time.Duration) Config {
	c.ExecutionTimeout = timeout
	return c
}

func (c Config) WithAllowedTools(names []string) Config {
	c.AllowedTools = names
	return c
}

func (c Config) WithValidateInput(validate bool) Config {
	c.ValidateInput = validate
	return c
}

func (c Config) WithRetryConfig(cfg RetryConfig) Config {
	c.RetryConfig = cfg
	return c
}

func (c Config) WithMaxConcurrency(n int64) Config {
	c.MaxConcurrency = n
	return c
}

// IsToolAllowed reports whether the named tool may be executed under this
// config. A nil allow-list permits everything.
func (c Config) IsToolAllowed(name string) bool {
	if c.AllowedTools == nil {
		return true
	}
	for _, allowed := range c.AllowedTools {
		if allowed == name {
			return true
		}
	}
	return false
}
