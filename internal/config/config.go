package config

// Constants for Subscriber Policy Overflow Strategy.
const (
	OverflowBlock      = "block"
	OverflowDropNew    = "drop_new"
	OverflowDropOldest = "drop_oldest"
	OverflowError      = "error"
)

// Defaults applied when a policy field is unset.
const (
	DefaultSubscriberBufferSize     = 128
	DefaultParallelisationThreshold = 0 // Never partition.
	DefaultLogLevel                 = "info"
	DefaultLogFormat                = "text"
)

// CacheConfig represents the top-level structure of a livecache YAML configuration file.
type CacheConfig struct {
	Name             string            `yaml:"name"`
	SchemaVersion    string            `yaml:"schemaVersion"`
	SubscriberPolicy *SubscriberPolicy `yaml:"subscriber_policy,omitempty"`
	FilterPolicy     *FilterPolicy     `yaml:"filter_policy,omitempty"`
	StatePolicy      *StatePolicy      `yaml:"state_policy,omitempty"`
	Logging          *LoggingConfig    `yaml:"logging,omitempty"`

	// FilePath is an internal field for storing the source file path for context
	// in logging and error messages. It is not parsed from the YAML.
	FilePath string `yaml:"-"`
}

// SubscriberPolicy defines how change-sets are queued for each subscriber.
type SubscriberPolicy struct {
	BufferSize       *int   `yaml:"buffer_size,omitempty" json:"buffer_size,omitempty"`
	OverflowStrategy string `yaml:"overflow_strategy,omitempty" json:"overflow_strategy,omitempty"`
}

// FilterPolicy configures the parallel filter used by filtered connections.
type FilterPolicy struct {
	ParallelisationThreshold *int `yaml:"parallelisation_threshold,omitempty" json:"parallelisation_threshold,omitempty"`
	MaxDegreeOfParallelism   *int `yaml:"max_degree_of_parallelism,omitempty" json:"max_degree_of_parallelism,omitempty"`
}

// LoggingConfig selects the level and output format of the cache logger.
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
}

// GetSubscriberBufferSize returns the configured buffer size or the default.
func (c *CacheConfig) GetSubscriberBufferSize() int {
	if c.SubscriberPolicy != nil && c.SubscriberPolicy.BufferSize != nil && *c.SubscriberPolicy.BufferSize >= 0 {
		return *c.SubscriberPolicy.BufferSize
	}
	return DefaultSubscriberBufferSize
}

// GetOverflowStrategy returns the configured overflow strategy or the default ("error").
func (c *CacheConfig) GetOverflowStrategy() string {
	if c.SubscriberPolicy != nil && c.SubscriberPolicy.OverflowStrategy != "" {
		return c.SubscriberPolicy.OverflowStrategy
	}
	return OverflowError
}

// GetParallelisationThreshold returns the batch size above which filtering is partitioned.
func (c *CacheConfig) GetParallelisationThreshold() int {
	if c.FilterPolicy != nil && c.FilterPolicy.ParallelisationThreshold != nil && *c.FilterPolicy.ParallelisationThreshold > 0 {
		return *c.FilterPolicy.ParallelisationThreshold
	}
	return DefaultParallelisationThreshold
}

// GetMaxDegreeOfParallelism returns the configured worker count, or 0 to let
// the filter pick one from the CPU count.
func (c *CacheConfig) GetMaxDegreeOfParallelism() int {
	if c.FilterPolicy != nil && c.FilterPolicy.MaxDegreeOfParallelism != nil && *c.FilterPolicy.MaxDegreeOfParallelism > 0 {
		return *c.FilterPolicy.MaxDegreeOfParallelism
	}
	return 0
}

// GetAccessMode returns the configured state access mode, defaulting to deep_copy.
func (c *CacheConfig) GetAccessMode() StateAccessMode {
	if c.StatePolicy != nil && c.StatePolicy.AccessMode != "" {
		return c.StatePolicy.AccessMode
	}
	return StateAccessDeepCopy
}

// GetLogLevel returns the configured log level or "info".
func (c *CacheConfig) GetLogLevel() string {
	if c.Logging != nil && c.Logging.Level != "" {
		return c.Logging.Level
	}
	return DefaultLogLevel
}

// GetLogFormat returns the configured log format or "text".
func (c *CacheConfig) GetLogFormat() string {
	if c.Logging != nil && c.Logging.Format != "" {
		return c.Logging.Format
	}
	return DefaultLogFormat
}
