package legion

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/cqyuan/legion/runtime/task"
	"github.com/cqyuan/legion/service/messaging/memory"
	"github.com/cqyuan/legion/service/processor"
)

// Config is a serialisable representation of the runtime configuration.
// The zero value is usable: a zero worker count or queue buffer falls
// back to the package default, a zero analysis queue depth gives a
// one-slot queue, and a zero retry budget means no retries.
type Config struct {
	Processor processor.Config `json:"processor" yaml:"processor"`
	Context   task.Config      `json:"context" yaml:"context"`
	Queue     memory.Config    `json:"queue" yaml:"queue"`
}

// DefaultConfig returns a Config populated with the package defaults.
func DefaultConfig() *Config {
	return &Config{
		Processor: processor.DefaultConfig(),
		Context:   task.DefaultConfig(),
		Queue:     memory.DefaultConfig(),
	}
}

// ParseConfig decodes a YAML configuration, filling omitted fields with
// defaults.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate returns an error describing invalid settings, or nil.
func (c *Config) Validate() error {
	if c == nil {
		return nil
	}
	if c.Processor.WorkerCount < 0 {
		return fmt.Errorf("processor.workers must be >= 0")
	}
	if c.Context.MaxOutstandingFrames < 0 {
		return fmt.Errorf("context.maxOutstandingFrames must be >= 0")
	}
	return nil
}
