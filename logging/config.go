package logging

import (
	"slices"
	"time"
)

// Config selects the sinks a Router feeds and how it filters events.
type Config struct {
	EnabledSinks []string
	// BufferSize bounds the router queue. Publish drops once it is full.
	BufferSize      int
	MinimumSeverity Severity
	// Fields land in every event's Extra unless the event already sets the key.
	Fields           map[string]any
	JSON             JSONConfig
	DropWarnInterval time.Duration
}

type JSONConfig struct {
	FilePath      string
	FlushInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		EnabledSinks:     []string{"console"},
		BufferSize:       defaultBufferSize,
		MinimumSeverity:  SeverityInfo,
		DropWarnInterval: 5 * time.Second,
		JSON:             JSONConfig{FlushInterval: 2 * time.Second},
	}
}

func (c Config) HasSink(name string) bool {
	return slices.Contains(c.EnabledSinks, name)
}
