package orchestrator

import (
	"time"

	nodex "github.com/tanpawarit/fredie-agent/agent/nodes"
)

// Config is loaded with prefix ORCHESTRATOR.
type Config struct {
	MaxHops            int           `envconfig:"MAX_HOPS" split_words:"true" default:"6"`
	MaxRetries         int           `envconfig:"MAX_RETRIES" split_words:"true" default:"2"`
	CallTimeout        time.Duration `envconfig:"CALL_TIMEOUT" split_words:"true" default:"30s"`
	RequireIdentity    bool          `envconfig:"REQUIRE_IDENTITY" split_words:"true" default:"true"`
	RecordCapabilities bool          `envconfig:"RECORD_CAPABILITIES" split_words:"true" default:"false"`
	DefaultTimezone    string        `envconfig:"DEFAULT_TIMEZONE" split_words:"true" default:"America/Monterrey"`
	DefaultAvatar      string        `envconfig:"DEFAULT_AVATAR" split_words:"true" default:"cora"`
}

func (c Config) policy() nodex.Policy {
	return nodex.Policy{
		MaxHops:            c.MaxHops,
		MaxRetries:         c.MaxRetries,
		RequireIdentity:    c.RequireIdentity,
		RecordCapabilities: c.RecordCapabilities,
		DefaultTimezone:    c.DefaultTimezone,
		DefaultAvatar:      c.DefaultAvatar,
		PersistTimeout:     c.CallTimeout,
	}
}
