// Package messaging defines the pluggable messaging adapter interface.
package messaging

import (
	"context"

	"github.com/felixgeelhaar/milepost/pkg/domain/events"
)

// MessageAdapter sends event notifications to an external channel.
type MessageAdapter interface {
	Send(ctx context.Context, event events.DomainEvent) error
	Name() string
	Type() string
}

// Adapter types.
const (
	TypeWebhook = "webhook"
	TypeSlack   = "slack"
	TypeAMQP    = "amqp"
)

// AdapterConfig defines configuration for a messaging adapter.
type AdapterConfig struct {
	Name string `yaml:"name" json:"name" mapstructure:"name"`
	Type string `yaml:"type" json:"type" mapstructure:"type"` // "webhook", "slack", "amqp"
	// URL is the endpoint for webhook and slack, the broker URL for amqp.
	URL          string   `yaml:"url" json:"url" mapstructure:"url"`
	Secret       string   `yaml:"secret,omitempty" json:"secret,omitempty" mapstructure:"secret"`
	EventFilters []string `yaml:"event_filters,omitempty" json:"event_filters,omitempty" mapstructure:"event_filters"`
	Enabled      bool     `yaml:"enabled" json:"enabled" mapstructure:"enabled"`
	// MaxAttempts bounds delivery tries per event; zero means the default of 3.
	MaxAttempts int               `yaml:"max_attempts,omitempty" json:"max_attempts,omitempty" mapstructure:"max_attempts"`
	Options     map[string]string `yaml:"options,omitempty" json:"options,omitempty" mapstructure:"options"`
}

// Accepts reports whether the adapter wants events of eventType.
// An empty filter list accepts everything.
func (c AdapterConfig) Accepts(eventType string) bool {
	if len(c.EventFilters) == 0 {
		return true
	}
	for _, f := range c.EventFilters {
		if f == eventType || f == "*" {
			return true
		}
	}
	return false
}

// MessagingConfig holds all configured messaging adapters.
type MessagingConfig struct {
	Adapters []AdapterConfig `yaml:"adapters" json:"adapters" mapstructure:"adapters"`
}
