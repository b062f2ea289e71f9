package config

import (
	"fmt"
	"sort"

	"github.com/casekit/outbound/apiclient"
	"github.com/casekit/outbound/logger"
)

// Config is the loaded client registry.
type Config struct {
	// Logging configures the host application's logger.
	Logging logger.Config `yaml:"logging" mapstructure:"logging"`
	// Clients maps client names to their configurations.
	Clients map[string]apiclient.ClientConfig `yaml:"clients" mapstructure:"clients" validate:"dive"`
}

// ApplyDefaults applies defaults to the logging block and every client.
func (c *Config) ApplyDefaults() {
	c.Logging.ApplyDefaults()
	for name, client := range c.Clients {
		client.ApplyDefaults()
		c.Clients[name] = client
	}
}

// Validate checks the logging block and every client configuration.
func (c *Config) Validate() error {
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	for _, name := range c.names() {
		client := c.Clients[name]
		if err := client.Validate(); err != nil {
			return fmt.Errorf("config: client %q: %w", name, err)
		}
	}
	return nil
}

// RegisterAll registers every declared client with the manager, in name
// order. Registration stops at the first failure.
func (c *Config) RegisterAll(m *apiclient.Manager) error {
	for _, name := range c.names() {
		if err := m.Register(name, c.Clients[name]); err != nil {
			return err
		}
	}
	return nil
}

// names returns the declared client names, sorted.
func (c *Config) names() []string {
	names := make([]string, 0, len(c.Clients))
	for name := range c.Clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
