package config

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the service configuration, stored as YAML in the database and
// seeded from the default template on first run.
type Config struct {
	Service struct {
		Name string `yaml:"name"`
	} `yaml:"service"`
	Batches struct {
		IDPrefix string `yaml:"id_prefix"`
		// Herbs enriches display and drives generated IDs. The set is open:
		// unknown herb names are still accepted.
		Herbs []Herb `yaml:"herbs"`
	} `yaml:"batches"`
	Certificates struct {
		// ExpiringWindowDays controls when an unexpired certificate reports
		// status "expiring".
		ExpiringWindowDays int `yaml:"expiring_window_days"`
	} `yaml:"certificates"`
	Notifications struct {
		Webhooks []Webhook `yaml:"webhooks"`
	} `yaml:"notifications"`
	Auth struct {
		// AllowHeaderIdentity permits X-Actor-Id / X-Actor-Role headers in
		// place of a signed token. Development only.
		AllowHeaderIdentity bool `yaml:"allow_header_identity"`
	} `yaml:"auth"`
}

// Herb is one catalog entry.
type Herb struct {
	Name      string `yaml:"name"`
	LocalName string `yaml:"local_name,omitempty"`
}

// Webhook is one notification target. Events lists transition names; empty
// means all.
type Webhook struct {
	URL    string   `yaml:"url"`
	Events []string `yaml:"events,omitempty"`
	Secret string   `yaml:"secret,omitempty"`
}

const defaultTemplate = `service:
  name: rootra
batches:
  id_prefix: HB
  herbs:
    - name: Turmeric
      local_name: Haldi
    - name: Ashwagandha
    - name: Tulsi
      local_name: Holy Basil
    - name: Neem
    - name: Brahmi
certificates:
  expiring_window_days: 3
notifications:
  webhooks: []
auth:
  allow_header_identity: false
`

// Default returns the seed configuration.
func Default() *Config {
	cfg, err := Parse([]byte(defaultTemplate))
	if err != nil {
		panic(fmt.Sprintf("default config template invalid: %v", err))
	}
	return cfg
}

// DefaultYAML returns the seed configuration as YAML text.
func DefaultYAML() string {
	return defaultTemplate
}

// Parse decodes and validates YAML configuration.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Marshal encodes the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// Validate checks invariants the rest of the service assumes.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Service.Name) == "" {
		return fmt.Errorf("service.name required")
	}
	if strings.TrimSpace(c.Batches.IDPrefix) == "" {
		return fmt.Errorf("batches.id_prefix required")
	}
	seen := map[string]bool{}
	for _, h := range c.Batches.Herbs {
		name := strings.TrimSpace(h.Name)
		if name == "" {
			return fmt.Errorf("batches.herbs: empty name")
		}
		key := strings.ToLower(name)
		if seen[key] {
			return fmt.Errorf("batches.herbs: duplicate %q", h.Name)
		}
		seen[key] = true
	}
	if c.Certificates.ExpiringWindowDays < 0 {
		return fmt.Errorf("certificates.expiring_window_days must be >= 0")
	}
	if c.Certificates.ExpiringWindowDays == 0 {
		c.Certificates.ExpiringWindowDays = 3
	}
	for i, hook := range c.Notifications.Webhooks {
		if !strings.HasPrefix(hook.URL, "http://") && !strings.HasPrefix(hook.URL, "https://") {
			return fmt.Errorf("notifications.webhooks[%d]: url must be http(s)", i)
		}
	}
	return nil
}

// HerbKnown reports whether name is in the catalog (case-insensitive).
func (c *Config) HerbKnown(name string) bool {
	for _, h := range c.Batches.Herbs {
		if strings.EqualFold(h.Name, name) || strings.EqualFold(h.LocalName, name) {
			return true
		}
	}
	return false
}
