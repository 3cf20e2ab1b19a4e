/*
Package config provides configuration loading, merging and persistence for clubmail.
*/
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Transport names
const (
	TransportSMTP = "smtp"
	TransportSES  = "ses"
)

// SMTP connection security modes
const (
	SecurityStartTLS = "starttls"
	SecurityTLS      = "tls"
	SecurityNone     = "none"
)

// DefaultCooldown is the pause, in seconds, applied when the hourly rate
// ceiling is exceeded.
const DefaultCooldown = 30

// passwordKey is never persisted.
const passwordKey = "password"

// Config represents the complete clubmail configuration
type Config struct {
	// SMTPServer is the relay host
	SMTPServer string `json:"smtp_server" yaml:"smtp_server"`

	// SMTPPort is the relay port
	SMTPPort int `json:"smtp_port" yaml:"smtp_port"`

	// SMTPUsername overrides the login name; defaults to FromEmail
	SMTPUsername string `json:"smtp_username,omitempty" yaml:"smtp_username,omitempty"`

	// SMTPSecurity is one of starttls, tls or none
	SMTPSecurity string `json:"smtp_security,omitempty" yaml:"smtp_security,omitempty"`

	// FromEmail is the sender address
	FromEmail string `json:"from_email" yaml:"from_email"`

	// Password is held in memory only
	Password string `json:"-" yaml:"-"`

	// RateLimit is the maximum number of sends per hour
	RateLimit int `json:"rate_limit" yaml:"rate_limit"`

	// DelayRange is the inclusive [min, max] pause between sends, in seconds
	DelayRange []int `json:"delay_range" yaml:"delay_range,flow"`

	// Cooldown is the pause, in seconds, once the rate ceiling is exceeded
	Cooldown int `json:"cooldown,omitempty" yaml:"cooldown,omitempty"`

	// LogFile is the append-only run log
	LogFile string `json:"log_file" yaml:"log_file"`

	// Transport selects the delivery backend (smtp, ses)
	Transport string `json:"transport,omitempty" yaml:"transport,omitempty"`

	// SESRegion is the AWS region used by the ses transport
	SESRegion string `json:"ses_region,omitempty" yaml:"ses_region,omitempty"`

	// Delimiter separates recipient file columns
	Delimiter string `json:"delimiter,omitempty" yaml:"delimiter,omitempty"`

	// extra keeps unknown keys so they survive a save
	extra map[string]any
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		SMTPServer:   "smtp.gmail.com",
		SMTPPort:     587,
		SMTPSecurity: SecurityStartTLS,
		RateLimit:    20,
		DelayRange:   []int{30, 90},
		Cooldown:     DefaultCooldown,
		LogFile:      "email_log.txt",
		Transport:    TransportSMTP,
		Delimiter:    ",",
	}
}

// Load returns the defaults overlaid with the keys found in path. A missing
// file is not an error. When the file cannot be read or parsed, or holds
// values that fail Validate, the defaults are returned together with the
// error. Unknown keys of a parsed file are kept either way.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	loaded := Default()
	raw := make(map[string]any)
	if isYAML(path) {
		if err := yaml.Unmarshal(data, loaded); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, loaded); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	known := knownKeys()
	for k, v := range raw {
		if known[k] || k == passwordKey {
			continue
		}
		if loaded.extra == nil {
			loaded.extra = make(map[string]any)
		}
		loaded.extra[k] = v
	}

	if err := loaded.Validate(); err != nil {
		cfg.extra = loaded.extra
		return cfg, fmt.Errorf("invalid config file: %w", err)
	}

	return loaded, nil
}

// Merge overlays the non-zero fields of override onto c
func (c *Config) Merge(override Config) error {
	if err := mergo.Merge(c, override, mergo.WithOverride); err != nil {
		return fmt.Errorf("failed to merge overrides: %w", err)
	}
	return nil
}

// Save writes the configuration to path without the password
func (c *Config) Save(path string) error {
	doc, err := c.redacted()
	if err != nil {
		return err
	}

	var data []byte
	if isYAML(path) {
		data, err = yaml.Marshal(doc)
	} else {
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetIndent("", "  ")
		err = enc.Encode(doc)
		data = buf.Bytes()
	}
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// redacted returns the persisted form: known fields plus unknown keys,
// never the password.
func (c *Config) redacted() (map[string]any, error) {
	encoded, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	doc := make(map[string]any, len(c.extra)+12)
	for k, v := range c.extra {
		doc[k] = v
	}
	var known map[string]any
	if err := json.Unmarshal(encoded, &known); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	for k, v := range known {
		doc[k] = v
	}
	delete(doc, passwordKey)
	return doc, nil
}

// Extra returns the value of a key that clubmail does not interpret
func (c *Config) Extra(key string) (any, bool) {
	v, ok := c.extra[key]
	return v, ok
}

// Username returns the SMTP login name
func (c *Config) Username() string {
	if c.SMTPUsername != "" {
		return c.SMTPUsername
	}
	return c.FromEmail
}

// Address returns host:port of the relay
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.SMTPServer, c.SMTPPort)
}

// MinDelay returns the lower pause bound in seconds
func (c *Config) MinDelay() int {
	if len(c.DelayRange) < 1 {
		return 0
	}
	return c.DelayRange[0]
}

// MaxDelay returns the upper pause bound in seconds
func (c *Config) MaxDelay() int {
	if len(c.DelayRange) < 2 {
		return c.MinDelay()
	}
	return c.DelayRange[1]
}

// Comma returns the recipient file delimiter as a rune
func (c *Config) Comma() rune {
	if c.Delimiter == `\t` {
		return '\t'
	}
	for _, r := range c.Delimiter {
		return r
	}
	return ','
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.SMTPPort < 0 || c.SMTPPort > 65535 {
		return fmt.Errorf("smtp_port out of range: %d", c.SMTPPort)
	}
	if c.RateLimit <= 0 {
		return fmt.Errorf("rate_limit must be positive, got %d", c.RateLimit)
	}
	if len(c.DelayRange) != 2 {
		return fmt.Errorf("delay_range must have exactly two elements, got %d", len(c.DelayRange))
	}
	if c.DelayRange[0] < 0 || c.DelayRange[0] > c.DelayRange[1] {
		return fmt.Errorf("delay_range must satisfy 0 <= min <= max, got %v", c.DelayRange)
	}
	if c.Cooldown < 0 {
		return fmt.Errorf("cooldown must not be negative, got %d", c.Cooldown)
	}

	switch c.Transport {
	case "", TransportSMTP:
		if c.SMTPServer == "" {
			return fmt.Errorf("smtp_server is required")
		}
	case TransportSES:
	default:
		return fmt.Errorf("unknown transport: %s", c.Transport)
	}

	switch c.SMTPSecurity {
	case "", SecurityStartTLS, SecurityTLS, SecurityNone:
	default:
		return fmt.Errorf("unknown smtp_security: %s", c.SMTPSecurity)
	}

	if len([]rune(c.Delimiter)) > 1 && c.Delimiter != `\t` {
		return fmt.Errorf("delimiter must be a single character, got %q", c.Delimiter)
	}

	return nil
}

// ParseDelayRange parses a "min,max" pair of whole seconds with 0 <= min <= max
func ParseDelayRange(s string) ([]int, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid delay range %q", s)
	}
	minDelay, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return nil, fmt.Errorf("invalid delay range %q: %w", s, err)
	}
	maxDelay, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return nil, fmt.Errorf("invalid delay range %q: %w", s, err)
	}
	if minDelay < 0 || minDelay > maxDelay {
		return nil, fmt.Errorf("invalid delay range %q: need 0 <= min <= max", s)
	}
	return []int{minDelay, maxDelay}, nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func knownKeys() map[string]bool {
	return map[string]bool{
		"smtp_server":   true,
		"smtp_port":     true,
		"smtp_username": true,
		"smtp_security": true,
		"from_email":    true,
		"rate_limit":    true,
		"delay_range":   true,
		"cooldown":      true,
		"log_file":      true,
		"transport":     true,
		"ses_region":    true,
		"delimiter":     true,
	}
}

// DefaultTemplate returns the default configuration template
func DefaultTemplate() string {
	return `{
  "smtp_server": "smtp.gmail.com",
  "smtp_port": 587,
  "smtp_security": "starttls",
  "from_email": "",
  "rate_limit": 20,
  "delay_range": [30, 90],
  "cooldown": 30,
  "log_file": "email_log.txt",
  "transport": "smtp",
  "delimiter": ","
}
`
}
