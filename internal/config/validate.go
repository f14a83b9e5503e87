package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateQueue(); err != nil {
		return err
	}
	if err := c.validateResearch(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if c.Paths.StateDir == "" {
		return errors.New("paths.state_dir must be set")
	}
	if c.Paths.LogDir == "" {
		return errors.New("paths.log_dir must be set")
	}
	return nil
}

func (c *Config) validateQueue() error {
	if c.Queue.Capacity <= 0 {
		return errors.New("queue.capacity must be positive")
	}
	if c.Queue.MaxQueryLength <= 0 {
		return errors.New("queue.max_query_length must be positive")
	}
	if c.Queue.AverageSeconds <= 0 {
		return errors.New("queue.average_seconds must be positive")
	}
	if c.Queue.RetentionSeconds < 0 {
		return errors.New("queue.retention_seconds must not be negative")
	}
	if c.Queue.PollInterval <= 0 {
		return errors.New("queue.poll_interval must be positive")
	}
	if c.Queue.ErrorRetryDelay <= 0 {
		return errors.New("queue.error_retry_delay must be positive")
	}
	return nil
}

func (c *Config) validateResearch() error {
	if c.Research.APIKey == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = "~/.config/praxis/config.toml"
		}
		return fmt.Errorf("research.api_key is required. Edit %s (create with 'praxis config init')", defaultPath)
	}
	if c.Research.BaseURL == "" {
		return errors.New("research.base_url must be set")
	}
	if c.Research.Model == "" {
		return errors.New("research.model must be set")
	}
	if c.Research.TimeoutSeconds <= 0 {
		return errors.New("research.timeout_seconds must be positive")
	}
	return nil
}

func (c *Config) validateNotifications() error {
	endpoint := strings.TrimSpace(c.Notifications.WebhookURL)
	if endpoint == "" {
		return nil
	}
	parsed, err := url.Parse(endpoint)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("notifications.webhook_url %q is not a valid URL", endpoint)
	}
	if c.Notifications.RequestTimeout <= 0 {
		return errors.New("notifications.request_timeout must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("logging.format %q is not supported (use console or json)", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not supported", c.Logging.Level)
	}
	return nil
}
