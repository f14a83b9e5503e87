// Package config loads, validates, and defaults the praxis TOML
// configuration.
//
// Load resolves the config path (explicit flag, ~/.config/praxis/config.toml,
// or ./praxis.toml), decodes it over the defaults from Default, expands and
// normalizes path fields, and validates the result. Other packages treat the
// returned Config as immutable.
package config
