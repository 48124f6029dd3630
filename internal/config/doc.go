// Package config provides the configuration of bizcrawl.
// Values come from built-in defaults, an optional YAML file, a .env file and
// BIZCRAWL_* environment variables, and CLI flags, in increasing priority.
package config
