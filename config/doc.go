// Package config loads the proxy configuration from a YAML file, environment
// variables and command-line flags. It covers the listener address, the
// routing table, the fallback backend, the admin endpoint and logging.
package config
