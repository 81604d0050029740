// Package config loads leadflow configuration from defaults, a YAML
// file, and environment variables, in that order of precedence.
package config
