// Package config handles configuration loading, parsing, and validation
// from defaults, an optional YAML file and SYNTHGEN_ environment variables.
// It provides type-safe access to the settings of the task runner, the
// providers, the stores and the vector index synchronization.
package config
