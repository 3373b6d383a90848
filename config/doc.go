// Package config loads flowstream configuration from defaults, a YAML file
// and FLOWSTREAM_* environment variables, and hot-reloads the file while the
// server runs.
package config
