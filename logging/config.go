package logging

import (
	"os"
	"strings"
)

// Environment types
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTest        = "test"
)

// GetConfigFromEnv creates a logger configuration based on environment
// variables: LOG_LEVEL, LOG_FORMAT, LOG_ADD_SOURCE, ENVIRONMENT.
func GetConfigFromEnv() Config {
	config := DefaultConfig

	level := os.Getenv("LOG_LEVEL")
	if level != "" {
		config.Level = strings.ToLower(level)
	}
	format := os.Getenv("LOG_FORMAT")
	if format != "" {
		config.Format = strings.ToLower(format)
	}
	if env := os.Getenv("ENVIRONMENT"); env != "" {
		config.Environment = strings.ToLower(env)
	}
	addSource := os.Getenv("LOG_ADD_SOURCE")
	if addSource != "" {
		config.AddSource = strings.ToLower(addSource) == "true"
	}

	// Environment-specific defaults apply only where the variables
	// above did not pick a value.
	switch config.Environment {
	case EnvProduction:
		if format == "" {
			config.Format = "json"
		}
		if addSource == "" {
			config.AddSource = false
		}
	case EnvTest:
		if format == "" {
			config.Format = "text"
		}
		if level == "" {
			config.Level = "debug"
		}
		if addSource == "" {
			config.AddSource = false
		}
	case EnvDevelopment:
		if format == "" {
			config.Format = "text"
		}
		if addSource == "" {
			config.AddSource = true
		}
	}

	return config
}
