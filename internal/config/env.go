package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// EnvDefaults holds settings read from the environment of the tracer itself.
type EnvDefaults struct {
	// NoColor follows https://no-color.org: any non-empty value disables color
	NoColor    string `env:"NO_COLOR"`
	ConfigPath string `env:"EXEC_TRACER_CONFIG"`
}

// ParseEnvDefaults reads EnvDefaults from the process environment.
func ParseEnvDefaults() (*EnvDefaults, error) {
	var d EnvDefaults
	if err := env.Parse(&d); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	return &d, nil
}

// ColorDisabled reports whether NO_COLOR is set.
func (d *EnvDefaults) ColorDisabled() bool {
	return d.NoColor != ""
}
