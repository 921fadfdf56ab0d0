package config

import "github.com/tndd/datadoggo-v3-alpaca/pkg/confkit"

// DefaultPath is the main config file relative to the project root.
const DefaultPath = "etc/ingest.yaml"

// MustLoadDefault loads etc/ingest.yaml from the project root and panics on
// error. Tests use it to read the checked-in configuration.
func MustLoadDefault() *Config {
	return MustLoad(confkit.MustProjectPath(DefaultPath))
}
