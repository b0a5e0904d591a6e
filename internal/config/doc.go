// Package config loads and validates the pipeline's configuration.
//
// Values are layered in increasing precedence:
//
//  1. Default() values
//  2. A YAML file (HEALTH_CONFIG_FILE, config.yaml or configs/config.yaml)
//  3. HEALTH_* environment variables
//
// Nested sections map onto prefixed variables, for example:
//
//	HEALTH_SERVER_PORT=8080
//	HEALTH_PIPELINE_WORKERS=2
//	HEALTH_PIPELINE_EMPTY_COLUMN_POLICY=fail
//	HEALTH_OUTPUT_FORMATS=csv,xlsx,sqlite
//	HEALTH_LOGGING_LEVEL=debug
//
// Source definitions and the country list are only configurable from YAML;
// DefaultSources and DefaultCountries describe the published series.
package config
