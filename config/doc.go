// Package config provides configuration loading and validation for datarill
// services.
//
// It uses Viper to load configuration from files and environment variables.
// Each service keeps a config.yml next to its entry point
// (cmd/<service>/config.yml); environment variables and an optional .env file
// override file values.
//
// Per-section config structs follow the ApplyDefaults()/Validate() convention
// so a service config can be assembled from the sections it needs.
package config
