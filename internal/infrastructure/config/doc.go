// Package config loads and validates Gray Audio Core configuration.
//
// Configuration is read from a single YAML file with hardcoded defaults
// and environment variable overrides (GRAYAUDIO_SECTION_KEY pattern).
//
// The topology section is special: it declares the static zone/client
// layout of the installation. Zones and clients receive 1-based indices
// from their position in the lists, and those indices are stable for the
// process lifetime. Changing topology requires a restart.
package config
