// Package config loads the JSON or YAML configuration file, overlays
// environment variables (optionally seeded from a .env file) and watches the
// file for changes.
package config
