// Package config loads the tokencache configuration and builds the stores,
// registry, manager and admin guard it describes.
//
// The file is YAML. Its path comes from the caller or TOKENCACHE_CONFIG;
// ${VAR} references are expanded strictly before parsing, and credential
// fields may hold secretref:<provider>:<ref> values. TOKENCACHE_ENABLED
// overrides the enabled switch.
package config
