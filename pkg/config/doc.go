// Package config loads the fabric's closed configuration key set (spec
// §6) from a YAML file under a top-level "fabric:" key, decoded with
// yaml.v3's strict unmarshal. Unknown keys are a startup error, not a
// silently ignored field.
package config
