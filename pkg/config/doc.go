// Package config loads the migration-driver's static startup configuration
// from a YAML file, the same way cmd/warren's apply.go parses a YAML
// resource file with gopkg.in/yaml.v3 before acting on it. Where apply.go
// parses a one-shot resource to apply, this package parses the set of
// legacy broker addresses the Propagator needs to dial before the driver
// can begin mirroring metadata to them.
package config
