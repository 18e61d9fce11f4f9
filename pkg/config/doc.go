// Package config loads the settings of the cuebridge process.
//
// Settings come from three sources, later ones winning:
//
//  1. built-in defaults (SetDefaults)
//  2. a YAML file, cuebridge.yaml in the working directory or --config
//  3. CUEBRIDGE_* environment variables, dots replaced by underscores
//
// Example cuebridge.yaml:
//
//	log:
//	  level: debug
//	  format: json
//	engine:
//	  workers: 4
//	metrics:
//	  enabled: true
//	  addr: 127.0.0.1:9464
//
// Settings configure the host process only. Evaluation requests carry their
// own options, which EngineOptions seeds.
package config
